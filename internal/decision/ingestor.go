package decision

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

const (
	DefaultIngestBuffer  = 1024
	DefaultIngestWorkers = 4

	dropWarnInterval = 10 * time.Second
	drainTimeout     = 5 * time.Second
)

type IngestorOptions struct {
	Buffer  int
	Workers int
}

// Ingestor moves events from request handlers to the ledger on a fixed
// pool of workers. Enqueue never blocks: when the buffer is full the event
// is dropped and counted.
type Ingestor struct {
	ledger   ports.EventLedger
	metrics  ports.MetricsExporter
	logger   *slog.Logger
	queue    chan *domain.Event
	workers  int
	dropWarn rate.Sometimes
}

func NewIngestor(ledger ports.EventLedger, metrics ports.MetricsExporter, logger *slog.Logger, opts IngestorOptions) *Ingestor {
	if opts.Buffer < 1 {
		opts.Buffer = DefaultIngestBuffer
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultIngestWorkers
	}
	if metrics == nil {
		metrics = ports.FanoutExporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		ledger:   ledger,
		metrics:  metrics,
		logger:   logger,
		queue:    make(chan *domain.Event, opts.Buffer),
		workers:  opts.Workers,
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
}

// Enqueue hands the event to the workers and reports whether it was
// accepted.
func (i *Ingestor) Enqueue(ctx context.Context, event *domain.Event) bool {
	select {
	case i.queue <- event:
		i.metrics.RecordEvent(ctx, event.Kind, false)
		return true
	default:
		i.metrics.RecordEvent(ctx, event.Kind, true)
		i.dropWarn.Do(func() {
			i.logger.WarnContext(ctx, "event buffer full, dropping events",
				"kind", event.Kind, "experiment_id", event.ExperimentID, "buffer", cap(i.queue))
		})
		return false
	}
}

// Pending returns the number of buffered events.
func (i *Ingestor) Pending() int {
	return len(i.queue)
}

// Run starts the workers and blocks until ctx is cancelled and the buffer
// has been drained.
func (i *Ingestor) Run(ctx context.Context) error {
	var g errgroup.Group
	for w := 0; w < i.workers; w++ {
		g.Go(func() error {
			i.work(ctx)
			return nil
		})
	}
	err := g.Wait()
	i.logger.Info("event ingestor stopped")
	return err
}

func (i *Ingestor) work(ctx context.Context) {
	for {
		select {
		case event := <-i.queue:
			i.write(ctx, event)
		case <-ctx.Done():
			i.drain(ctx)
			return
		}
	}
}

func (i *Ingestor) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case event := <-i.queue:
			i.write(dctx, event)
		default:
			return
		}
	}
}

func (i *Ingestor) write(ctx context.Context, event *domain.Event) {
	if err := i.ledger.Append(ctx, event); err != nil {
		i.logger.ErrorContext(ctx, "failed to append event",
			"error", err,
			"event_id", event.ID,
			"kind", event.Kind,
			"experiment_id", event.ExperimentID)
	}
}
