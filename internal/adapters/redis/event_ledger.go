package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// appendScript adds the event to the stream and bumps the variant counter
// only when SADD reports a visitor not seen before for this kind.
//
// KEYS[1] stream, KEYS[2] seen set, KEYS[3] counts hash
// ARGV: id, kind, variant_id, visitor_id, occurred_at, counter field, max stream length
var appendScript = goredis.NewScript(`
redis.call('XADD', KEYS[1], 'MAXLEN', '~', ARGV[7], '*',
	'id', ARGV[1], 'kind', ARGV[2], 'variant_id', ARGV[3],
	'visitor_id', ARGV[4], 'occurred_at', ARGV[5])
if redis.call('SADD', KEYS[2], ARGV[4]) == 1 then
	redis.call('HINCRBY', KEYS[3], ARGV[6], 1)
	return 1
end
return 0
`)

// EventLedger keeps events in a per-experiment stream and the unique
// visitor counters in a per-experiment hash. Fields are
// "exposures:{variant_id}" and "conversions:{variant_id}".
//
// The stream is trimmed to roughly maxLen entries. Counters and seen sets
// are not trimmed, so statistics stay exact after old events are dropped.
type EventLedger struct {
	client *Client
	maxLen int64
}

// DefaultStreamMaxLen caps the raw event stream of each experiment.
const DefaultStreamMaxLen = 100_000

func NewEventLedger(client *Client) *EventLedger {
	return &EventLedger{client: client, maxLen: DefaultStreamMaxLen}
}

// WithStreamMaxLen sets the approximate cap on raw events kept per
// experiment. Values below 1 keep the current cap.
func (l *EventLedger) WithStreamMaxLen(n int64) *EventLedger {
	if n > 0 {
		l.maxLen = n
	}
	return l
}

func counterField(kind domain.EventKind, variantID string) string {
	switch kind {
	case domain.EventConversion:
		return "conversions:" + variantID
	default:
		return "exposures:" + variantID
	}
}

func (l *EventLedger) Append(ctx context.Context, event *domain.Event) error {
	keys := []string{
		l.client.eventsKey(event.ExperimentID),
		l.client.seenKey(event.ExperimentID, string(event.Kind)),
		l.client.countsKey(event.ExperimentID),
	}
	err := appendScript.Run(ctx, l.client.rdb, keys,
		event.ID,
		string(event.Kind),
		event.VariantID,
		event.VisitorID,
		event.OccurredAt.UTC().Format(time.RFC3339Nano),
		counterField(event.Kind, event.VariantID),
		l.maxLen,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to append event to Redis: %w", err)
	}
	return nil
}

func (l *EventLedger) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	fields, err := l.client.rdb.HGetAll(ctx, l.client.countsKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read counters from Redis: %w", err)
	}

	byVariant := make(map[string]*domain.VariantCounts)
	for field, value := range fields {
		kind, variantID, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter %s=%q: %w", field, value, err)
		}
		c, exists := byVariant[variantID]
		if !exists {
			c = &domain.VariantCounts{ExperimentID: experimentID, VariantID: variantID}
			byVariant[variantID] = c
		}
		switch kind {
		case "exposures":
			c.Exposures = n
		case "conversions":
			c.Conversions = n
		}
	}

	out := make([]domain.VariantCounts, 0, len(byVariant))
	for _, c := range byVariant {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

// Len returns the number of raw events recorded for an experiment.
func (l *EventLedger) Len(ctx context.Context, experimentID string) (int64, error) {
	return l.client.rdb.XLen(ctx, l.client.eventsKey(experimentID)).Result()
}
