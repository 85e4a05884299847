package turso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/util"
)

// EventLedger appends events and, in the same transaction, bumps the
// variant counter when the event is the visitor's first of its kind.
type EventLedger struct {
	db *sql.DB
}

func NewEventLedger(db *sql.DB) *EventLedger {
	return &EventLedger{db: db}
}

func (l *EventLedger) Append(ctx context.Context, event *domain.Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, kind, experiment_id, variant_id, visitor_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		string(event.Kind),
		event.ExperimentID,
		event.VariantID,
		event.VisitorID,
		util.FormatTime(event.OccurredAt),
	); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	var visitorID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO event_first_seen (experiment_id, visitor_id, kind)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING visitor_id`,
		event.ExperimentID, event.VisitorID, string(event.Kind),
	).Scan(&visitorID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return tx.Commit()
	case err != nil:
		return fmt.Errorf("failed to record first event: %w", err)
	}

	var exposures, conversions int64
	switch event.Kind {
	case domain.EventExposure:
		exposures = 1
	case domain.EventConversion:
		conversions = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO variant_counts (experiment_id, variant_id, exposures, conversions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (experiment_id, variant_id) DO UPDATE SET
			exposures = exposures + excluded.exposures,
			conversions = conversions + excluded.conversions`,
		event.ExperimentID, event.VariantID, exposures, conversions,
	); err != nil {
		return fmt.Errorf("failed to update variant counts: %w", err)
	}

	return tx.Commit()
}

func (l *EventLedger) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	return WithRetry(ctx, retries, func() ([]domain.VariantCounts, error) {
		rows, err := l.db.QueryContext(ctx, `
			SELECT experiment_id, variant_id, exposures, conversions
			FROM variant_counts
			WHERE experiment_id = ?
			ORDER BY variant_id`, experimentID)
		if err != nil {
			return nil, fmt.Errorf("failed to read variant counts: %w", err)
		}
		defer rows.Close()

		var out []domain.VariantCounts
		for rows.Next() {
			var c domain.VariantCounts
			if err := rows.Scan(&c.ExperimentID, &c.VariantID, &c.Exposures, &c.Conversions); err != nil {
				return nil, fmt.Errorf("failed to scan variant counts: %w", err)
			}
			out = append(out, c)
		}
		return out, rows.Err()
	})
}
