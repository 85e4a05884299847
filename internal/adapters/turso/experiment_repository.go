package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/util"
)

const experimentColumns = `id, key, name, description, status, traffic_allocation,
	created_at, updated_at, started_at, ended_at`

const variantColumns = `id, experiment_id, key, name, traffic_percentage, config, is_control, position`

type ExperimentRepository struct {
	db *sql.DB
}

func NewExperimentRepository(db *sql.DB) *ExperimentRepository {
	return &ExperimentRepository{db: db}
}

func (r *ExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO experiments (`+experimentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		experiment.ID,
		experiment.Key,
		experiment.Name,
		util.NullStringPtr(experiment.Description),
		string(experiment.Status),
		experiment.TrafficAllocation,
		util.FormatTime(experiment.CreatedAt),
		util.FormatTime(experiment.UpdatedAt),
		util.NullTime(experiment.StartedAt),
		util.NullTime(experiment.EndedAt),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("experiment %s: %w", experiment.Key, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}

	for i := range experiment.Variants {
		if err := insertVariant(ctx, tx, &experiment.Variants[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	return r.getOne(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
}

func (r *ExperimentRepository) GetByKey(ctx context.Context, key string) (*domain.Experiment, error) {
	return r.getOne(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE key = ?`, key)
}

func (r *ExperimentRepository) getOne(ctx context.Context, query string, arg string) (*domain.Experiment, error) {
	return WithRetry(ctx, retries, func() (*domain.Experiment, error) {
		exp, err := scanExperiment(r.db.QueryRowContext(ctx, query, arg))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get experiment: %w", err)
		}

		variants, err := r.variants(ctx, `WHERE experiment_id = ?`, exp.ID)
		if err != nil {
			return nil, err
		}
		exp.Variants = variants[exp.ID]
		return exp, nil
	})
}

func (r *ExperimentRepository) List(ctx context.Context) ([]*domain.Experiment, error) {
	return WithRetry(ctx, retries, func() ([]*domain.Experiment, error) {
		rows, err := r.db.QueryContext(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, key`)
		if err != nil {
			return nil, fmt.Errorf("failed to list experiments: %w", err)
		}
		defer rows.Close()

		var experiments []*domain.Experiment
		for rows.Next() {
			exp, err := scanExperiment(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan experiment: %w", err)
			}
			experiments = append(experiments, exp)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to list experiments: %w", err)
		}

		variants, err := r.variants(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, exp := range experiments {
			exp.Variants = variants[exp.ID]
		}
		return experiments, nil
	})
}

// Update writes the experiment row. Variants are only written by Create and
// AddVariant.
func (r *ExperimentRepository) Update(ctx context.Context, experiment *domain.Experiment) error {
	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE experiments
		SET key = ?, name = ?, description = ?, status = ?, traffic_allocation = ?,
			updated_at = ?, started_at = ?, ended_at = ?
		WHERE id = ?
		RETURNING id`,
		experiment.Key,
		experiment.Name,
		util.NullStringPtr(experiment.Description),
		string(experiment.Status),
		experiment.TrafficAllocation,
		util.FormatTime(experiment.UpdatedAt),
		util.NullTime(experiment.StartedAt),
		util.NullTime(experiment.EndedAt),
		experiment.ID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("experiment %s: %w", experiment.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	return nil
}

func (r *ExperimentRepository) AddVariant(ctx context.Context, variant *domain.Variant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM experiments WHERE id = ?`, variant.ExperimentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("experiment %s: %w", variant.ExperimentID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check experiment: %w", err)
	}

	if err := insertVariant(ctx, tx, variant); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVariant(ctx context.Context, tx *sql.Tx, v *domain.Variant) error {
	var id string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO variants (`+variantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		v.ID,
		v.ExperimentID,
		v.Key,
		v.Name,
		v.TrafficPercentage,
		util.NullBytes(v.Config),
		util.BoolToInt64(v.IsControl),
		v.Position,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("variant %s: %w", v.Key, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

// variants loads variant rows matching where, grouped by experiment id and
// ordered by position.
func (r *ExperimentRepository) variants(ctx context.Context, where string, args ...any) (map[string][]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants `+where+` ORDER BY experiment_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Variant)
	for rows.Next() {
		var (
			v         domain.Variant
			config    sql.NullString
			isControl int64
		)
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Key, &v.Name, &v.TrafficPercentage,
			&config, &isControl, &v.Position); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		if config.Valid {
			v.Config = json.RawMessage(config.String)
		}
		v.IsControl = isControl == 1
		out[v.ExperimentID] = append(out[v.ExperimentID], v)
	}
	return out, rows.Err()
}

func scanExperiment(row rowScanner) (*domain.Experiment, error) {
	var (
		exp         domain.Experiment
		description sql.NullString
		status      string
		createdAt   string
		updatedAt   string
		startedAt   sql.NullString
		endedAt     sql.NullString
	)
	if err := row.Scan(&exp.ID, &exp.Key, &exp.Name, &description, &status, &exp.TrafficAllocation,
		&createdAt, &updatedAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	exp.Description = util.NullStringToPtr(description)
	exp.Status = domain.Status(status)
	exp.CreatedAt = util.ParseTime(createdAt)
	exp.UpdatedAt = util.ParseTime(updatedAt)
	exp.StartedAt = util.NullTimeToPtr(startedAt)
	exp.EndedAt = util.NullTimeToPtr(endedAt)
	return &exp, nil
}
