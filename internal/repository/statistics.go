package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/watermetrics/kcwater-usage-worker/internal/db"
)

// StatisticsRepository persists cumulative statistic series. Appends are
// idempotent on (statistic_id, start_ts): re-submitting an already present
// timestamp overwrites the row instead of duplicating it.
type StatisticsRepository struct {
	pool *pgxpool.Pool
}

// NewStatisticsRepository creates a new statistics repository
func NewStatisticsRepository(pool *pgxpool.Pool) *StatisticsRepository {
	return &StatisticsRepository{pool: pool}
}

// EnsureSchema creates the statistics tables when they do not exist yet.
func (r *StatisticsRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS statistics_meta (
			statistic_id TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			display_name TEXT NOT NULL,
			unit         TEXT NOT NULL,
			has_mean     BOOLEAN NOT NULL,
			has_sum      BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS statistics (
			statistic_id TEXT NOT NULL REFERENCES statistics_meta (statistic_id) ON DELETE CASCADE,
			start_ts     TIMESTAMPTZ NOT NULL,
			state        DOUBLE PRECISION NOT NULL,
			sum          DOUBLE PRECISION NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (statistic_id, start_ts)
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure statistics schema: %w", err)
		}
	}
	return nil
}

// LastPoint returns the most recent point of a series, or nil when the
// series has no points yet.
func (r *StatisticsRepository) LastPoint(ctx context.Context, statisticID string) (*db.StatisticPoint, error) {
	query := `
		SELECT start_ts, state, sum
		FROM statistics
		WHERE statistic_id = $1
		ORDER BY start_ts DESC
		LIMIT 1
	`

	var point db.StatisticPoint
	err := r.pool.QueryRow(ctx, query, statisticID).Scan(&point.Start, &point.State, &point.Sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last statistic point: %w", err)
	}

	return &point, nil
}

// FirstPointSince returns the oldest point of a series whose start is at or
// after from, or nil when no such point exists.
func (r *StatisticsRepository) FirstPointSince(ctx context.Context, statisticID string, from time.Time) (*db.StatisticPoint, error) {
	query := `
		SELECT start_ts, state, sum
		FROM statistics
		WHERE statistic_id = $1 AND start_ts >= $2
		ORDER BY start_ts ASC
		LIMIT 1
	`

	var point db.StatisticPoint
	err := r.pool.QueryRow(ctx, query, statisticID, from).Scan(&point.Start, &point.State, &point.Sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query statistic point since %s: %w", from, err)
	}

	return &point, nil
}

// AppendPoints upserts the series metadata and the given points in a single
// transaction. Points already present for a timestamp are overwritten with
// the same values, which keeps re-submission harmless.
func (r *StatisticsRepository) AppendPoints(ctx context.Context, meta db.StatisticMetadata, points []db.StatisticPoint) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	metaQuery := `
		INSERT INTO statistics_meta (statistic_id, source, display_name, unit, has_mean, has_sum)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (statistic_id) DO UPDATE
		SET source = EXCLUDED.source,
		    display_name = EXCLUDED.display_name,
		    unit = EXCLUDED.unit,
		    has_mean = EXCLUDED.has_mean,
		    has_sum = EXCLUDED.has_sum
	`

	_, err = tx.Exec(ctx, metaQuery,
		meta.StatisticID,
		meta.Source,
		meta.Name,
		meta.Unit,
		meta.HasMean,
		meta.HasSum,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert statistic metadata: %w", err)
	}

	pointQuery := `
		INSERT INTO statistics (statistic_id, start_ts, state, sum)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (statistic_id, start_ts) DO UPDATE
		SET state = EXCLUDED.state,
		    sum = EXCLUDED.sum
	`

	for _, point := range points {
		if _, err := tx.Exec(ctx, pointQuery, meta.StatisticID, point.Start, point.State, point.Sum); err != nil {
			return fmt.Errorf("failed to upsert statistic point at %s: %w", point.Start, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit statistic points: %w", err)
	}

	return nil
}

// ClearStatistics removes the given series and their metadata.
func (r *StatisticsRepository) ClearStatistics(ctx context.Context, statisticIDs []string) error {
	if len(statisticIDs) == 0 {
		return nil
	}

	query := `DELETE FROM statistics_meta WHERE statistic_id = ANY($1)`
	if _, err := r.pool.Exec(ctx, query, statisticIDs); err != nil {
		return fmt.Errorf("failed to clear statistics: %w", err)
	}

	return nil
}
