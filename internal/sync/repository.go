package sync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parceldesk/parceldesk/internal/shared"
)

// Repository provides PostgreSQL backed persistence for sync runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StartRun inserts a running run row and returns its id. The row exists
// before the first carrier call so an aborted process still leaves a trace.
func (r *Repository) StartRun(ctx context.Context, tenantID, kind string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (tenant_id, kind, status, started_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`, tenantID, kind, StatusRunning).Scan(&id)
	return id, err
}

// FinishRun moves a running row to a terminal state. Rows already terminal
// are left untouched.
func (r *Repository) FinishRun(ctx context.Context, id int64, status string, stats Stats, runErr string, cursor *time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_runs
		SET status = $2, stats_json = $3, error = NULLIF($4, ''), cursor = $5, finished_at = NOW()
		WHERE id = $1 AND status = $6`,
		id, status, statsJSON, runErr, cursor, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// LastSuccessCursor returns the cursor of the most recent successful run of
// the given kind, or nil when the tenant has never synced.
func (r *Repository) LastSuccessCursor(ctx context.Context, tenantID, kind string) (*time.Time, error) {
	var cursor *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT cursor FROM sync_runs
		WHERE tenant_id = $1 AND kind = $2 AND status = $3 AND cursor IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1`, tenantID, kind, StatusSuccess).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// ListRuns returns the tenant's runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, tenantID string, p shared.Pagination) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, kind, status, COALESCE(stats_json, '{}'), COALESCE(error, ''), cursor, started_at, finished_at
		FROM sync_runs
		WHERE tenant_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2 OFFSET $3`, tenantID, p.Limit(), p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var run Run
		var statsJSON []byte
		if err := rows.Scan(&run.ID, &run.TenantID, &run.Kind, &run.Status, &statsJSON, &run.Error,
			&run.Cursor, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(statsJSON, &run.Stats); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
