package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MustCommitCurrentError is returned when a worker attempts to dispatch,
// commit, or finalize against a batch other than the one it currently
// holds (§4.4's "key anti-spam rule"). It carries the batch the worker must
// address first so the caller can render error code 4 with the batch ID,
// per §6.
type MustCommitCurrentError struct {
	BatchID string
}

func (e *MustCommitCurrentError) Error() string {
	return fmt.Sprintf("store: worker must commit or finalize batch %q first", e.BatchID)
}

// ErrWorkerDisabled is returned by BindWorkerToBatch when the worker is found
// disabled at lock time, even if an earlier read saw it enabled. The release
// and penalty transitions do not check the disabled flag.
var ErrWorkerDisabled = errors.New("store: worker disabled")

// PGGateway implements Gateway over a Postgres connection pool via pgx.
//
// Example:
//
//	pool, err := pgxpool.New(ctx, cfg.DSN())
//	gw := store.NewPGGateway(pool)
//	if err := store.EnsureSchema(ctx, pool); err != nil {
//	    log.Fatal(err)
//	}
type PGGateway struct {
	pool *pgxpool.Pool
}

// NewPGGateway creates a new PGGateway over the given pool.
func NewPGGateway(pool *pgxpool.Pool) *PGGateway {
	return &PGGateway{pool: pool}
}

var _ Gateway = (*PGGateway)(nil)

func (g *PGGateway) GetWorker(ctx context.Context, id string) (Worker, error) {
	var w Worker
	var lastCommitted *time.Time
	err := g.pool.QueryRow(ctx,
		`SELECT id, ip, reputation, disabled, current_batch, last_committed FROM workers WHERE id = $1`,
		id,
	).Scan(&w.ID, &w.IP, &w.Reputation, &w.Disabled, &w.CurrentBatch, &lastCommitted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Worker{}, ErrWorkerNotFound
	}
	if err != nil {
		return Worker{}, fmt.Errorf("failed to get worker: %w", err)
	}
	if lastCommitted != nil {
		w.LastCommitted = *lastCommitted
	}
	return w, nil
}

func (g *PGGateway) EnrollWorker(ctx context.Context, id, ip string) error {
	tag, err := g.pool.Exec(ctx,
		`INSERT INTO workers (id, ip, reputation, disabled, current_batch)
		 VALUES ($1, $2, 0, FALSE, '')
		 ON CONFLICT (id) DO NOTHING`,
		id, ip,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkerExists
	}
	return nil
}

func (g *PGGateway) CountWorkersByIP(ctx context.Context, ip string) (int, error) {
	var n int
	if err := g.pool.QueryRow(ctx, `SELECT count(*) FROM workers WHERE ip = $1`, ip).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count workers by IP: %w", err)
	}
	return n, nil
}

func (g *PGGateway) WorkerIDsForIP(ctx context.Context, ip string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT id FROM workers WHERE ip = $1 ORDER BY id`, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers by IP: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan worker id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *PGGateway) GetBatch(ctx context.Context, id string) (Batch, error) {
	var b Batch
	var contentSize *int64
	err := g.pool.QueryRow(ctx,
		`SELECT id, start_ctid, end_ctid, finished, content_size, videos, version FROM batches WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.StartCTID, &b.EndCTID, &b.Finished, &contentSize, &b.Videos, &b.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	if contentSize != nil {
		b.ContentSize = *contentSize
	}
	return b, nil
}

// PickRandomBatch returns a uniformly-random batch matching the finished
// flag. ORDER BY random() is adequate at the batch-table cardinalities this
// swarm deals with (tens of thousands of rows); see §9's note that this must
// be replaced or augmented with a deterministic strategy under test — the
// storefake test double does exactly that.
func (g *PGGateway) PickRandomBatch(ctx context.Context, finished bool) (string, []string, error) {
	var id string
	var videos []string
	err := g.pool.QueryRow(ctx,
		`SELECT id, videos FROM batches WHERE finished = $1 ORDER BY random() LIMIT 1`,
		finished,
	).Scan(&id, &videos)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNoBatchAvailable
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to pick random batch: %w", err)
	}
	return id, videos, nil
}

func (g *PGGateway) CountFinished(ctx context.Context) (finished, unfinished int, err error) {
	err = g.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE finished), count(*) FILTER (WHERE NOT finished) FROM batches`,
	).Scan(&finished, &unfinished)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count batches: %w", err)
	}
	return finished, unfinished, nil
}

// BindWorkerToBatch implements §4.4's binding step. It locks the worker row,
// re-validates admission and the "no current batch" precondition under that
// lock (closing the race between a caller's earlier read and this mutation),
// and sets current_batch. This is the canonical read-lock-validate-mutate-
// commit pattern required by §5.
func (g *PGGateway) BindWorkerToBatch(ctx context.Context, workerID, batchID string) error {
	return g.withWorkerLock(ctx, workerID, func(tx pgx.Tx, disabled bool, currentBatch string) error {
		if disabled {
			return ErrWorkerDisabled
		}
		if currentBatch != "" {
			return &MustCommitCurrentError{BatchID: currentBatch}
		}
		_, err := tx.Exec(ctx, `UPDATE workers SET current_batch = $2 WHERE id = $1`, workerID, batchID)
		return err
	})
}

// ReleaseWorkerIfCurrent validates that batchID is still the worker's bound
// batch under a row lock, then clears current_batch, credits reputation by
// one, and stamps last_committed — the release side effect shared by the
// commit-accept path (§4.5) and the finalize path (§4.6).
func (g *PGGateway) ReleaseWorkerIfCurrent(ctx context.Context, workerID, batchID string, now time.Time) error {
	return g.withWorkerLock(ctx, workerID, func(tx pgx.Tx, _ bool, currentBatch string) error {
		if currentBatch != batchID {
			return &MustCommitCurrentError{BatchID: currentBatch}
		}
		_, err := tx.Exec(ctx,
			`UPDATE workers SET current_batch = '', reputation = reputation + 1, last_committed = $2 WHERE id = $1`,
			workerID, now,
		)
		return err
	})
}

// PenaliseWorkerIfCurrent validates the batch match under lock, then applies
// a reputation penalty, disabling the worker if reputation drops below
// zero. The worker keeps its current_batch binding, per §4.5's penalty path
// ("a human operator must decide").
func (g *PGGateway) PenaliseWorkerIfCurrent(ctx context.Context, workerID, batchID string, delta int) error {
	return g.withWorkerLock(ctx, workerID, func(tx pgx.Tx, _ bool, currentBatch string) error {
		if currentBatch != batchID {
			return &MustCommitCurrentError{BatchID: currentBatch}
		}
		var reputation int
		if err := tx.QueryRow(ctx, `SELECT reputation FROM workers WHERE id = $1`, workerID).Scan(&reputation); err != nil {
			return err
		}
		reputation -= delta
		_, err := tx.Exec(ctx,
			`UPDATE workers SET reputation = $2, disabled = $3 WHERE id = $1`,
			workerID, reputation, reputation < 0,
		)
		return err
	})
}

// withWorkerLock runs fn inside a transaction with the worker row locked
// via SELECT ... FOR UPDATE, translating a missing row into
// ErrWorkerNotFound before fn ever runs.
func (g *PGGateway) withWorkerLock(ctx context.Context, workerID string, fn func(tx pgx.Tx, disabled bool, currentBatch string) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var disabled bool
	var currentBatch string
	err = tx.QueryRow(ctx, `SELECT disabled, current_batch FROM workers WHERE id = $1 FOR UPDATE`, workerID).
		Scan(&disabled, &currentBatch)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrWorkerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock worker: %w", err)
	}

	if err := fn(tx, disabled, currentBatch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit worker transaction: %w", err)
	}
	return nil
}

// RecordVersionedOverwrite locks the batch row, returns the version number
// in effect before the increment (used to name the re-upload object key per
// §4.2), and bumps content_size/version.
func (g *PGGateway) RecordVersionedOverwrite(ctx context.Context, batchID string, newSize int64) (int, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int
	err = tx.QueryRow(ctx, `SELECT version FROM batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrBatchNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock batch: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE batches SET content_size = $2, version = version + 1 WHERE id = $1`,
		batchID, newSize,
	); err != nil {
		return 0, fmt.Errorf("failed to record versioned overwrite: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit batch transaction: %w", err)
	}
	return version, nil
}

// RecordFinalization locks the batch row and, if it is not already
// finished, sets content_size and finished=true. If it is already finished
// it is a no-op and reports alreadyFinished=true — re-finalization must
// never rewrite an authoritative size that prior verifications depended on
// (§9's resolved Open Question).
func (g *PGGateway) RecordFinalization(ctx context.Context, batchID string, size int64) (bool, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var finished bool
	err = tx.QueryRow(ctx, `SELECT finished FROM batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrBatchNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock batch: %w", err)
	}
	if finished {
		return true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE batches SET content_size = $2, finished = TRUE WHERE id = $1`,
		batchID, size,
	); err != nil {
		return false, fmt.Errorf("failed to record finalization: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit batch transaction: %w", err)
	}
	return false, nil
}

func (g *PGGateway) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := g.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM batches),
			(SELECT count(*) FROM batches WHERE finished),
			(SELECT coalesce(sum(content_size), 0) FROM batches WHERE finished),
			(SELECT count(*) FROM workers),
			(SELECT count(*) FROM workers WHERE last_committed > now() - interval '1 hour')`,
	).Scan(&s.BatchCount, &s.BatchFinished, &s.ContentSize, &s.WorkerCount, &s.WorkerActive)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return s, nil
}

func (g *PGGateway) InsertVideos(ctx context.Context, ids []string) ([]string, error) {
	return g.insertStaged(ctx, "user_videos", "videos", ids)
}

func (g *PGGateway) InsertPlaylists(ctx context.Context, ids []string) ([]string, error) {
	return g.insertStaged(ctx, "user_playlists", "playlists", ids)
}

func (g *PGGateway) InsertChannels(ctx context.Context, ids []string) ([]string, error) {
	return g.insertStaged(ctx, "user_channels", "channels", ids)
}

// insertStaged inserts ids into the given staging table, skipping anything
// already present in either the staging table or the authoritative table.
// The identifier list is always passed as a bound parameter (unnest over a
// text[] array), never interpolated into the query string — submission
// endpoints are publicly reachable with a CORS wildcard (§9 design note).
func (g *PGGateway) insertStaged(ctx context.Context, stagingTable, authoritativeTable string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id)
		SELECT unnest($1::text[])
		ON CONFLICT (id) DO NOTHING
		RETURNING id`,
		pgx.Identifier{stagingTable}.Sanitize(),
	)

	// Filter out ids that already exist in the authoritative table before
	// inserting, so a video already archived never reappears in staging.
	filtered, err := g.excludeExisting(ctx, authoritativeTable, ids)
	if err != nil {
		return nil, err
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	rows, err := g.pool.Query(ctx, query, filtered)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", stagingTable, err)
	}
	defer rows.Close()

	var inserted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan inserted id: %w", err)
		}
		inserted = append(inserted, id)
	}
	return inserted, rows.Err()
}

func (g *PGGateway) excludeExisting(ctx context.Context, table string, ids []string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT x FROM unnest($1::text[]) AS x WHERE NOT EXISTS (SELECT 1 FROM %s WHERE id = x)`,
		pgx.Identifier{table}.Sanitize(),
	)
	rows, err := g.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to filter against %s: %w", table, err)
	}
	defer rows.Close()

	var filtered []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan filtered id: %w", err)
		}
		filtered = append(filtered, id)
	}
	return filtered, rows.Err()
}
