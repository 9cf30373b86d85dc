// Package store implements the Persistence Gateway (§4.1 of the design
// specification): typed access to the two coordination relations (workers,
// batches) and the three submission staging relations, encapsulating every
// multi-row transactional update the coordinator needs.
//
// Example:
//
//	pool, err := pgxpool.New(ctx, cfg.DSN())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gw := store.NewPGGateway(pool)
//	worker, err := gw.GetWorker(ctx, workerID)
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Gateway implementations. Callers use
// errors.Is to distinguish "not found" from storage failures.
var (
	ErrWorkerNotFound   = errors.New("store: worker not found")
	ErrWorkerExists     = errors.New("store: worker already enrolled")
	ErrBatchNotFound    = errors.New("store: batch not found")
	ErrNoBatchAvailable = errors.New("store: no batch available")
)

// Gateway is the Persistence Gateway contract. Every method is a single
// logical unit that must execute such that concurrent callers cannot observe
// torn state — see §5 of the design specification for the serializability
// requirements on worker and batch rows.
type Gateway interface {
	// Worker operations, §4.1 and §4.3.
	GetWorker(ctx context.Context, id string) (Worker, error)
	EnrollWorker(ctx context.Context, id, ip string) error
	CountWorkersByIP(ctx context.Context, ip string) (int, error)
	WorkerIDsForIP(ctx context.Context, ip string) ([]string, error)

	// Batch operations, §4.1 and §4.4.
	GetBatch(ctx context.Context, id string) (Batch, error)
	PickRandomBatch(ctx context.Context, finished bool) (id string, videos []string, err error)
	CountFinished(ctx context.Context) (finished, unfinished int, err error)

	// Transactional state transitions, §4.4-4.6. Each of these locks the
	// worker or batch row it touches and re-validates the precondition
	// under that lock, per §5's serializability requirement — the
	// "IfCurrent" variants exist because the precondition (does the worker
	// still hold this exact batch?) must be re-checked at mutation time,
	// not just at the caller's earlier read.
	BindWorkerToBatch(ctx context.Context, workerID, batchID string) error
	ReleaseWorkerIfCurrent(ctx context.Context, workerID, batchID string, now time.Time) error
	PenaliseWorkerIfCurrent(ctx context.Context, workerID, batchID string, delta int) error
	RecordVersionedOverwrite(ctx context.Context, batchID string, newSize int64) (versionBeforeIncrement int, err error)
	RecordFinalization(ctx context.Context, batchID string, size int64) (alreadyFinished bool, err error)

	// Stats, §6.
	Stats(ctx context.Context) (Stats, error)

	// Submission staging, §4.1 and §6. ids must already be filtered by the
	// caller (regex match); InsertX deduplicates against both the staging
	// and the authoritative table and returns only what it actually
	// inserted.
	InsertVideos(ctx context.Context, ids []string) (inserted []string, err error)
	InsertPlaylists(ctx context.Context, ids []string) (inserted []string, err error)
	InsertChannels(ctx context.Context, ids []string) (inserted []string, err error)
}

// Stats is the raw data backing the §6 stats endpoint. httpapi converts it
// into the wire shape (including the derived estimated-video fields).
type Stats struct {
	BatchCount    int
	BatchFinished int
	ContentSize   int64
	WorkerCount   int
	WorkerActive  int
}
