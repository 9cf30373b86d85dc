// Package storefake provides an in-memory store.Gateway used by the test
// suites of coordinator, registry, and httpapi, in the manner of the
// teacher's checkpoint.MemoryStore: a small, mutex-guarded, map-backed fake
// rather than a mocking framework.
package storefake

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/archiveswarm/coordinator/store"
)

// Gateway is an in-memory store.Gateway. The zero value is not usable; use
// New.
type Gateway struct {
	mu       sync.Mutex
	workers  map[string]*store.Worker
	batches  map[string]*store.Batch
	staged   map[string]map[string]bool // table name -> id -> present
	existing map[string]map[string]bool // authoritative table name -> id -> present

	// Rand drives PickRandomBatch's selection. Tests inject a seeded
	// *rand.Rand for reproducibility; production code never uses this
	// fake.
	Rand *rand.Rand
}

// New creates an empty Gateway.
func New() *Gateway {
	return &Gateway{
		workers: make(map[string]*store.Worker),
		batches: make(map[string]*store.Batch),
		staged: map[string]map[string]bool{
			"user_videos":    {},
			"user_playlists": {},
			"user_channels":  {},
		},
		existing: map[string]map[string]bool{
			"videos":    {},
			"playlists": {},
			"channels":  {},
		},
		Rand: rand.New(rand.NewPCG(1, 0)),
	}
}

var _ store.Gateway = (*Gateway)(nil)

// PutWorker seeds a worker row directly, bypassing EnrollWorker, for test
// setup.
func (g *Gateway) PutWorker(w store.Worker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := w
	g.workers[w.ID] = &cp
}

// PutBatch seeds a batch row directly, for test setup.
func (g *Gateway) PutBatch(b store.Batch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := b
	g.batches[b.ID] = &cp
}

// MarkExisting seeds the authoritative table so dedup filtering has
// something to exclude against.
func (g *Gateway) MarkExisting(table, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.existing[table][id] = true
}

func (g *Gateway) GetWorker(_ context.Context, id string) (store.Worker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[id]
	if !ok {
		return store.Worker{}, store.ErrWorkerNotFound
	}
	return *w, nil
}

func (g *Gateway) EnrollWorker(_ context.Context, id, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.workers[id]; ok {
		return store.ErrWorkerExists
	}
	g.workers[id] = &store.Worker{ID: id, IP: ip}
	return nil
}

func (g *Gateway) CountWorkersByIP(_ context.Context, ip string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, w := range g.workers {
		if w.IP == ip {
			n++
		}
	}
	return n, nil
}

func (g *Gateway) WorkerIDsForIP(_ context.Context, ip string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, w := range g.workers {
		if w.IP == ip {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (g *Gateway) GetBatch(_ context.Context, id string) (store.Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[id]
	if !ok {
		return store.Batch{}, store.ErrBatchNotFound
	}
	return *b, nil
}

func (g *Gateway) PickRandomBatch(_ context.Context, finished bool) (string, []string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for id, b := range g.batches {
		if b.Finished == finished {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", nil, store.ErrNoBatchAvailable
	}
	sortStrings(ids)
	id := ids[g.Rand.IntN(len(ids))]
	return id, append([]string(nil), g.batches[id].Videos...), nil
}

func (g *Gateway) CountFinished(_ context.Context) (finished, unfinished int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.batches {
		if b.Finished {
			finished++
		} else {
			unfinished++
		}
	}
	return finished, unfinished, nil
}

func (g *Gateway) BindWorkerToBatch(_ context.Context, workerID, batchID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[workerID]
	if !ok {
		return store.ErrWorkerNotFound
	}
	if w.Disabled {
		return store.ErrWorkerDisabled
	}
	if w.CurrentBatch != "" {
		return &store.MustCommitCurrentError{BatchID: w.CurrentBatch}
	}
	w.CurrentBatch = batchID
	return nil
}

func (g *Gateway) ReleaseWorkerIfCurrent(_ context.Context, workerID, batchID string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[workerID]
	if !ok {
		return store.ErrWorkerNotFound
	}
	if w.CurrentBatch != batchID {
		return &store.MustCommitCurrentError{BatchID: w.CurrentBatch}
	}
	w.CurrentBatch = ""
	w.Reputation++
	w.LastCommitted = now
	return nil
}

func (g *Gateway) PenaliseWorkerIfCurrent(_ context.Context, workerID, batchID string, delta int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[workerID]
	if !ok {
		return store.ErrWorkerNotFound
	}
	if w.CurrentBatch != batchID {
		return &store.MustCommitCurrentError{BatchID: w.CurrentBatch}
	}
	w.Reputation -= delta
	if w.Reputation < 0 {
		w.Disabled = true
	}
	return nil
}

func (g *Gateway) RecordVersionedOverwrite(_ context.Context, batchID string, newSize int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[batchID]
	if !ok {
		return 0, store.ErrBatchNotFound
	}
	versionBefore := b.Version
	b.ContentSize = newSize
	b.Version++
	return versionBefore, nil
}

func (g *Gateway) RecordFinalization(_ context.Context, batchID string, size int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.batches[batchID]
	if !ok {
		return false, store.ErrBatchNotFound
	}
	if b.Finished {
		return true, nil
	}
	b.Finished = true
	b.ContentSize = size
	return false, nil
}

func (g *Gateway) Stats(_ context.Context) (store.Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var s store.Stats
	s.BatchCount = len(g.batches)
	for _, b := range g.batches {
		if b.Finished {
			s.BatchFinished++
			s.ContentSize += b.ContentSize
		}
	}
	s.WorkerCount = len(g.workers)
	cutoff := time.Now().Add(-time.Hour)
	for _, w := range g.workers {
		if w.LastCommitted.After(cutoff) {
			s.WorkerActive++
		}
	}
	return s, nil
}

func (g *Gateway) InsertVideos(_ context.Context, ids []string) ([]string, error) {
	return g.insertStaged("user_videos", "videos", ids), nil
}

func (g *Gateway) InsertPlaylists(_ context.Context, ids []string) ([]string, error) {
	return g.insertStaged("user_playlists", "playlists", ids), nil
}

func (g *Gateway) InsertChannels(_ context.Context, ids []string) ([]string, error) {
	return g.insertStaged("user_channels", "channels", ids), nil
}

func (g *Gateway) insertStaged(stagingTable, authoritativeTable string, ids []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var inserted []string
	for _, id := range ids {
		if g.existing[authoritativeTable][id] || g.staged[stagingTable][id] {
			continue
		}
		g.staged[stagingTable][id] = true
		inserted = append(inserted, id)
	}
	return inserted
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}
