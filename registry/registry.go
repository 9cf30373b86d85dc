// Package registry implements the Worker Registry (§4.3 of the design
// specification): enrollment, per-IP admission control, and identity
// resolution. Every protected coordinator operation begins by calling
// Resolve.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/archiveswarm/coordinator/store"
)

// defaultMaxWorkersPerIP is the admission cap from §4.3, used when New is
// given a non-positive maxPerIP.
const defaultMaxWorkersPerIP = 1000

// ErrTooManyWorkers is returned by CreateWorker when the caller's IP already
// has more workers enrolled than the configured maximum.
var ErrTooManyWorkers = errors.New("registry: too many workers for this ip")

// ErrUnknownWorker is returned by Resolve when no worker with the given ID
// exists.
var ErrUnknownWorker = errors.New("registry: unknown worker")

// ErrWorkerDisabled is returned by Resolve when the worker exists but has
// been disabled by the reputation system.
var ErrWorkerDisabled = errors.New("registry: worker disabled")

// Registry implements worker enrollment and resolution on top of a
// store.Gateway.
type Registry struct {
	store     store.Gateway
	s3BaseURL string
	maxPerIP  int
}

// New creates a Registry. s3BaseURL is the public base URL of the
// object-store bucket, handed back to newly created workers for display
// purposes only — the actual upload target is always a presigned URL.
// maxPerIP overrides the §4.3 admission cap of 1000 when positive; pass 0
// to use the default.
func New(gw store.Gateway, s3BaseURL string, maxPerIP int) *Registry {
	if maxPerIP <= 0 {
		maxPerIP = defaultMaxWorkersPerIP
	}
	return &Registry{store: gw, s3BaseURL: s3BaseURL, maxPerIP: maxPerIP}
}

// CreateWorker enrolls a new worker for the given remote IP, per §4.3.
func (r *Registry) CreateWorker(ctx context.Context, ip string) (id string, s3BaseURL string, err error) {
	n, err := r.store.CountWorkersByIP(ctx, ip)
	if err != nil {
		return "", "", fmt.Errorf("failed to count workers for ip: %w", err)
	}
	if n > r.maxPerIP {
		return "", "", ErrTooManyWorkers
	}

	id = uuid.NewString()
	if err := r.store.EnrollWorker(ctx, id, ip); err != nil {
		return "", "", fmt.Errorf("failed to enroll worker: %w", err)
	}
	return id, r.s3BaseURL, nil
}

// Resolve returns the worker with the given ID, or ErrUnknownWorker /
// ErrWorkerDisabled. Every operation in §4.4-4.6 begins by calling this.
func (r *Registry) Resolve(ctx context.Context, id string) (store.Worker, error) {
	w, err := r.store.GetWorker(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrWorkerNotFound) {
			return store.Worker{}, ErrUnknownWorker
		}
		return store.Worker{}, fmt.Errorf("failed to resolve worker: %w", err)
	}
	if w.Disabled {
		return store.Worker{}, ErrWorkerDisabled
	}
	return w, nil
}

// WorkersForIP lists worker IDs belonging to the caller's IP, used by the
// client to recover a lost ID (§4.3, §6 `/api/workers`).
func (r *Registry) WorkersForIP(ctx context.Context, ip string) ([]string, error) {
	ids, err := r.store.WorkerIDsForIP(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers for ip: %w", err)
	}
	return ids, nil
}
