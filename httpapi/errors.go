package httpapi

import (
	"errors"

	"github.com/archiveswarm/coordinator/apierror"
	"github.com/archiveswarm/coordinator/coordinator"
	"github.com/archiveswarm/coordinator/registry"
	"github.com/archiveswarm/coordinator/store"
)

// mapError translates a registry/coordinator sentinel error into the §6
// error envelope. Storage-layer failures (anything not one of these known
// sentinels) are logged and reduced to a generic 500 — §7's propagation
// policy: never leak storage internals to the client.
func (s *Server) mapError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var mustCommit *coordinator.MustCommitCurrentError
	var storeMustCommit *store.MustCommitCurrentError
	var sizeMismatch *coordinator.SizeMismatchError
	switch {
	case errors.Is(err, registry.ErrUnknownWorker):
		return apierror.UnknownWorker()
	case errors.Is(err, registry.ErrWorkerDisabled):
		return apierror.WorkerDisabled()
	case errors.Is(err, registry.ErrTooManyWorkers):
		return apierror.TooManyWorkers()
	case errors.As(err, &mustCommit):
		return apierror.MustCommitCurrent(mustCommit.BatchID)
	case errors.As(err, &storeMustCommit):
		return apierror.MustCommitCurrent(storeMustCommit.BatchID)
	case errors.Is(err, coordinator.ErrForbiddenBatch):
		return apierror.ForbiddenBatch()
	case errors.Is(err, coordinator.ErrEmptyBatchID):
		return apierror.EmptyBatchID()
	case errors.Is(err, coordinator.ErrUnknownBatch):
		return apierror.UnknownBatch()
	case errors.As(err, &sizeMismatch):
		return apierror.SizeMismatch(sizeMismatch.BatchID)
	case errors.Is(err, coordinator.ErrNoBatchAvailable):
		s.log.Errorw("no batch available", "error", err)
		return apierror.Internal()
	default:
		s.log.Errorw("storage layer failure", "error", err)
		return apierror.Internal()
	}
}
