// Package coordinator implements the core worker/batch coordination
// protocol specified in §4.4-4.6 of the design specification: batch
// dispatch (including the reputation-weighted re-verification policy),
// commit verification, and first-time finalization. It is the only package
// with non-trivial concurrency and adversarial-input handling; everything
// else in the repository exists to serve it a Gateway and a logger.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/archiveswarm/coordinator/metrics"
	"github.com/archiveswarm/coordinator/objectstore"
	"github.com/archiveswarm/coordinator/registry"
	"github.com/archiveswarm/coordinator/store"
)

// Sentinel errors surfaced to httpapi, which maps each to the §6 error
// envelope. Coordinator never returns apierror.Error directly — that
// mapping is httpapi's job — so this package stays independent of the
// transport layer.
var (
	// ErrEmptyBatchID is returned by Commit/Finalize when batch_id is
	// empty.
	ErrEmptyBatchID = errors.New("coordinator: batch_id must not be empty")
	// ErrForbiddenBatch is returned by Refetch/Commit/Finalize when
	// batch_id does not equal the worker's current_batch.
	ErrForbiddenBatch = errors.New("coordinator: batch is not bound to this worker")
	// ErrUnknownBatch is returned when batch_id does not resolve.
	ErrUnknownBatch = errors.New("coordinator: unknown batch")
	// ErrSizeMismatch is returned by Commit's penalty path.
	ErrSizeMismatch = errors.New("coordinator: reported content size does not match the authoritative size")
	// ErrNoBatchAvailable is returned by Dispatch when neither finished
	// nor unfinished batches exist (§4.4, operational condition).
	ErrNoBatchAvailable = errors.New("coordinator: no batch available")
)

// MustCommitCurrentError is returned by Dispatch when the worker already
// holds an uncommitted batch (§4.4 precondition 2), carrying the batch ID
// so the caller can self-correct.
type MustCommitCurrentError struct {
	BatchID string
}

func (e *MustCommitCurrentError) Error() string {
	return fmt.Sprintf("coordinator: worker must commit or finalize batch %q first", e.BatchID)
}

// SizeMismatchError wraps ErrSizeMismatch with the batch ID, which §6's
// response envelope must carry alongside error_code 8.
type SizeMismatchError struct {
	BatchID string
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("coordinator: reported content size does not match the authoritative size for batch %q", e.BatchID)
}

func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// reputationPenalty is the flat reputation deduction on a commit size
// mismatch, §4.5.
const reputationPenalty = 10

// trustedOverwriteThreshold is the reputation a worker must exceed for a
// size-mismatched commit to be accepted as a trusted overwrite rather than
// penalized, §4.5.
const trustedOverwriteThreshold = 100

// canonicalKey and versionedKey implement the object-key naming contract of
// §4.2: the canonical object is never clobbered by a trusted re-upload.
func canonicalKey(batchID string) string {
	return batchID + ".json.gz"
}

func versionedKey(batchID string, versionBeforeIncrement int) string {
	return fmt.Sprintf("%s.json.gz-%d", batchID, versionBeforeIncrement)
}

const contentType = "application/gzip"

// Coordinator wires the Persistence Gateway, Object-Store Gateway, and
// Worker Registry into the three core operations. The zero value is not
// usable; use New.
type Coordinator struct {
	store     store.Gateway
	objects   objectstore.Gateway
	registry  *registry.Registry
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
	threshold float64
	rng       *rand.Rand
}

// New creates a Coordinator. threshold is CONTENT_THRESHOLD from §4.5 and
// §6 Configuration. rng drives the uniform draw in Dispatch's selection
// policy; pass nil to seed from the runtime's default source (production),
// or an explicitly seeded *rand.Rand for reproducible tests (§8, §9
// "Randomness source").
func New(gw store.Gateway, objects objectstore.Gateway, reg *registry.Registry, log *zap.SugaredLogger, m *metrics.Metrics, threshold float64, rng *rand.Rand) *Coordinator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Coordinator{
		store:     gw,
		objects:   objects,
		registry:  reg,
		log:       log,
		metrics:   m,
		threshold: threshold,
		rng:       rng,
	}
}

// Dispatch implements the Batch Dispatcher (§4.4): selects the next batch
// for workerID, distinguishing new work from reputation-weighted
// re-verification, and binds the worker to the result.
func (c *Coordinator) Dispatch(ctx context.Context, workerID string) (batchID string, videos []string, err error) {
	w, err := c.registry.Resolve(ctx, workerID)
	if err != nil {
		return "", nil, err
	}
	if w.HasCurrentBatch() {
		return "", nil, &MustCommitCurrentError{BatchID: w.CurrentBatch}
	}

	finished, unfinished, err := c.store.CountFinished(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to count batches: %w", err)
	}
	if finished == 0 && unfinished == 0 {
		c.metrics.DispatchOutcomes.WithLabelValues(metrics.DispatchNone).Inc()
		return "", nil, ErrNoBatchAvailable
	}

	// Selection policy, §4.4: draw x uniformly from {0, ..., R} inclusive.
	// R+1 possible values; x==0 has probability exactly 1/(R+1), giving
	// the Bernoulli(1/(R+1)) re-verification law from §8 and §9.
	R := w.Reputation
	if R < 0 {
		R = 0
	}
	x := c.rng.IntN(R + 1)

	pickFinished := (x == 0 && finished > 0) || (unfinished == 0 && finished > 0)

	outcome := metrics.DispatchNew
	if pickFinished {
		outcome = metrics.DispatchReverify
	}
	c.metrics.DispatchOutcomes.WithLabelValues(outcome).Inc()

	batchID, videos, err = c.store.PickRandomBatch(ctx, pickFinished)
	if err != nil {
		return "", nil, fmt.Errorf("failed to pick batch: %w", err)
	}

	if err := c.store.BindWorkerToBatch(ctx, workerID, batchID); err != nil {
		return "", nil, fmt.Errorf("failed to bind worker to batch: %w", err)
	}

	c.log.Infow("dispatched batch", "worker_id", workerID, "batch_id", batchID, "reverify", pickFinished, "reputation", w.Reputation)
	return batchID, videos, nil
}

// Refetch implements the idempotent re-GET of a worker's currently bound
// batch (§4.4 "Idempotent re-fetch"). It returns ErrForbiddenBatch if
// batchID is not the one the worker currently holds.
func (c *Coordinator) Refetch(ctx context.Context, workerID, batchID string) ([]string, error) {
	w, err := c.registry.Resolve(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		return nil, ErrEmptyBatchID
	}
	if w.CurrentBatch != batchID {
		return nil, ErrForbiddenBatch
	}

	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return nil, ErrUnknownBatch
		}
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return b.Videos, nil
}

// Commit implements the Commit Verifier (§4.5): validates a worker's
// reported content size for its currently bound batch and returns a
// presigned upload URL, an empty URL (verified, no upload needed), or
// ErrSizeMismatch.
func (c *Coordinator) Commit(ctx context.Context, workerID, batchID string, contentSize int64) (uploadURL string, err error) {
	w, err := c.registry.Resolve(ctx, workerID)
	if err != nil {
		return "", err
	}
	if batchID == "" {
		return "", ErrEmptyBatchID
	}
	if w.CurrentBatch != batchID {
		return "", ErrForbiddenBatch
	}

	b, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return "", ErrUnknownBatch
		}
		return "", fmt.Errorf("failed to load batch: %w", err)
	}

	// Case A, §4.5: batch not yet finished — not the verifier's job.
	// Issue a presigned PUT to the canonical key; finalization happens on
	// a separate endpoint.
	if !b.Finished {
		url, err := c.objects.PresignPut(ctx, canonicalKey(batchID), contentSize, contentType)
		if err != nil {
			return "", fmt.Errorf("failed to presign put: %w", err)
		}
		return url, nil
	}

	// Case B: batch is finished; S_auth = b.ContentSize is the
	// verification oracle.
	d := relativeDiscrepancy(contentSize, b.ContentSize)

	switch {
	case d < c.threshold:
		if err := c.store.ReleaseWorkerIfCurrent(ctx, workerID, batchID, time.Now()); err != nil {
			return "", fmt.Errorf("failed to release worker: %w", err)
		}
		c.metrics.CommitOutcomes.WithLabelValues(metrics.CommitAccept).Inc()
		c.log.Infow("commit verified", "worker_id", workerID, "batch_id", batchID, "reported", contentSize, "authoritative", b.ContentSize)
		return "", nil

	case w.Reputation > trustedOverwriteThreshold:
		versionBefore, err := c.store.RecordVersionedOverwrite(ctx, batchID, contentSize)
		if err != nil {
			return "", fmt.Errorf("failed to record versioned overwrite: %w", err)
		}
		url, err := c.objects.PresignPut(ctx, versionedKey(batchID, versionBefore), contentSize, contentType)
		if err != nil {
			return "", fmt.Errorf("failed to presign put: %w", err)
		}
		c.metrics.CommitOutcomes.WithLabelValues(metrics.CommitTrustedOverwrite).Inc()
		c.log.Infow("trusted overwrite accepted", "worker_id", workerID, "batch_id", batchID, "version_before", versionBefore)
		return url, nil

	default:
		if err := c.store.PenaliseWorkerIfCurrent(ctx, workerID, batchID, reputationPenalty); err != nil {
			return "", fmt.Errorf("failed to penalise worker: %w", err)
		}
		c.metrics.CommitOutcomes.WithLabelValues(metrics.CommitPenalty).Inc()
		c.log.Warnw("commit size mismatch", "worker_id", workerID, "batch_id", batchID, "reported", contentSize, "authoritative", b.ContentSize, "discrepancy", d)
		return "", &SizeMismatchError{BatchID: batchID}
	}
}

// relativeDiscrepancy computes |reported - authoritative| / authoritative,
// §4.5.
func relativeDiscrepancy(reported, authoritative int64) float64 {
	diff := reported - authoritative
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(authoritative)
}

// Finalize implements the Finalizer (§4.6): the first-time completion
// path. It HEADs the canonical object to obtain the authoritative size,
// records it, and releases the worker. A finalize of an already-finished
// batch is a protocol race (§7, §9 "Open question") — handled as a no-op
// on the batch row that still releases the worker, never rewriting an
// authoritative size that may already have been used to verify other
// workers.
func (c *Coordinator) Finalize(ctx context.Context, workerID, batchID string) error {
	w, err := c.registry.Resolve(ctx, workerID)
	if err != nil {
		return err
	}
	if batchID == "" {
		return ErrEmptyBatchID
	}
	if w.CurrentBatch != batchID {
		return ErrForbiddenBatch
	}

	if _, err := c.store.GetBatch(ctx, batchID); err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return ErrUnknownBatch
		}
		return fmt.Errorf("failed to load batch: %w", err)
	}

	size, err := c.objects.HeadSize(ctx, canonicalKey(batchID))
	if err != nil {
		return fmt.Errorf("failed to head canonical object: %w", err)
	}

	alreadyFinished, err := c.store.RecordFinalization(ctx, batchID, size)
	if err != nil {
		return fmt.Errorf("failed to record finalization: %w", err)
	}
	if alreadyFinished {
		c.log.Warnw("finalize race: batch already finished, releasing worker without mutating batch row", "worker_id", workerID, "batch_id", batchID)
	}

	if err := c.store.ReleaseWorkerIfCurrent(ctx, workerID, batchID, time.Now()); err != nil {
		return fmt.Errorf("failed to release worker: %w", err)
	}

	c.metrics.FinalizeCount.Inc()
	c.log.Infow("batch finalized", "worker_id", workerID, "batch_id", batchID, "content_size", size, "already_finished", alreadyFinished)
	return nil
}
