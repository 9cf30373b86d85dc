package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/archiveswarm/coordinator/httpapi/submission"
)

// handleStats serves GET /api/stats, §6.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}

	const estimatedVideosPerBatch = 10000
	estimatedTotal := stats.BatchCount * estimatedVideosPerBatch
	estimatedFinished := stats.BatchFinished * estimatedVideosPerBatch

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_count":               stats.BatchCount,
		"batch_finished":            stats.BatchFinished,
		"batch_remaining":           stats.BatchCount - stats.BatchFinished,
		"content_size":              stats.ContentSize,
		"estimated_video_count":     estimatedTotal,
		"estimated_video_finished":  estimatedFinished,
		"estimated_video_remaining": estimatedTotal - estimatedFinished,
		"worker_count":              stats.WorkerCount,
		"worker_active":             stats.WorkerActive,
	})
}

// handleWorkers serves GET /api/workers, filtered by the caller's observed
// IP (§6 "lost-ID recovery").
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.registry.WorkersForIP(r.Context(), remoteIP(r))
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": ids})
}

// handleCreateWorker serves POST /api/workers/create, §4.3.
func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	id, s3URL, err := s.registry.CreateWorker(r.Context(), remoteIP(r))
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker_id": id, "s3_url": s3URL})
}

type workerIDBody struct {
	WorkerID string `json:"worker_id"`
}

// handleDispatch serves POST /api/batches, §4.4.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body workerIDBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}

	batchID, videos, err := s.coordinator.Dispatch(r.Context(), body.WorkerID)
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "objects": videos})
}

// handleRefetch serves POST /api/batches/:id, §4.4 "Idempotent re-fetch".
func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	batchID := mux.Vars(r)["batch_id"]

	var body workerIDBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}

	videos, err := s.coordinator.Refetch(r.Context(), body.WorkerID, batchID)
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "objects": videos})
}

type commitBody struct {
	WorkerID    string `json:"worker_id"`
	BatchID     string `json:"batch_id"`
	ContentSize int64  `json:"content_size"`
}

// handleCommit serves POST /api/commit, §4.5.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var body commitBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}

	uploadURL, err := s.coordinator.Commit(r.Context(), body.WorkerID, body.BatchID, body.ContentSize)
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload_url": uploadURL})
}

type finalizeBody struct {
	WorkerID string `json:"worker_id"`
	BatchID  string `json:"batch_id"`
}

// handleFinalize serves POST /api/finalize, §4.6.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var body finalizeBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}

	if err := s.coordinator.Finalize(r.Context(), body.WorkerID, body.BatchID); err != nil {
		writeError(w, s.mapError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type videosSubmitBody struct {
	Videos []string `json:"videos"`
}

// handleVideosSubmit serves POST /api/videos/submit, §6.
func (s *Server) handleVideosSubmit(w http.ResponseWriter, r *http.Request) {
	var body videosSubmitBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}
	inserted, err := submission.Submit(body.Videos, submission.FilterVideos, func(ids []string) ([]string, error) {
		return s.store.InsertVideos(r.Context(), ids)
	})
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}

type playlistsSubmitBody struct {
	Playlists []string `json:"playlists"`
}

// handlePlaylistsSubmit serves POST /api/playlists/submit, §6.
func (s *Server) handlePlaylistsSubmit(w http.ResponseWriter, r *http.Request) {
	var body playlistsSubmitBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}
	inserted, err := submission.Submit(body.Playlists, submission.FilterNone, func(ids []string) ([]string, error) {
		return s.store.InsertPlaylists(r.Context(), ids)
	})
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}

type channelsSubmitBody struct {
	Channels []string `json:"channels"`
}

// handleChannelsSubmit serves POST /api/channels/submit, §6.
func (s *Server) handleChannelsSubmit(w http.ResponseWriter, r *http.Request) {
	var body channelsSubmitBody
	if err := decodeJSON(r, &body); err != nil {
		writeMalformedBody(w)
		return
	}
	inserted, err := submission.Submit(body.Channels, submission.FilterChannels, func(ids []string) ([]string, error) {
		return s.store.InsertChannels(r.Context(), ids)
	})
	if err != nil {
		writeError(w, s.mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}
