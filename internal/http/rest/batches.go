package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/multifetch/internal/downloader"
	"github.com/italolelis/multifetch/internal/logctx"
	"github.com/italolelis/multifetch/internal/storage"
)

const maxBodySize = 1 << 20 // 1MB

// BatchRunner runs a batch of downloads to completion.
type BatchRunner interface {
	RunBatch(ctx context.Context, id string, targets []downloader.Target) (downloader.Batch, error)
}

type CreateBatchRequest struct {
	Targets []downloader.Target `json:"targets"`
}

type CreateBatchResponse struct {
	ID string `json:"id"`
}

type OutcomeResponse struct {
	URL         string `json:"url"`
	Destination string `json:"destination"`
	Result      string `json:"result"`
	Reason      string `json:"reason,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	Bytes       int64  `json:"bytes"`
	FinishedAt  string `json:"finished_at"`
}

type BatchResponse struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Targets    int               `json:"targets"`
	StartedAt  string            `json:"started_at"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Outcomes   []OutcomeResponse `json:"outcomes"`
}

type BatchHandler struct {
	username string
	password string
	runner   BatchRunner
	repo     storage.OutcomeReadRepository

	// ctx outlives the requests: batches keep running after the 202.
	ctx context.Context
	wg  sync.WaitGroup
}

// NewBatchHandler creates a new batch handler. Batches started through it run
// under ctx. Basic auth is enforced when username is set.
func NewBatchHandler(ctx context.Context, username, password string, runner BatchRunner, repo storage.OutcomeReadRepository) *BatchHandler {
	return &BatchHandler{
		username: username,
		password: password,
		runner:   runner,
		repo:     repo,
		ctx:      ctx,
	}
}

func (h *BatchHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Post("/batches", h.HandleCreate)
	r.Get("/batches/{id}", h.HandleGet)

	return r
}

// Wait blocks until every batch started by the handler finished.
func (h *BatchHandler) Wait() {
	h.wg.Wait()
}

// HandleCreate validates the targets and starts the batch in the background.
func (h *BatchHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req CreateBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		logger.Warn("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if err := validateTargets(req.Targets); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)

		return
	}

	id := uuid.NewString()
	ctx := logctx.WithLogger(h.ctx, logger)

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		if _, err := h.runner.RunBatch(ctx, id, req.Targets); err != nil {
			logctx.LoggerFromContext(ctx).Error("batch failed", "batch_id", id, "err", err)
		}
	}()

	logger.Info("batch accepted", "batch_id", id, "targets", len(req.Targets))

	w.Header().Set("Location", "/batches/"+id)
	writeJSON(w, http.StatusAccepted, CreateBatchResponse{ID: id})
}

// HandleGet returns a batch with the outcomes reported so far.
func (h *BatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	batch, err := h.repo.GetBatch(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "batch not found", http.StatusNotFound)

		return
	}

	if err != nil {
		logger.Error("failed to get batch", "batch_id", id, "err", err)
		http.Error(w, "failed to get batch", http.StatusInternalServerError)

		return
	}

	records, err := h.repo.GetOutcomes(id)
	if err != nil {
		logger.Error("failed to get outcomes", "batch_id", id, "err", err)
		http.Error(w, "failed to get outcomes", http.StatusInternalServerError)

		return
	}

	resp := BatchResponse{
		ID:         batch.ID,
		Status:     batch.Status,
		Targets:    batch.Targets,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Outcomes:   make([]OutcomeResponse, 0, len(records)),
	}

	for _, rec := range records {
		resp.Outcomes = append(resp.Outcomes, OutcomeResponse{
			URL:         rec.URL,
			Destination: rec.Destination,
			Result:      rec.Result,
			Reason:      rec.Reason,
			StatusCode:  rec.StatusCode,
			Bytes:       rec.Bytes,
			FinishedAt:  rec.FinishedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *BatchHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func validateTargets(targets []downloader.Target) error {
	if len(targets) == 0 {
		return errors.New("at least one target is required")
	}

	seen := make(map[string]int, len(targets))

	for i, t := range targets {
		if strings.TrimSpace(t.URL) == "" {
			return fmt.Errorf("target %d: url is required", i)
		}

		if strings.TrimSpace(t.Destination) == "" {
			return fmt.Errorf("target %d: destination is required", i)
		}

		// Destinations come from remote callers and must stay inside the
		// target directory.
		if !filepath.IsLocal(t.Destination) {
			return fmt.Errorf("target %d: destination must be a relative path inside the target directory", i)
		}

		dest := filepath.Clean(t.Destination)
		if first, ok := seen[dest]; ok {
			return fmt.Errorf("target %d: destination %s is already used by target %d", i, t.Destination, first)
		}

		seen[dest] = i
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
