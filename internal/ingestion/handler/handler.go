// Package handler serves the ingestion HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/vocabtree/pkg/logger"
)

// maxBodyBytes caps a request body; a million words encode to well under it.
const maxBodyBytes = 16 << 20

// Ingester accepts validated documents.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
}

// DocumentLookup reads registrations back.
type DocumentLookup interface {
	Get(ctx context.Context, id uint32) (*registry.Document, error)
	CountByStatus(ctx context.Context) (map[registry.Status]int64, error)
}

type Handler struct {
	ingester Ingester
	lookup   DocumentLookup
	limits   validator.Limits
	logger   *slog.Logger
}

func New(ingester Ingester, lookup DocumentLookup, limits validator.Limits) *Handler {
	return &Handler{
		ingester: ingester,
		lookup:   lookup,
		limits:   limits,
		logger:   logger.WithComponent("ingestion-handler"),
	}
}

// Routes registers the ingestion endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("GET /api/v1/documents/stats", h.DocumentStats)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestRequest(&req, h.limits); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.ingester.Ingest(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		if statusCode == http.StatusConflict {
			log.Info("duplicate document rejected", "doc_id", *req.DocumentID)
			h.writeError(w, statusCode, "document already exists")
			return
		}
		log.Error("ingestion failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	log.Info("document accepted",
		"doc_id", resp.DocumentID,
		"words", resp.Words,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "document id must be an unsigned 32-bit integer")
		return
	}
	doc, err := h.lookup.Get(r.Context(), uint32(id))
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status == http.StatusNotFound {
			h.writeError(w, status, "document not found")
			return
		}
		logger.FromContext(r.Context()).Error("document lookup failed", "doc_id", id, "error", err)
		h.writeError(w, status, "lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// DocumentStats reports how many registered documents are pending, indexed
// and failed.
func (h *Handler) DocumentStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.lookup.CountByStatus(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("document count failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "count failed")
		return
	}
	resp := map[registry.Status]int64{
		registry.StatusPending: 0,
		registry.StatusIndexed: 0,
		registry.StatusFailed:  0,
	}
	var total int64
	for status, n := range counts {
		resp[status] = n
		total += n
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": resp,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
