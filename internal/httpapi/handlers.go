// Package httpapi serves the session-scoped RAG endpoints under /api/rag,
// streaming ingest progress and query events over SSE.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/embeddings"
	"github.com/quillframe/ragcore/internal/orchestrator"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

// CacheStatser exposes embedding cache counters on the stats surface.
type CacheStatser interface {
	CacheStats() embeddings.CacheStats
}

// Handler serves the RAG HTTP surface.
type Handler struct {
	orc   *orchestrator.Orchestrator
	cache CacheStatser
	log   *zap.Logger
}

// NewHandler builds the HTTP handler set.
func NewHandler(orc *orchestrator.Orchestrator, cache CacheStatser, logger *zap.Logger) *Handler {
	return &Handler{orc: orc, cache: cache, log: logger}
}

// RegisterRoutes attaches all endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rag/session", h.handleCreateSession)
	mux.HandleFunc("DELETE /api/rag/session/{id}", h.handleDeleteSession)
	mux.HandleFunc("POST /api/rag/ingest", h.handleIngest)
	mux.HandleFunc("POST /api/rag/query", h.handleQuery)
	mux.HandleFunc("GET /api/rag/stats", h.handleStats)
	mux.HandleFunc("GET /api/rag/global-stats", h.handleGlobalStats)
}

type sessionConfigRequest struct {
	TTLSeconds              int     `json:"ttlSeconds"`
	MaxDocuments            int     `json:"maxDocuments"`
	MaxFileSizeBytes        int     `json:"maxFileSizeBytes"`
	ChunkSize               int     `json:"chunkSize"`
	ChunkOverlap            int     `json:"chunkOverlap"`
	TopK                    int     `json:"topK"`
	MinSimilarityScore      float32 `json:"minSimilarityScore"`
	DefaultStrategy         string  `json:"defaultStrategy"`
	DefaultChunkingStrategy string  `json:"defaultChunkingStrategy"`
}

type createSessionRequest struct {
	Config *sessionConfigRequest `json:"config"`
}

type createSessionResponse struct {
	SessionID        string    `json:"sessionId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	MaxDocuments     int       `json:"maxDocuments"`
	MaxFileSizeBytes int       `json:"maxFileSizeBytes"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var overrides rag.SessionConfig
	if c := req.Config; c != nil {
		overrides = rag.SessionConfig{
			SessionTTL:              time.Duration(c.TTLSeconds) * time.Second,
			MaxDocuments:            c.MaxDocuments,
			MaxFileSizeBytes:        c.MaxFileSizeBytes,
			ChunkSize:               c.ChunkSize,
			ChunkOverlap:            c.ChunkOverlap,
			TopK:                    c.TopK,
			MinSimilarityScore:      c.MinSimilarityScore,
			DefaultStrategy:         rag.RetrievalStrategy(c.DefaultStrategy),
			DefaultChunkingStrategy: rag.ChunkingStrategy(c.DefaultChunkingStrategy),
		}
	}

	sess := h.orc.Sessions().Create(overrides)
	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID:        sess.ID,
		ExpiresAt:        sess.ExpiresAt(),
		MaxDocuments:     sess.Config.MaxDocuments,
		MaxFileSizeBytes: sess.Config.MaxFileSizeBytes,
	})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orc.Sessions().Remove(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestRequest struct {
	SessionID        string `json:"sessionId"`
	FileName         string `json:"fileName"`
	Content          string `json:"content"`
	ChunkingStrategy string `json:"chunkingStrategy"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stream, err := h.orc.IngestStream(r.Context(), req.SessionID, req.FileName,
		req.Content, rag.ChunkingStrategy(req.ChunkingStrategy))
	if err != nil {
		h.writeStreamSetupError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for update := range stream {
		if err := sse.Send(update); err != nil {
			return
		}
	}
	sse.Done()
}

type queryRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
	Strategy  string `json:"strategy"`
	TopK      int    `json:"topK"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stream, err := h.orc.QueryStream(r.Context(), req.SessionID, req.Query,
		rag.RetrievalStrategy(req.Strategy), req.TopK)
	if err != nil {
		h.writeStreamSetupError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for ev := range stream {
		if err := sse.Send(ev); err != nil {
			return
		}
	}
	sse.Done()
}

type statsResponse struct {
	session.Stats
	EmbeddingCache embeddings.CacheStats `json:"embeddingCache"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	sess, err := h.orc.Sessions().Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Stats:          sess.Stats(),
		EmbeddingCache: h.cache.CacheStats(),
	})
}

func (h *Handler) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orc.Sessions().GlobalStats())
}

// writeStreamSetupError maps pre-stream failures onto status codes:
// unknown sessions are 404, empty inputs are 400.
func (h *Handler) writeStreamSetupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, orchestrator.ErrEmptyQuery),
		errors.Is(err, orchestrator.ErrEmptyDocument),
		errors.Is(err, orchestrator.ErrEmptyFileName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("Stream setup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
