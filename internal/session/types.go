// Package session manages per-session RAG state: uploaded documents, the
// session's vector index, and accumulated usage metrics, all held
// in-process with a sliding TTL.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/vectorstore"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session owns all state for one caller: documents, the vector index, and
// accumulated metrics. Expiry bookkeeping is managed by the Manager; the
// rest is guarded by the session's own mutex so concurrent ingests and
// queries on the same session stay consistent.
type Session struct {
	ID        string
	CreatedAt time.Time
	Config    rag.SessionConfig
	Index     *vectorstore.Index

	mu        sync.RWMutex
	expiresAt time.Time
	documents []rag.Document
	metrics   rag.Metrics
}

// NewSessionID generates a session id: "rag_" plus 16 hex characters.
func NewSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return "rag_" + hex.EncodeToString(b)
}

// ExpiresAt returns the current expiry deadline.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Touch extends the expiry to now + TTL.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.expiresAt = now.Add(s.Config.SessionTTL)
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.expiresAt.After(now)
}

// Documents returns a copy of the session's document list.
func (s *Session) Documents() []rag.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rag.Document, len(s.documents))
	copy(out, s.documents)
	return out
}

// DocumentCount returns the number of ingested documents.
func (s *Session) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// AddDocument appends a finished document to the session.
func (s *Session) AddDocument(doc rag.Document) {
	s.mu.Lock()
	s.documents = append(s.documents, doc)
	s.mu.Unlock()
}

// AccumulateMetrics folds one operation's metrics into the session totals.
func (s *Session) AccumulateMetrics(m rag.Metrics) {
	s.mu.Lock()
	s.metrics.Accumulate(m)
	s.mu.Unlock()
}

// Metrics returns a copy of the accumulated session metrics.
func (s *Session) Metrics() rag.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Stats is the per-session view served by the stats endpoint.
type Stats struct {
	SessionID     string         `json:"sessionId"`
	CreatedAt     time.Time      `json:"createdAt"`
	ExpiresAt     time.Time      `json:"expiresAt"`
	DocumentCount int            `json:"documentCount"`
	ChunkCount    int            `json:"chunkCount"`
	Documents     []DocumentStat `json:"documents"`
	Metrics       rag.Metrics    `json:"metrics"`
}

// DocumentStat summarizes one document within session stats.
type DocumentStat struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	CharCount  int       `json:"charCount"`
	ChunkCount int       `json:"chunkCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// GlobalStats aggregates across all live sessions.
type GlobalStats struct {
	ActiveSessions int `json:"activeSessions"`
	TotalDocuments int `json:"totalDocuments"`
	TotalChunks    int `json:"totalChunks"`
}

// Stats assembles the session's stats snapshot.
func (s *Session) Stats() Stats {
	counts := s.Index.ChunkCountsByDocument()

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]DocumentStat, len(s.documents))
	for i, d := range s.documents {
		docs[i] = DocumentStat{
			ID:         d.ID,
			FileName:   d.FileName,
			CharCount:  d.CharCount,
			ChunkCount: counts[d.ID],
			UploadedAt: d.UploadedAt,
		}
	}
	return Stats{
		SessionID:     s.ID,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.expiresAt,
		DocumentCount: len(s.documents),
		ChunkCount:    s.Index.Size(),
		Documents:     docs,
		Metrics:       s.metrics,
	}
}
