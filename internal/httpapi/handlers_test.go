package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/embeddings"
	"github.com/quillframe/ragcore/internal/orchestrator"
	"github.com/quillframe/ragcore/internal/pipeline"
	"github.com/quillframe/ragcore/internal/provider"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/session"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)%7) + 1, 1, 0}, nil
}

type fakeGenerator struct{}

func (fakeGenerator) GenerateText(ctx context.Context, prompt string, opts provider.GenerateOptions) (string, provider.Usage, error) {
	return "answer", provider.Usage{TotalTokens: 5}, nil
}

func (fakeGenerator) GenerateStream(ctx context.Context, prompt string, opts provider.GenerateOptions, emit func(string)) (provider.Usage, error) {
	emit("streamed ")
	emit("answer")
	return provider.Usage{TotalTokens: 5}, nil
}

type fakeCache struct{}

func (fakeCache) CacheStats() embeddings.CacheStats {
	return embeddings.CacheStats{Hits: 1, Misses: 2, Entries: 3}
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	log := zap.NewNop()
	mgr := session.NewManager(rag.DefaultSessionConfig(), log)
	ing := pipeline.NewIngestor(fakeEmbedder{}, log)
	orc := orchestrator.New(mgr, ing, fakeEmbedder{}, fakeGenerator{}, log)

	mux := http.NewServeMux()
	NewHandler(orc, fakeCache{}, log).RegisterRoutes(mux)
	srv := httptest.NewServer(RequestLogger(log)(mux))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	return resp
}

// sseFrames reads every "data: " frame from an SSE body.
func sseFrames(t *testing.T, resp *http.Response) []string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var frames []string
	for _, block := range strings.Split(string(body), "\n\n") {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "data: ") {
			frames = append(frames, strings.TrimPrefix(block, "data: "))
		}
	}
	return frames
}

func TestCreateSessionDefaults(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/rag/session", map[string]interface{}{})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Regexp(t, "^rag_[0-9a-f]{16}$", out.SessionID)
	assert.Equal(t, 2, out.MaxDocuments)
	assert.Equal(t, 100*1024, out.MaxFileSizeBytes)
	assert.False(t, out.ExpiresAt.IsZero())
}

func TestCreateSessionOverrides(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/rag/session", map[string]interface{}{
		"config": map[string]interface{}{
			"maxDocuments": 9,
			"ttlSeconds":   60,
		},
	})
	defer resp.Body.Close()

	var out createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 9, out.MaxDocuments)
}

func TestDeleteSession(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/rag/session/"+sess.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// second delete is a 404
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestStreamsProgress(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{ChunkSize: 10, ChunkOverlap: 5})

	resp := postJSON(t, srv.URL+"/api/rag/ingest", ingestRequest{
		SessionID: sess.ID,
		FileName:  "a.txt",
		Content:   "AAAA_BBBB_CCCC_DDDD_EEEE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	frames := sseFrames(t, resp)
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	var phases []string
	for _, f := range frames[:len(frames)-1] {
		var u rag.IngestProgressUpdate
		require.NoError(t, json.Unmarshal([]byte(f), &u))
		if len(phases) == 0 || phases[len(phases)-1] != u.Phase {
			phases = append(phases, u.Phase)
		}
	}
	assert.Equal(t,
		[]string{rag.PhaseStarting, rag.PhaseChunking, rag.PhaseEmbedding, rag.PhaseIndexing, rag.PhaseComplete},
		phases)

	assert.Equal(t, 1, sess.DocumentCount())
	assert.GreaterOrEqual(t, sess.Index.Size(), 4)
}

func TestQueryStreamsEvents(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{})
	require.NoError(t, sess.Index.Add(rag.EmbeddedChunk{
		Chunk: rag.Chunk{
			ID: "c0", DocumentID: "d", DocumentName: "a.txt",
			Content: "indexed content", ChunkIndex: 0,
		},
		Embedding: []float32{1, 1, 0},
	}))

	resp := postJSON(t, srv.URL+"/api/rag/query", queryRequest{
		SessionID: sess.ID,
		Query:     "what is indexed?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := sseFrames(t, resp)
	require.NotEmpty(t, frames)
	assert.Equal(t, "[DONE]", frames[len(frames)-1])

	var types []string
	for _, f := range frames[:len(frames)-1] {
		var ev rag.QueryEvent
		require.NoError(t, json.Unmarshal([]byte(f), &ev))
		if len(types) == 0 || types[len(types)-1] != ev.Type {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t,
		[]string{rag.EventRetrieval, rag.EventGeneration, rag.EventCitation, rag.EventDone},
		types)
}

func TestQueryEmptyQueryIs400(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{})

	resp := postJSON(t, srv.URL+"/api/rag/query", queryRequest{SessionID: sess.ID, Query: " "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/rag/query", queryRequest{
		SessionID: "rag_0000000000000000",
		Query:     "q",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestEmptyInputsAre400(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{})

	resp := postJSON(t, srv.URL+"/api/rag/ingest", ingestRequest{
		SessionID: sess.ID, FileName: "", Content: "x",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/rag/ingest", ingestRequest{
		SessionID: sess.ID, FileName: "a.txt", Content: "",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)
	sess := mgr.Create(rag.SessionConfig{})
	doc := rag.NewDocument("a.txt", "hello")
	sess.AddDocument(doc)
	require.NoError(t, sess.Index.Add(rag.EmbeddedChunk{
		Chunk:     rag.Chunk{ID: "c0", DocumentID: doc.ID},
		Embedding: []float32{1, 0},
	}))

	resp, err := http.Get(srv.URL + "/api/rag/stats?session_id=" + sess.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.DocumentCount)
	assert.Equal(t, 1, out.ChunkCount)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, 1, out.Documents[0].ChunkCount)
	assert.EqualValues(t, 1, out.EmbeddingCache.Hits)
}

func TestStatsMissingSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/rag/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGlobalStatsEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.Create(rag.SessionConfig{})
	mgr.Create(rag.SessionConfig{})

	resp, err := http.Get(srv.URL + "/api/rag/global-stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out session.GlobalStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.ActiveSessions)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/rag/global-stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
