package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLivenessAlwaysOK(t *testing.T) {
	h := NewHandler(zap.NewNop())
	h.Register(CheckerFunc{CheckerName: "broken", Fn: func(ctx context.Context) error {
		return errors.New("down")
	}})
	srv := newServer(t, h)

	resp, err := http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyWithHealthyCheckers(t *testing.T) {
	h := NewHandler(zap.NewNop())
	h.Register(CheckerFunc{CheckerName: "sessions", Fn: func(ctx context.Context) error {
		return nil
	}})
	srv := newServer(t, h)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnhealthyChecker503(t *testing.T) {
	h := NewHandler(zap.NewNop())
	h.Register(CheckerFunc{CheckerName: "provider", Fn: func(ctx context.Context) error {
		return errors.New("unreachable")
	}})
	srv := newServer(t, h)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCachedCheckerReusesResult(t *testing.T) {
	var calls int
	inner := CheckerFunc{CheckerName: "provider", Fn: func(ctx context.Context) error {
		calls++
		return nil
	}}

	cc := Cached(inner, 30*time.Second).(*cachedChecker)
	clock := time.Now()
	cc.now = func() time.Time { return clock }

	require.NoError(t, cc.Check(context.Background()))
	require.NoError(t, cc.Check(context.Background()))
	assert.Equal(t, 1, calls)

	clock = clock.Add(31 * time.Second)
	require.NoError(t, cc.Check(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestHealthWithNoCheckers(t *testing.T) {
	srv := newServer(t, NewHandler(zap.NewNop()))
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
