package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func testBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	b := New(t.Name(), Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		MaxHalfOpenCalls: 1,
		OpenTimeout:      10 * time.Second,
		CountingWindow:   time.Minute,
	}, zap.NewNop())

	clock := time.Now()
	b.now = func() time.Time { return clock }
	return b, &clock
}

func fail(b *Breaker) error { return b.Execute(func() error { return errBoom }) }
func ok(b *Breaker) error   { return b.Execute(func() error { return nil }) }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(t)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	err := ok(b)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSuccessResetsFailureRun(t *testing.T) {
	b, _ := testBreaker(t)

	fail(b)
	fail(b)
	ok(b)
	fail(b)
	fail(b)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	b, clock := testBreaker(t)

	for i := 0; i < 3; i++ {
		fail(b)
	}
	*clock = clock.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, ok(b))
	require.NoError(t, ok(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := testBreaker(t)

	for i := 0; i < 3; i++ {
		fail(b)
	}
	*clock = clock.Add(11 * time.Second)

	require.ErrorIs(t, fail(b), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenProbeQuota(t *testing.T) {
	b, clock := testBreaker(t)

	for i := 0; i < 3; i++ {
		fail(b)
	}
	*clock = clock.Add(11 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	go b.Execute(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := ok(b)
	assert.ErrorIs(t, err, ErrHalfOpenSaturated)
	close(release)
}

func TestCountsTrackOutcomes(t *testing.T) {
	b, _ := testBreaker(t)

	ok(b)
	fail(b)

	counts := b.Counts()
	assert.EqualValues(t, 2, counts.Requests)
	assert.EqualValues(t, 1, counts.TotalSuccesses)
	assert.EqualValues(t, 1, counts.TotalFailures)
}
