package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alertsync/internal/credential"
)

// stubCounter returns a scripted sequence of values and errors.
type stubCounter struct {
	mu      sync.Mutex
	value   int64
	err     error
	fetches int
}

func (s *stubCounter) FetchCounter(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return 0, s.err
	}
	return s.value, nil
}

func (s *stubCounter) set(value int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
	s.err = err
}

func (s *stubCounter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func newTestPoller(t *testing.T, service CounterService, withSecret bool) *CounterPoller {
	t.Helper()
	gate := credential.NewGate()
	if withSecret {
		gate.Set("test-secret")
	}
	return NewCounterPoller(service, gate, time.Second, zaptest.NewLogger(t))
}

func TestTick_PublishesLatestValue(t *testing.T) {
	service := &stubCounter{value: 7}
	p := newTestPoller(t, service, true)

	_, ok := p.Latest()
	assert.False(t, ok)

	p.tick()

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.EqualValues(t, 7, latest.Value)
	assert.False(t, latest.UpdatedAt.IsZero())

	// Stale values are overwritten.
	service.set(9, nil)
	p.tick()
	latest, _ = p.Latest()
	assert.EqualValues(t, 9, latest.Value)
}

func TestTick_FailureIsIsolated(t *testing.T) {
	service := &stubCounter{value: 7}
	p := newTestPoller(t, service, true)

	p.tick()
	latest, _ := p.Latest()
	assert.EqualValues(t, 7, latest.Value)

	// A failed tick keeps the previous value and does not panic.
	service.set(0, errors.New("upstream returned 500"))
	p.tick()
	latest, ok := p.Latest()
	require.True(t, ok)
	assert.EqualValues(t, 7, latest.Value)

	// The next successful tick updates again.
	service.set(11, nil)
	p.tick()
	latest, _ = p.Latest()
	assert.EqualValues(t, 11, latest.Value)
}

func TestTick_SkippedWithoutCredential(t *testing.T) {
	service := &stubCounter{value: 7}
	p := newTestPoller(t, service, false)

	p.tick()

	assert.Equal(t, 0, service.calls())
	_, ok := p.Latest()
	assert.False(t, ok)
}

func TestStartStop_Schedule(t *testing.T) {
	service := &stubCounter{value: 3}
	p := newTestPoller(t, service, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := p.Latest()
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	p.Stop()
	calls := service.calls()

	// No further ticks after Stop.
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, service.calls())
}
