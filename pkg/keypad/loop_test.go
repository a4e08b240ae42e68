package keypad

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/intercom-panel/panel-go/pkg/expander"
)

// stubPoller replays a fixed key sequence, then returns KeyNone.
type stubPoller struct {
	mu   sync.Mutex
	keys []Key
}

func (p *stubPoller) Poll(context.Context) Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return KeyNone
	}
	k := p.keys[0]
	p.keys = p.keys[1:]
	return k
}

type mockHandler struct {
	mock.Mock
	handled atomic.Int32
}

func (m *mockHandler) HandleKey(k Key) {
	m.Called(k)
	m.handled.Add(1)
}

func (m *mockHandler) count() int {
	return int(m.handled.Load())
}

func runLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestLoopFeedsKeysInOrder(t *testing.T) {
	handler := &mockHandler{}
	handler.On("HandleKey", Key('1')).Return().Once()
	handler.On("HandleKey", Key('2')).Return().Once()
	handler.On("HandleKey", KeySubmit).Return().Once()

	poller := &stubPoller{keys: []Key{'1', KeyNone, '2', KeySubmit}}
	l := NewLoop(poller, nil, handler, LoopConfig{
		ScanInterval: time.Millisecond,
		Debounce:     time.Millisecond,
	})

	cancel, done := runLoop(t, l)
	require.Eventually(t, func() bool {
		return handler.count() == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	handler.AssertExpectations(t)
}

func TestLoopSkipsKeysWhileLocked(t *testing.T) {
	handler := &mockHandler{}
	handler.On("HandleKey", KeyCancel).Return().Once()

	lock := &ScanLock{}
	lock.Engage()
	poller := &stubPoller{keys: []Key{'5', KeyCancel}}
	l := NewLoop(poller, lock, handler, LoopConfig{
		ScanInterval: time.Millisecond,
		Debounce:     time.Millisecond,
	})

	cancel, done := runLoop(t, l)
	require.Eventually(t, func() bool {
		return handler.count() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	handler.AssertExpectations(t)
	handler.AssertNotCalled(t, "HandleKey", Key('5'))
}

func TestLoopWaitsDebounceAfterKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	handler := &mockHandler{}
	handler.On("HandleKey", mock.Anything).Return()

	poller := &stubPoller{keys: []Key{'9', '8'}}
	l := NewLoop(poller, nil, handler, LoopConfig{
		ScanInterval: 100 * time.Millisecond,
		Debounce:     200 * time.Millisecond,
		Clock:        clock,
	})
	runLoop(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	handler.AssertNumberOfCalls(t, "HandleKey", 1)

	// The idle interval is shorter than the debounce and must not release it.
	clock.Advance(100 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	handler.AssertNumberOfCalls(t, "HandleKey", 1)

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return handler.count() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestLoopEndToEndWithAccumulator(t *testing.T) {
	matrix := expander.NewMatrix(DefaultLayout)
	latch := expander.NewLatch(matrix)
	lock := &ScanLock{}
	scanner := NewScanner(latch, lock, ScannerConfig{SettleDelay: time.Millisecond, ReleasePoll: time.Millisecond})
	acc := NewAccumulator(AccumulatorConfig{InactivityTimeout: time.Hour})
	t.Cleanup(acc.Stop)

	numbers := make(chan string, 1)
	acc.OnNumberEntry(func(n string) { numbers <- n })

	l := NewLoop(scanner, lock, acc, LoopConfig{ScanInterval: time.Millisecond, Debounce: time.Millisecond})
	runLoop(t, l)

	for _, k := range []byte("305*") {
		require.NoError(t, matrix.Tap(k))
		require.Eventually(t, matrix.Idle, time.Second, time.Millisecond)
	}

	select {
	case n := <-numbers:
		assert.Equal(t, "305", n)
	case <-time.After(2 * time.Second):
		t.Fatal("number not submitted")
	}
}

func TestLoopReturnsWhenAlreadyCancelled(t *testing.T) {
	l := NewLoop(&stubPoller{}, nil, &mockHandler{}, LoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(l.Run(ctx), context.Canceled))
}
