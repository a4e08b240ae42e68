package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercom-panel/panel-go/pkg/log"
)

type recordingPin struct {
	mu     sync.Mutex
	levels []bool
	err    error
}

func (p *recordingPin) Out(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, high)
	return nil
}

func (p *recordingPin) snapshot() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.levels...)
}

func (p *recordingPin) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestRunBlinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	pin := &recordingPin{}
	ind := New(pin, Config{Clock: clock})

	done := make(chan error, 1)
	go func() { done <- ind.Run(ctx) }()

	// Idle: LED driven off.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []bool{true}, pin.snapshot())

	ind.SetBlinking(true)
	for n := 2; n <= 4; n++ {
		clock.Advance(DefaultBlinkInterval)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
	}
	assert.Equal(t, []bool{true, false, true, false}, pin.snapshot())

	ind.SetBlinking(false)
	clock.Advance(DefaultBlinkInterval)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []bool{true, false, true, false, true}, pin.snapshot(), "stop turns the LED off")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestShowFor(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	pin := &recordingPin{}
	capture := log.NewMemoryLogger(0)
	ind := New(pin, Config{Clock: clock, Capture: capture})

	done := make(chan struct{})
	go func() {
		ind.ShowFor(ctx, time.Second)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.True(t, ind.Showing())
	assert.Empty(t, pin.snapshot(), "nothing lit during the lead-in")

	clock.Advance(DefaultLeadIn)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []bool{false}, pin.snapshot())

	clock.Advance(time.Second)
	<-done
	assert.Equal(t, []bool{false, true}, pin.snapshot())
	assert.False(t, ind.Showing())

	states := capture.Filter(log.Filter{Category: ptr(log.CategoryState)})
	require.Len(t, states, 2)
	assert.Equal(t, "SHOWING", states[0].StateChange.Reason)
	assert.Equal(t, "ON", states[0].StateChange.NewState)
	assert.Equal(t, "OFF", states[1].StateChange.NewState)
}

func TestShowForCancelledTurnsOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	pin := &recordingPin{}
	ind := New(pin, Config{Clock: clock})

	done := make(chan struct{})
	go func() {
		ind.ShowFor(ctx, time.Hour)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(DefaultLeadIn)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	<-done

	assert.Equal(t, []bool{false, true}, pin.snapshot())
	high, ok := ind.Level()
	assert.True(t, ok)
	assert.True(t, high)
}

func TestShowingHoldsOffBlinking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	pin := &recordingPin{}
	ind := New(pin, Config{Clock: clock, LeadIn: -1})
	ind.SetBlinking(true)
	ind.showing.Store(true)

	go func() { _ = ind.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultBlinkInterval)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	assert.Empty(t, pin.snapshot())
}

func TestPinErrorsAreLogged(t *testing.T) {
	pin := &recordingPin{}
	pin.failWith(errors.New("gpio busy"))
	capture := log.NewMemoryLogger(0)
	ind := New(pin, Config{Capture: capture})

	ind.SetLevel(false)
	_, ok := ind.Level()
	assert.False(t, ok)

	errs := capture.Filter(log.Filter{Category: ptr(log.CategoryError)})
	require.Len(t, errs, 1)
	assert.Equal(t, "gpio busy", errs[0].Error.Message)

	pin.failWith(nil)
	ind.SetLevel(false)
	assert.Equal(t, []bool{false}, pin.snapshot(), "retried after failure")
}

func TestSetBlinkingRecordsChangesOnly(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	ind := New(&recordingPin{}, Config{Capture: capture})

	ind.SetBlinking(true)
	ind.SetBlinking(true)
	ind.SetBlinking(false)

	assert.False(t, ind.Blinking())
	assert.Len(t, capture.Events(), 2)
}

func ptr[T any](v T) *T { return &v }

type recordingDimmer struct {
	duties []float64
	err    error
}

func (d *recordingDimmer) SetDuty(fraction float64) error {
	if d.err != nil {
		return d.err
	}
	d.duties = append(d.duties, fraction)
	return nil
}

func TestFlashOnOff(t *testing.T) {
	d := &recordingDimmer{}
	f := NewFlash(d, 0, nil, nil)

	require.NoError(t, f.On())
	assert.True(t, f.Lit())
	require.NoError(t, f.Off())
	assert.False(t, f.Lit())
	assert.Equal(t, []float64{DefaultFlashLevel, 0}, d.duties)
}

func TestFlashWriteError(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	d := &recordingDimmer{err: errors.New("pwm busy")}
	f := NewFlash(d, 0.5, nil, capture)

	assert.Error(t, f.On())
	assert.False(t, f.Lit())
	errs := capture.Filter(log.Filter{Category: ptr(log.CategoryError)})
	require.Len(t, errs, 1)
	assert.Equal(t, "flash", errs[0].Error.Context)
}
