package interactive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/indicator"
	"github.com/intercom-panel/panel-go/pkg/keypad"
	"github.com/intercom-panel/panel-go/pkg/log"
	"github.com/intercom-panel/panel-go/pkg/session"
)

type nopPin struct{}

func (nopPin) Out(bool) error { return nil }

func newTestConsole(t *testing.T, scanning bool) (*Console, *bytes.Buffer, Config) {
	t.Helper()
	matrix := expander.NewMatrix(keypad.DefaultLayout)
	latch := expander.NewLatch(matrix)
	lock := keypad.NewScanLock(nil)
	acc := keypad.NewAccumulator(keypad.AccumulatorConfig{InactivityTimeout: time.Hour})
	t.Cleanup(acc.Stop)

	if scanning {
		scanner := keypad.NewScanner(latch, lock, keypad.ScannerConfig{SettleDelay: time.Millisecond, ReleasePoll: time.Millisecond})
		loop := keypad.NewLoop(scanner, lock, acc, keypad.LoopConfig{ScanInterval: time.Millisecond, Debounce: time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = loop.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	cfg := Config{
		Matrix:      matrix,
		Latch:       latch,
		Lock:        lock,
		Accumulator: acc,
		Session:     session.NewClient(session.Config{}),
		Indicator:   indicator.New(nopPin{}, indicator.Config{}),
		KeyTimeout:  100 * time.Millisecond,
		KeyGap:      5 * time.Millisecond,
	}
	var out bytes.Buffer
	return newConsole(cfg, &out), &out, cfg
}

func TestPressFeedsAccumulator(t *testing.T) {
	c, _, cfg := newTestConsole(t, true)

	numbers := make(chan string, 1)
	cfg.Accumulator.OnNumberEntry(func(n string) { numbers <- n })

	assert.False(t, c.Execute(context.Background(), "press 11"))
	assert.Eventually(t, func() bool { return cfg.Accumulator.Buffered() == "11" }, time.Second, time.Millisecond)

	c.Execute(context.Background(), "p 3 *")
	select {
	case n := <-numbers:
		assert.Equal(t, "113", n)
	case <-time.After(time.Second):
		t.Fatal("number not submitted")
	}
}

func TestPressSkipsInvalidKeys(t *testing.T) {
	c, out, cfg := newTestConsole(t, true)

	c.Execute(context.Background(), "press 4x2")
	assert.Contains(t, out.String(), `Skipping 'x'`)
	assert.Eventually(t, func() bool { return cfg.Accumulator.Buffered() == "42" }, time.Second, time.Millisecond)
}

func TestPressTimesOutWithoutScanner(t *testing.T) {
	c, out, cfg := newTestConsole(t, false)

	c.Execute(context.Background(), "press 5")
	assert.Contains(t, out.String(), "was not scanned")
	assert.True(t, cfg.Matrix.Idle())
}

func TestLockUnlock(t *testing.T) {
	c, out, cfg := newTestConsole(t, true)

	c.Execute(context.Background(), "lock")
	assert.True(t, cfg.Lock.Engaged())
	c.Execute(context.Background(), "lock")
	assert.Contains(t, out.String(), "already held")

	c.Execute(context.Background(), "press 9")
	assert.Empty(t, cfg.Accumulator.Buffered())

	c.Execute(context.Background(), "unlock")
	assert.False(t, cfg.Lock.Engaged())
	c.Execute(context.Background(), "unlock")
	assert.Contains(t, out.String(), "not held")
}

func TestUnlockLeavesForeignLock(t *testing.T) {
	c, _, cfg := newTestConsole(t, false)

	cfg.Lock.Engage()
	c.Execute(context.Background(), "unlock")
	assert.True(t, cfg.Lock.Engaged())
}

func TestStatus(t *testing.T) {
	c, out, cfg := newTestConsole(t, false)
	cfg.Accumulator.HandleKey('7')

	c.Execute(context.Background(), "status")
	s := out.String()
	assert.Contains(t, s, "Session:     DISCONNECTED")
	assert.Contains(t, s, "Keypad:      ACCUMULATING [7]")
	assert.Contains(t, s, "Scan lock:   false")
	assert.Contains(t, s, "Expander:    0xff")
	assert.Contains(t, s, "Indicator:   unknown")
}

func TestQuitAndUnknown(t *testing.T) {
	c, out, _ := newTestConsole(t, false)

	assert.False(t, c.Execute(context.Background(), "   "))
	assert.False(t, c.Execute(context.Background(), "dance"))
	assert.Contains(t, out.String(), "Unknown command: dance")
	assert.True(t, c.Execute(context.Background(), "QUIT"))
}

func TestHistory(t *testing.T) {
	c, out, _ := newTestConsole(t, false)
	c.Execute(context.Background(), "history")
	assert.Contains(t, out.String(), "History is not recorded")

	history := log.NewMemoryLogger(100)
	c.config.History = history
	history.Log(log.Event{Layer: log.LayerKeypad, Category: log.CategoryKey,
		Key: &log.KeyEvent{Action: log.KeyActionSubmitted, Key: "*", Number: "42"}})
	history.Log(log.Event{Direction: log.DirectionOut, Layer: log.LayerSession, Category: log.CategoryMessage,
		Message: &log.MessageEvent{Text: "start"}})

	out.Reset()
	c.Execute(context.Background(), "history 1")
	assert.NotContains(t, out.String(), "SUBMITTED")
	assert.Contains(t, out.String(), `OUT SESSION  "start"`)

	out.Reset()
	c.Execute(context.Background(), "history")
	assert.Contains(t, out.String(), "SUBMITTED 42")

	out.Reset()
	c.Execute(context.Background(), "history -3")
	assert.Contains(t, out.String(), "Invalid count")
}
