package keypad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/intercom-panel/panel-go/pkg/log"
)

// Accumulator defaults.
const (
	// DefaultBufferCapacity counts a reserved terminator slot, so at most
	// DefaultBufferCapacity-1 digits are kept.
	DefaultBufferCapacity = 32

	DefaultInactivityTimeout = 3 * time.Second
)

// State is the accumulator state.
type State uint8

const (
	// StateIdle means the buffer is empty.
	StateIdle State = iota
	// StateAccumulating means at least one digit is buffered.
	StateAccumulating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	default:
		return "UNKNOWN"
	}
}

// NumberFunc receives a completed number.
type NumberFunc func(number string)

// CancelFunc is called when the visitor presses '#'.
type CancelFunc func()

// AccumulatorConfig configures an Accumulator.
type AccumulatorConfig struct {
	// Capacity is the buffer size; Capacity-1 digits fit.
	Capacity int

	// InactivityTimeout submits a pending number after no digit arrived.
	InactivityTimeout time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Capture log.Logger
}

// Accumulator collects digits into a number.
//
// Every key event and timer firing is one critical section under mu, and
// callbacks are invoked inside it.
type Accumulator struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	timeout time.Duration
	clock   clockwork.Clock
	timer   clockwork.Timer
	gen     uint64

	cbMu     sync.Mutex
	onNumber NumberFunc
	onCancel CancelFunc

	logger  *slog.Logger
	capture log.Logger
}

// NewAccumulator creates an idle accumulator.
func NewAccumulator(cfg AccumulatorConfig) *Accumulator {
	if cfg.Capacity < 2 {
		cfg.Capacity = DefaultBufferCapacity
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Accumulator{
		buf:     make([]byte, 0, cfg.Capacity-1),
		limit:   cfg.Capacity - 1,
		timeout: cfg.InactivityTimeout,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		capture: log.OrNoop(cfg.Capture),
	}
}

// OnNumberEntry sets the number callback, replacing any previous one.
func (a *Accumulator) OnNumberEntry(fn NumberFunc) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onNumber = fn
}

// OnCancel sets the cancel callback, replacing any previous one.
func (a *Accumulator) OnCancel(fn CancelFunc) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.onCancel = fn
}

func (a *Accumulator) callbacks() (NumberFunc, CancelFunc) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	return a.onNumber, a.onCancel
}

// HandleKey applies one key event.
func (a *Accumulator) HandleKey(k Key) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case k.IsDigit():
		if len(a.buf) < a.limit {
			a.buf = append(a.buf, byte(k))
			a.record(log.KeyActionAppended, k)
		} else {
			a.logger.Warn("number buffer full, digit dropped", "key", k.String(), "limit", a.limit)
			a.record(log.KeyActionDropped, k)
		}
		a.rearm()

	case k == KeySubmit:
		if len(a.buf) > 0 {
			a.submit(log.KeyActionSubmitted, k)
		}

	case k == KeyCancel:
		a.buf = a.buf[:0]
		a.disarm()
		a.record(log.KeyActionCancelled, k)
		if _, cancel := a.callbacks(); cancel != nil {
			cancel()
		}
	}
}

// State returns Idle or Accumulating.
func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return StateIdle
	}
	return StateAccumulating
}

// Buffered returns the digits entered so far.
func (a *Accumulator) Buffered() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return string(a.buf)
}

// Stop disarms the inactivity timer and discards pending digits without
// invoking any callback.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf[:0]
	a.disarm()
}

func (a *Accumulator) expire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// A newer key rearmed or disarmed the timer after this firing was scheduled.
	if gen != a.gen || len(a.buf) == 0 {
		return
	}
	a.submit(log.KeyActionTimedOut, KeyNone)
}

// submit must be called with mu held and a non-empty buffer.
func (a *Accumulator) submit(action log.KeyAction, k Key) {
	number := string(a.buf)
	a.disarm()

	key := ""
	if k != KeyNone {
		key = k.String()
	}
	a.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerKeypad,
		Category:  log.CategoryKey,
		Key:       &log.KeyEvent{Action: action, Key: key, Number: number},
	})
	a.logger.Info("number entered", "number", number, "trigger", action.String())

	if fn, _ := a.callbacks(); fn != nil {
		fn(number)
	}
	a.buf = a.buf[:0]
}

func (a *Accumulator) rearm() {
	a.disarm()
	gen := a.gen
	a.timer = a.clock.AfterFunc(a.timeout, func() { a.expire(gen) })
}

func (a *Accumulator) disarm() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Accumulator) record(action log.KeyAction, k Key) {
	a.capture.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerKeypad,
		Category:  log.CategoryKey,
		Key:       &log.KeyEvent{Action: action, Key: k.String()},
	})
}
