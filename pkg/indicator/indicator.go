// Package indicator drives the panel's active-low status LED.
//
// A single Indicator owns the pin. Run toggles it while blinking is enabled;
// ShowFor lights it for a fixed time and holds off the blink task meanwhile.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/intercom-panel/panel-go/pkg/log"
)

const (
	// DefaultBlinkInterval is the blink half-period.
	DefaultBlinkInterval = 500 * time.Millisecond

	// DefaultLeadIn precedes lighting the LED in ShowFor.
	DefaultLeadIn = 50 * time.Millisecond
)

// Pin is a digital output.
type Pin interface {
	Out(high bool) error
}

// Config configures an Indicator.
type Config struct {
	BlinkInterval time.Duration
	LeadIn        time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
	Capture       log.Logger
}

// Indicator is the status LED. Pin errors are logged and otherwise ignored.
type Indicator struct {
	pin      Pin
	interval time.Duration
	leadIn   time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	capture  log.Logger

	blinking atomic.Bool
	showing  atomic.Bool

	mu    sync.Mutex
	level bool
	known bool
}

// New creates an Indicator on pin. The LED is not touched until first use.
func New(pin Pin, cfg Config) *Indicator {
	if cfg.BlinkInterval <= 0 {
		cfg.BlinkInterval = DefaultBlinkInterval
	}
	if cfg.LeadIn < 0 {
		cfg.LeadIn = 0
	} else if cfg.LeadIn == 0 {
		cfg.LeadIn = DefaultLeadIn
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Indicator{
		pin:      pin,
		interval: cfg.BlinkInterval,
		leadIn:   cfg.LeadIn,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		capture:  log.OrNoop(cfg.Capture),
	}
}

// Run is the blink task. It returns ctx.Err() once ctx is done.
func (i *Indicator) Run(ctx context.Context) error {
	level := true
	for {
		switch {
		case i.showing.Load():
		case !i.blinking.Load():
			level = true
			i.SetLevel(true)
		default:
			level = !level
			i.SetLevel(level)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.clock.After(i.interval):
		}
	}
}

// SetBlinking starts or stops blinking. Stopping turns the LED off at the
// next tick.
func (i *Indicator) SetBlinking(on bool) {
	if i.blinking.Swap(on) != on {
		i.record("BLINKING", on)
	}
}

// Blinking reports whether blinking is enabled.
func (i *Indicator) Blinking() bool {
	return i.blinking.Load()
}

// Showing reports whether a ShowFor is in progress.
func (i *Indicator) Showing() bool {
	return i.showing.Load()
}

// ShowFor lights the LED for d after a short lead-in, then turns it off.
// It blocks until done or ctx is cancelled; the LED is off on return.
func (i *Indicator) ShowFor(ctx context.Context, d time.Duration) {
	i.showing.Store(true)
	defer i.showing.Store(false)
	i.record("SHOWING", true)
	defer i.record("SHOWING", false)

	if !i.sleep(ctx, i.leadIn) {
		i.SetLevel(true)
		return
	}
	i.SetLevel(false)
	i.sleep(ctx, d)
	i.SetLevel(true)
}

// SetLevel drives the pin. Low lights the LED.
func (i *Indicator) SetLevel(high bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.known && i.level == high {
		return
	}
	if err := i.pin.Out(high); err != nil {
		i.logger.Error("indicator pin write failed", "high", high, "error", err)
		i.capture.Log(log.Event{
			Timestamp: i.clock.Now(),
			Layer:     log.LayerActuator,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerActuator, Message: err.Error(), Context: "indicator"},
		})
		i.known = false
		return
	}
	i.level = high
	i.known = true
}

// Level returns the last level written successfully.
func (i *Indicator) Level() (high bool, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.level, i.known
}

func (i *Indicator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-i.clock.After(d):
		return true
	}
}

func (i *Indicator) record(mode string, on bool) {
	from, to := "OFF", "ON"
	if !on {
		from, to = to, from
	}
	i.capture.Log(log.Event{
		Timestamp: i.clock.Now(),
		Layer:     log.LayerActuator,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityIndicator,
			OldState: from,
			NewState: to,
			Reason:   mode,
		},
	})
}
