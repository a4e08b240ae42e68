package indicator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intercom-panel/panel-go/pkg/log"
)

// DefaultFlashLevel keeps the camera light at a dim fill (10/255).
const DefaultFlashLevel = 10.0 / 255

// Dimmer is a PWM output. Fraction is the duty cycle in [0, 1].
type Dimmer interface {
	SetDuty(fraction float64) error
}

// Flash is the camera flashlight next to the lens. It stays at a low level
// so the visitor is lit for photos.
type Flash struct {
	out     Dimmer
	level   float64
	logger  *slog.Logger
	capture log.Logger

	mu sync.Mutex
	on bool
}

// NewFlash creates a Flash that lights at level when turned on. A level
// outside (0, 1] falls back to DefaultFlashLevel.
func NewFlash(out Dimmer, level float64, logger *slog.Logger, capture log.Logger) *Flash {
	if level <= 0 || level > 1 {
		level = DefaultFlashLevel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flash{out: out, level: level, logger: logger, capture: log.OrNoop(capture)}
}

// On lights the flash at its configured level.
func (f *Flash) On() error { return f.set(true) }

// Off turns the flash off.
func (f *Flash) Off() error { return f.set(false) }

// Lit reports whether the flash is on.
func (f *Flash) Lit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *Flash) set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	duty := 0.0
	if on {
		duty = f.level
	}
	if err := f.out.SetDuty(duty); err != nil {
		f.logger.Error("flash write failed", "duty", duty, "error", err)
		f.capture.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerActuator,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerActuator, Message: err.Error(), Context: "flash"},
		})
		return fmt.Errorf("flash: %w", err)
	}
	if f.on != on {
		f.on = on
		f.logger.Info("flash", "on", on, "duty", duty)
	}
	return nil
}
