// Package door pulses the door strike relay wired to the expander.
package door

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/keypad"
	"github.com/intercom-panel/panel-go/pkg/log"
)

const (
	// DefaultRelayMask selects the relay bit. The relay is active low.
	DefaultRelayMask byte = 0x01

	// DefaultHold is how long the strike stays energized.
	DefaultHold = 3 * time.Second
)

// ErrBusy is returned by Open while a pulse is already running.
var ErrBusy = errors.New("door: pulse in progress")

// Config configures an Actuator.
type Config struct {
	RelayMask byte
	Hold      time.Duration
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Capture   log.Logger
}

// Actuator drives the relay. The keypad is locked for the whole pulse since
// the relay shares the expander with the keypad matrix.
type Actuator struct {
	latch   *expander.Latch
	lock    *keypad.ScanLock
	mask    byte
	hold    time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	capture log.Logger

	pulse sync.Mutex
}

// New creates an Actuator on latch, gating keys through lock.
func New(latch *expander.Latch, lock *keypad.ScanLock, cfg Config) *Actuator {
	if cfg.RelayMask == 0 {
		cfg.RelayMask = DefaultRelayMask
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Actuator{
		latch:   latch,
		lock:    lock,
		mask:    cfg.RelayMask,
		hold:    cfg.Hold,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		capture: log.OrNoop(cfg.Capture),
	}
}

// Open energizes the relay for the hold time and blocks until it is
// released again. The scan lock is held throughout and released on every
// return path. Cancelling ctx cuts the hold short.
func (a *Actuator) Open(ctx context.Context) error {
	if !a.pulse.TryLock() {
		return ErrBusy
	}
	defer a.pulse.Unlock()

	a.lock.Engage()
	defer a.lock.Release()

	if err := a.latch.Update(a.mask, 0); err != nil {
		a.fail(err, "energize")
		return fmt.Errorf("door: energize: %w", err)
	}
	a.logger.Info("door open", "hold", a.hold)
	a.record("CLOSED", "OPEN")

	select {
	case <-ctx.Done():
	case <-a.clock.After(a.hold):
	}

	if err := a.latch.Update(a.mask, a.mask); err != nil {
		a.fail(err, "release")
		return fmt.Errorf("door: release: %w", err)
	}
	a.logger.Info("door closed")
	a.record("OPEN", "CLOSED")
	return ctx.Err()
}

func (a *Actuator) fail(err error, op string) {
	a.logger.Error("door relay write failed", "op", op, "error", err)
	a.capture.Log(log.Event{
		Timestamp: a.clock.Now(),
		Layer:     log.LayerActuator,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerActuator, Message: err.Error(), Context: "door " + op},
	})
}

func (a *Actuator) record(from, to string) {
	a.capture.Log(log.Event{
		Timestamp: a.clock.Now(),
		Layer:     log.LayerActuator,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDoor,
			OldState: from,
			NewState: to,
		},
	})
}
