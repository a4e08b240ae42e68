package keypad

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Poller returns at most one key per call.
type Poller interface {
	Poll(ctx context.Context) Key
}

// KeyHandler consumes keys. *Accumulator implements it.
type KeyHandler interface {
	HandleKey(k Key)
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// ScanInterval is the wait after a poll found nothing.
	ScanInterval time.Duration

	// Debounce is the wait after a key, and between polls while locked.
	Debounce time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Loop polls continuously and feeds keys to a handler.
type Loop struct {
	poller   Poller
	lock     *ScanLock
	handler  KeyHandler
	interval time.Duration
	debounce time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewLoop wires poller to handler, gated by lock.
func NewLoop(poller Poller, lock *ScanLock, handler KeyHandler, cfg LoopConfig) *Loop {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if lock == nil {
		lock = &ScanLock{}
	}
	return &Loop{
		poller:   poller,
		lock:     lock,
		handler:  handler,
		interval: cfg.ScanInterval,
		debounce: cfg.Debounce,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Run scans until ctx is cancelled and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("keypad scan loop started", "interval", l.interval, "debounce", l.debounce)
	defer l.logger.Info("keypad scan loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		key := l.poller.Poll(ctx)

		var wait time.Duration
		switch {
		case l.lock.Engaged() && key != KeyCancel:
			wait = l.debounce
		case key == KeyNone:
			wait = l.interval
		default:
			l.logger.Info("key pressed", "key", key.String())
			l.handler.HandleKey(key)
			wait = l.debounce
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}
