package keypad

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/log"
)

// Expander wiring.
const (
	// rowBits are the row inputs (bits 4..7), held released while scanning.
	rowBits byte = 0xF0
	// columnBits are the column drivers (bits 1..3).
	columnBits byte = 0x0E
	// scanMask is every bit the scanner owns. Bit 0 belongs to the door relay.
	scanMask = rowBits | columnBits
)

// Scanner defaults.
const (
	DefaultSettleDelay  = 10 * time.Millisecond
	DefaultReleasePoll  = 10 * time.Millisecond
	DefaultScanInterval = 100 * time.Millisecond
	DefaultDebounce     = 200 * time.Millisecond
)

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Layout maps matrix positions to keys. Zero value means DefaultLayout.
	Layout expander.Layout

	// SettleDelay is the wait before re-checking a candidate press.
	SettleDelay time.Duration

	// ReleasePoll is the interval between release checks.
	ReleasePoll time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Capture log.Logger
}

// Scanner decodes one key per Poll from the expander.
type Scanner struct {
	latch   *expander.Latch
	lock    *ScanLock
	layout  expander.Layout
	settle  time.Duration
	release time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	capture log.Logger
}

// NewScanner creates a scanner reading through latch and gated by lock.
func NewScanner(latch *expander.Latch, lock *ScanLock, cfg ScannerConfig) *Scanner {
	if cfg.Layout == (expander.Layout{}) {
		cfg.Layout = DefaultLayout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ReleasePoll <= 0 {
		cfg.ReleasePoll = DefaultReleasePoll
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
	return &Scanner{
		latch:   latch,
		lock:    lock,
		layout:  cfg.Layout,
		settle:  cfg.SettleDelay,
		release: cfg.ReleasePoll,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		capture: log.OrNoop(cfg.Capture),
	}
}

// Poll scans the three columns once and returns the first confirmed key
// after it has been released, or KeyNone. While the scan lock is engaged
// only '#' is returned. Expander errors abort the scan and yield KeyNone.
func (s *Scanner) Poll(ctx context.Context) Key {
	key, err := s.scan(ctx)
	if err != nil {
		s.logger.Warn("keypad scan failed", "error", err)
		s.capture.Log(log.Event{
			Timestamp: time.Now(),
			Layer:     log.LayerKeypad,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerKeypad, Message: err.Error(), Context: "scan"},
		})
		return KeyNone
	}
	if key == KeyNone {
		return KeyNone
	}
	if s.lock.Engaged() && key != KeyCancel {
		s.logger.Debug("key suppressed by scan lock", "key", key.String())
		s.capture.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerKeypad,
			Category:  log.CategoryKey,
			Key:       &log.KeyEvent{Action: log.KeyActionSuppressed, Key: key.String()},
		})
		return KeyNone
	}
	return key
}

func (s *Scanner) scan(ctx context.Context) (Key, error) {
	for col := 1; col <= 3; col++ {
		colVal := ^byte(1<<col) & columnBits

		data, err := s.latch.Exchange(scanMask, rowBits|colVal)
		if err != nil {
			return KeyNone, err
		}

		for row := 0; row < 4; row++ {
			bit := byte(1) << (row + 4)
			if data&bit != 0 {
				continue
			}

			if !s.sleep(ctx, s.settle) {
				return KeyNone, nil
			}
			data, err = s.latch.Read()
			if err != nil {
				return KeyNone, err
			}
			if data&bit != 0 {
				// Bounce: keep checking the remaining rows against the fresh sample.
				continue
			}

			if err := s.waitRelease(ctx, bit); err != nil {
				return KeyNone, err
			}
			if ctx.Err() != nil {
				return KeyNone, nil
			}
			return Key(s.layout[3-row][3-col]), nil
		}
	}
	return KeyNone, nil
}

func (s *Scanner) waitRelease(ctx context.Context, bit byte) error {
	for {
		data, err := s.latch.Read()
		if err != nil {
			return err
		}
		if data&bit != 0 {
			return nil
		}
		if !s.sleep(ctx, s.release) {
			return nil
		}
	}
}

func (s *Scanner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}
