package keypad

import (
	"sync/atomic"
	"time"

	"github.com/intercom-panel/panel-go/pkg/log"
)

// ScanLock gates the keypad. While engaged, every key except '#' is
// suppressed. The zero value is an unlocked gate.
type ScanLock struct {
	engaged atomic.Bool
	capture log.Logger
}

// NewScanLock returns an unlocked gate that records transitions to capture.
func NewScanLock(capture log.Logger) *ScanLock {
	return &ScanLock{capture: capture}
}

// Engage suppresses ordinary keys.
func (l *ScanLock) Engage() {
	if l.engaged.CompareAndSwap(false, true) {
		l.record("RELEASED", "ENGAGED")
	}
}

// Release re-enables all keys.
func (l *ScanLock) Release() {
	if l.engaged.CompareAndSwap(true, false) {
		l.record("ENGAGED", "RELEASED")
	}
}

// Engaged reports whether ordinary keys are suppressed.
func (l *ScanLock) Engaged() bool {
	return l.engaged.Load()
}

func (l *ScanLock) record(from, to string) {
	if l.capture == nil {
		return
	}
	l.capture.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerKeypad,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityScanLock,
			OldState: from,
			NewState: to,
		},
	})
}
