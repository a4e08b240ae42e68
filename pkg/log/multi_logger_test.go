package log

import (
	"testing"
	"time"
)

func TestMultiLoggerCallsAll(t *testing.T) {
	a := NewMemoryLogger(0)
	b := NewMemoryLogger(0)

	multi := NewMultiLogger(a, nil, b)
	multi.Log(Event{Timestamp: time.Now(), SessionID: "s-123"})

	for i, m := range []*MemoryLogger{a, b} {
		events := m.Events()
		if len(events) != 1 {
			t.Errorf("logger %d: got %d events, want 1", i, len(events))
			continue
		}
		if events[0].SessionID != "s-123" {
			t.Errorf("logger %d: SessionID = %q", i, events[0].SessionID)
		}
	}
}

func TestMultiLoggerEmptyList(t *testing.T) {
	NewMultiLogger().Log(Event{Timestamp: time.Now()})
}

func TestMemoryLoggerEvictsOldest(t *testing.T) {
	m := NewMemoryLogger(2)
	for _, k := range []string{"1", "2", "3"} {
		m.Log(Event{Key: &KeyEvent{Key: k}})
	}

	events := m.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Key.Key != "2" || events[1].Key.Key != "3" {
		t.Errorf("retained %q,%q; want 2,3", events[0].Key.Key, events[1].Key.Key)
	}
}

func TestMemoryLoggerFilter(t *testing.T) {
	m := NewMemoryLogger(0)
	m.Log(Event{Layer: LayerKeypad, Category: CategoryKey})
	m.Log(Event{Layer: LayerSession, Category: CategoryMessage})
	m.Log(Event{Layer: LayerSession, Category: CategoryFrame})

	session := LayerSession
	if got := len(m.Filter(Filter{Layer: &session})); got != 2 {
		t.Errorf("Filter(session) = %d events, want 2", got)
	}
}
