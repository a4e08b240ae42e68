package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestCaptureFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.plog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test capture: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, event)
	}
}

func TestReaderIteratesInOrder(t *testing.T) {
	base := time.Now()
	path := createTestCaptureFile(t, []Event{
		{Timestamp: base, Layer: LayerKeypad, Category: CategoryKey, Key: &KeyEvent{Key: "1"}},
		{Timestamp: base.Add(time.Millisecond), Layer: LayerKeypad, Category: CategoryKey, Key: &KeyEvent{Key: "2"}},
		{Timestamp: base.Add(2 * time.Millisecond), Layer: LayerKeypad, Category: CategoryKey, Key: &KeyEvent{Key: "*"}},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Key.Key != "1" || events[2].Key.Key != "*" {
		t.Errorf("order = %q..%q", events[0].Key.Key, events[2].Key.Key)
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestCaptureFile(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.plog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, SessionID: "s1", Direction: DirectionOut, Layer: LayerSession, Category: CategoryMessage},
		{Timestamp: base.Add(time.Second), SessionID: "s1", Direction: DirectionIn, Layer: LayerSession, Category: CategoryMessage},
		{Timestamp: base.Add(2 * time.Second), SessionID: "s2", Direction: DirectionOut, Layer: LayerSession, Category: CategoryFrame},
		{Timestamp: base.Add(3 * time.Second), Direction: DirectionIn, Layer: LayerKeypad, Category: CategoryKey},
	}
	path := createTestCaptureFile(t, events)

	in := DirectionIn
	session := LayerSession
	frame := CategoryFrame
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"no filter", Filter{}, 4},
		{"by session", Filter{SessionID: "s1"}, 2},
		{"by direction", Filter{Direction: &in}, 2},
		{"by layer", Filter{Layer: &session}, 3},
		{"by category", Filter{Category: &frame}, 1},
		{"by time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{SessionID: "s1", Direction: &in}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}
