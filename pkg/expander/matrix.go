package expander

import (
	"fmt"
	"sync"
)

// DefaultTapReads is how many matching port reads a tapped key stays down
// for: detection, settle re-check, and one release poll.
const DefaultTapReads = 3

// Layout maps keypad positions to key characters, indexed [row][column]
// with row 0 at the top and column 0 on the left.
type Layout [4][3]byte

// Matrix simulates a 4x3 key matrix wired to an expander: columns on bits
// 1..3 (column 1 is the rightmost), rows on bits 4..7 (row 0 is the bottom).
// It implements Port and is used by simulation mode and tests.
type Matrix struct {
	mu      sync.Mutex
	layout  Layout
	out     byte
	pressed map[byte]int // key -> remaining visible reads, -1 = held
	readErr error
	wrErr   error
	writes  int
	reads   int
}

// NewMatrix creates an idle matrix using layout.
func NewMatrix(layout Layout) *Matrix {
	return &Matrix{
		layout:  layout,
		out:     0xFF,
		pressed: make(map[byte]int),
	}
}

// position returns the wiring (row, col) of key, using the scanner's
// mirrored decode keymap[3-row][3-col].
func (m *Matrix) position(key byte) (row, col int, ok bool) {
	for i := range m.layout {
		for j := range m.layout[i] {
			if m.layout[i][j] == key {
				return 3 - i, 3 - j, true
			}
		}
	}
	return 0, 0, false
}

// Press holds key down until Release.
func (m *Matrix) Press(key byte) error {
	return m.hold(key, -1)
}

// Tap presses key for DefaultTapReads reads of its row.
func (m *Matrix) Tap(key byte) error {
	return m.hold(key, DefaultTapReads)
}

// TapFor presses key for n reads of its row.
func (m *Matrix) TapFor(key byte, n int) error {
	if n <= 0 {
		return fmt.Errorf("tap %q: reads must be positive", key)
	}
	return m.hold(key, n)
}

func (m *Matrix) hold(key byte, reads int) error {
	if _, _, ok := m.position(key); !ok {
		return fmt.Errorf("key %q not on keypad", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pressed[key] = reads
	return nil
}

// Release lifts key.
func (m *Matrix) Release(key byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pressed, key)
}

// Idle reports whether no key is down.
func (m *Matrix) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pressed) == 0
}

// FailReads makes subsequent reads return err (nil to clear).
func (m *Matrix) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes subsequent writes return err (nil to clear).
func (m *Matrix) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrErr = err
}

// WriteByte drives the output pins.
func (m *Matrix) WriteByte(b byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wrErr != nil {
		return m.wrErr
	}
	m.out = b
	m.writes++
	return nil
}

// ReadByte returns the pin levels: written levels, with a row pulled low
// wherever a pressed key connects it to a low column.
func (m *Matrix) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return 0, m.readErr
	}
	m.reads++

	levels := m.out
	for key, remaining := range m.pressed {
		row, col, _ := m.position(key)
		if m.out&(1<<col) != 0 {
			continue
		}
		levels &^= 1 << (row + 4)
		if remaining > 0 {
			remaining--
			if remaining == 0 {
				delete(m.pressed, key)
			} else {
				m.pressed[key] = remaining
			}
		}
	}
	return levels, nil
}

// Output returns the last written byte.
func (m *Matrix) Output() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// Counts returns the number of successful reads and writes.
func (m *Matrix) Counts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

var _ Port = (*Matrix)(nil)
