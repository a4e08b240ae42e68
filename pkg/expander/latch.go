// Package expander models the 8-bit quasi-bidirectional I/O expander that
// carries the keypad matrix and the door relay.
//
// The port has no direction register: writing 1 releases a pin (weak
// pull-up, usable as input), writing 0 drives it low. Every writer must
// therefore know the full output byte, which is what Latch tracks.
package expander

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPortClosed is returned by ports that have been closed.
var ErrPortClosed = errors.New("expander port closed")

// Port is a single 8-bit expander register.
type Port interface {
	ReadByte() (byte, error)
	WriteByte(b byte) error
}

// Latch serializes access to a shared Port and keeps a shadow copy of the
// output byte so that independent owners (keypad scanner, door relay) only
// change the bits they own.
type Latch struct {
	mu     sync.Mutex
	port   Port
	shadow byte
}

// NewLatch wraps port. The shadow starts at 0xFF (all pins released),
// matching the expander's power-on state.
func NewLatch(port Port) *Latch {
	return &Latch{port: port, shadow: 0xFF}
}

// Update replaces the bits selected by mask with the corresponding bits of
// value and writes the result. The shadow only changes on a successful write.
func (l *Latch) Update(mask, value byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.update(mask, value)
}

func (l *Latch) update(mask, value byte) error {
	next := l.shadow&^mask | value&mask
	if err := l.port.WriteByte(next); err != nil {
		return fmt.Errorf("write 0x%02x: %w", next, err)
	}
	l.shadow = next
	return nil
}

// Exchange performs Update followed by a read without letting another
// owner write in between. The keypad scanner uses it to drive a column and
// sample the rows.
func (l *Latch) Exchange(mask, value byte) (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.update(mask, value); err != nil {
		return 0, err
	}
	b, err := l.port.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	return b, nil
}

// Read samples the port.
func (l *Latch) Read() (byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.port.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	return b, nil
}

// Output returns the last successfully written byte.
func (l *Latch) Output() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shadow
}
