// Package hw binds the panel to real hardware through periph.io: the
// PCF8574 expander on I2C and plain GPIO outputs.
package hw

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/intercom-panel/panel-go/pkg/expander"
)

// DefaultPCF8574Addr is the 7-bit address with A0..A2 tied low.
const DefaultPCF8574Addr = 0x20

// FlashFrequency is the PWM carrier for the camera flashlight.
const FlashFrequency = 40 * physic.KiloHertz

// ErrPinNotFound is returned by OpenPin for an unknown pin name.
var ErrPinNotFound = errors.New("hw: pin not found")

// Init loads the host drivers. Safe to call more than once.
func Init() error {
	_, err := host.Init()
	return err
}

// PCF8574 is an 8-bit quasi-bidirectional expander. It implements
// expander.Port.
type PCF8574 struct {
	bus i2c.Bus
	dev *i2c.Dev
}

// NewPCF8574 uses an already open bus.
func NewPCF8574(bus i2c.Bus, addr uint16) *PCF8574 {
	return &PCF8574{bus: bus, dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// OpenPCF8574 opens the expander at addr on the named bus ("" for the
// first bus available).
func OpenPCF8574(bus string, addr uint16) (*PCF8574, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("hw: init: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("hw: open i2c bus %q: %w", bus, err)
	}
	return NewPCF8574(b, addr), nil
}

// ReadByte reads the pin levels.
func (p *PCF8574) ReadByte() (byte, error) {
	var r [1]byte
	if err := p.dev.Tx(nil, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// WriteByte sets the output latch.
func (p *PCF8574) WriteByte(b byte) error {
	return p.dev.Tx([]byte{b}, nil)
}

// Close releases the bus if it was opened by OpenPCF8574.
func (p *PCF8574) Close() error {
	if c, ok := p.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Pin is a GPIO output. It implements indicator.Pin.
type Pin struct {
	pin gpio.PinOut
}

// OpenPin looks up a GPIO by name ("GPIO33", "P1_16", ...).
func OpenPin(name string) (*Pin, error) {
	if err := Init(); err != nil {
		return nil, fmt.Errorf("hw: init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return NewPin(p), nil
}

// NewPin wraps an output pin.
func NewPin(p gpio.PinOut) *Pin {
	return &Pin{pin: p}
}

// Out drives the pin.
func (p *Pin) Out(high bool) error {
	return p.pin.Out(level(high))
}

// SetDuty drives the pin as PWM at FlashFrequency with the given duty
// fraction, clamped to [0, 1]. It implements indicator.Dimmer.
func (p *Pin) SetDuty(fraction float64) error {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	return p.pin.PWM(gpio.Duty(fraction*float64(gpio.DutyMax)), FlashFrequency)
}

func level(high bool) gpio.Level {
	if high {
		return gpio.High
	}
	return gpio.Low
}

var _ expander.Port = (*PCF8574)(nil)
