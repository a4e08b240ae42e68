package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/intercom-panel/panel-go/internal/config"
	"github.com/intercom-panel/panel-go/pkg/camera"
	"github.com/intercom-panel/panel-go/pkg/expander"
	"github.com/intercom-panel/panel-go/pkg/hw"
	"github.com/intercom-panel/panel-go/pkg/indicator"
)

// rig is the panel hardware, real or simulated.
type rig struct {
	Port   expander.Port
	LED    indicator.Pin
	Status indicator.Pin

	// Flash is nil when no flash pin is configured.
	Flash indicator.Dimmer

	// Matrix is set in simulation mode.
	Matrix *expander.Matrix

	closers []io.Closer
}

func (r *rig) Close() {
	for _, c := range r.closers {
		_ = c.Close()
	}
}

func openRig(cfg *config.Config, simulate bool, logger *slog.Logger) (*rig, error) {
	if simulate {
		layout, err := cfg.KeypadLayout()
		if err != nil {
			return nil, err
		}
		m := expander.NewMatrix(layout)
		return &rig{
			Port:   m,
			Matrix: m,
			LED:    &simPin{name: "led", logger: logger},
			Status: &simPin{name: "status", logger: logger},
			Flash:  &simPin{name: "flash", logger: logger},
		}, nil
	}

	if err := hw.Init(); err != nil {
		return nil, err
	}
	exp, err := hw.OpenPCF8574(cfg.Hardware.I2CBus, cfg.Hardware.ExpanderAddr)
	if err != nil {
		return nil, err
	}
	r := &rig{Port: exp, closers: []io.Closer{exp}}
	if r.LED, err = hw.OpenPin(cfg.Hardware.LEDPin); err != nil {
		r.Close()
		return nil, err
	}
	if r.Status, err = hw.OpenPin(cfg.Hardware.StatusPin); err != nil {
		r.Close()
		return nil, err
	}
	if cfg.Hardware.FlashPin != "" {
		flash, err := hw.OpenPin(cfg.Hardware.FlashPin)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Flash = flash
	}
	return r, nil
}

// simPin logs level changes instead of driving a GPIO.
type simPin struct {
	name   string
	logger *slog.Logger
	level  atomic.Int32 // 0 unknown, 1 low, 2 high
	duty   atomic.Uint64
}

func (p *simPin) Out(high bool) error {
	v := int32(1)
	if high {
		v = 2
	}
	if p.level.Swap(v) != v {
		p.logger.Debug("pin changed", "pin", p.name, "high", high)
	}
	return nil
}

func (p *simPin) SetDuty(fraction float64) error {
	bits := math.Float64bits(fraction)
	if p.duty.Swap(bits) != bits {
		p.logger.Debug("pin duty changed", "pin", p.name, "duty", fraction)
	}
	return nil
}

func newCamera(cfg *config.Config) (camera.Source, error) {
	switch cfg.Camera.Source {
	case "file":
		return camera.NewFileSource(cfg.Camera.Path), nil
	case "static":
		if cfg.Camera.Path != "" {
			data, err := os.ReadFile(cfg.Camera.Path)
			if err != nil {
				return nil, err
			}
			return camera.NewStaticSource(data), nil
		}
		data, err := testPattern()
		if err != nil {
			return nil, err
		}
		return camera.NewStaticSource(data), nil
	case "command":
		return camera.NewCommandSource(cfg.Camera.Timeout, cfg.Camera.Command[0], cfg.Camera.Command[1:]...), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Camera.Source)
	}
}

// testPattern renders a small gradient JPEG for simulation.
func testPattern() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) * 255 / 280)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// switchWriter lets the log output move to the console once it exists.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}
