// Package camera provides door camera frames for photo uploads.
//
// A Source hands out at most one frame at a time; the caller must Release
// it before the next Capture, whatever happens in between.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Camera errors.
var (
	// ErrBusy is returned when the previous frame has not been released.
	ErrBusy = errors.New("camera: frame buffer in use")

	// ErrEmptyFrame is returned when a capture produced no data.
	ErrEmptyFrame = errors.New("camera: empty frame")
)

// Frame is one captured image (JPEG).
type Frame struct {
	Data     []byte
	Captured time.Time

	buf *bytes.Buffer
}

// Source captures frames.
type Source interface {
	Capture() (*Frame, error)
	Release(f *Frame)
}

// slot tracks the single outstanding frame and recycles its buffer.
type slot struct {
	mu    sync.Mutex
	inUse bool
	pool  sync.Pool
}

func (s *slot) acquire() (*bytes.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse {
		return nil, ErrBusy
	}
	s.inUse = true
	if b, ok := s.pool.Get().(*bytes.Buffer); ok {
		b.Reset()
		return b, nil
	}
	return new(bytes.Buffer), nil
}

func (s *slot) release(f *Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.buf != nil {
		s.pool.Put(f.buf)
		f.buf = nil
	}
	f.Data = nil
	s.inUse = false
}

// Outstanding reports whether a frame is checked out.
func (s *slot) Outstanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// FileSource reads the latest snapshot an external grabber writes to Path.
type FileSource struct {
	Path string
	slot
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Capture reads the snapshot file.
func (c *FileSource) Capture() (*Frame, error) {
	buf, err := c.acquire()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		c.release(&Frame{buf: buf})
		return nil, fmt.Errorf("camera: %w", err)
	}
	defer f.Close()

	if _, err := buf.ReadFrom(f); err != nil {
		c.release(&Frame{buf: buf})
		return nil, fmt.Errorf("camera: read %s: %w", c.Path, err)
	}
	return finish(&c.slot, buf)
}

// Release returns the frame buffer.
func (c *FileSource) Release(f *Frame) { c.release(f) }

// CommandSource runs a still-capture command (for example
// "rpicam-still -n -o -") and takes its stdout as the frame.
type CommandSource struct {
	Name    string
	Args    []string
	Timeout time.Duration
	slot
}

// NewCommandSource creates a CommandSource.
func NewCommandSource(timeout time.Duration, name string, args ...string) *CommandSource {
	return &CommandSource{Name: name, Args: args, Timeout: timeout}
}

// Capture runs the command.
func (c *CommandSource) Capture() (*Frame, error) {
	buf, err := c.acquire()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = buf
	if err := cmd.Run(); err != nil {
		c.release(&Frame{buf: buf})
		return nil, fmt.Errorf("camera: %s: %w", c.Name, err)
	}
	return finish(&c.slot, buf)
}

// Release returns the frame buffer.
func (c *CommandSource) Release(f *Frame) { c.release(f) }

// StaticSource serves a fixed image. Used by simulation mode and tests.
type StaticSource struct {
	data []byte
	slot
}

// NewStaticSource serves a copy of data.
func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: append([]byte(nil), data...)}
}

// Capture copies the image into a fresh frame.
func (c *StaticSource) Capture() (*Frame, error) {
	buf, err := c.acquire()
	if err != nil {
		return nil, err
	}
	buf.Write(c.data)
	return finish(&c.slot, buf)
}

// Release returns the frame buffer.
func (c *StaticSource) Release(f *Frame) { c.release(f) }

func finish(s *slot, buf *bytes.Buffer) (*Frame, error) {
	if buf.Len() == 0 {
		s.release(&Frame{buf: buf})
		return nil, ErrEmptyFrame
	}
	return &Frame{Data: buf.Bytes(), Captured: time.Now(), buf: buf}, nil
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*CommandSource)(nil)
	_ Source = (*StaticSource)(nil)
)
