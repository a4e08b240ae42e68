package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/intercom-panel/panel-go/pkg/log"
)

const (
	// LengthPrefixSize is the width of the big-endian frame length.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize bounds a single frame (4 MiB, enough for a
	// full-resolution JPEG).
	DefaultMaxMessageSize = 4 << 20

	// MaxLogFrameDataSize is the maximum payload prefix copied into capture events.
	MaxLogFrameDataSize = 1024
)

var (
	// ErrMessageTooLarge is returned for payloads above the frame limit.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty is returned for zero-length payloads.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated is returned when the stream ends inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")
)

// WriteFull writes all of data, retrying on short writes until done or an
// error occurs. It returns the number of bytes written.
func WriteFull(w io.Writer, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// FrameWriter sends photo frames: a 4-byte length, then the payload.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	logger    log.Logger
	sessionID string
}

// NewFrameWriter returns a FrameWriter with DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize returns a FrameWriter limited to maxSize bytes.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures capture for this writer. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, sessionID string) {
	fw.logger = logger
	fw.sessionID = sessionID
}

// WriteFrame writes a 4-byte big-endian length followed by data.
// Concurrent calls are serialized.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint64(len(data)) > uint64(fw.maxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := WriteFull(fw.w, lengthBuf[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if n, err := WriteFull(fw.w, data); err != nil {
		return fmt.Errorf("failed to write payload after %d of %d bytes: %w", n, len(data), err)
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.sessionID, data, log.DirectionOut))
	}
	return nil
}

// FrameReader is the receiving side of FrameWriter.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte

	logger    log.Logger
	sessionID string
}

// NewFrameReader returns a FrameReader with DefaultMaxMessageSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize returns a FrameReader limited to maxSize bytes.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures capture for this reader. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger log.Logger, sessionID string) {
	fr.logger = logger
	fr.sessionID = sessionID
}

// ReadFrame reads a length-prefixed frame and returns its payload.
// A clean EOF before the prefix returns io.EOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(fr.sessionID, payload, log.DirectionIn))
	}
	return payload, nil
}

func makeFrameEvent(sessionID string, data []byte, direction log.Direction) log.Event {
	frameData := data
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		frameData = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: direction,
		Layer:     log.LayerSession,
		Category:  log.CategoryFrame,
		Frame: &log.FrameEvent{
			Size:      FrameSize(len(data)),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}
