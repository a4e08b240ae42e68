package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intercom-panel/panel-go/pkg/log"
)

func prefixed(length uint32, payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, length)
	return append(out, payload...)
}

func TestFrameRoundTrip(t *testing.T) {
	for name, payload := range map[string][]byte{
		"single byte": {0x42},
		"jpeg header": {0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
		"photo sized": bytes.Repeat([]byte{0xA5}, 512*1024),
	} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFrameWriter(&buf).WriteFrame(payload))
			assert.Equal(t, FrameSize(len(payload)), buf.Len())
			assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(buf.Bytes()[:LengthPrefixSize]))

			got, err := NewFrameReader(&buf).ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestFramesBackToBack(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	for _, p := range []string{"first", "second", "third"} {
		require.NoError(t, fw.WriteFrame([]byte(p)))
	}

	fr := NewFrameReader(&buf)
	for _, want := range []string{"first", "second", "third"} {
		got, err := fr.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := fr.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestFrameWriterRejects(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewFrameWriter(&buf).WriteFrame(nil), ErrMessageEmpty)
	assert.ErrorIs(t, NewFrameWriterWithMaxSize(&buf, 8).WriteFrame(make([]byte, 9)), ErrMessageTooLarge)
	assert.Zero(t, buf.Len(), "nothing written for rejected frames")
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		max   uint32
		want  error
	}{
		{"zero length", prefixed(0, nil), DefaultMaxMessageSize, ErrMessageEmpty},
		{"over limit", prefixed(100, nil), 64, ErrMessageTooLarge},
		{"short prefix", []byte{0x00, 0x00}, DefaultMaxMessageSize, ErrFrameTruncated},
		{"short payload", prefixed(10, []byte("abc")), DefaultMaxMessageSize, ErrFrameTruncated},
		{"prefix only", prefixed(10, nil), DefaultMaxMessageSize, ErrFrameTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReaderWithMaxSize(bytes.NewReader(tt.input), tt.max).ReadFrame()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrameReaderCleanEOF(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader(nil)).ReadFrame()
	assert.Equal(t, io.EOF, err)
}

// chunkWriter accepts at most n bytes per Write and fails once failAfter
// bytes were accepted (0 = never).
type chunkWriter struct {
	buf       bytes.Buffer
	n         int
	failAfter int
	err       error
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if w.failAfter > 0 && w.buf.Len() >= w.failAfter {
		return 0, w.err
	}
	if len(p) > w.n {
		p = p[:w.n]
	}
	return w.buf.Write(p)
}

func TestWriteFull(t *testing.T) {
	w := &chunkWriter{n: 3}
	n, err := WriteFull(w, []byte("accept_ok"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "accept_ok", w.buf.String())

	n, err = WriteFull(&chunkWriter{n: 0}, []byte("x"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Zero(t, n)
}

func TestFrameWriterLoopsOnShortWrites(t *testing.T) {
	w := &chunkWriter{n: 7}
	payload := bytes.Repeat([]byte{0xAB}, 1000)
	require.NoError(t, NewFrameWriter(w).WriteFrame(payload))

	got, err := NewFrameReader(&w.buf).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameWriterStopsOnWriteError(t *testing.T) {
	reset := errors.New("connection reset")
	w := &chunkWriter{n: 16, failAfter: 32, err: reset}

	err := NewFrameWriter(w).WriteFrame(bytes.Repeat([]byte("z"), 100))
	assert.ErrorIs(t, err, reset)
	// Prefix plus two chunks, then the failure.
	assert.Equal(t, 36, w.buf.Len())
}

func TestFramesAreCaptured(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	var buf bytes.Buffer

	fw := NewFrameWriter(&buf)
	fw.SetLogger(capture, "sess-1")
	require.NoError(t, fw.WriteFrame([]byte("jpeg")))

	fr := NewFrameReader(&buf)
	fr.SetLogger(capture, "srv-1")
	_, err := fr.ReadFrame()
	require.NoError(t, err)

	events := capture.Events()
	require.Len(t, events, 2)
	for i, want := range []struct {
		sid string
		dir log.Direction
	}{{"sess-1", log.DirectionOut}, {"srv-1", log.DirectionIn}} {
		e := events[i]
		assert.Equal(t, want.sid, e.SessionID)
		assert.Equal(t, want.dir, e.Direction)
		assert.Equal(t, log.LayerSession, e.Layer)
		assert.Equal(t, log.CategoryFrame, e.Category)
		require.NotNil(t, e.Frame)
		assert.Equal(t, 8, e.Frame.Size)
		assert.Equal(t, []byte("jpeg"), e.Frame.Data)
		assert.False(t, e.Frame.Truncated)
	}
}

func TestCapturedFrameDataIsTruncated(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	fw := NewFrameWriter(io.Discard)
	fw.SetLogger(capture, "s")
	require.NoError(t, fw.WriteFrame(bytes.Repeat([]byte("p"), MaxLogFrameDataSize+10)))

	e := capture.Events()[0]
	assert.True(t, e.Frame.Truncated)
	assert.Len(t, e.Frame.Data, MaxLogFrameDataSize)
	assert.Equal(t, FrameSize(MaxLogFrameDataSize+10), e.Frame.Size)
}

func TestNoCaptureWithoutLogger(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	fw.SetLogger(nil, "")
	assert.NotPanics(t, func() { _ = fw.WriteFrame([]byte("x")) })
}
