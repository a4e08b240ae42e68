package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intercom-panel/panel-go/internal/callserver"
)

type fakeOperator struct {
	answers []string
	hangups int
	inCall  bool
}

func (f *fakeOperator) Answer(a string) error {
	if !f.inCall {
		return callserver.ErrNoCall
	}
	f.answers = append(f.answers, a)
	return nil
}

func (f *fakeOperator) Hangup() error {
	f.hangups++
	return nil
}

func (f *fakeOperator) InCall() bool { return f.inCall }

func TestExecuteAnswers(t *testing.T) {
	op := &fakeOperator{inCall: true}
	var out bytes.Buffer

	for _, line := range []string{"accept", "p", "R", "not_found", "n"} {
		assert.False(t, execute(op, &out, line))
	}
	assert.Equal(t, []string{"accept", "photo", "reject", "not_found", "not_found"}, op.answers)
	assert.Empty(t, out.String())
}

func TestExecuteWithoutCall(t *testing.T) {
	op := &fakeOperator{}
	var out bytes.Buffer

	execute(op, &out, "accept")
	assert.Contains(t, out.String(), "no call in progress")

	out.Reset()
	execute(op, &out, "status")
	assert.Contains(t, out.String(), "Waiting for a panel")
}

func TestExecuteMisc(t *testing.T) {
	op := &fakeOperator{inCall: true}
	var out bytes.Buffer

	assert.False(t, execute(op, &out, ""))
	assert.False(t, execute(op, &out, "hangup"))
	assert.Equal(t, 1, op.hangups)
	assert.False(t, execute(op, &out, "dance"))
	assert.Contains(t, out.String(), "Unknown command: dance")
	assert.True(t, execute(op, &out, "quit"))
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, callserver.Event{Kind: callserver.EventNumber, CallID: "0123456789abcdef", Text: "42"})
	printEvent(&out, callserver.Event{Kind: callserver.EventPhoto, CallID: "0123456789abcdef", Photo: make([]byte, 10), PhotoPath: "/tmp/p.jpg"})
	printEvent(&out, callserver.Event{Kind: callserver.EventText, CallID: "short", Text: "\n"})

	s := out.String()
	assert.Contains(t, s, "[01234567] visitor dialled 42")
	assert.Contains(t, s, "photo received: 10 bytes, saved to /tmp/p.jpg")
	assert.Contains(t, s, `[short] panel sent "\n"`)
}
