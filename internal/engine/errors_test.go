package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ability/internal/ir"
)

func TestRuntimeError_Helpers(t *testing.T) {
	req := ir.Identifier{Agent: "arm", ID: 3}

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"interrupted", NewInterruptedError(req), IsInterrupted},
		{"failure", NewFailureError(req, ""), IsFailure},
		{"aborted", NewAbortedError("make"), IsAborted},
		{"transport", NewTransportError(req, "arm", errors.New("closed")), IsTransport},
		{"peer down", NewPeerDownError(req, "arm"), IsTransport},
		{"timeout", NewTimeoutError("wait"), IsTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("step 2: %w", tt.err)
			assert.True(t, tt.check(wrapped), "helpers see through wrapping")
		})
	}

	assert.False(t, IsInterrupted(NewFailureError(req, "")))
	assert.False(t, IsInterrupted(errors.New("plain")))
	assert.False(t, IsInterrupted(nil))
}

func TestRuntimeError_Message(t *testing.T) {
	err := NewInterruptedError(ir.Identifier{Agent: "arm", ID: 3})
	assert.Equal(t, "INTERRUPTED: request interrupted by remote (request=arm#3)", err.Error())

	cause := errors.New("connection reset")
	terr := NewTransportError(ir.Identifier{Agent: "base", ID: 9}, "base", cause)
	assert.Equal(t, "TRANSPORT: send to base failed (request=base#9): connection reset", terr.Error())
	assert.ErrorIs(t, terr, cause)

	assert.Equal(t, "NOT_FOUND: variable \"speed\" not found", NewNotFoundError("variable", "speed").Error())
	assert.Equal(t, ErrCodeUnknownAgent, CodeOf(NewUnknownAgentError("ghost")))
}
