package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
)

// RecordedRequest is one RequestConstraint call seen by RecordingHandle.
type RecordedRequest struct {
	ID         ir.Identifier
	Agent      string
	Mode       ir.ConstraintMode
	Constraint string
	onAnswer   compute.Callback
}

// RecordedAbort is one SendAbort call seen by RecordingHandle.
type RecordedAbort struct {
	ID    ir.Identifier
	onAck compute.Callback
}

// RecordingHandle is a compute.Handle that records requests and aborts and
// lets the test play the remote side with Answer and Ack.
type RecordingHandle struct {
	mu        sync.Mutex
	name      string
	clock     *engine.Clock
	requests  []*RecordedRequest
	aborts    []*RecordedAbort
	forgotten []ir.Identifier
	pending   map[ir.Identifier]*RecordedRequest

	// RequestErr, if set, fails every RequestConstraint.
	RequestErr error
	// AbortErr, if set, fails every SendAbort.
	AbortErr error
}

// NewRecordingHandle creates a handle whose requests carry agent name.
func NewRecordingHandle(name string) *RecordingHandle {
	return &RecordingHandle{
		name:    name,
		clock:   engine.NewClock(),
		pending: make(map[ir.Identifier]*RecordedRequest),
	}
}

// RequestConstraint implements compute.Handle.
func (h *RecordingHandle) RequestConstraint(agent string, mode ir.ConstraintMode, constraint *ir.Call, onAnswer compute.Callback) (ir.Identifier, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.RequestErr != nil {
		return ir.Identifier{}, h.RequestErr
	}
	req := &RecordedRequest{
		ID:         ir.Identifier{Agent: h.name, ID: h.clock.Next()},
		Agent:      agent,
		Mode:       mode,
		Constraint: constraint.String(),
		onAnswer:   onAnswer,
	}
	h.requests = append(h.requests, req)
	h.pending[req.ID] = req
	return req.ID, nil
}

// SendAbort implements compute.Handle.
func (h *RecordingHandle) SendAbort(id ir.Identifier, onAck compute.Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.AbortErr != nil {
		return h.AbortErr
	}
	h.aborts = append(h.aborts, &RecordedAbort{ID: id, onAck: onAck})
	return nil
}

// Forget implements compute.Handle.
func (h *RecordingHandle) Forget(id ir.Identifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgotten = append(h.forgotten, id)
	delete(h.pending, id)
}

// Answer plays the remote answer for id. It returns an error when id is not
// pending, which models a late answer being discarded.
func (h *RecordingHandle) Answer(id ir.Identifier, err error) error {
	h.mu.Lock()
	req, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("request %s not pending", id)
	}
	req.onAnswer(err)
	return nil
}

// AnswerLast answers the most recent request.
func (h *RecordingHandle) AnswerLast(err error) error {
	h.mu.Lock()
	if len(h.requests) == 0 {
		h.mu.Unlock()
		return fmt.Errorf("no requests")
	}
	id := h.requests[len(h.requests)-1].ID
	h.mu.Unlock()
	return h.Answer(id, err)
}

// Ack plays the remote finalizer acknowledgement for the i-th abort.
func (h *RecordingHandle) Ack(i int, err error) {
	h.mu.Lock()
	a := h.aborts[i]
	h.mu.Unlock()
	if a.onAck != nil {
		a.onAck(err)
	}
}

// Requests returns the recorded requests in order.
func (h *RecordingHandle) Requests() []RecordedRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RecordedRequest, len(h.requests))
	for i, r := range h.requests {
		out[i] = *r
	}
	return out
}

// Aborts returns the identifiers of the recorded aborts in order.
func (h *RecordingHandle) Aborts() []ir.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ir.Identifier, len(h.aborts))
	for i, a := range h.aborts {
		out[i] = a.ID
	}
	return out
}

// Forgotten returns the identifiers passed to Forget.
func (h *RecordingHandle) Forgotten() []ir.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ir.Identifier(nil), h.forgotten...)
}

// Pending reports whether id still waits for an answer.
func (h *RecordingHandle) Pending(id ir.Identifier) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[id]
	return ok
}
