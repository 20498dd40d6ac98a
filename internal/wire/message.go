package wire

import (
	"fmt"

	"github.com/roach88/ability/internal/ir"
)

// Kind is the payload variant of a message.
type Kind string

const (
	KindRequestConstraint Kind = "request_constraint"
	KindConstraintAnswer  Kind = "constraint_answer"
	KindAbort             Kind = "abort"
	KindAbortAck          Kind = "abort_ack"
	KindVarRequest        Kind = "var_request"
	KindVarAnswer         Kind = "var_answer"
	KindRegister          Kind = "register"
	KindRegisterAnswer    Kind = "register_answer"
	KindPing              Kind = "ping"
	KindPong              Kind = "pong"
)

// AnswerState is the terminal state of a constraint request.
type AnswerState string

const (
	AnswerSuccess     AnswerState = "SUCCESS"
	AnswerFailure     AnswerState = "FAILURE"
	AnswerInterrupted AnswerState = "INTERRUPTED"
)

// Valid reports whether s is a known state.
func (s AnswerState) Valid() bool {
	return s == AnswerSuccess || s == AnswerFailure || s == AnswerInterrupted
}

// Message is one agent-to-agent message. Exactly the payload matching Kind
// is set; abort, abort_ack, ping and pong carry none.
type Message struct {
	Kind   Kind          `json:"kind"`
	ID     ir.Identifier `json:"id"`
	Source string        `json:"source"`
	Target string        `json:"target,omitempty"`

	Request   *RequestConstraint `json:"request,omitempty"`
	Answer    *ConstraintAnswer  `json:"answer,omitempty"`
	VarReq    *VarRequest        `json:"var_request,omitempty"`
	VarAnswer *VarAnswer         `json:"var_answer,omitempty"`
	Register  *Register          `json:"register,omitempty"`
	RegAnswer *RegisterAnswer    `json:"register_answer,omitempty"`
}

// RequestConstraint asks the target to ensure or make a constraint.
type RequestConstraint struct {
	Mode       ir.ConstraintMode `json:"mode"`
	Constraint ir.ExprJSON       `json:"constraint"`
}

// ConstraintAnswer ends a constraint request.
type ConstraintAnswer struct {
	State  AnswerState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

// VarRequest asks for the current value of a readable variable.
type VarRequest struct {
	Variable string `json:"variable"`
}

// VarAnswer carries a variable value, or the reason it is not available.
type VarAnswer struct {
	Variable string      `json:"variable"`
	Value    ir.ExprJSON `json:"value"`
	Error    string      `json:"error,omitempty"`
}

// Register announces an agent to a peer.
type Register struct {
	Name        string `json:"name"`
	Address     string `json:"address,omitempty"`
	Incarnation string `json:"incarnation"`
}

// RegisterAnswer acknowledges a registration.
type RegisterAnswer struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks that the payload matches the kind and that the
// correlation identifier is set.
func (m *Message) Validate() error {
	if m.Source == "" {
		return fmt.Errorf("%s message without source", m.Kind)
	}
	if m.ID.IsZero() {
		return fmt.Errorf("%s message without identifier", m.Kind)
	}

	set := 0
	for _, p := range []bool{m.Request != nil, m.Answer != nil, m.VarReq != nil, m.VarAnswer != nil, m.Register != nil, m.RegAnswer != nil} {
		if p {
			set++
		}
	}

	var ok bool
	switch m.Kind {
	case KindRequestConstraint:
		ok = m.Request != nil
		if ok {
			if !m.Request.Mode.Valid() {
				return fmt.Errorf("request %s: invalid mode %q", m.ID, m.Request.Mode)
			}
			if _, isCall := m.Request.Constraint.Expr.(*ir.Call); !isCall {
				return fmt.Errorf("request %s: constraint must be a call", m.ID)
			}
		}
	case KindConstraintAnswer:
		ok = m.Answer != nil
		if ok && !m.Answer.State.Valid() {
			return fmt.Errorf("answer %s: invalid state %q", m.ID, m.Answer.State)
		}
	case KindVarRequest:
		ok = m.VarReq != nil
	case KindVarAnswer:
		ok = m.VarAnswer != nil
	case KindRegister:
		ok = m.Register != nil
	case KindRegisterAnswer:
		ok = m.RegAnswer != nil
	case KindAbort, KindAbortAck, KindPing, KindPong:
		return noPayload(m, set)
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if !ok || set != 1 {
		return fmt.Errorf("%s message %s: payload does not match kind", m.Kind, m.ID)
	}
	return nil
}

func noPayload(m *Message, set int) error {
	if set != 0 {
		return fmt.Errorf("%s message %s: unexpected payload", m.Kind, m.ID)
	}
	return nil
}

// IsRequest reports whether the message starts an exchange the receiver
// must answer.
func (m *Message) IsRequest() bool {
	switch m.Kind {
	case KindRequestConstraint, KindAbort, KindVarRequest, KindRegister, KindPing:
		return true
	default:
		return false
	}
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s %s->%s", m.Kind, m.ID, m.Source, m.Target)
}

// NewRequestConstraint builds a request-constraint message.
func NewRequestConstraint(id ir.Identifier, target string, mode ir.ConstraintMode, c *ir.Call) *Message {
	return &Message{
		Kind:    KindRequestConstraint,
		ID:      id,
		Source:  id.Agent,
		Target:  target,
		Request: &RequestConstraint{Mode: mode, Constraint: ir.ExprJSON{Expr: c}},
	}
}

// NewConstraintAnswer answers request id.
func NewConstraintAnswer(id ir.Identifier, source string, state AnswerState, reason string) *Message {
	return &Message{
		Kind:   KindConstraintAnswer,
		ID:     id,
		Source: source,
		Target: id.Agent,
		Answer: &ConstraintAnswer{State: state, Reason: reason},
	}
}

// NewAbort aborts request id at target.
func NewAbort(id ir.Identifier, target string) *Message {
	return &Message{Kind: KindAbort, ID: id, Source: id.Agent, Target: target}
}

// NewAbortAck acknowledges that the computation serving request id has
// unwound.
func NewAbortAck(id ir.Identifier, source string) *Message {
	return &Message{Kind: KindAbortAck, ID: id, Source: source, Target: id.Agent}
}

// NewVarRequest asks target for a variable.
func NewVarRequest(id ir.Identifier, target, variable string) *Message {
	return &Message{
		Kind:   KindVarRequest,
		ID:     id,
		Source: id.Agent,
		Target: target,
		VarReq: &VarRequest{Variable: variable},
	}
}

// NewVarAnswer answers a variable request with a value.
func NewVarAnswer(id ir.Identifier, source, variable string, value ir.Expr) *Message {
	return &Message{
		Kind:      KindVarAnswer,
		ID:        id,
		Source:    source,
		Target:    id.Agent,
		VarAnswer: &VarAnswer{Variable: variable, Value: ir.ExprJSON{Expr: value}},
	}
}

// NewVarError answers a variable request with an error.
func NewVarError(id ir.Identifier, source, variable, reason string) *Message {
	return &Message{
		Kind:      KindVarAnswer,
		ID:        id,
		Source:    source,
		Target:    id.Agent,
		VarAnswer: &VarAnswer{Variable: variable, Error: reason},
	}
}

// NewRegister announces the sender to target.
func NewRegister(id ir.Identifier, target, address, incarnation string) *Message {
	return &Message{
		Kind:     KindRegister,
		ID:       id,
		Source:   id.Agent,
		Target:   target,
		Register: &Register{Name: id.Agent, Address: address, Incarnation: incarnation},
	}
}

// NewRegisterAnswer answers a registration.
func NewRegisterAnswer(id ir.Identifier, source string, ok bool, reason string) *Message {
	return &Message{
		Kind:      KindRegisterAnswer,
		ID:        id,
		Source:    source,
		Target:    id.Agent,
		RegAnswer: &RegisterAnswer{OK: ok, Reason: reason},
	}
}

// NewPing probes target.
func NewPing(id ir.Identifier, target string) *Message {
	return &Message{Kind: KindPing, ID: id, Source: id.Agent, Target: target}
}

// NewPong answers ping id.
func NewPong(id ir.Identifier, source string) *Message {
	return &Message{Kind: KindPong, ID: id, Source: source, Target: id.Agent}
}
