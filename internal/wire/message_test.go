package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ir"
)

var reqID = ir.Identifier{Agent: "planner", ID: 7}

func TestValidate_Constructors(t *testing.T) {
	c := ir.MustParseCall(`at(robot, kitchen)`)
	msgs := []*Message{
		NewRequestConstraint(reqID, "robot", ir.ModeMake, c),
		NewConstraintAnswer(reqID, "robot", AnswerSuccess, ""),
		NewAbort(reqID, "robot"),
		NewAbortAck(reqID, "robot"),
		NewVarRequest(reqID, "robot", "battery"),
		NewVarAnswer(reqID, "robot", "battery", ir.Int(80)),
		NewVarError(reqID, "robot", "battery", "not readable"),
		NewRegister(reqID, "robot", "ws://localhost:1/ws", "inc-1"),
		NewRegisterAnswer(reqID, "robot", true, ""),
		NewPing(reqID, "robot"),
		NewPong(reqID, "robot"),
	}
	for _, m := range msgs {
		t.Run(string(m.Kind), func(t *testing.T) {
			assert.NoError(t, m.Validate())
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"no source", Message{Kind: KindPing, ID: reqID}},
		{"no id", Message{Kind: KindPing, Source: "a"}},
		{"unknown kind", Message{Kind: "gossip", ID: reqID, Source: "a"}},
		{"missing payload", Message{Kind: KindRequestConstraint, ID: reqID, Source: "a"}},
		{"payload on ping", Message{Kind: KindPing, ID: reqID, Source: "a", Answer: &ConstraintAnswer{State: AnswerSuccess}}},
		{"two payloads", Message{
			Kind: KindConstraintAnswer, ID: reqID, Source: "a",
			Answer: &ConstraintAnswer{State: AnswerSuccess},
			VarReq: &VarRequest{Variable: "x"},
		}},
		{"bad state", Message{Kind: KindConstraintAnswer, ID: reqID, Source: "a", Answer: &ConstraintAnswer{State: "DONE"}}},
		{"bad mode", Message{
			Kind: KindRequestConstraint, ID: reqID, Source: "a",
			Request: &RequestConstraint{Mode: "maybe", Constraint: ir.ExprJSON{Expr: ir.MustParseCall(`p(a)`)}},
		}},
		{"constraint not a call", Message{
			Kind: KindRequestConstraint, ID: reqID, Source: "a",
			Request: &RequestConstraint{Mode: ir.ModeMake, Constraint: ir.ExprJSON{Expr: ir.Int(1)}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.msg.Validate())
		})
	}
}

func TestAnswersReuseRequestID(t *testing.T) {
	req := NewRequestConstraint(reqID, "robot", ir.ModeEnsure, ir.MustParseCall(`holding(cup)`))
	ans := NewConstraintAnswer(req.ID, "robot", AnswerInterrupted, "aborted")

	assert.Equal(t, req.ID, ans.ID)
	assert.Equal(t, "planner", req.Source)
	assert.Equal(t, "planner", ans.Target)
	assert.True(t, req.IsRequest())
	assert.False(t, ans.IsRequest())
}

func TestEncodeDecode_PreservesFields(t *testing.T) {
	c := ir.MustParseCall(`at(robot, room("kitchen"), -1.5)`)
	m := NewRequestConstraint(reqID, "robot", ir.ModeMake, c)

	data, err := Encode(m)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.Kind, got.Kind)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Source, got.Source)
	assert.Equal(t, m.Target, got.Target)
	require.NotNil(t, got.Request)
	assert.Equal(t, ir.ModeMake, got.Request.Mode)
	assert.True(t, ir.Equal(c, got.Request.Constraint.Expr))
}

func TestEncodeDecode_VarError(t *testing.T) {
	m := NewVarError(reqID, "robot", "secret", "variable is private")
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, got.VarAnswer)
	assert.Nil(t, got.VarAnswer.Value.Expr)
	assert.Equal(t, "variable is private", got.VarAnswer.Error)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	data := []byte(`{"kind":"ping","id":{"agent":"a","id":1},"source":"a","extra":true}`)
	_, err := Decode(data)
	assert.Error(t, err)
}

func TestDecode_RejectsInvalid(t *testing.T) {
	data := []byte(`{"kind":"abort","id":{"agent":"a","id":1},"source":""}`)
	_, err := Decode(data)
	assert.Error(t, err)
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(&Message{Kind: KindPong})
	assert.Error(t, err)
}
