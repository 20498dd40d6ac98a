package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/agent"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/store"
	"github.com/roach88/ability/internal/wire"
)

// seedJournal records one make request of the planner, the arm's answer
// and a variable read, as both agents would journal them.
func seedJournal(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ability.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	req := wire.NewRequestConstraint(ir.Identifier{Agent: "planner", ID: 1}, "arm", ir.ModeMake, ir.MustParseCall("holding(cup)"))
	ans := wire.NewConstraintAnswer(req.ID, "arm", wire.AnswerSuccess, "")
	read := wire.NewVarRequest(ir.Identifier{Agent: "planner", ID: 2}, "arm", "gripper")

	require.NoError(t, st.WriteMessage(ctx, "planner", agent.DirSent, req))
	require.NoError(t, st.WriteMessage(ctx, "arm", agent.DirReceived, req))
	require.NoError(t, st.WriteMessage(ctx, "arm", agent.DirSent, ans))
	require.NoError(t, st.WriteMessage(ctx, "planner", agent.DirReceived, ans))
	require.NoError(t, st.WriteMessage(ctx, "planner", agent.DirSent, read))
	require.NoError(t, st.WriteRun(ctx, "planner", recipe.Run{
		Token:  "planner-1",
		Recipe: "ask_arm",
		Status: recipe.StatusSucceeded,
		Result: ir.Ident("done"),
	}))
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceAgentMessages(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", db, "--agent", "planner")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for agent: planner")
	assert.Contains(t, out, "request_constraint planner#1 planner->arm make holding(cup)")
	assert.Contains(t, out, "constraint_answer planner#1 arm->planner SUCCESS")
	assert.Contains(t, out, "var_request planner#2 planner->arm gripper")
	assert.NotContains(t, out, "=== Runs ===")
}

func TestTraceSingleRequest(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, "json", "--db", db, "--agent", "planner", "--id", "1")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "planner#1", resp.Data.Request)
	require.Len(t, resp.Data.Messages, 4, "both agents' records of the request")
	assert.Equal(t, "planner", resp.Data.Messages[0].Agent)
	assert.Equal(t, wire.KindRequestConstraint, resp.Data.Messages[0].Message.Kind)
	assert.Equal(t, wire.KindConstraintAnswer, resp.Data.Messages[3].Message.Kind)
}

func TestTraceLimitAndRuns(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", db, "--agent", "planner", "--limit", "1", "--runs")
	require.NoError(t, err)
	assert.Contains(t, out, "request_constraint")
	assert.NotContains(t, out, "var_request")
	assert.Contains(t, out, "=== Runs ===")
	assert.Contains(t, out, "ask_arm succeeded -> done")
}

func TestTraceUnknownAgent(t *testing.T) {
	db := seedJournal(t)

	out, err := executeTrace(t, "text", "--db", db, "--agent", "base", "--runs")
	require.NoError(t, err)
	assert.Contains(t, out, "(no messages)")
	assert.Contains(t, out, "(no runs)")
}

func TestTraceRequiredFlags(t *testing.T) {
	_, err := executeTrace(t, "text", "--agent", "arm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")

	_, err = executeTrace(t, "text", "--db", seedJournal(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent")
}
