package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/logic"
	"github.com/roach88/ability/internal/recipe"
	"github.com/roach88/ability/internal/wire"
)

func TestWriteMessage_TraceByRequest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := ir.Identifier{Agent: "planner", ID: 7}
	other := ir.Identifier{Agent: "planner", ID: 8}
	req := wire.NewRequestConstraint(id, "arm", ir.ModeMake, ir.MustParseCall("holding(cup)"))

	require.NoError(t, s.RecordMessage("planner", "sent", req))
	require.NoError(t, s.RecordMessage("arm", "received", req))
	unrelated := wire.NewPing(other, "arm")
	require.NoError(t, s.RecordMessage("planner", "sent", unrelated))
	require.NoError(t, s.RecordMessage("arm", "sent", wire.NewConstraintAnswer(id, "arm", wire.AnswerSuccess, "")))

	trace, err := s.ReadRequest(ctx, "planner", 7)
	require.NoError(t, err)
	require.Len(t, trace, 3)

	assert.Equal(t, "planner", trace[0].Agent)
	assert.Equal(t, "sent", trace[0].Direction)
	assert.Equal(t, wire.KindRequestConstraint, trace[0].Message.Kind)
	assert.True(t, ir.Equal(ir.MustParseCall("holding(cup)"), trace[0].Message.Request.Constraint.Expr))

	assert.Equal(t, "arm", trace[1].Agent)
	assert.Equal(t, "received", trace[1].Direction)

	assert.Equal(t, wire.KindConstraintAnswer, trace[2].Message.Kind)
	assert.Equal(t, wire.AnswerSuccess, trace[2].Message.Answer.State)
	assert.Less(t, trace[0].Seq, trace[1].Seq)
	assert.Less(t, trace[1].Seq, trace[2].Seq)
}

func TestReadRequest_Empty(t *testing.T) {
	s := createTestStore(t)
	trace, err := s.ReadRequest(context.Background(), "planner", 1)
	require.NoError(t, err)
	assert.NotNil(t, trace)
	assert.Empty(t, trace)
}

func TestReadMessages_Limit(t *testing.T) {
	s := createTestStore(t)
	for i := uint64(1); i <= 3; i++ {
		m := wire.NewPing(ir.Identifier{Agent: "planner", ID: i}, "arm")
		require.NoError(t, s.RecordMessage("planner", "sent", m))
	}

	all, err := s.ReadMessages(context.Background(), "planner", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := s.ReadMessages(context.Background(), "planner", 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, uint64(1), two[0].Message.ID.ID)
}

func TestWriteMessage_RejectsInvalid(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordMessage("planner", "sent", &wire.Message{Kind: "gossip"})
	assert.Error(t, err)
}

func TestMaxRequestID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n, err := s.MaxRequestID(ctx, "planner")
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []uint64{3, 41, 12} {
		m := wire.NewPing(ir.Identifier{Agent: "planner", ID: id}, "arm")
		require.NoError(t, s.RecordMessage("planner", "sent", m))
	}
	// Answers the arm sent to someone else's requests do not count.
	require.NoError(t, s.RecordMessage("arm", "sent", wire.NewPong(ir.Identifier{Agent: "base", ID: 99}, "arm")))

	n, err = s.MaxRequestID(ctx, "planner")
	require.NoError(t, err)
	assert.Equal(t, uint64(41), n)
}

func TestWriteFact_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fact := ir.MustParseCall(`at(robot, "kitchen")`)
	added, err := s.WriteFact(ctx, "arm", fact)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.WriteFact(ctx, "arm", ir.MustParseCall(`at(robot, "kitchen")`))
	require.NoError(t, err)
	assert.False(t, added, "same fact twice")

	added, err = s.WriteFact(ctx, "base", fact)
	require.NoError(t, err)
	assert.True(t, added, "same fact in another context")

	facts, err := s.ReadFacts(ctx, "arm")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.True(t, ir.Equal(fact, facts[0]))

	contexts, err := s.FactContexts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arm", "base"}, contexts)
}

func TestFactObserver_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	eng := logic.New(logic.WithFactObserver(s.FactObserver(nil)))
	require.True(t, eng.AddPredicate("at", 2, nil))
	require.True(t, eng.AddFact("at(robot, kitchen)", "arm"))
	require.True(t, eng.AddFact("at(cup, table)", "arm"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	restarted := logic.New()
	require.True(t, restarted.AddPredicate("at", 2, nil))
	n, err := s.LoadFacts(ctx, restarted, "arm")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, logic.True, restarted.Infer("at(cup, table)", "arm"))
	assert.Equal(t, logic.False, restarted.Infer("at(cup, table)", "base"))
}

func TestLoadFacts_UnregisteredPredicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.WriteFact(ctx, "arm", ir.MustParseCall("at(robot, kitchen)"))
	require.NoError(t, err)

	_, err = s.LoadFacts(ctx, logic.New(), "arm")
	require.Error(t, err)
	assert.True(t, logic.IsValidationCode(err, logic.ErrUnknownPredicate))
}

func TestRunObserver(t *testing.T) {
	s := createTestStore(t)
	observe := s.RunObserver("arm", nil)

	observe(recipe.Run{Token: "run-1", Recipe: "close_gripper", Status: recipe.StatusSucceeded, Result: ir.Ident("done")})
	observe(recipe.Run{Token: "run-2", Recipe: "close_gripper", Status: recipe.StatusFailed, Err: errors.New("gripper jammed")})
	observe(recipe.Run{Token: "run-2", Recipe: "close_gripper", Status: recipe.StatusSucceeded})

	runs, err := s.ReadRuns(context.Background(), "arm")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-1", runs[0].Token)
	assert.Equal(t, recipe.StatusSucceeded.String(), runs[0].Status)
	assert.Equal(t, ir.Ident("done"), runs[0].Result)
	assert.Empty(t, runs[0].Error)

	assert.Equal(t, recipe.StatusFailed.String(), runs[1].Status, "first write for a token wins")
	assert.Nil(t, runs[1].Result)
	assert.Equal(t, "gripper jammed", runs[1].Error)
}
