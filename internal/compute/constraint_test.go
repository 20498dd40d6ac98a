package compute_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ability/internal/compute"
	"github.com/roach88/ability/internal/engine"
	"github.com/roach88/ability/internal/ir"
	"github.com/roach88/ability/internal/testutil"
)

// recorder captures callback invocations.
type recorder struct {
	calls int
	err   error
}

func (r *recorder) cb(err error) {
	r.calls++
	r.err = err
}

func TestMake_SuccessAnswer(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("at(arm, home)"))

	var r recorder
	m.Compute(r.cb)
	assert.Equal(t, 0, r.calls, "make waits for the remote answer")
	assert.Equal(t, compute.StateComputing, m.State())

	reqs := h.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "arm", reqs[0].Agent)
	assert.Equal(t, ir.ModeMake, reqs[0].Mode)
	assert.Equal(t, m.ID(), reqs[0].ID)

	require.NoError(t, h.Answer(m.ID(), nil))
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, compute.StateSucceeded, m.State())
}

func TestMake_FailureAnswer(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("at(arm, home)"))

	var r recorder
	m.Compute(r.cb)
	require.NoError(t, h.Answer(m.ID(), engine.NewFailureError(m.ID(), "")))

	assert.True(t, engine.IsFailure(r.err))
	assert.Equal(t, compute.StateFailed, m.State())
}

func TestMake_AbortWithoutRequestIsNoop(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("at(arm, home)"))

	assert.False(t, m.Abort())
	assert.Empty(t, h.Aborts())
	assert.Equal(t, compute.StateIdle, m.State())
}

func TestMake_AbortInFlightSendsOneAbortAndYieldsInterrupted(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("at(arm, home)"))

	var r recorder
	m.Compute(r.cb)

	assert.True(t, m.Abort())
	assert.False(t, m.Abort(), "second abort is not accepted")
	assert.Equal(t, []ir.Identifier{m.ID()}, h.Aborts())
	assert.Equal(t, compute.StateAborting, m.State())
	assert.Equal(t, 0, r.calls)

	// The remote answers the original request with INTERRUPTED.
	require.NoError(t, h.Answer(m.ID(), engine.NewInterruptedError(m.ID())))
	assert.Equal(t, 1, r.calls)
	assert.True(t, engine.IsInterrupted(r.err))
	assert.Equal(t, compute.StateInterrupted, m.State())

	assert.False(t, m.Abort(), "abort after completion is a no-op")
}

func TestMake_AbortAfterCompletionIsNoop(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("p(1)"))

	var r recorder
	m.Compute(r.cb)
	require.NoError(t, h.Answer(m.ID(), nil))

	assert.False(t, m.Abort())
	assert.Empty(t, h.Aborts())
}

func TestMake_RequestErrorCompletesImmediately(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	h.RequestErr = engine.NewUnknownAgentError("ghost")
	m := compute.NewMake(h, "ghost", ir.MustParseCall("p(1)"))

	var r recorder
	m.Compute(r.cb)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, engine.ErrCodeUnknownAgent, engine.CodeOf(r.err))
	assert.False(t, m.Abort())
}

func TestMake_AbortSendFailure(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("p(1)"))

	var r recorder
	m.Compute(r.cb)
	id := m.ID()
	h.AbortErr = errors.New("connection closed")

	assert.True(t, m.Abort())
	assert.Equal(t, 1, r.calls)
	assert.EqualError(t, r.err, "connection closed")
	assert.Equal(t, []ir.Identifier{id}, h.Forgotten())
}

func TestMake_ComputeWhileBusy(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	m := compute.NewMake(h, "arm", ir.MustParseCall("p(1)"))

	var first, second recorder
	m.Compute(first.cb)
	m.Compute(second.cb)

	assert.ErrorIs(t, second.err, compute.ErrBusy)
	assert.Len(t, h.Requests(), 1)

	require.NoError(t, h.Answer(m.ID(), nil))
	assert.Equal(t, 1, first.calls)
	assert.NoError(t, first.err)
}

func TestEnsure_CompletesOnceSent(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("near(base, dock)"))

	var r recorder
	e.Compute(r.cb)
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Equal(t, compute.StateComputing, e.State(), "still enforced remotely")
	assert.Equal(t, ir.ModeEnsure, h.Requests()[0].Mode)
	assert.False(t, e.ID().IsZero())
}

func TestEnsure_AbortSendsAbortAndRecordsInterrupt(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("near(base, dock)"))

	var ended error
	e.OnEnd = func(_ ir.Identifier, err error) { ended = err }

	e.Compute(func(error) {})
	assert.True(t, e.Abort())
	assert.False(t, e.Abort())
	assert.Equal(t, []ir.Identifier{e.ID()}, h.Aborts())

	require.NoError(t, h.Answer(e.ID(), engine.NewInterruptedError(e.ID())))
	assert.True(t, engine.IsInterrupted(ended))
	assert.True(t, engine.IsInterrupted(e.Err()))
	assert.Equal(t, compute.StateInterrupted, e.State())
}

func TestEnsure_RemoteGivesUp(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("near(base, dock)"))
	e.Compute(func(error) {})

	require.NoError(t, h.Answer(e.ID(), engine.NewFailureError(e.ID(), "lost dock")))
	assert.True(t, engine.IsFailure(e.Err()))
	assert.Equal(t, compute.StateFailed, e.State())
	assert.False(t, e.Abort())
}

func TestEnsure_AbortBeforeComputeIsNoop(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("p(1)"))
	assert.False(t, e.Abort())
	assert.Empty(t, h.Aborts())
}

func TestAbortExpr_WaitsForAck(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("near(base, dock)"))
	e.Compute(func(error) {})

	a := compute.NewAbortExpr(h, e)
	var r recorder
	a.Compute(r.cb)

	assert.Equal(t, []ir.Identifier{e.ID()}, h.Aborts())
	assert.Equal(t, 0, r.calls, "does not complete before the finalizer ack")
	assert.False(t, e.Abort(), "target is already aborting")

	h.Ack(0, nil)
	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
}

func TestAbortExpr_TargetNeverStarted(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("p(1)"))

	a := compute.NewAbortExpr(h, e)
	var r recorder
	a.Compute(r.cb)

	assert.Equal(t, 1, r.calls)
	assert.NoError(t, r.err)
	assert.Empty(t, h.Aborts())
}

func TestAbortExpr_AbortStopsWaiting(t *testing.T) {
	h := testutil.NewRecordingHandle("self")
	e := compute.NewEnsure(h, "base", ir.MustParseCall("p(1)"))
	e.Compute(func(error) {})

	a := compute.NewAbortExpr(h, e)
	var r recorder
	a.Compute(r.cb)

	assert.True(t, a.Abort())
	assert.True(t, engine.IsAborted(r.err))

	h.Ack(0, nil)
	assert.Equal(t, 1, r.calls, "late ack is ignored")
}
