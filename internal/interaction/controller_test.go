package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitmap/internal/feedback"
	"visitmap/internal/gateway"
	"visitmap/internal/metrics"
	"visitmap/internal/region"
	"visitmap/internal/visit"
)

type commitCall struct {
	Region     region.Region
	WasVisited bool
}

// fakeCommitter blocks each commit until release receives a result.
type fakeCommitter struct {
	mu      sync.Mutex
	calls   []commitCall
	started chan commitCall
	release chan error
	panicOn string
}

func newFakeCommitter() *fakeCommitter {
	return &fakeCommitter{started: make(chan commitCall, 8), release: make(chan error, 8)}
}

func (f *fakeCommitter) Commit(ctx context.Context, r region.Region, wasVisited bool) error {
	call := commitCall{Region: r, WasVisited: wasVisited}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if r.Name == f.panicOn {
		panic("boom")
	}
	f.started <- call
	select {
	case err := <-f.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCommitter) Calls() []commitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commitCall(nil), f.calls...)
}

type recordingSink struct {
	mu    sync.Mutex
	kinds []feedback.Kind
	msgs  []string
}

func (s *recordingSink) Notify(kind feedback.Kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	s.msgs = append(s.msgs, message)
}

func (s *recordingSink) Kinds() []feedback.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feedback.Kind(nil), s.kinds...)
}

var (
	springfield = region.Region{Name: "Springfield", Tier: region.District, ParentName: "Kerala", GrandparentName: "India"}
	shelbyville = region.Region{Name: "Shelbyville", Tier: region.District, ParentName: "Kerala", GrandparentName: "India"}
	kerala      = region.Region{Name: "Kerala", Tier: region.State, ParentName: "India"}
	france      = region.Region{Name: "France", Tier: region.Country}
	india       = region.Region{Name: "India", Tier: region.Country}
)

type harness struct {
	ctrl      *Controller
	store     *visit.Store
	committer *fakeCommitter
	sink      *recordingSink
	metrics   *metrics.Engine
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		store:     visit.NewStore(),
		committer: newFakeCommitter(),
		sink:      &recordingSink{},
		metrics:   metrics.NewEngine(prometheus.NewRegistry()),
	}
	h.ctrl = NewController(h.store, h.committer, h.sink, nil, h.metrics)
	return h
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("commit did not settle")
		return Outcome{}
	}
}

func waitStarted(t *testing.T, f *fakeCommitter) commitCall {
	t.Helper()
	select {
	case call := <-f.started:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("commit did not start")
		return commitCall{}
	}
}

func TestConfirmMarksOptimisticallyThenSucceeds(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Click(springfield))
	assert.Equal(t, PhaseAwaiting, h.ctrl.State().Phase)

	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)

	call := waitStarted(t, h.committer)
	assert.False(t, call.WasVisited)
	assert.True(t, h.store.IsVisited("Springfield", region.District), "flipped before the remote call")
	assert.Equal(t, PhaseSyncing, h.ctrl.State().Phase)
	inflight, ok := h.ctrl.InFlight()
	require.True(t, ok)
	assert.Equal(t, springfield, inflight.Region)

	h.committer.release <- nil
	out := waitOutcome(t, done)

	require.NoError(t, out.Err)
	assert.Equal(t, gateway.Mark, out.Action)
	assert.False(t, out.Discarded)
	assert.True(t, h.store.IsVisited("Springfield", region.District))
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)
	assert.Equal(t, []feedback.Kind{feedback.Success}, h.sink.Kinds())
	_, ok = h.ctrl.InFlight()
	assert.False(t, ok)
}

// phaseSink records the controller's phase at the moment feedback arrives.
type phaseSink struct {
	ctrl   *Controller
	mu     sync.Mutex
	phases []Phase
}

func (s *phaseSink) Notify(feedback.Kind, string) {
	phase := s.ctrl.State().Phase
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, phase)
}

func TestFeedbackPrecedesSelectionReset(t *testing.T) {
	for _, result := range []error{nil, errors.New("connection refused")} {
		store := visit.NewStore()
		committer := newFakeCommitter()
		sink := &phaseSink{}
		ctrl := NewController(store, committer, sink, nil, nil)
		sink.ctrl = ctrl

		require.True(t, ctrl.Click(springfield))
		done, err := ctrl.Confirm(context.Background())
		require.NoError(t, err)
		waitStarted(t, committer)

		committer.release <- result
		waitOutcome(t, done)

		sink.mu.Lock()
		assert.Equal(t, []Phase{PhaseSyncing}, sink.phases, "result %v", result)
		sink.mu.Unlock()
		assert.Equal(t, PhaseNone, ctrl.State().Phase)
	}
}

func TestConfirmFailureRollsBackExactly(t *testing.T) {
	h := newHarness(t)
	h.store.ReplaceAll(visit.NewSet([]string{"France"}, nil, nil))
	before := h.store.Snapshot()

	require.True(t, h.ctrl.Click(france))
	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)

	call := waitStarted(t, h.committer)
	assert.True(t, call.WasVisited)
	assert.False(t, h.store.IsVisited("France", region.Country))

	h.committer.release <- errors.New("connection refused")
	out := waitOutcome(t, done)

	require.Error(t, out.Err)
	assert.Equal(t, gateway.Unmark, out.Action)
	assert.True(t, before.Equal(h.store.Snapshot(), region.Country))
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)
	assert.Equal(t, []feedback.Kind{feedback.Error}, h.sink.Kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rollbacks))
}

func TestConfirmWhileInFlightIsRejected(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Click(springfield))
	first, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	waitStarted(t, h.committer)

	// Clicks stay accepted during the flight.
	require.True(t, h.ctrl.Click(shelbyville))
	assert.Equal(t, PhaseAwaiting, h.ctrl.State().Phase)

	second, err := h.ctrl.Confirm(context.Background())
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrCommitInFlight)
	assert.False(t, h.store.IsVisited("Shelbyville", region.District), "rejected confirm applies nothing")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RejectedConfirm))

	h.committer.release <- nil
	waitOutcome(t, first)

	// The newer selection outlives the settled commit and can be confirmed.
	sel := h.ctrl.State()
	assert.Equal(t, PhaseAwaiting, sel.Phase)
	assert.Equal(t, shelbyville, sel.Region)

	third, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	waitStarted(t, h.committer)
	h.committer.release <- nil
	waitOutcome(t, third)

	assert.Len(t, h.committer.Calls(), 2)
	assert.True(t, h.store.IsVisited("Shelbyville", region.District))
}

func TestControllerStaysLiveAfterFailure(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Click(springfield))
	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	waitStarted(t, h.committer)
	h.committer.release <- errors.New("timeout")
	waitOutcome(t, done)

	require.True(t, h.ctrl.Click(springfield))
	done, err = h.ctrl.Confirm(context.Background())
	require.NoError(t, err, "guard released after failure")
	waitStarted(t, h.committer)
	h.committer.release <- nil
	out := waitOutcome(t, done)
	assert.NoError(t, out.Err)
	assert.True(t, h.store.IsVisited("Springfield", region.District))
}

func TestCommitterPanicIsTreatedAsFailure(t *testing.T) {
	h := newHarness(t)
	h.committer.panicOn = "Springfield"

	require.True(t, h.ctrl.Click(springfield))
	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	out := waitOutcome(t, done)

	require.Error(t, out.Err)
	assert.False(t, h.store.IsVisited("Springfield", region.District))
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)

	require.True(t, h.ctrl.Click(shelbyville))
	_, err = h.ctrl.Confirm(context.Background())
	assert.NoError(t, err, "guard released after panic")
}

func TestNonClickableRegionsAreIgnored(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.ctrl.Click(kerala))
	assert.False(t, h.ctrl.Click(india))
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)

	_, err := h.ctrl.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
	assert.Empty(t, h.committer.Calls())
	assert.Equal(t, 0, h.store.Counts().Total())
}

func TestCancelClearsAwaitingSelection(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.ctrl.Cancel())
	require.True(t, h.ctrl.Click(france))
	assert.True(t, h.ctrl.Cancel())
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)

	_, err := h.ctrl.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestCancelDoesNotAbortSyncing(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Click(france))
	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	waitStarted(t, h.committer)

	assert.False(t, h.ctrl.Cancel())
	assert.Equal(t, PhaseSyncing, h.ctrl.State().Phase)

	h.committer.release <- nil
	waitOutcome(t, done)
}

func TestDetachDiscardsLateCompletion(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Click(springfield))
	done, err := h.ctrl.Confirm(context.Background())
	require.NoError(t, err)
	waitStarted(t, h.committer)
	optimistic := h.store.Snapshot()

	h.ctrl.Detach()
	out := waitOutcome(t, done)

	assert.True(t, out.Discarded)
	assert.Empty(t, h.sink.Kinds(), "no feedback for a detached view")
	assert.True(t, optimistic.Equal(h.store.Snapshot(), region.District), "no rollback after detach")
	assert.Equal(t, PhaseNone, h.ctrl.State().Phase)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Discarded))

	// A fresh view gets a working controller.
	require.True(t, h.ctrl.Click(shelbyville))
	_, err = h.ctrl.Confirm(context.Background())
	assert.NoError(t, err)
}

func TestHoverReflectsVisitState(t *testing.T) {
	h := newHarness(t)
	h.store.ReplaceAll(visit.NewSet([]string{"France"}, nil, nil))

	hv := h.ctrl.Hover(france)
	assert.Equal(t, HighlightUnlocked, hv.Highlight)
	assert.True(t, hv.Clickable)
	assert.Equal(t, HighlightVisited, h.ctrl.HoverExit(france))

	hv = h.ctrl.Hover(kerala)
	assert.Equal(t, HighlightLocked, hv.Highlight)
	assert.False(t, hv.Clickable)
	assert.Equal(t, HighlightUnvisited, h.ctrl.HoverExit(kerala))

	assert.False(t, h.ctrl.Hover(india).Clickable)
}
