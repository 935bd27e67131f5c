// Package interaction binds pointer events on rendered regions to the
// selection state machine and turns a confirmed selection into one commit.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"visitmap/internal/feedback"
	"visitmap/internal/gateway"
	"visitmap/internal/metrics"
	"visitmap/internal/region"
	"visitmap/internal/visit"
)

var (
	ErrNoSelection    = errors.New("no selection awaiting confirmation")
	ErrCommitInFlight = errors.New("a commit is already in flight")
)

type Phase int

const (
	PhaseNone Phase = iota
	PhaseAwaiting
	PhaseSyncing
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaiting:
		return "awaiting-confirmation"
	case PhaseSyncing:
		return "syncing"
	default:
		return "none"
	}
}

// Selection is the pending selection. The zero value means none.
type Selection struct {
	Region region.Region
	Phase  Phase
	id     uint64
}

// VisitStore is the part of the visit store the controller writes through.
type VisitStore interface {
	IsVisited(name string, tier region.Tier) bool
	OptimisticApply(name string, tier region.Tier, target bool) visit.Set
	Rollback(snapshot visit.Set)
}

// Committer performs the remote mutation. nil means success.
type Committer interface {
	Commit(ctx context.Context, r region.Region, wasVisited bool) error
}

// Outcome is delivered once per confirmed selection, after it settled.
// Discarded is set when the view was detached before the commit finished;
// nothing was applied in that case.
type Outcome struct {
	Region    region.Region
	Action    gateway.Action
	Err       error
	Discarded bool
}

// Controller owns the selection state. At most one commit is in flight
// across the whole controller; clicks, hovers and cancels stay available
// while it runs.
type Controller struct {
	store     VisitStore
	committer Committer
	sink      feedback.Sink
	logger    *zap.Logger
	metrics   *metrics.Engine
	flight    *semaphore.Weighted

	mu        sync.Mutex
	selection Selection
	inflight  *Selection
	nextID    uint64
	epoch     uint64
	cancel    context.CancelFunc
}

func NewController(store VisitStore, committer Committer, sink feedback.Sink, logger *zap.Logger, m *metrics.Engine) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		committer: committer,
		sink:      sink,
		logger:    logger,
		metrics:   m,
		flight:    semaphore.NewWeighted(1),
	}
}

// Click selects r when it is clickable and reports whether the selection
// changed. Non-clickable regions (every state, the drill-down country) are
// ignored.
func (c *Controller) Click(r region.Region) bool {
	if !region.Clickable(r) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.selection = Selection{Region: r, Phase: PhaseAwaiting, id: c.nextID}
	return true
}

// Cancel drops a selection that is still awaiting confirmation.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection.Phase != PhaseAwaiting {
		return false
	}
	c.selection = Selection{}
	return true
}

// Confirm commits the awaiting selection. The local state flips before the
// remote call starts; the returned channel yields the Outcome once the
// commit settled and the selection left the syncing phase.
func (c *Controller) Confirm(ctx context.Context) (<-chan Outcome, error) {
	c.mu.Lock()
	sel := c.selection
	if sel.Phase != PhaseAwaiting {
		c.mu.Unlock()
		return nil, ErrNoSelection
	}
	if !c.flight.TryAcquire(1) {
		c.mu.Unlock()
		c.metrics.IncRejectedConfirm()
		c.logger.Debug("confirm rejected while commit in flight", zap.Stringer("region", sel.Region))
		return nil, ErrCommitInFlight
	}

	r := sel.Region
	wasVisited := c.store.IsVisited(r.Name, r.Tier)
	snapshot := c.store.OptimisticApply(r.Name, r.Tier, !wasVisited)

	sel.Phase = PhaseSyncing
	c.selection = sel
	flying := sel
	c.inflight = &flying

	commitCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	epoch := c.epoch
	c.mu.Unlock()

	done := make(chan Outcome, 1)
	go func() {
		defer cancel()
		err := c.commit(commitCtx, r, wasVisited)
		done <- c.settle(sel, wasVisited, snapshot, epoch, err)
	}()
	return done, nil
}

func (c *Controller) commit(ctx context.Context, r region.Region, wasVisited bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("commit panicked: %v", p)
		}
	}()
	return c.committer.Commit(ctx, r, wasVisited)
}

// settle applies the commit result. Feedback goes out while the selection is
// still syncing; the selection returns to none only afterwards.
func (c *Controller) settle(sel Selection, wasVisited bool, snapshot visit.Set, epoch uint64, err error) Outcome {
	out := Outcome{Region: sel.Region, Action: gateway.ActionFor(wasVisited), Err: err}
	defer c.flight.Release(1)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		out.Discarded = true
		c.metrics.IncDiscarded()
		c.logger.Debug("dropping completion for detached view", zap.Stringer("region", sel.Region))
		return out
	}
	if err != nil {
		c.store.Rollback(snapshot)
		c.metrics.IncRollback()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("commit failed, reverted", zap.Stringer("region", sel.Region), zap.Error(err))
		c.notify(feedback.Error, "Connection failed. Reverting.")
	} else {
		c.notify(feedback.Success, successMessage(out.Action, sel.Region.Name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return out
	}
	c.inflight = nil
	c.cancel = nil
	// A newer click made during the flight keeps its own selection.
	if c.selection.id == sel.id {
		c.selection = Selection{}
	}
	return out
}

func successMessage(action gateway.Action, name string) string {
	if action == gateway.Unmark {
		return fmt.Sprintf("Removed %s from your map", name)
	}
	return fmt.Sprintf("Marked %s as visited", name)
}

func (c *Controller) notify(kind feedback.Kind, message string) {
	if c.sink != nil {
		c.sink.Notify(kind, message)
	}
}

// Detach is called when the map view goes away. The in-flight request is
// cancelled and any completion that still arrives is ignored. The controller
// can serve a new view afterwards.
func (c *Controller) Detach() {
	c.mu.Lock()
	c.epoch++
	cancel := c.cancel
	c.cancel = nil
	c.inflight = nil
	c.selection = Selection{}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current selection.
func (c *Controller) State() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// InFlight returns the selection whose commit is running, if any.
func (c *Controller) InFlight() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		return Selection{}, false
	}
	return *c.inflight, true
}
