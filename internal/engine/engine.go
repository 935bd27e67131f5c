// Package engine wires the visit-state synchronization engine together and
// exposes the UI event entry points.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"visitmap/internal/dataset"
	"visitmap/internal/feedback"
	"visitmap/internal/gateway"
	"visitmap/internal/interaction"
	"visitmap/internal/layers"
	"visitmap/internal/metrics"
	"visitmap/internal/present"
	"visitmap/internal/region"
	"visitmap/internal/visit"
)

var (
	ErrUnknownRegion = errors.New("unknown region")
	ErrLayerHidden   = errors.New("layer is not shown at this zoom")
)

type Config struct {
	Credentials gateway.Credentials
	InitialZoom float64
	Files       dataset.Files
}

// Deps are the collaborators that differ between the binary and tests.
type Deps struct {
	Source     dataset.Source
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Engine
	// Sinks receive every feedback event in addition to the toast board.
	Sinks []feedback.Sink
}

type Engine struct {
	logger  *zap.Logger
	loader  *dataset.Loader
	store   *visit.Store
	gateway *gateway.Gateway
	ctrl    *interaction.Controller
	tracker *layers.Tracker
	board   *feedback.Board
	notify  feedback.Sink
	adapter *present.Adapter

	mu      sync.RWMutex
	regions *dataset.Collections

	// view is cancelled when the current map view closes and replaced for
	// the next one.
	viewMu sync.Mutex
	view   context.Context
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := visit.NewStore()
	board := feedback.NewBoard()
	notify := append(feedback.Fanout{board}, deps.Sinks...)
	gw := gateway.New(cfg.Credentials, deps.HTTPClient, store, logger.Named("gateway"), deps.Metrics)
	regions := &dataset.Collections{}
	view, cancel := context.WithCancel(context.Background())

	return &Engine{
		logger:  logger,
		loader:  dataset.NewLoader(deps.Source, cfg.Files, logger.Named("dataset")),
		store:   store,
		gateway: gw,
		ctrl:    interaction.NewController(store, gw, notify, logger.Named("interaction"), deps.Metrics),
		tracker: layers.NewTracker(cfg.InitialZoom),
		board:   board,
		notify:  notify,
		adapter: present.NewAdapter(store, regions),
		regions: regions,
		view:    view,
		cancel:  cancel,
	}
}

// Start loads the region datasets and then bootstraps the visit mirror from
// the remote store. Failures are reported as feedback and returned for
// logging; the engine stays usable with whatever did load.
func (e *Engine) Start(ctx context.Context) error {
	var errs []error

	cols, err := e.loader.Load(ctx)
	if cols != nil {
		e.mu.Lock()
		e.regions = cols
		e.adapter.SetRegions(cols)
		e.mu.Unlock()
	}
	if err != nil {
		e.notify.Notify(feedback.Error, "Failed to load map data")
		errs = append(errs, err)
	}

	switch err := e.gateway.FetchProgress(ctx); {
	case err == nil:
	case errors.Is(err, gateway.ErrNoCredential):
		e.logger.Info("not signed in, showing an empty map")
	default:
		e.notify.Notify(feedback.Error, "Failed to load your progress")
		errs = append(errs, fmt.Errorf("bootstrap progress: %w", err))
	}
	return errors.Join(errs...)
}

// SignedIn reports whether the engine syncs against a user's progress. A
// viewer without a credential sees an empty map and cannot commit.
func (e *Engine) SignedIn() bool {
	return e.gateway.Authenticated()
}

// Zoom records a zoom event and reports whether the mounted layers changed.
func (e *Engine) Zoom(zoom float64) (layers.Visibility, bool) {
	return e.tracker.SetZoom(zoom)
}

func (e *Engine) Hover(tier region.Tier, name string) (interaction.Hover, error) {
	r, err := e.mounted(tier, name)
	if err != nil {
		return interaction.Hover{}, err
	}
	return e.ctrl.Hover(r), nil
}

func (e *Engine) HoverExit(tier region.Tier, name string) (interaction.Highlight, error) {
	r, err := e.mounted(tier, name)
	if err != nil {
		return interaction.HighlightUnvisited, err
	}
	return e.ctrl.HoverExit(r), nil
}

// Click selects a region on a mounted layer. It reports false for regions
// that are not clickable.
func (e *Engine) Click(tier region.Tier, name string) (bool, error) {
	r, err := e.mounted(tier, name)
	if err != nil {
		return false, err
	}
	return e.ctrl.Click(r), nil
}

// ClickAt hit-tests lon/lat against the tier's layer and clicks the region
// found there.
func (e *Engine) ClickAt(tier region.Tier, lon, lat float64) (region.Region, bool, error) {
	if !e.tracker.Visibility().Shows(tier) {
		return region.Region{}, false, ErrLayerHidden
	}
	e.mu.RLock()
	r, ok := e.regions.RegionAt(tier, lon, lat)
	e.mu.RUnlock()
	if !ok {
		return region.Region{}, false, ErrUnknownRegion
	}
	return r, e.ctrl.Click(r), nil
}

func (e *Engine) Cancel() bool {
	return e.ctrl.Cancel()
}

// Confirm commits the selection awaiting confirmation. The returned channel
// yields the outcome once the commit settled.
func (e *Engine) Confirm() (<-chan interaction.Outcome, error) {
	e.viewMu.Lock()
	view := e.view
	e.viewMu.Unlock()
	return e.ctrl.Confirm(view)
}

func (e *Engine) Selection() interaction.Selection {
	return e.ctrl.State()
}

func (e *Engine) IsVisited(tier region.Tier, name string) bool {
	return e.store.IsVisited(name, tier)
}

func (e *Engine) Layers() []present.Layer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapter.Layers(e.tracker.Zoom())
}

func (e *Engine) HUD() present.HUD {
	return e.adapter.HUD(e.tracker.Zoom())
}

func (e *Engine) Toast() (feedback.Toast, bool) {
	return e.board.Current()
}

// Close detaches the map view: the in-flight commit is cancelled and late
// completions are ignored. The visit mirror and loaded regions survive, so
// the engine can serve the next view without another Start.
func (e *Engine) Close() {
	e.ctrl.Detach()
	e.viewMu.Lock()
	e.cancel()
	e.view, e.cancel = context.WithCancel(context.Background())
	e.viewMu.Unlock()
}

func (e *Engine) mounted(tier region.Tier, name string) (region.Region, error) {
	if !e.tracker.Visibility().Shows(tier) {
		return region.Region{}, ErrLayerHidden
	}
	e.mu.RLock()
	f, ok := e.regions.Lookup(tier, name)
	e.mu.RUnlock()
	if !ok {
		return region.Region{}, fmt.Errorf("%w: %s %q", ErrUnknownRegion, tier, name)
	}
	return f.Region, nil
}
