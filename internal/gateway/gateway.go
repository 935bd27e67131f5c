// Package gateway turns a confirmed user intent into one call against the
// remote visit store and re-synchronises the local mirror afterwards.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"visitmap/internal/metrics"
	"visitmap/internal/region"
	"visitmap/internal/visit"
)

const (
	progressPath = "/locations/my-map/"
	markPath     = "/locations/mark/"
)

// ErrNoCredential is returned by FetchProgress when there is no bearer
// token. Callers treat it as "nothing visited", not as a failure.
var ErrNoCredential = errors.New("no credential")

// Action is the direction of a commit.
type Action string

const (
	Mark   Action = "mark"
	Unmark Action = "unmark"
)

// ActionFor returns the action that flips a region away from wasVisited.
func ActionFor(wasVisited bool) Action {
	if wasVisited {
		return Unmark
	}
	return Mark
}

// Credentials is the session context threaded into the gateway: where the
// remote store lives and which bearer token to present.
type Credentials struct {
	BaseURL string
	Token   string
}

func (c Credentials) Authenticated() bool {
	return strings.TrimSpace(c.Token) != ""
}

// ProgressSink receives the authoritative visit set after a refresh.
type ProgressSink interface {
	ReplaceAll(visit.Set)
}

// SyncError describes a failed remote call. Status is zero when no HTTP
// response was received.
type SyncError struct {
	Action Action
	Region string
	Status int
	Err    error
}

func (e *SyncError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: remote returned status %d", e.Action, e.Region, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Action, e.Region, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type markRequest struct {
	Name        string  `json:"name"`
	Level       int     `json:"level"`
	Parent      *string `json:"parent"`
	Grandparent *string `json:"grandparent"`
}

type progressResponse struct {
	Countries []string `json:"countries"`
	States    []string `json:"states"`
	Districts []string `json:"districts"`
}

type Gateway struct {
	creds     Credentials
	client    *http.Client
	sink      ProgressSink
	logger    *zap.Logger
	metrics   *metrics.Engine
	tracer    trace.Tracer
	refreshes singleflight.Group

	// seqMu guards commits. A fetch started before the latest confirmed
	// commit may have been served before it, so its result is not installed.
	seqMu   sync.Mutex
	commits uint64
}

// New builds a gateway. A nil client gets a 30s timeout; the client's own
// timeout is the only one applied to remote calls.
func New(creds Credentials, client *http.Client, sink ProgressSink, logger *zap.Logger, m *metrics.Engine) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		creds:   creds,
		client:  client,
		sink:    sink,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("visitmap/gateway"),
	}
}

func (g *Gateway) Authenticated() bool {
	return g.creds.Authenticated()
}

// Commit issues exactly one mark (wasVisited false) or unmark (wasVisited
// true) request for r. On success it refreshes the local mirror from the
// remote store; a failed refresh is logged and does not fail the commit.
// On failure nothing local is touched.
func (g *Gateway) Commit(ctx context.Context, r region.Region, wasVisited bool) error {
	action := ActionFor(wasVisited)
	ctx, span := g.tracer.Start(ctx, "gateway.Commit", trace.WithAttributes(
		attribute.String("visit.action", string(action)),
		attribute.String("region.name", r.Name),
		attribute.Int("region.level", r.Tier.Level()),
	))
	defer span.End()

	if err := g.send(ctx, r, action); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		g.metrics.ObserveCommit(string(action), "failure")
		g.logger.Warn("commit failed",
			zap.String("action", string(action)),
			zap.Stringer("region", r),
			zap.Error(err))
		return err
	}
	g.metrics.ObserveCommit(string(action), "success")
	g.logger.Info("commit confirmed", zap.String("action", string(action)), zap.Stringer("region", r))

	g.seqMu.Lock()
	g.commits++
	g.seqMu.Unlock()

	if err := g.FetchProgress(ctx); err != nil {
		// The mutation stood; bubbled ancestors show up on the next refresh.
		g.logger.Warn("refresh after commit failed", zap.Stringer("region", r), zap.Error(err))
	}
	return nil
}

func (g *Gateway) send(ctx context.Context, r region.Region, action Action) error {
	payload, err := json.Marshal(markRequest{
		Name:        r.Name,
		Level:       r.Tier.Level(),
		Parent:      r.Parent(),
		Grandparent: r.Grandparent(),
	})
	if err != nil {
		return &SyncError{Action: action, Region: r.Name, Err: fmt.Errorf("encode payload: %w", err)}
	}

	method := http.MethodPost
	if action == Unmark {
		method = http.MethodDelete
	}
	req, err := g.newRequest(ctx, method, markPath, bytes.NewReader(payload))
	if err != nil {
		return &SyncError{Action: action, Region: r.Name, Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &SyncError{Action: action, Region: r.Name, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SyncError{Action: action, Region: r.Name, Status: resp.StatusCode}
	}
	return nil
}

// FetchProgress asks the remote store for the complete visit set and installs
// it in the sink. Without a credential it does nothing and returns
// ErrNoCredential. A response that arrives after ctx is done is dropped, as
// is one from a request that started before a commit confirmed since.
//
// Concurrent callers that started after the same commit share one request.
// That request is detached from any single caller's ctx so one caller giving
// up does not fail the others.
func (g *Gateway) FetchProgress(ctx context.Context) error {
	if !g.creds.Authenticated() {
		g.logger.Debug("skipping progress fetch without credential")
		return ErrNoCredential
	}
	ctx, span := g.tracer.Start(ctx, "gateway.FetchProgress")
	defer span.End()

	seq := g.commitSeq()
	detached := context.WithoutCancel(ctx)
	results := g.refreshes.DoChan("progress@"+strconv.FormatUint(seq, 10), func() (any, error) {
		return g.fetchProgress(detached)
	})

	var res singleflight.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		g.metrics.ObserveRefresh("discarded")
		return ctx.Err()
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "fetch progress failed")
		g.metrics.ObserveRefresh("failure")
		return res.Err
	}
	if ctx.Err() != nil {
		g.metrics.ObserveRefresh("discarded")
		return ctx.Err()
	}

	set := res.Val.(visit.Set)
	if !g.install(seq, set) {
		g.metrics.ObserveRefresh("stale")
		g.logger.Debug("dropping progress fetched before a later commit", zap.Uint64("seq", seq))
		return nil
	}
	g.metrics.ObserveRefresh("success")
	g.logger.Debug("progress refreshed",
		zap.Bool("shared", res.Shared),
		zap.Int("countries", set.Len(region.Country)),
		zap.Int("states", set.Len(region.State)),
		zap.Int("districts", set.Len(region.District)))
	return nil
}

func (g *Gateway) commitSeq() uint64 {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	return g.commits
}

// install hands set to the sink unless a commit confirmed after the fetch
// for seq began. The check and the hand-off happen under seqMu so a commit
// cannot slip in between them.
func (g *Gateway) install(seq uint64, set visit.Set) bool {
	g.seqMu.Lock()
	defer g.seqMu.Unlock()
	if seq != g.commits {
		return false
	}
	if g.sink != nil {
		g.sink.ReplaceAll(set)
	}
	return true
}

func (g *Gateway) fetchProgress(ctx context.Context) (visit.Set, error) {
	req, err := g.newRequest(ctx, http.MethodGet, progressPath, nil)
	if err != nil {
		return visit.Set{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return visit.Set{}, fmt.Errorf("fetch progress: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return visit.Set{}, fmt.Errorf("fetch progress: remote returned status %d", resp.StatusCode)
	}
	var body progressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return visit.Set{}, fmt.Errorf("decode progress: %w", err)
	}
	return visit.NewSet(body.Countries, body.States, body.Districts), nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(g.creds.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.creds.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(g.creds.Token))
	}
	return req, nil
}
