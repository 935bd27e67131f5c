package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counts sync activity on the client side. A nil *Engine is valid and
// records nothing.
type Engine struct {
	Commits         *prometheus.CounterVec
	Rollbacks       prometheus.Counter
	Refreshes       *prometheus.CounterVec
	RejectedConfirm prometheus.Counter
	Discarded       prometheus.Counter
}

func NewEngine(reg prometheus.Registerer) *Engine {
	factory := promauto.With(reg)
	return &Engine{
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitmap_engine_commits_total",
			Help: "Mark/unmark commits by action and outcome",
		}, []string{"action", "outcome"}),
		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitmap_engine_rollbacks_total",
			Help: "Optimistic changes reverted after a failed commit",
		}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitmap_engine_refreshes_total",
			Help: "Authoritative progress refreshes by outcome",
		}, []string{"outcome"}),
		RejectedConfirm: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitmap_engine_confirm_rejected_total",
			Help: "Confirm actions rejected because a commit was in flight",
		}),
		Discarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "visitmap_engine_stale_completions_total",
			Help: "Completions dropped because the map view was gone",
		}),
	}
}

func (m *Engine) ObserveCommit(action, outcome string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(action, outcome).Inc()
}

func (m *Engine) IncRollback() {
	if m == nil {
		return
	}
	m.Rollbacks.Inc()
}

func (m *Engine) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Engine) IncRejectedConfirm() {
	if m == nil {
		return
	}
	m.RejectedConfirm.Inc()
}

func (m *Engine) IncDiscarded() {
	if m == nil {
		return
	}
	m.Discarded.Inc()
}

// Server counts mutations and cache behaviour on the reference store.
type Server struct {
	Mutations   *prometheus.CounterVec
	CacheLookup *prometheus.CounterVec
}

func NewServer(reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)
	return &Server{
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitmap_api_mutations_total",
			Help: "Mark/unmark requests by action and level",
		}, []string{"action", "level"}),
		CacheLookup: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "visitmap_api_progress_cache_total",
			Help: "Progress cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Server) ObserveMutation(action, level string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(action, level).Inc()
}

func (m *Server) ObserveCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookup.WithLabelValues(result).Inc()
}
