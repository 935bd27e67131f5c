// Package feedback carries transient user notices (toasts). Only the events
// are modelled here; drawing them is the renderer's business.
package feedback

import (
	"sync"
	"time"
)

// Lifetime is how long a toast stays current unless superseded.
const Lifetime = 3 * time.Second

type Kind string

const (
	Success Kind = "success"
	Error   Kind = "error"
	Info    Kind = "info"
)

type Toast struct {
	Kind     Kind
	Message  string
	PostedAt time.Time
}

func (t Toast) Expired(now time.Time) bool {
	return !now.Before(t.PostedAt.Add(Lifetime))
}

// Sink receives feedback events.
type Sink interface {
	Notify(kind Kind, message string)
}

// Board keeps the single current toast. A newer toast replaces the old one
// immediately.
type Board struct {
	mu      sync.Mutex
	now     func() time.Time
	current *Toast
	posted  int
}

func NewBoard() *Board {
	return &Board{now: time.Now}
}

// NewBoardWithClock is used where tests need to control expiry.
func NewBoardWithClock(now func() time.Time) *Board {
	return &Board{now: now}
}

func (b *Board) Notify(kind Kind, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = &Toast{Kind: kind, Message: message, PostedAt: b.now()}
	b.posted++
}

// Current returns the live toast, if any.
func (b *Board) Current() (Toast, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || b.current.Expired(b.now()) {
		return Toast{}, false
	}
	return *b.current, true
}

// Posted counts every toast ever posted, superseded ones included.
func (b *Board) Posted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.posted
}

// Fanout forwards each event to several sinks.
type Fanout []Sink

func (f Fanout) Notify(kind Kind, message string) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(kind, message)
		}
	}
}
