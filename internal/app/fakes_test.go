package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"visitmap/internal/cache"
	"visitmap/internal/store"
)

type visitRow struct {
	name        string
	level       int
	parent      string
	grandparent string
}

type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	revoked       map[string]time.Time
	visits        map[string][]visitRow
	versions      map[string]int64
	progressCalls int
	pingErr       error
	// duringProgress runs inside VersionedProgress after the rows were read
	// and before they are returned, outside the lock.
	duringProgress func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]store.User),
		revoked: make(map[string]time.Time),
		visits:   make(map[string][]visitRow),
		versions: make(map[string]int64),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return store.User{}, store.ErrConflict
		}
	}
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeStore) VersionedProgress(_ context.Context, userID string) (store.Progress, int64, error) {
	f.mu.Lock()
	f.progressCalls++
	p := store.EmptyProgress()
	for _, row := range f.visits[userID] {
		switch row.level {
		case store.LevelCountry:
			p.Countries = append(p.Countries, row.name)
		case store.LevelState:
			p.States = append(p.States, row.name)
		case store.LevelDistrict:
			p.Districts = append(p.Districts, row.name)
		}
	}
	version := f.versions[userID]
	hook := f.duringProgress
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	sort.Strings(p.Countries)
	sort.Strings(p.States)
	sort.Strings(p.Districts)
	return p, version, nil
}

func (f *fakeStore) ProgressVersion(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return 0, store.ErrNotFound
	}
	return f.versions[userID], nil
}

func toRow(m store.Mark) visitRow {
	row := visitRow{name: m.Name, level: m.Level}
	if m.Parent != nil {
		row.parent = *m.Parent
	}
	if m.Grandparent != nil {
		row.grandparent = *m.Grandparent
	}
	return row
}

func (f *fakeStore) insert(userID string, row visitRow) bool {
	for _, existing := range f.visits[userID] {
		if existing.name == row.name && existing.level == row.level && existing.parent == row.parent {
			return false
		}
	}
	f.visits[userID] = append(f.visits[userID], row)
	return true
}

func (f *fakeStore) MarkVisited(_ context.Context, userID string, m store.Mark) (store.MarkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := store.MarkResult{Created: f.insert(userID, toRow(m))}
	for _, a := range m.Ancestors() {
		if f.insert(userID, toRow(a)) {
			res.Bubbled++
		}
	}
	if res.Created || res.Bubbled > 0 {
		f.versions[userID]++
	}
	return res, nil
}

func (f *fakeStore) UnmarkVisited(_ context.Context, userID string, m store.Mark) (store.UnmarkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := toRow(m)
	var res store.UnmarkResult
	kept := f.visits[userID][:0]
	for _, row := range f.visits[userID] {
		switch {
		case row.name == target.name && row.level == target.level:
			res.Removed = true
		case target.level == store.LevelCountry && row.level == store.LevelState && row.parent == target.name,
			target.level == store.LevelCountry && row.level == store.LevelDistrict && row.grandparent == target.name,
			target.level == store.LevelState && row.level == store.LevelDistrict && row.parent == target.name:
			res.Cascaded++
		default:
			kept = append(kept, row)
		}
	}
	f.visits[userID] = kept
	if res.Removed || res.Cascaded > 0 {
		f.versions[userID]++
	}
	return res, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) progressReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progressCalls
}

type cachedEntry struct {
	version  int64
	progress store.Progress
}

type fakeCache struct {
	mu            sync.Mutex
	entries       map[string]cachedEntry
	err           error
	invalidateErr error
	invalidated   []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cachedEntry)}
}

func (c *fakeCache) Get(_ context.Context, userID string) (store.Progress, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return store.Progress{}, 0, c.err
	}
	e, ok := c.entries[userID]
	if !ok {
		return store.Progress{}, 0, cache.ErrMiss
	}
	return e.progress, e.version, nil
}

func (c *fakeCache) Set(_ context.Context, userID string, version int64, p store.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[userID] = cachedEntry{version: version, progress: p}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, userID)
	if c.err != nil {
		return c.err
	}
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	delete(c.entries, userID)
	return nil
}

var errRedisDown = errors.New("redis down")
