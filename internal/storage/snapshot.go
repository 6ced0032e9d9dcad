package storage

import (
	"sync/atomic"
	"time"

	"github.com/IshaanNene/medfeed/internal/engine"
	"github.com/IshaanNene/medfeed/internal/types"
)

// Snapshot is the complete outcome of one refresh. It is never modified
// after it is published.
type Snapshot struct {
	Articles    []types.Article     `json:"articles"`
	Failures    []types.SiteFailure `json:"failures"`
	Sites       []engine.SiteReport `json:"sites"`
	RefreshedAt time.Time           `json:"refreshed_at"`
	Duration    time.Duration       `json:"duration"`
}

// FromResult wraps a refresh result as a snapshot stamped with now.
func FromResult(res *engine.Result, now time.Time) *Snapshot {
	snap := &Snapshot{
		Articles:    []types.Article{},
		Failures:    []types.SiteFailure{},
		Sites:       []engine.SiteReport{},
		RefreshedAt: now,
	}
	if res == nil {
		return snap
	}
	if res.Articles != nil {
		snap.Articles = res.Articles
	}
	if res.Failures != nil {
		snap.Failures = res.Failures
	}
	if res.Sites != nil {
		snap.Sites = res.Sites
	}
	snap.Duration = res.Duration
	return snap
}

// SnapshotStore holds the latest snapshot. Readers always see either the
// previous or the next snapshot in full.
type SnapshotStore struct {
	cur atomic.Pointer[Snapshot]
}

// NewSnapshotStore creates a store holding an empty snapshot.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	s.cur.Store(FromResult(nil, time.Time{}))
	return s
}

// Load returns the current snapshot.
func (s *SnapshotStore) Load() *Snapshot {
	return s.cur.Load()
}

// Swap publishes next and returns the snapshot it replaced.
func (s *SnapshotStore) Swap(next *Snapshot) *Snapshot {
	if next == nil {
		next = FromResult(nil, time.Now())
	}
	return s.cur.Swap(next)
}

// Ready reports whether at least one refresh has been published.
func (s *SnapshotStore) Ready() bool {
	return !s.cur.Load().RefreshedAt.IsZero()
}
