// Package recipients keeps the set of LINE users and groups that receive
// status-change pushes.
package recipients

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store registers and lists push recipients. Add reports whether id was new.
type Store interface {
	Add(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore keeps recipients for the life of the process. Safe for concurrent use.
type InMemoryStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewInMemoryStore returns a store seeded with ids.
func NewInMemoryStore(ids ...string) *InMemoryStore {
	s := &InMemoryStore{ids: make(map[string]struct{})}
	for _, id := range ids {
		if id = normalize(id); id != "" {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

func (s *InMemoryStore) Add(ctx context.Context, id string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	id = normalize(id)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}
	return true, nil
}

// List returns recipients in sorted order.
func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func normalize(id string) string {
	return strings.TrimSpace(id)
}
