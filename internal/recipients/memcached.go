package recipients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	listKey     = "typhoon:recipients"
	casAttempts = 5
)

// Client is the subset of *memcache.Client the store needs.
type Client interface {
	Get(key string) (*memcache.Item, error)
	Add(item *memcache.Item) error
	CompareAndSwap(item *memcache.Item) error
	Ping() error
	Close() error
}

// MemcachedStore keeps recipients as one JSON list in memcached so restarts
// and replicas share registrations. Updates use CAS.
type MemcachedStore struct {
	client Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}
}

// NewMemcachedStoreWithClient wraps an existing client.
func NewMemcachedStoreWithClient(c Client) *MemcachedStore {
	return &MemcachedStore{client: c}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemcachedStore) Add(ctx context.Context, id string) (bool, error) {
	id = normalize(id)
	if id == "" {
		return false, nil
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		item, err := s.client.Get(listKey)
		if errors.Is(err, memcache.ErrCacheMiss) {
			raw, _ := json.Marshal([]string{id})
			err = s.client.Add(&memcache.Item{Key: listKey, Value: raw})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			if err != nil {
				return false, fmt.Errorf("add recipient list: %w", err)
			}
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("get recipient list: %w", err)
		}

		ids, err := decode(item.Value)
		if err != nil {
			return false, err
		}
		if contains(ids, id) {
			return false, nil
		}
		item.Value, _ = json.Marshal(append(ids, id))
		err = s.client.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("store recipient list: %w", err)
		}
		return true, nil
	}
	return false, fmt.Errorf("store recipient list: %w after %d attempts", memcache.ErrCASConflict, casAttempts)
}

func (s *MemcachedStore) List(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	item, err := s.client.Get(listKey)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient list: %w", err)
	}
	ids, err := decode(item.Value)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Seed adds each id, ignoring ones already registered.
func (s *MemcachedStore) Seed(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.Add(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}

func decode(raw []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("parse recipient list: %w", err)
	}
	return ids, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
