package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agubarev/bolt/pkg/device"
)

// Identity is what the exporter remembers about a device across exports;
// keys and policies are never part of it
type Identity struct {
	UID       string      `json:"uid"`
	Path      string      `json:"path"`
	Name      string      `json:"name"`
	Vendor    string      `json:"vendor"`
	Type      device.Type `json:"type"`
	FirstSeen time.Time   `json:"first_seen"`
	LastSeen  time.Time   `json:"last_seen"`
}

// Store persists device identities by uid
type Store interface {
	Put(ctx context.Context, id Identity) error
	Get(ctx context.Context, uid string) (Identity, error)
	Delete(ctx context.Context, uid string) error
	List(ctx context.Context) ([]Identity, error)
}

// MemoryStore keeps identities for the lifetime of the process
type MemoryStore struct {
	identities map[string]Identity
	sync.RWMutex
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{identities: make(map[string]Identity)}
}

func (s *MemoryStore) Put(ctx context.Context, id Identity) error {
	if id.UID == "" {
		return ErrEmptyUID
	}

	s.Lock()
	s.identities[id.UID] = id
	s.Unlock()

	return nil
}

func (s *MemoryStore) Get(ctx context.Context, uid string) (Identity, error) {
	s.RLock()
	defer s.RUnlock()

	id, ok := s.identities[uid]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}

	return id, nil
}

func (s *MemoryStore) Delete(ctx context.Context, uid string) error {
	s.Lock()
	delete(s.identities, uid)
	s.Unlock()

	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Identity, error) {
	s.RLock()
	ids := make([]Identity, 0, len(s.identities))
	for _, id := range s.identities {
		ids = append(ids, id)
	}
	s.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].UID < ids[j].UID })

	return ids, nil
}
