package admission

import (
	"context"
	"fmt"
	"sync"
)

// MemoryInviteStore is an in-memory InviteStore, the default for single-node
// deployments and tests. A persistent deployment swaps in a database-backed
// implementation without the Gate noticing the difference.
type MemoryInviteStore struct {
	mu      sync.Mutex
	invites map[string]Invite
}

// NewMemoryInviteStore creates an empty invite store.
func NewMemoryInviteStore() *MemoryInviteStore {
	return &MemoryInviteStore{invites: make(map[string]Invite)}
}

// Add registers a new invite code.
func (s *MemoryInviteStore) Add(inv Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.Code] = inv
}

func (s *MemoryInviteStore) Lookup(_ context.Context, code string) (Invite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	return inv, ok, nil
}

func (s *MemoryInviteStore) Redeem(_ context.Context, code, peerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok {
		return fmt.Errorf("admission: unknown invite code %q", code)
	}
	inv.UsedBy = append(inv.UsedBy, peerKey)
	s.invites[code] = inv
	return nil
}
