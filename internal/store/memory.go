package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sells-group/carrier-cli/internal/model"
)

// MemoryStore implements Store with in-process maps. Data is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	carriers map[string]model.Carrier
	order    []string // MC numbers, oldest first
	users    map[string]model.User
	blocked  map[string]model.BlockedIP
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		carriers: make(map[string]model.Carrier),
		users:    make(map[string]model.User),
		blocked:  make(map[string]model.BlockedIP),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) UpsertCarrier(_ context.Context, c model.Carrier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ScrapedAt.IsZero() {
		c.ScrapedAt = now()
	}
	if _, ok := m.carriers[c.MCNumber]; !ok {
		m.order = append(m.order, c.MCNumber)
	}
	m.carriers[c.MCNumber] = c
	return nil
}

func (m *MemoryStore) ListCarriers(context.Context) ([]model.Carrier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Carrier, 0, len(m.order))
	for _, mc := range slices.Backward(m.order) {
		out = append(out, m.carriers[mc])
	}
	return out, nil
}

func (m *MemoryStore) UpdatePartial(_ context.Context, dot string, patch CarrierPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mc, c := range m.carriers {
		if c.DOTNumber != dot {
			continue
		}
		patch.apply(&c)
		m.carriers[mc] = c
	}
	return nil
}

func (m *MemoryStore) ListUsers(context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b model.User) int { return strings.Compare(a.Email, b.Email) })
	return out, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = model.NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = model.NormalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	u.Email = model.NormalizeEmail(u.Email)
	for id, existing := range m.users {
		if id != u.ID && existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.IsAdmin() {
		return ErrAdminUndeletable
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) ListBlockedIPs(context.Context) ([]model.BlockedIP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.BlockedIP, 0, len(m.blocked))
	for _, b := range m.blocked {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b model.BlockedIP) int { return b.BlockedAt.Compare(a.BlockedAt) })
	return out, nil
}

func (m *MemoryStore) BlockIP(_ context.Context, ip, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[ip] = model.BlockedIP{IP: ip, Reason: blockReason(reason), BlockedAt: now()}
	return nil
}

func (m *MemoryStore) UnblockIP(_ context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[ip]; !ok {
		return ErrNotFound
	}
	delete(m.blocked, ip)
	return nil
}

func (m *MemoryStore) IsIPBlocked(_ context.Context, ip string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocked[ip]
	return ok, nil
}
