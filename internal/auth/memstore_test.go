package auth

import (
	"context"
	"sync"
	"time"
)

// In-memory store fakes shared by the engine tests.

type memStore struct {
	mu          sync.Mutex
	identities  map[string]*Identity
	roles       map[string]*Role
	delegations map[string]*Delegation
	tickets     map[string]ResetTicket

	incrementCalls int
	saveCalls      int
}

func newMemStore() *memStore {
	return &memStore{
		identities:  make(map[string]*Identity),
		roles:       make(map[string]*Role),
		delegations: make(map[string]*Delegation),
		tickets:     make(map[string]ResetTicket),
	}
}

func (m *memStore) addIdentity(ident *Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ident
	m.identities[ident.ID] = &cp
}

func (m *memStore) addRole(role *Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *role
	m.roles[role.Code] = &cp
}

func (m *memStore) identity(id string) *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.identities[id]
	return &cp
}

func (m *memStore) FindByID(ctx context.Context, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m *memStore) FindByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ident := range m.identities {
		if NormalizeIdentifier(ident.LoginName) == identifier || NormalizeIdentifier(ident.Email) == identifier {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) IncrementFailedLogin(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return 0, ErrNotFound
	}
	m.incrementCalls++
	ident.FailedLoginCount++
	return ident.FailedLoginCount, nil
}

func (m *memStore) ResetFailedLogin(ctx context.Context, id string, loginAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return ErrNotFound
	}
	ident.FailedLoginCount = 0
	ident.LockUntil = nil
	t := loginAt
	ident.LastLoginAt = &t
	return nil
}

func (m *memStore) Save(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	existing, ok := m.identities[identity.ID]
	if !ok {
		cp := *identity
		m.identities[identity.ID] = &cp
		return nil
	}
	// Save never touches the counter.
	count := existing.FailedLoginCount
	cp := *identity
	cp.FailedLoginCount = count
	m.identities[identity.ID] = &cp
	return nil
}

func (m *memStore) FindRole(ctx context.Context, code string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (m *memStore) CreateDelegation(ctx context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.delegations[d.ID] = &cp
	return nil
}

func (m *memStore) FindDelegation(ctx context.Context, id string) (*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) ActiveByGrantee(ctx context.Context, granteeID string, now time.Time) ([]Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Delegation
	for _, d := range m.delegations {
		if d.GranteeID == granteeID && d.ActiveAt(now) {
			res = append(res, *d)
		}
	}
	return res, nil
}

func (m *memStore) MarkRevoked(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[id]
	if !ok {
		return ErrNotFound
	}
	d.Revoked = true
	return nil
}

func (m *memStore) Put(ctx context.Context, ticket ResetTicket, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[ticket.Token] = ticket
	return nil
}

func (m *memStore) Consume(ctx context.Context, token string) (*ResetTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, ok := m.tickets[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tickets, token)
	return &ticket, nil
}

// recordingSink captures audit events and optionally fails every call.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (s *recordingSink) Record(ctx context.Context, event string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.fail
}

func (s *recordingSink) seen(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

// recordingNotify captures reset link deliveries.
type recordingNotify struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (n *recordingNotify) SendResetLink(ctx context.Context, email, ticketToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	n.tokens = append(n.tokens, ticketToken)
	return nil
}

// fixedClock returns a controllable time source.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
