package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ratedesk.org/internal/auth"
)

// fakeStore backs all engine interfaces for handler tests.
type fakeStore struct {
	mu          sync.Mutex
	identities  map[string]*auth.Identity
	roles       map[string]*auth.Role
	delegations map[string]*auth.Delegation
	tickets     map[string]auth.ResetTicket
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		identities:  make(map[string]*auth.Identity),
		roles:       make(map[string]*auth.Role),
		delegations: make(map[string]*auth.Delegation),
		tickets:     make(map[string]auth.ResetTicket),
	}
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (f *fakeStore) FindByIdentifier(ctx context.Context, identifier string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range f.identities {
		if auth.NormalizeIdentifier(ident.LoginName) == identifier || auth.NormalizeIdentifier(ident.Email) == identifier {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeStore) IncrementFailedLogin(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return 0, auth.ErrNotFound
	}
	ident.FailedLoginCount++
	return ident.FailedLoginCount, nil
}

func (f *fakeStore) ResetFailedLogin(ctx context.Context, id string, loginAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[id]
	if !ok {
		return auth.ErrNotFound
	}
	ident.FailedLoginCount = 0
	ident.LockUntil = nil
	t := loginAt
	ident.LastLoginAt = &t
	return nil
}

func (f *fakeStore) Save(ctx context.Context, identity *auth.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *identity
	if existing, ok := f.identities[identity.ID]; ok {
		cp.FailedLoginCount = existing.FailedLoginCount
	}
	f.identities[identity.ID] = &cp
	return nil
}

func (f *fakeStore) FindRole(ctx context.Context, code string) (*auth.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[code]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (f *fakeStore) CreateDelegation(ctx context.Context, d *auth.Delegation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.delegations[d.ID] = &cp
	return nil
}

func (f *fakeStore) FindDelegation(ctx context.Context, id string) (*auth.Delegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.delegations[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) ActiveByGrantee(ctx context.Context, granteeID string, now time.Time) ([]auth.Delegation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []auth.Delegation
	for _, d := range f.delegations {
		if d.GranteeID == granteeID && d.ActiveAt(now) {
			res = append(res, *d)
		}
	}
	return res, nil
}

func (f *fakeStore) MarkRevoked(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.delegations[id]
	if !ok {
		return auth.ErrNotFound
	}
	d.Revoked = true
	return nil
}

func (f *fakeStore) Put(ctx context.Context, ticket auth.ResetTicket, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[ticket.Token] = ticket
	return nil
}

func (f *fakeStore) Consume(ctx context.Context, token string) (*auth.ResetTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ticket, ok := f.tickets[token]
	if !ok {
		return nil, auth.ErrNotFound
	}
	delete(f.tickets, token)
	return &ticket, nil
}

// captureNotify records reset tokens handed to the notification collaborator.
type captureNotify struct {
	mu     sync.Mutex
	tokens []string
}

func (n *captureNotify) SendResetLink(ctx context.Context, email, ticketToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens = append(n.tokens, ticketToken)
	return nil
}

func (n *captureNotify) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.tokens) == 0 {
		return ""
	}
	return n.tokens[len(n.tokens)-1]
}

type testEnv struct {
	api    *API
	store  *fakeStore
	notify *captureNotify
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	notify := &captureNotify{}
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	validator, err := auth.NewCredentialValidator(store, hasher,
		auth.WithLockoutThreshold(5),
		auth.WithLockoutWindow(15*time.Minute),
	)
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(store, []byte("httpapi-test-secret"))
	require.NoError(t, err)

	resolver, err := auth.NewPermissionResolver(store, store, store)
	require.NoError(t, err)

	delegations, err := auth.NewDelegationManager(store, resolver)
	require.NoError(t, err)

	reset, err := auth.NewPasswordResetFlow(store, store, hasher, notify)
	require.NoError(t, err)

	api := New(Config{
		Version:     "test",
		Identities:  store,
		Validator:   validator,
		Tokens:      tokens,
		Resolver:    resolver,
		Delegations: delegations,
		Reset:       reset,
	})
	return &testEnv{api: api, store: store, notify: notify}
}

// seedIdentity registers an identity with the given role and password.
func (e *testEnv) seedIdentity(t *testing.T, id, login, email, password, roleCode string) {
	t.Helper()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	e.store.identities[id] = &auth.Identity{
		ID: id, LoginName: login, Email: email,
		CredentialHash: hash, RoleCode: roleCode, Active: true,
	}
}

func (e *testEnv) seedRole(code string, level int, rules ...auth.PermissionRule) {
	e.store.roles[code] = &auth.Role{Code: code, Level: level, Permissions: rules}
}
