package main

import (
	"context"
	"sync"
	"time"
)

// Store is the credential store: users and the API tokens they own. Lookup
// misses surface as errNotFound and uniqueness violations as errConflict, so
// callers never inspect driver errors. Every call is bounded by the request
// context.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string, role Role) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUserRole(ctx context.Context, id int64, role Role) (*User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) (*User, error)

	CreateAPIToken(ctx context.Context, ownerID int64, name, token string, expiresAt time.Time) (*APIToken, error)
	GetAPITokenByID(ctx context.Context, id int64) (*APIToken, error)
	GetAPITokenByValue(ctx context.Context, token string) (*APIToken, error)
	ListAPITokens(ctx context.Context) ([]*APIToken, error)
	DeleteAPIToken(ctx context.Context, id int64) (*APIToken, error)
}

// MemDB is an in-memory Store for tests and local development. A single mutex
// guards both tables; each method is one atomic read-modify-write, matching
// the transactional guarantees the SQL adapters get from their database.
type MemDB struct {
	mu       sync.Mutex
	users    map[int64]*User
	tokens   map[int64]*APIToken
	userSeq  int64
	tokenSeq int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{users: map[int64]*User{}, tokens: map[int64]*APIToken{}}
}

func (m *MemDB) CreateUser(ctx context.Context, email, passwordHash string, role Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, errConflict
		}
	}
	m.userSeq++
	u := &User{ID: m.userSeq, Email: email, PasswordHash: passwordHash, Role: role, CreatedAt: time.Now()}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *MemDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemDB) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	return users, nil
}

func (m *MemDB) UpdateUserRole(ctx context.Context, id int64, role Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errNotFound
	}
	u.Role = role
	cp := *u
	return &cp, nil
}

func (m *MemDB) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return errNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *MemDB) DeleteUser(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, errNotFound
	}
	delete(m.users, id)
	for tid, t := range m.tokens {
		if t.OwnerID == id {
			delete(m.tokens, tid)
		}
	}
	return u, nil
}

func (m *MemDB) CreateAPIToken(ctx context.Context, ownerID int64, name, token string, expiresAt time.Time) (*APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[ownerID]; !ok {
		return nil, errNotFound
	}
	for _, t := range m.tokens {
		if t.Token == token {
			return nil, errConflict
		}
	}
	m.tokenSeq++
	t := &APIToken{ID: m.tokenSeq, Name: name, Token: token, ExpiresAt: expiresAt, OwnerID: ownerID, CreatedAt: time.Now()}
	m.tokens[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *MemDB) GetAPITokenByID(ctx context.Context, id int64) (*APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemDB) GetAPITokenByValue(ctx context.Context, token string) (*APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (m *MemDB) ListAPITokens(ctx context.Context) ([]*APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tokens := make([]*APIToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		cp := *t
		tokens = append(tokens, &cp)
	}
	return tokens, nil
}

func (m *MemDB) DeleteAPIToken(ctx context.Context, id int64) (*APIToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, errNotFound
	}
	delete(m.tokens, id)
	cp := *t
	return &cp, nil
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }
