package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

type memUserStore struct {
	mu         sync.Mutex
	nextID     int
	users      map[string]User
	byEmail    map[string]string
	byUsername map[string]string
	twoFactor  map[string]TwoFactorRecord
	backup     map[string]map[string]bool

	failGetByEmail error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:      map[string]User{},
		byEmail:    map[string]string{},
		byUsername: map[string]string{},
		twoFactor:  map[string]TwoFactorRecord{},
		backup:     map[string]map[string]bool{},
	}
}

func (m *memUserStore) CreateUser(_ context.Context, in CreateUserInput) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[in.Email]; ok {
		return User{}, ErrUserExists
	}
	if _, ok := m.byUsername[in.Username]; ok {
		return User{}, ErrUserExists
	}
	m.nextID++
	u := User{
		ID:           "user-" + strconv.Itoa(m.nextID),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	m.byUsername[u.Username] = u.ID
	return u, nil
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetByEmail != nil {
		return User{}, m.failGetByEmail
	}
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *memUserStore) GetUserByID(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUserStore) update(userID string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(&u)
	m.users[userID] = u
	return nil
}

func (m *memUserStore) UpdatePassword(_ context.Context, userID, newHash string, history []string, changedAt time.Time) error {
	return m.update(userID, func(u *User) {
		u.PasswordHash = newHash
		u.PasswordHistory = append([]string(nil), history...)
		u.LastPasswordChange = changedAt
	})
}

func (m *memUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return m.update(userID, func(u *User) { u.PasswordHash = newHash })
}

func (m *memUserStore) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	var n int
	err := m.update(userID, func(u *User) {
		u.FailedLoginAttempts++
		n = u.FailedLoginAttempts
	})
	return n, err
}

func (m *memUserStore) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	return m.update(userID, func(u *User) { u.LockedUntil = until })
}

func (m *memUserStore) ResetFailedLogins(_ context.Context, userID string) error {
	return m.update(userID, func(u *User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = time.Time{}
	})
}

func (m *memUserStore) GetTwoFactor(_ context.Context, userID string) (*TwoFactorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.twoFactor[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memUserStore) SaveTwoFactorSecret(_ context.Context, userID, secret string, codeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.twoFactor[userID] = TwoFactorRecord{Secret: secret}
	codes := make(map[string]bool, len(codeHashes))
	for _, h := range codeHashes {
		codes[h] = false
	}
	m.backup[userID] = codes
	return nil
}

func (m *memUserStore) EnableTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	rec := m.twoFactor[userID]
	rec.Enabled = true
	m.twoFactor[userID] = rec
	m.mu.Unlock()
	return m.update(userID, func(u *User) { u.TwoFactorEnabled = true })
}

func (m *memUserStore) DisableTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.twoFactor, userID)
	delete(m.backup, userID)
	m.mu.Unlock()
	return m.update(userID, func(u *User) { u.TwoFactorEnabled = false })
}

func (m *memUserStore) AdvanceTwoFactorCounter(_ context.Context, userID string, counter int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.twoFactor[userID]
	if !ok || counter <= rec.LastUsedCounter {
		return false, nil
	}
	rec.LastUsedCounter = counter
	m.twoFactor[userID] = rec
	return true, nil
}

func (m *memUserStore) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used, ok := m.backup[userID][codeHash]
	if !ok || used {
		return false, nil
	}
	m.backup[userID][codeHash] = true
	return true, nil
}

func (m *memUserStore) user(t *testing.T, id string) User {
	t.Helper()
	u, err := m.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

type memPermissions struct {
	mu        sync.Mutex
	snapshots map[string]*PermissionSnapshot
	delay     time.Duration
	calls     int
}

func newMemPermissions() *memPermissions {
	return &memPermissions{snapshots: map[string]*PermissionSnapshot{}}
}

func (p *memPermissions) set(serverID, channelID, userID string, snap *PermissionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[serverID+"|"+channelID+"|"+userID] = snap
}

func (p *memPermissions) PermissionSnapshot(ctx context.Context, serverID, channelID, userID string) (*PermissionSnapshot, error) {
	p.mu.Lock()
	p.calls++
	snap := p.snapshots[serverID+"|"+channelID+"|"+userID]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if snap == nil {
		return &PermissionSnapshot{}, nil
	}
	return snap, nil
}

type capturedReset struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *capturedReset) SendPasswordReset(_ context.Context, user PublicUser, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = map[string]string{}
	}
	c.tokens[user.ID] = token
	return nil
}

func (c *capturedReset) token(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[userID]
}

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Permission.CacheEnabled = false
	cfg.RateLimit.Enabled = false
	return cfg
}

type testHarness struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	users    *memUserStore
	perms    *memPermissions
	notifier *capturedReset
}

func newTestHarness(t testing.TB, mutate func(*Config)) *testHarness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	h := &testHarness{
		mr:       mr,
		rdb:      rdb,
		users:    newMemUserStore(),
		perms:    newMemPermissions(),
		notifier: &capturedReset{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(h.users).
		WithPermissionSource(h.perms).
		WithResetNotifier(h.notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

// register creates a user through the public flow and returns its ID and
// first token pair.
func (h *testHarness) register(t *testing.T, email, username string) (string, *TokenPair) {
	t.Helper()
	res, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:         email,
		Username:      username,
		Password:      testPassword,
		TermsAccepted: true,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res.User.ID, res.Tokens
}

func role(id string, position int, perms ...permission.Mask) permission.Role {
	return permission.Role{ID: id, Position: position, Permissions: permission.Of(perms...)}
}

func bcryptHash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	return string(hash), err
}
