// Package memstore is an in-memory credential and permission store. It
// backs the load generator and the HTTP tests; production wiring uses
// internal/postgres.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
)

// Users implements authcore.UserStore.
type Users struct {
	mu         sync.Mutex
	users      map[string]authcore.User
	byEmail    map[string]string
	byUsername map[string]string
	twoFactor  map[string]authcore.TwoFactorRecord
	backup     map[string]map[string]bool
}

var _ authcore.UserStore = (*Users)(nil)

func NewUsers() *Users {
	return &Users{
		users:      map[string]authcore.User{},
		byEmail:    map[string]string{},
		byUsername: map[string]string{},
		twoFactor:  map[string]authcore.TwoFactorRecord{},
		backup:     map[string]map[string]bool{},
	}
}

func (s *Users) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[in.Email]; ok {
		return authcore.User{}, authcore.ErrUserExists
	}
	if _, ok := s.byUsername[in.Username]; ok {
		return authcore.User{}, authcore.ErrUserExists
	}
	u := authcore.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	s.byUsername[u.Username] = u.ID
	return u, nil
}

func (s *Users) GetUserByEmail(_ context.Context, email string) (authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Users) GetUserByID(_ context.Context, userID string) (authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authcore.User{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (s *Users) update(userID string, fn func(*authcore.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(&u)
	s.users[userID] = u
	return nil
}

func (s *Users) UpdatePassword(_ context.Context, userID, newHash string, history []string, changedAt time.Time) error {
	return s.update(userID, func(u *authcore.User) {
		u.PasswordHash = newHash
		u.PasswordHistory = append([]string(nil), history...)
		u.LastPasswordChange = changedAt
	})
}

func (s *Users) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return s.update(userID, func(u *authcore.User) { u.PasswordHash = newHash })
}

func (s *Users) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	var n int
	err := s.update(userID, func(u *authcore.User) {
		u.FailedLoginAttempts++
		n = u.FailedLoginAttempts
	})
	return n, err
}

func (s *Users) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	return s.update(userID, func(u *authcore.User) { u.LockedUntil = until })
}

func (s *Users) ResetFailedLogins(_ context.Context, userID string) error {
	return s.update(userID, func(u *authcore.User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = time.Time{}
	})
}

func (s *Users) GetTwoFactor(_ context.Context, userID string) (*authcore.TwoFactorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.twoFactor[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Users) SaveTwoFactorSecret(_ context.Context, userID, secret string, codeHashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twoFactor[userID] = authcore.TwoFactorRecord{Secret: secret}
	codes := make(map[string]bool, len(codeHashes))
	for _, h := range codeHashes {
		codes[h] = false
	}
	s.backup[userID] = codes
	return nil
}

func (s *Users) EnableTwoFactor(_ context.Context, userID string) error {
	s.mu.Lock()
	rec, ok := s.twoFactor[userID]
	if !ok {
		s.mu.Unlock()
		return authcore.ErrTwoFactorNotConfigured
	}
	rec.Enabled = true
	s.twoFactor[userID] = rec
	s.mu.Unlock()
	return s.update(userID, func(u *authcore.User) { u.TwoFactorEnabled = true })
}

func (s *Users) DisableTwoFactor(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.twoFactor, userID)
	delete(s.backup, userID)
	s.mu.Unlock()
	return s.update(userID, func(u *authcore.User) { u.TwoFactorEnabled = false })
}

func (s *Users) AdvanceTwoFactorCounter(_ context.Context, userID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.twoFactor[userID]
	if !ok || counter <= rec.LastUsedCounter {
		return false, nil
	}
	rec.LastUsedCounter = counter
	s.twoFactor[userID] = rec
	return true, nil
}

func (s *Users) ConsumeBackupCode(_ context.Context, userID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used, ok := s.backup[userID][codeHash]
	if !ok || used {
		return false, nil
	}
	s.backup[userID][codeHash] = true
	return true, nil
}

// Permissions implements authcore.PermissionSource over snapshots set by
// the caller. Unknown keys resolve to an empty snapshot.
type Permissions struct {
	mu        sync.RWMutex
	snapshots map[string]authcore.PermissionSnapshot
}

var _ authcore.PermissionSource = (*Permissions)(nil)

func NewPermissions() *Permissions {
	return &Permissions{snapshots: map[string]authcore.PermissionSnapshot{}}
}

func permKey(serverID, channelID, userID string) string {
	return serverID + "\x00" + channelID + "\x00" + userID
}

// Set stores the snapshot returned for (serverID, channelID, userID).
func (p *Permissions) Set(serverID, channelID, userID string, snap authcore.PermissionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[permKey(serverID, channelID, userID)] = snap
}

func (p *Permissions) PermissionSnapshot(ctx context.Context, serverID, channelID, userID string) (*authcore.PermissionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	snap := p.snapshots[permKey(serverID, channelID, userID)]
	p.mu.RUnlock()
	return &snap, nil
}
