package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type SessionID [16]byte

const (
	resetTokenRawSize = 48
	resetSecretSize   = 32

	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewTokenID returns a random UUIDv4 used as a JWT jti.
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func NewResetSecret() ([resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashResetSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func EncodeResetToken(resetID string, secret [resetSecretSize]byte) (string, error) {
	rid, err := ParseSessionID(resetID)
	if err != nil {
		return "", err
	}

	var raw [resetTokenRawSize]byte
	copy(raw[:len(rid)], rid[:])
	copy(raw[len(rid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeResetToken(token string) (string, [resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != resetTokenRawSize {
		return "", secret, errors.New("invalid reset token size")
	}

	var rid SessionID
	copy(rid[:], raw[:len(rid)])
	copy(secret[:], raw[len(rid):])

	return rid.String(), secret, nil
}

// NewBackupCode returns a single-use recovery code formatted XXXXX-XXXXX.
func NewBackupCode() (string, error) {
	var raw [backupCodeLength]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(backupCodeLength + 1)
	for i, v := range raw {
		if i == backupCodeLength/2 {
			b.WriteByte('-')
		}
		// 256 is a multiple of len(alphabet), so the modulo is unbiased.
		b.WriteByte(backupCodeAlphabet[int(v)%len(backupCodeAlphabet)])
	}
	return b.String(), nil
}

// CanonicalBackupCode strips separators and whitespace and uppercases the
// input. It returns "" when the result is not a well-formed code.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	b.Grow(backupCodeLength)
	for _, r := range strings.ToUpper(code) {
		switch {
		case r == '-' || r == ' ':
			continue
		case strings.ContainsRune(backupCodeAlphabet, r):
			b.WriteRune(r)
		default:
			return ""
		}
	}
	if b.Len() != backupCodeLength {
		return ""
	}
	return b.String()
}

// HashBackupCode binds a canonical code to its owner so equal codes for
// different users never share a digest.
func HashBackupCode(userID, canonical string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + canonical))
	return hex.EncodeToString(sum[:])
}
