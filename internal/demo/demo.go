// Package demo implements the anonymous demo-session cookie: an
// HMAC-signed opaque token that lets unauthenticated visitors try the
// upload flow without registering, backed by a dedicated demo user row
// created on first use.
package demo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shivaxm/uploadsvc/internal/store"
)

// CookieName is the name of the demo-session cookie.
const CookieName = "demo"

// TTL is the cookie's validity window, spec.md §4.8.
const TTL = 2 * time.Hour

var (
	ErrInvalidCookie = errors.New("invalid demo cookie")
	ErrExpired       = errors.New("demo cookie expired")
)

// Manager issues and verifies demo cookies and provisions the backing
// user row on first use.
type Manager struct {
	store  store.Store
	secret []byte
}

// New builds a Manager signing with secret.
func New(s store.Store, secret string) *Manager {
	return &Manager{store: s, secret: []byte(secret)}
}

// Issue mints a new demo id and its signed cookie value.
func (m *Manager) Issue() (demoID, cookieValue string) {
	demoID = uuid.NewString()
	issuedAt := time.Now().UTC().Unix()
	return demoID, m.sign(demoID, issuedAt, int64(TTL.Seconds()))
}

func (m *Manager) sign(demoID string, issuedAt, ttl int64) string {
	payload := fmt.Sprintf("%s.%d.%d", demoID, issuedAt, ttl)
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(payload + "." + sig))
}

// Verify decodes and checks a cookie value, returning the demo id if the
// HMAC matches (compared in constant time, per spec.md testable property
// 7) and the token has not expired.
func (m *Manager) Verify(cookieValue string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(cookieValue)
	if err != nil {
		return "", ErrInvalidCookie
	}

	parts := strings.SplitN(string(decoded), ".", 4)
	if len(parts) != 4 {
		return "", ErrInvalidCookie
	}
	demoID, issuedAtStr, ttlStr, sigHex := parts[0], parts[1], parts[2], parts[3]

	issuedAt, err := strconv.ParseInt(issuedAtStr, 10, 64)
	if err != nil {
		return "", ErrInvalidCookie
	}
	ttl, err := strconv.ParseInt(ttlStr, 10, 64)
	if err != nil {
		return "", ErrInvalidCookie
	}

	expected := m.sign(demoID, issuedAt, ttl)
	expectedDecoded, _ := base64.URLEncoding.DecodeString(expected)
	expectedParts := strings.SplitN(string(expectedDecoded), ".", 4)
	if len(expectedParts) != 4 {
		return "", ErrInvalidCookie
	}

	if !hmac.Equal([]byte(sigHex), []byte(expectedParts[3])) {
		return "", ErrInvalidCookie
	}

	if time.Now().UTC().Unix() > issuedAt+ttl {
		return "", ErrExpired
	}

	return demoID, nil
}

// EnsureUser provisions the demo user row on first use (spec.md §3
// invariant 4: demo_id equals the demo user's id).
//
// TODO: demo users and their file rows/objects are never purged once
// the cookie expires.
func (m *Manager) EnsureUser(ctx context.Context, demoID string) (*store.User, error) {
	return m.store.EnsureDemoUser(ctx, demoID)
}
