// Package authn handles account registration, login and bearer-token
// verification. Passwords are hashed with bcrypt; bearer tokens are real
// signed JWTs (golang-jwt/v5) rather than a hand-rolled scheme.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/shivaxm/uploadsvc/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrEmailTaken         = errors.New("email already registered")
)

// Claims is the JWT payload issued on register/login.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

const tokenTTL = 24 * time.Hour

// Manager issues and verifies bearer tokens against the user store.
type Manager struct {
	store     store.Store
	secret    []byte
	algorithm string
}

// New builds a Manager. algorithm is validated against the one
// signing method this service supports (HS256); anything else is a
// configuration error caught at startup, not at request time.
func New(s store.Store, secret, algorithm string) (*Manager, error) {
	if algorithm != "" && algorithm != "HS256" {
		return nil, fmt.Errorf("unsupported JWT algorithm %q: only HS256 is implemented", algorithm)
	}
	return &Manager{store: s, secret: []byte(secret), algorithm: "HS256"}, nil
}

// Register creates a new user with a bcrypt-hashed password and returns
// a signed bearer token for it.
func (m *Manager) Register(ctx context.Context, email, password string) (string, error) {
	if _, err := m.store.GetUserByEmail(ctx, email); err == nil {
		return "", ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u := &store.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         store.RoleUser,
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	return m.issueToken(u)
}

// Login verifies email/password and returns a signed bearer token.
func (m *Manager) Login(ctx context.Context, email, password string) (string, error) {
	u, err := m.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return m.issueToken(u)
}

func (m *Manager) issueToken(u *store.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Subject:   u.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning the resolved
// user. An expired or tampered token yields ErrInvalidToken; a
// well-formed token naming a user that no longer exists also does,
// since the caller cannot be authenticated as a phantom identity.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*store.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	u, err := m.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load user for token: %w", err)
	}
	return u, nil
}
