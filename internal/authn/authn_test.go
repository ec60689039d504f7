package authn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivaxm/uploadsvc/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m, err := New(s, "test-secret", "HS256")
	require.NoError(t, err)
	return m
}

func TestNewRejectsUnsupportedAlgorithm(t *testing.T) {
	_, err := New(nil, "secret", "RS256")
	assert.Error(t, err)
}

func TestRegisterThenVerify(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Register(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	u, err := m.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "bob@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = m.Register(ctx, "bob@example.com", "different-password")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "carol@example.com", "correct-password")
	require.NoError(t, err)

	_, err = m.Login(ctx, "carol@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Register(ctx, "dave@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = m.Verify(ctx, token+"tampered")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsTokenFromDifferentSecret(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	defer s.Close()

	m1, err := New(s, "secret-one", "")
	require.NoError(t, err)
	m2, err := New(s, "secret-two", "")
	require.NoError(t, err)

	ctx := context.Background()
	token, err := m1.Register(ctx, "erin@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = m2.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
