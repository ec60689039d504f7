package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s, err := NewSQLiteStore(dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{Email: "alice@example.com", PasswordHash: "hash", Role: RoleUser}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.NotEmpty(t, u.ID)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureDemoUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureDemoUser(ctx, "demo-abc")
	require.NoError(t, err)
	assert.Equal(t, "demo-abc", first.ID)

	second, err := s.EnsureDemoUser(ctx, "demo-abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func newTestFile(s *SQLiteStore, ctx context.Context, t *testing.T, ownerID string) *FileObject {
	t.Helper()
	f := &FileObject{
		OwnerID:             ownerID,
		Bucket:              "uploads",
		ObjectKey:           "key-" + t.Name(),
		OriginalFilename:    "report.pdf",
		DeclaredContentType: "application/pdf",
		ChecksumSHA256:      "deadbeef",
		State:               StateInitiated,
		UploadExpiresAt:     time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, s.CreateFileObject(ctx, f))
	return f
}

func TestCompareAndTransitionHappyPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &User{Email: "bob@example.com", Role: RoleUser}
	require.NoError(t, s.CreateUser(ctx, u))
	f := newTestFile(s, ctx, t, u.ID)

	updated, err := s.CompareAndTransition(ctx, f.ID, StateInitiated, StateScanning, func(row *FileObject) {
		row.ChecksumVerified = true
	})
	require.NoError(t, err)
	assert.Equal(t, StateScanning, updated.State)
	assert.True(t, updated.ChecksumVerified)

	reloaded, err := s.GetFileObject(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScanning, reloaded.State)
}

func TestCompareAndTransitionRejectsStaleState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &User{Email: "carol@example.com", Role: RoleUser}
	require.NoError(t, s.CreateUser(ctx, u))
	f := newTestFile(s, ctx, t, u.ID)

	_, err := s.CompareAndTransition(ctx, f.ID, StateInitiated, StateScanning, func(row *FileObject) {})
	require.NoError(t, err)

	// The row is now SCANNING; attempting the same from-state again must fail.
	_, err = s.CompareAndTransition(ctx, f.ID, StateInitiated, StateScanning, func(row *FileObject) {})
	assert.ErrorIs(t, err, ErrBadState)
}

func TestCompareAndTransitionRejectsIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := &User{Email: "dave@example.com", Role: RoleUser}
	require.NoError(t, s.CreateUser(ctx, u))
	f := newTestFile(s, ctx, t, u.ID)

	_, err := s.CompareAndTransition(ctx, f.ID, StateInitiated, StateActive, func(row *FileObject) {})
	assert.Error(t, err)
}

func TestIncrementUsageIfWithinLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, counter, err := s.IncrementUsageIfWithinLimits(ctx, "owner-1", 1, 1000, 2, 2000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, counter.FilesCount)
	assert.Equal(t, int64(1000), counter.BytesStored)

	ok, counter, err = s.IncrementUsageIfWithinLimits(ctx, "owner-1", 1, 1000, 2, 2000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, counter.FilesCount)

	// A third admission would exceed maxFiles=2; must be rejected without
	// mutating the stored counter.
	ok, counter, err = s.IncrementUsageIfWithinLimits(ctx, "owner-1", 1, 1, 2, 2000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, counter.FilesCount)
}

func TestAppendAuditEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendAuditEvent(ctx, &AuditEvent{
		Action:  ActionFileInit,
		Details: map[string]any{"foo": "bar"},
	})
	assert.NoError(t, err)
}
