package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on top of modernc.org/sqlite, matching the
// embedded-SQLite pattern used for the audit log and auth stores in the
// teacher codebase.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger

	// ownerLocks provides the per-owner serial section spec.md §4.5 and §5
	// require for quota admission: one mutex per owner id, created lazily,
	// eliminating the lost-update race between two concurrent
	// SCANNING->ACTIVE transitions for the same owner. SQLite's own
	// single-writer semantics (enforced below via a single open
	// connection) back this up at the storage layer.
	ownerLocks sync.Map // map[string]*sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at dsn
// and initializes its schema.
func NewSQLiteStore(dsn string, logger *logrus.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	// A single writer connection avoids SQLITE_BUSY under concurrent
	// transactions and makes the per-owner quota section trivially
	// serializable; reads are cheap enough not to need a separate pool.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init metadata schema: %w", err)
	}

	logger.Info("metadata SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_objects (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		demo_id TEXT,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		declared_content_type TEXT NOT NULL,
		checksum_sha256 TEXT NOT NULL,
		checksum_verified INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER,
		sniffed_content_type TEXT,
		state TEXT NOT NULL,
		upload_expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(bucket, object_key)
	);
	CREATE INDEX IF NOT EXISTS idx_file_objects_owner_created ON file_objects(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_user_id TEXT,
		action TEXT NOT NULL,
		file_id TEXT,
		ip TEXT,
		user_agent TEXT,
		details TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_file_id ON audit_events(file_id);

	CREATE TABLE IF NOT EXISTS usage_counters (
		owner_id TEXT PRIMARY KEY,
		files_count INTEGER NOT NULL DEFAULT 0,
		bytes_stored INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---- Users ----

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// EnsureDemoUser creates the auto-provisioned demo user on first use, per
// spec.md §3 invariant 4 (demo_id equals the demo user's id).
func (s *SQLiteStore) EnsureDemoUser(ctx context.Context, demoID string) (*User, error) {
	if u, err := s.GetUser(ctx, demoID); err == nil {
		return u, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	u := &User{
		ID:        demoID,
		Email:     fmt.Sprintf("demo-%s@example.invalid", demoID),
		Role:      RoleUser,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, "", string(u.Role), u.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("ensure demo user: %w", err)
	}
	return s.GetUser(ctx, demoID)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = UserRole(role)
	return &u, nil
}

// ---- File objects ----

func (s *SQLiteStore) CreateFileObject(ctx context.Context, f *FileObject) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_objects (
			id, owner_id, demo_id, bucket, object_key, original_filename,
			declared_content_type, checksum_sha256, checksum_verified,
			size_bytes, sniffed_content_type, state, upload_expires_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.DemoID, f.Bucket, f.ObjectKey, f.OriginalFilename,
		f.DeclaredContentType, f.ChecksumSHA256, f.ChecksumVerified,
		f.SizeBytes, f.SniffedContentType, string(f.State), f.UploadExpiresAt,
		f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create file object: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFileObject(ctx context.Context, id string) (*FileObject, error) {
	row := s.db.QueryRowContext(ctx, fileObjectSelect+` WHERE id = ?`, id)
	return scanFileObject(row)
}

func (s *SQLiteStore) ListFileObjectsByOwner(ctx context.Context, ownerID string) ([]*FileObject, error) {
	rows, err := s.db.QueryContext(ctx, fileObjectSelect+` WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list file objects: %w", err)
	}
	defer rows.Close()

	var out []*FileObject
	for rows.Next() {
		f, err := scanFileObjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const fileObjectSelect = `SELECT
	id, owner_id, demo_id, bucket, object_key, original_filename,
	declared_content_type, checksum_sha256, checksum_verified,
	size_bytes, sniffed_content_type, state, upload_expires_at,
	created_at, updated_at
FROM file_objects`

type scanner interface {
	Scan(dest ...any) error
}

func scanFileObjectRow(sc scanner) (*FileObject, error) {
	var f FileObject
	var state string
	if err := sc.Scan(
		&f.ID, &f.OwnerID, &f.DemoID, &f.Bucket, &f.ObjectKey, &f.OriginalFilename,
		&f.DeclaredContentType, &f.ChecksumSHA256, &f.ChecksumVerified,
		&f.SizeBytes, &f.SniffedContentType, &state, &f.UploadExpiresAt,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.State = FileState(state)
	return &f, nil
}

func scanFileObject(row *sql.Row) (*FileObject, error)      { return scanFileObjectRow(row) }
func scanFileObjectRows(rows *sql.Rows) (*FileObject, error) { return scanFileObjectRow(rows) }

// CompareAndTransition loads the row, verifies it is in state `from` and
// that `from -> to` is a legal edge in the closed transition set, applies
// mutate, persists the new state, and returns the updated row — all
// within one SQLite transaction.
func (s *SQLiteStore) CompareAndTransition(ctx context.Context, id string, from, to FileState, mutate func(*FileObject)) (*FileObject, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%s -> %s is not a permitted transition", from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, fileObjectSelect+` WHERE id = ?`, id)
	f, err := scanFileObjectRow(row)
	if err != nil {
		return nil, err
	}
	if f.State != from {
		return nil, ErrBadState
	}

	mutate(f)
	f.State = to
	f.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE file_objects SET
			checksum_verified = ?, size_bytes = ?, sniffed_content_type = ?,
			state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		f.ChecksumVerified, f.SizeBytes, f.SniffedContentType, string(f.State), f.UpdatedAt,
		id, string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return f, nil
}

// ---- Audit ----

func (s *SQLiteStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var detailsJSON string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			s.logger.WithError(err).Warn("failed to marshal audit event details")
			detailsJSON = "{}"
		} else {
			detailsJSON = string(b)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (actor_user_id, action, file_id, ip, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ActorUserID, e.Action, e.FileID, e.IP, e.UserAgent, detailsJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ---- Quota ----

func (s *SQLiteStore) GetOrCreateUsageCounter(ctx context.Context, ownerID string) (*UsageCounter, error) {
	lock := s.lockFor(ownerID)
	lock.Lock()
	defer lock.Unlock()
	return s.getOrCreateUsageCounterLocked(ctx, ownerID)
}

func (s *SQLiteStore) getOrCreateUsageCounterLocked(ctx context.Context, ownerID string) (*UsageCounter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, files_count, bytes_stored, updated_at FROM usage_counters WHERE owner_id = ?`, ownerID)

	var c UsageCounter
	err := row.Scan(&c.OwnerID, &c.FilesCount, &c.BytesStored, &c.UpdatedAt)
	switch {
	case err == nil:
		return &c, nil
	case err == sql.ErrNoRows:
		c = UsageCounter{OwnerID: ownerID, UpdatedAt: time.Now().UTC()}
		_, insertErr := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO usage_counters (owner_id, files_count, bytes_stored, updated_at) VALUES (?, 0, 0, ?)`,
			ownerID, c.UpdatedAt,
		)
		if insertErr != nil {
			return nil, fmt.Errorf("create usage counter: %w", insertErr)
		}
		return &c, nil
	default:
		return nil, err
	}
}

// IncrementUsageIfWithinLimits is the linearizable admission check for
// quota activation (spec.md §4.5). The per-owner mutex plus the single
// writer connection make the read-check-write section atomic even though
// SQLite itself has no row-level locking.
func (s *SQLiteStore) IncrementUsageIfWithinLimits(ctx context.Context, ownerID string, fileDelta int, byteDelta int64, maxFiles int, maxBytes int64) (bool, *UsageCounter, error) {
	lock := s.lockFor(ownerID)
	lock.Lock()
	defer lock.Unlock()

	counter, err := s.getOrCreateUsageCounterLocked(ctx, ownerID)
	if err != nil {
		return false, nil, err
	}

	newFiles := counter.FilesCount + fileDelta
	newBytes := counter.BytesStored + byteDelta
	if newFiles > maxFiles || newBytes > maxBytes || newFiles < 0 || newBytes < 0 {
		return false, counter, nil
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE usage_counters SET files_count = ?, bytes_stored = ?, updated_at = ? WHERE owner_id = ?`,
		newFiles, newBytes, now, ownerID,
	)
	if err != nil {
		return false, nil, fmt.Errorf("update usage counter: %w", err)
	}

	counter.FilesCount = newFiles
	counter.BytesStored = newBytes
	counter.UpdatedAt = now
	return true, counter, nil
}

func (s *SQLiteStore) lockFor(ownerID string) *sync.Mutex {
	v, _ := s.ownerLocks.LoadOrStore(ownerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
