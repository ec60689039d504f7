// Package store is the relational metadata store: users, file objects,
// audit events and per-owner usage counters. It is the single source of
// truth named in spec.md §5 — no in-memory cache mutates it.
package store

import (
	"errors"
	"time"
)

// Sentinel errors returned by Store methods.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadState      = errors.New("object not in expected state")
)

// UserRole distinguishes administrators, who bypass owner checks, from
// regular users.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User is a stable identity, either registered or auto-provisioned for a
// demo session (see spec.md §3 invariant 4).
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

// FileState is one of the five states in the closed transition set
// described in spec.md §3.
type FileState string

const (
	StateInitiated  FileState = "INITIATED"
	StateScanning   FileState = "SCANNING"
	StateActive     FileState = "ACTIVE"
	StateQuarantine FileState = "QUARANTINED"
	StateRejected   FileState = "REJECTED"
)

// allowedTransitions is the closed set from spec.md §3. Any transition not
// present here must be rejected by CompareAndTransition.
var allowedTransitions = map[FileState]map[FileState]bool{
	StateInitiated: {
		StateScanning:   true,
		StateRejected:   true,
		StateQuarantine: true,
	},
	StateScanning: {
		StateActive:     true,
		StateQuarantine: true,
	},
	StateActive:     {},
	StateQuarantine: {},
	StateRejected:   {},
}

// CanTransition reports whether the closed state-machine set in spec.md §3
// permits moving from `from` to `to`.
func CanTransition(from, to FileState) bool {
	return allowedTransitions[from][to]
}

// IsTerminal reports whether state is terminal for external callers
// (spec.md §3 invariant 3).
func (s FileState) IsTerminal() bool {
	return s == StateActive || s == StateQuarantine || s == StateRejected
}

// FileObject is the central entity of the upload lifecycle engine.
type FileObject struct {
	ID                  string
	OwnerID             string
	DemoID              *string
	Bucket              string
	ObjectKey           string
	OriginalFilename    string
	DeclaredContentType string
	ChecksumSHA256      string
	ChecksumVerified    bool
	SizeBytes           *int64
	SniffedContentType  *string
	State               FileState
	UploadExpiresAt     time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsDemo reports whether the file was uploaded through an anonymous demo
// session (spec.md §3 invariant 4).
func (f *FileObject) IsDemo() bool {
	return f.DemoID != nil
}

// AuditEvent is an append-only record of a state transition or download
// URL issuance (spec.md §3, §4.6).
type AuditEvent struct {
	ID          int64
	ActorUserID *string
	Action      string
	FileID      *string
	IP          string
	UserAgent   string
	Details     map[string]any
	CreatedAt   time.Time
}

// Audit action codes, spec.md §6.
const (
	ActionFileInit           = "FILE_INIT"
	ActionUploadRejected     = "UPLOAD_REJECTED"
	ActionUploadQuarantined  = "UPLOAD_QUARANTINED"
	ActionUploadEnqueued     = "UPLOAD_ENQUEUED"
	ActionScanPass           = "SCAN_PASS"
	ActionScanQuarantined    = "SCAN_QUARANTINED"
	ActionScanFail           = "SCAN_FAIL"
	ActionDownloadURLIssued  = "DOWNLOAD_URL_ISSUED"
)

// UsageCounter is the per-owner quota accounting row (spec.md §3).
type UsageCounter struct {
	OwnerID     string
	FilesCount  int
	BytesStored int64
	UpdatedAt   time.Time
}

// Default quota limits (spec.md §3).
const (
	MaxFiles = 200
	MaxBytes = 2_000_000_000
)
