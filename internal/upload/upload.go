// Package upload implements the file-upload lifecycle: init, complete,
// listing, download-URL issuance, and the asynchronous scan pipeline
// that moves a file from SCANNING to its terminal state.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shivaxm/uploadsvc/internal/auditlog"
	"github.com/shivaxm/uploadsvc/internal/blobstore"
	"github.com/shivaxm/uploadsvc/internal/metrics"
	"github.com/shivaxm/uploadsvc/internal/policy"
	"github.com/shivaxm/uploadsvc/internal/quota"
	"github.com/shivaxm/uploadsvc/internal/scanqueue"
	"github.com/shivaxm/uploadsvc/internal/store"
)

// sampleWindowBytes is the amount of leading object data fetched for
// sniffing and magic-byte checks, matching the 16KiB window the
// original scanner reads before invoking its MIME sniffer.
const sampleWindowBytes = 16 * 1024

// demoMaxSizeBytes is the per-file size ceiling for anonymous demo
// sessions, tighter than the registered-user default (spec.md §4.3,
// glossary: a demo session is "bounded in lifetime and per-file size").
const demoMaxSizeBytes = 10 * 1024 * 1024

// reasonDemoSizeLimit is the audit/quarantine reason recorded when a
// demo upload's actual object size exceeds demoMaxSizeBytes.
const reasonDemoSizeLimit = "demo_size_limit"

var (
	ErrNotFound          = errors.New("file not found")
	ErrForbidden         = errors.New("forbidden")
	ErrBadState          = errors.New("upload not in expected state")
	ErrExpired           = errors.New("upload request expired")
	ErrObjectNotUploaded = errors.New("object not uploaded")
	ErrNotAvailable      = errors.New("file not available for download")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrDemoSizeLimit     = errors.New("declared size exceeds demo upload limit")
)

// BlobStore is the subset of blobstore.Store the upload lifecycle
// depends on, declared here (the consumer) rather than imported as a
// concrete type, so a fake object store can stand in for tests.
type BlobStore interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Head(ctx context.Context, key string) (*blobstore.HeadResult, error)
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
}

// Coordinator wires together the relational store, blob store, file
// policy, quota enforcer and audit log to implement every upload
// operation in one place.
type Coordinator struct {
	store     store.Store
	blobs     BlobStore
	quota     *quota.Enforcer
	audit     *auditlog.Manager
	metrics   *metrics.Registry
	scanQueue *scanqueue.Queue
	logger    *logrus.Logger

	bucket      string
	uploadTTL   time.Duration
	downloadTTL time.Duration
}

// Config bundles the constructor parameters for Coordinator.
type Config struct {
	Store       store.Store
	Blobs       BlobStore
	Quota       *quota.Enforcer
	Audit       *auditlog.Manager
	Metrics     *metrics.Registry
	ScanQueue   *scanqueue.Queue
	Logger      *logrus.Logger
	Bucket      string
	UploadTTL   time.Duration
	DownloadTTL time.Duration
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		store:       cfg.Store,
		blobs:       cfg.Blobs,
		quota:       cfg.Quota,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		scanQueue:   cfg.ScanQueue,
		logger:      logger,
		bucket:      cfg.Bucket,
		uploadTTL:   cfg.UploadTTL,
		downloadTTL: cfg.DownloadTTL,
	}
}

// RequestContext carries the per-request values every operation needs
// for authorization and audit logging.
type RequestContext struct {
	ActorUserID string
	IsAdmin     bool
	IP          string
	UserAgent   string
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsSpace(r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Init begins a new upload: creates the INITIATED row and returns a
// presigned PUT URL plus the headers the client must echo back for the
// signature to validate.
//
// Authenticated callers are gated on their file-count quota up front
// (spec.md §4.1, §4.5 `enforce_init`); demo callers are not gated on
// file count here and instead have their declared size checked against
// the fixed demo per-file cap. Their files are still booked against the
// demo user's counter when the scan worker activates them.
func (c *Coordinator) Init(ctx context.Context, ownerID string, demoID *string, req InitRequest) (*InitResult, error) {
	if demoID == nil {
		if err := c.quota.EnforceInit(ctx, ownerID); err != nil {
			if errors.Is(err, quota.ErrQuotaExceeded) {
				return nil, ErrQuotaExceeded
			}
			return nil, fmt.Errorf("enforce init quota: %w", err)
		}
	} else if req.SizeBytes != nil && *req.SizeBytes > demoMaxSizeBytes {
		return nil, ErrDemoSizeLimit
	}

	objectKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(req.OriginalFilename))
	expiresAt := time.Now().UTC().Add(c.uploadTTL)

	f := &store.FileObject{
		OwnerID:             ownerID,
		DemoID:              demoID,
		Bucket:              c.bucket,
		ObjectKey:           objectKey,
		OriginalFilename:    req.OriginalFilename,
		DeclaredContentType: req.ContentType,
		ChecksumSHA256:      req.ChecksumSHA256,
		State:               store.StateInitiated,
		UploadExpiresAt:     expiresAt,
	}
	if req.SizeBytes != nil {
		f.SizeBytes = req.SizeBytes
	}

	if err := c.store.CreateFileObject(ctx, f); err != nil {
		return nil, fmt.Errorf("create file object: %w", err)
	}

	uploadURL, err := c.blobs.PresignPut(ctx, objectKey, req.ContentType, c.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload url: %w", err)
	}

	c.audit.Record(ctx, auditlog.Event{
		ActorUserID: ownerID,
		Action:      store.ActionFileInit,
		FileID:      f.ID,
		IP:          "",
		UserAgent:   "",
	})

	return &InitResult{
		FileID:    f.ID,
		ObjectKey: objectKey,
		UploadURL: uploadURL,
		ExpiresIn: int(c.uploadTTL.Seconds()),
		HeadersToInclude: map[string]string{
			"Content-Type": req.ContentType,
		},
	}, nil
}

func (c *Coordinator) authorize(f *store.FileObject, rc RequestContext) error {
	if !rc.IsAdmin && f.OwnerID != rc.ActorUserID {
		return ErrForbidden
	}
	return nil
}

// Complete validates an uploaded object against its declared checksum
// and content type, then either rejects it (checksum mismatch),
// quarantines it (type/MIME mismatch), or moves it to SCANNING and
// enqueues a scan job. The enqueue happens here, only after the SCANNING
// commit succeeds, preserving the ordering guarantee from spec.md §5.
func (c *Coordinator) Complete(ctx context.Context, fileID string, rc RequestContext) (*CompleteResult, error) {
	f, err := c.store.GetFileObject(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load file object: %w", err)
	}
	if err := c.authorize(f, rc); err != nil {
		return nil, err
	}
	if f.State != store.StateInitiated {
		return nil, ErrBadState
	}
	if time.Now().UTC().After(f.UploadExpiresAt) {
		return nil, ErrExpired
	}

	head, err := c.blobs.Head(ctx, f.ObjectKey)
	if err != nil {
		if blobstore.IsNotFound(err) {
			return nil, ErrObjectNotUploaded
		}
		return nil, fmt.Errorf("head uploaded object: %w", err)
	}

	if f.IsDemo() && head.SizeBytes > demoMaxSizeBytes {
		updated, err := c.store.CompareAndTransition(ctx, f.ID, store.StateInitiated, store.StateQuarantine, func(row *store.FileObject) {
			row.SizeBytes = &head.SizeBytes
		})
		if err != nil {
			return nil, fmt.Errorf("transition to quarantined: %w", err)
		}
		c.recordTransition(store.StateInitiated, store.StateQuarantine)
		c.audit.Record(ctx, auditlog.Event{
			ActorUserID: rc.ActorUserID,
			Action:      store.ActionUploadQuarantined,
			FileID:      f.ID,
			IP:          rc.IP,
			UserAgent:   rc.UserAgent,
			Details:     map[string]any{"reason": reasonDemoSizeLimit, "size_bytes": head.SizeBytes, "max": int64(demoMaxSizeBytes)},
		})
		return &CompleteResult{State: updated.State}, nil
	}

	checksum, err := c.computeChecksum(ctx, f.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("compute checksum: %w", err)
	}

	if checksum != f.ChecksumSHA256 {
		updated, err := c.store.CompareAndTransition(ctx, f.ID, store.StateInitiated, store.StateRejected, func(row *store.FileObject) {
			row.SizeBytes = &head.SizeBytes
			row.ChecksumVerified = false
		})
		if err != nil {
			return nil, fmt.Errorf("transition to rejected: %w", err)
		}
		c.recordTransition(store.StateInitiated, store.StateRejected)
		c.audit.Record(ctx, auditlog.Event{
			ActorUserID: rc.ActorUserID,
			Action:      store.ActionUploadRejected,
			FileID:      f.ID,
			IP:          rc.IP,
			UserAgent:   rc.UserAgent,
			Details:     map[string]any{"reason": "checksum_mismatch", "expected": f.ChecksumSHA256, "got": checksum},
		})
		return &CompleteResult{State: updated.State}, nil
	}

	sample, err := c.readSample(ctx, f.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read object sample: %w", err)
	}
	sniffed := sniffContentType(sample)

	declaredBase := strings.SplitN(f.DeclaredContentType, ";", 2)[0]
	if sniffed != "" && sniffed != declaredBase {
		updated, err := c.store.CompareAndTransition(ctx, f.ID, store.StateInitiated, store.StateQuarantine, func(row *store.FileObject) {
			row.SizeBytes = &head.SizeBytes
			row.ChecksumVerified = true
			row.SniffedContentType = &sniffed
		})
		if err != nil {
			return nil, fmt.Errorf("transition to quarantined: %w", err)
		}
		c.recordTransition(store.StateInitiated, store.StateQuarantine)
		c.audit.Record(ctx, auditlog.Event{
			ActorUserID: rc.ActorUserID,
			Action:      store.ActionUploadQuarantined,
			FileID:      f.ID,
			IP:          rc.IP,
			UserAgent:   rc.UserAgent,
			Details:     map[string]any{"sniffed": sniffed, "declared": declaredBase},
		})
		return &CompleteResult{State: updated.State, SniffedContentType: sniffed}, nil
	}

	updated, err := c.store.CompareAndTransition(ctx, f.ID, store.StateInitiated, store.StateScanning, func(row *store.FileObject) {
		row.SizeBytes = &head.SizeBytes
		row.ChecksumVerified = true
		if sniffed != "" {
			row.SniffedContentType = &sniffed
		}
	})
	if err != nil {
		return nil, fmt.Errorf("transition to scanning: %w", err)
	}
	c.recordTransition(store.StateInitiated, store.StateScanning)
	c.audit.Record(ctx, auditlog.Event{
		ActorUserID: rc.ActorUserID,
		Action:      store.ActionUploadEnqueued,
		FileID:      f.ID,
		IP:          rc.IP,
		UserAgent:   rc.UserAgent,
		Details:     map[string]any{"sniffed": sniffed, "declared": declaredBase},
	})

	// The scan is enqueued only after the SCANNING commit above has
	// returned successfully (spec.md §5's ordering guarantee); the
	// worker re-reads and verifies state == SCANNING before acting, so a
	// duplicate or lost enqueue signal is harmless.
	if err := c.scanQueue.Enqueue(ctx, f.ID); err != nil {
		c.logger.WithError(err).WithField("file_id", f.ID).Error("failed to enqueue scan job")
	}

	return &CompleteResult{State: updated.State, SniffedContentType: sniffed}, nil
}

func (c *Coordinator) recordTransition(from, to store.FileState) {
	if c.metrics == nil {
		return
	}
	c.metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// computeChecksum streams the full object and hashes it. This runs
// outside any database transaction, per spec.md §5: hashing is
// CPU-and-I/O bound and must not hold a row lock.
func (c *Coordinator) computeChecksum(ctx context.Context, objectKey string) (string, error) {
	body, err := c.blobs.GetRange(ctx, objectKey, 0, 0)
	if err != nil {
		return "", err
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("hash object body: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// readSample fetches the leading sampleWindowBytes of the object for
// sniffing and magic-byte inspection.
func (c *Coordinator) readSample(ctx context.Context, objectKey string) ([]byte, error) {
	body, err := c.blobs.GetRange(ctx, objectKey, 0, sampleWindowBytes-1)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Get returns a single file's detail, enforcing ownership.
func (c *Coordinator) Get(ctx context.Context, fileID string, rc RequestContext) (*FileDetail, error) {
	f, err := c.store.GetFileObject(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load file object: %w", err)
	}
	if err := c.authorize(f, rc); err != nil {
		return nil, err
	}
	d := toFileDetail(f)
	return &d, nil
}

// List returns every file owned by the actor.
func (c *Coordinator) List(ctx context.Context, rc RequestContext) ([]FileDetail, error) {
	rows, err := c.store.ListFileObjectsByOwner(ctx, rc.ActorUserID)
	if err != nil {
		return nil, fmt.Errorf("list file objects: %w", err)
	}
	out := make([]FileDetail, 0, len(rows))
	for _, f := range rows {
		out = append(out, toFileDetail(f))
	}
	return out, nil
}

// DownloadURL issues a presigned GET URL for an ACTIVE file. Non-admins
// may only download their own ACTIVE files.
func (c *Coordinator) DownloadURL(ctx context.Context, fileID string, rc RequestContext) (*DownloadResult, error) {
	f, err := c.store.GetFileObject(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load file object: %w", err)
	}
	if err := c.authorize(f, rc); err != nil {
		return nil, err
	}
	if f.State != store.StateActive && !rc.IsAdmin {
		return nil, ErrNotAvailable
	}

	url, err := c.blobs.PresignGet(ctx, f.ObjectKey, c.downloadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign download url: %w", err)
	}

	c.audit.Record(ctx, auditlog.Event{
		ActorUserID: rc.ActorUserID,
		Action:      store.ActionDownloadURLIssued,
		FileID:      f.ID,
		IP:          rc.IP,
		UserAgent:   rc.UserAgent,
	})

	return &DownloadResult{DownloadURL: url, ExpiresIn: int(c.downloadTTL.Seconds())}, nil
}

// policyDetails exists so callers constructing audit details share one
// conversion from a policy.Result into loggable fields.
func policyDetails(res policy.Result) map[string]any {
	details := map[string]any{"reason": res.Reason}
	for k, v := range res.Details {
		details[k] = v
	}
	return details
}
