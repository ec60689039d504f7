package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/shivaxm/uploadsvc/internal/auditlog"
	"github.com/shivaxm/uploadsvc/internal/policy"
	"github.com/shivaxm/uploadsvc/internal/quota"
	"github.com/shivaxm/uploadsvc/internal/scanqueue"
	"github.com/shivaxm/uploadsvc/internal/store"
)

// officeRequiredEntries lists the ZIP member names that must be present
// for a file to be accepted as a genuine OpenXML document of the given
// extension, rather than an arbitrary ZIP archive renamed to match.
var officeRequiredEntries = map[string][]string{
	".docx": {"[Content_Types].xml", "word/document.xml"},
	".xlsx": {"[Content_Types].xml", "xl/workbook.xml"},
	".pptx": {"[Content_Types].xml", "ppt/presentation.xml"},
}

// RunScanWorker polls the scan queue until ctx is cancelled, processing
// one job at a time. Call it from a dedicated goroutine per worker.
func (c *Coordinator) RunScanWorker(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := c.scanQueue.Dequeue(ctx)
			if err != nil {
				c.logger.WithError(err).Error("scan queue dequeue failed")
				continue
			}
			if job == nil {
				continue
			}
			c.processScanJob(ctx, *job)
		}
	}
}

func (c *Coordinator) processScanJob(ctx context.Context, job scanqueue.Job) {
	lock := c.scanQueue.Lock(job.FileID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	outcome, err := c.ScanFile(ctx, job.FileID)
	if c.metrics != nil {
		c.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		c.logger.WithError(err).WithField("file_id", job.FileID).Error("scan attempt failed")
		c.audit.Record(ctx, auditlog.Event{
			Action:  store.ActionScanFail,
			FileID:  job.FileID,
			Details: map[string]any{"error": err.Error()},
		})

		exhausted, requeueErr := c.scanQueue.Requeue(ctx, job)
		if requeueErr != nil {
			c.logger.WithError(requeueErr).WithField("file_id", job.FileID).Error("failed to requeue scan job")
			return
		}
		if exhausted {
			c.logger.WithField("file_id", job.FileID).Warn("scan job exhausted its retry budget")
		}
		return
	}

	c.logger.WithFields(map[string]interface{}{"file_id": job.FileID, "outcome": outcome}).Debug("scan job processed")
}

// scanOutcome values returned by ScanFile, mirroring the original
// scanner's return codes for observability.
const (
	outcomeMissing     = "missing"
	outcomeSkip        = "skip"
	outcomeActive      = "active"
	outcomeQuarantined = "quarantined"
)

// ScanFile performs one scan attempt for fileID: it re-reads and
// verifies the row is still SCANNING (idempotence under duplicate
// delivery, spec.md §8 property 4), re-validates size/MIME/magic policy,
// performs the ZIP-structure check for Office documents, and either
// admits the file into ACTIVE (incrementing quota) or quarantines it.
func (c *Coordinator) ScanFile(ctx context.Context, fileID string) (string, error) {
	f, err := c.store.GetFileObject(ctx, fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return outcomeMissing, nil
		}
		return "", err
	}
	if f.State != store.StateScanning {
		return outcomeSkip, nil
	}

	head, err := c.blobs.Head(ctx, f.ObjectKey)
	if err != nil {
		return "", err
	}

	sample, err := c.readSample(ctx, f.ObjectKey)
	if err != nil {
		return "", err
	}
	sniffed := sniffContentType(sample)
	if sniffed == "" && f.SniffedContentType != nil {
		sniffed = *f.SniffedContentType
	}

	result := policy.Validate(policy.ValidateInput{
		OriginalFilename:    f.OriginalFilename,
		DeclaredContentType: f.DeclaredContentType,
		SniffedContentType:  sniffed,
		SizeBytes:           head.SizeBytes,
		SampleBytes:         sample,
	})

	if !result.Ok {
		if _, err := c.store.CompareAndTransition(ctx, f.ID, store.StateScanning, store.StateQuarantine, func(row *store.FileObject) {
			row.SizeBytes = &head.SizeBytes
			if sniffed != "" {
				row.SniffedContentType = &sniffed
			}
		}); err != nil {
			return "", err
		}
		c.recordTransition(store.StateScanning, store.StateQuarantine)
		if c.metrics != nil {
			c.metrics.UploadsRejected.WithLabelValues(result.Reason).Inc()
		}
		c.audit.Record(ctx, auditlog.Event{
			ActorUserID: f.OwnerID,
			Action:      store.ActionScanQuarantined,
			FileID:      f.ID,
			Details:     policyDetails(result),
		})
		return outcomeQuarantined, nil
	}

	ext := strings.ToLower(filepath.Ext(f.OriginalFilename))
	if required, isOffice := officeRequiredEntries[ext]; isOffice {
		ok, err := c.hasRequiredOfficeEntries(ctx, f.ObjectKey, required)
		if err != nil {
			return "", err
		}
		if !ok {
			if _, err := c.store.CompareAndTransition(ctx, f.ID, store.StateScanning, store.StateQuarantine, func(row *store.FileObject) {
				row.SizeBytes = &head.SizeBytes
				row.SniffedContentType = &sniffed
			}); err != nil {
				return "", err
			}
			c.recordTransition(store.StateScanning, store.StateQuarantine)
			c.audit.Record(ctx, auditlog.Event{
				ActorUserID: f.OwnerID,
				Action:      store.ActionScanQuarantined,
				FileID:      f.ID,
				Details:     map[string]any{"reason": "office_zip_invalid", "ext": ext},
			})
			return outcomeQuarantined, nil
		}
	}

	_, err = c.quota.Admit(ctx, f.OwnerID, head.SizeBytes)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			if _, txErr := c.store.CompareAndTransition(ctx, f.ID, store.StateScanning, store.StateQuarantine, func(row *store.FileObject) {
				row.SizeBytes = &head.SizeBytes
				row.SniffedContentType = &sniffed
			}); txErr != nil {
				return "", txErr
			}
			c.recordTransition(store.StateScanning, store.StateQuarantine)
			c.audit.Record(ctx, auditlog.Event{
				ActorUserID: f.OwnerID,
				Action:      store.ActionScanQuarantined,
				FileID:      f.ID,
				Details:     map[string]any{"reason": "quota_exceeded"},
			})
			return outcomeQuarantined, nil
		}
		return "", err
	}

	if _, err := c.store.CompareAndTransition(ctx, f.ID, store.StateScanning, store.StateActive, func(row *store.FileObject) {
		row.SizeBytes = &head.SizeBytes
		row.SniffedContentType = &sniffed
	}); err != nil {
		return "", err
	}
	c.recordTransition(store.StateScanning, store.StateActive)
	c.audit.Record(ctx, auditlog.Event{
		ActorUserID: f.OwnerID,
		Action:      store.ActionScanPass,
		FileID:      f.ID,
		Details:     map[string]any{"sniffed": sniffed},
	})
	return outcomeActive, nil
}

// hasRequiredOfficeEntries streams the full object and opens it as a
// ZIP archive to confirm the member names an OpenXML document of this
// extension must contain, catching a renamed non-document ZIP that
// otherwise sails through the magic-byte check.
func (c *Coordinator) hasRequiredOfficeEntries(ctx context.Context, key string, required []string) (bool, error) {
	body, err := c.blobs.GetRange(ctx, key, 0, 0)
	if err != nil {
		return false, err
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(body, policy.DefaultMaxSizeBytes+1)); err != nil {
		return false, err
	}
	if buf.Len() > policy.DefaultMaxSizeBytes {
		return false, nil
	}

	archive, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return false, nil // not a valid ZIP at all
	}

	names := make(map[string]bool, len(archive.File))
	for _, f := range archive.File {
		names[f.Name] = true
	}
	for _, name := range required {
		if !names[name] {
			return false, nil
		}
	}
	return true, nil
}
