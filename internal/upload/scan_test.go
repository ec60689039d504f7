package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivaxm/uploadsvc/internal/store"
)

func newScanningFile(t *testing.T, coord *Coordinator, blobs *fakeBlobStore, s store.Store, filename, declaredType string, data []byte) *store.FileObject {
	t.Helper()
	ctx := context.Background()

	result, err := coord.Init(ctx, "owner-1", nil, InitRequest{
		OriginalFilename: filename,
		ContentType:      declaredType,
		ChecksumSHA256:   checksumOf(data),
	})
	require.NoError(t, err)
	blobs.put(result.ObjectKey, data)

	complete, err := coord.Complete(ctx, result.FileID, RequestContext{ActorUserID: "owner-1"})
	require.NoError(t, err)
	require.Equal(t, store.StateScanning, complete.State)

	f, err := s.GetFileObject(ctx, result.FileID)
	require.NoError(t, err)
	return f
}

func TestScanFileActivatesCleanUpload(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)
	data := []byte("%PDF-1.4 a clean pdf body")
	f := newScanningFile(t, coord, blobs, s, "report.pdf", "application/pdf", data)

	outcome, err := coord.ScanFile(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomeActive, outcome)

	reloaded, err := s.GetFileObject(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, reloaded.State)
}

func TestScanFileIsIdempotentOnNonScanningState(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)
	data := []byte("%PDF-1.4 a clean pdf body")
	f := newScanningFile(t, coord, blobs, s, "report.pdf", "application/pdf", data)

	outcome, err := coord.ScanFile(context.Background(), f.ID)
	require.NoError(t, err)
	require.Equal(t, outcomeActive, outcome)

	// A duplicate delivery of the same scan job must be a no-op, not a
	// second ACTIVE transition attempt.
	outcome, err = coord.ScanFile(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomeSkip, outcome)
}

func TestScanFileQuarantinesInvalidOfficeZip(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("not actually a docx"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f := newScanningFile(t, coord, blobs, s, "contract.docx", "application/zip", buf.Bytes())

	outcome, err := coord.ScanFile(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomeQuarantined, outcome)

	reloaded, err := s.GetFileObject(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateQuarantine, reloaded.State)
}

func TestScanFileAcceptsWellFormedDocx(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "word/document.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("<xml/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	f := newScanningFile(t, coord, blobs, s, "contract.docx", "application/zip", buf.Bytes())

	outcome, err := coord.ScanFile(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomeActive, outcome)
}

func TestScanFileQuarantinesWhenQuotaExceeded(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)
	ctx := context.Background()

	data := []byte("%PDF-1.4 a clean pdf body")
	f := newScanningFile(t, coord, blobs, s, "report.pdf", "application/pdf", data)

	// Exhaust the owner's file quota after init (which is itself gated on
	// the file count) but before the scan worker ever looks at our file,
	// so admission into ACTIVE must fail.
	for i := 0; i < store.MaxFiles; i++ {
		_, err := coord.quota.Admit(ctx, "owner-1", 1)
		require.NoError(t, err)
	}

	outcome, err := coord.ScanFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, outcomeQuarantined, outcome)
}

func TestScanFileMissingReturnsOutcomeMissing(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	outcome, err := coord.ScanFile(context.Background(), "no-such-file")
	require.NoError(t, err)
	assert.Equal(t, outcomeMissing, outcome)
}

func TestRunScanWorkerProcessesEnqueuedJobs(t *testing.T) {
	coord, blobs, s := newTestCoordinator(t)
	data := []byte("%PDF-1.4 a clean pdf body")
	f := newScanningFile(t, coord, blobs, s, "report.pdf", "application/pdf", data)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go coord.RunScanWorker(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		reloaded, err := s.GetFileObject(context.Background(), f.ID)
		return err == nil && reloaded.State == store.StateActive
	}, time.Second, 20*time.Millisecond)
}
