package upload

import (
	"time"

	"github.com/shivaxm/uploadsvc/internal/store"
)

// InitRequest is the payload for starting a new upload.
type InitRequest struct {
	OriginalFilename string
	ContentType      string
	ChecksumSHA256   string
	SizeBytes        *int64
}

// InitResult is returned to the caller after a successful init; headers
// listed in HeadersToInclude must be sent verbatim with the PUT to
// UploadURL for the presigned signature to validate.
type InitResult struct {
	FileID             string
	ObjectKey          string
	UploadURL          string
	ExpiresIn          int
	HeadersToInclude   map[string]string
}

// CompleteResult is returned after a completion attempt, regardless of
// whether it resulted in REJECTED, QUARANTINED or SCANNING.
type CompleteResult struct {
	State              store.FileState
	SniffedContentType string
}

// FileDetail is the externally visible projection of a FileObject.
type FileDetail struct {
	ID                  string           `json:"id"`
	OwnerID             string           `json:"owner_id"`
	Bucket              string           `json:"bucket"`
	ObjectKey           string           `json:"object_key"`
	OriginalFilename    string           `json:"original_filename"`
	DeclaredContentType string           `json:"declared_content_type"`
	SniffedContentType  string           `json:"sniffed_content_type,omitempty"`
	ChecksumSHA256      string           `json:"checksum_sha256"`
	ChecksumVerified    bool             `json:"checksum_verified"`
	SizeBytes           *int64           `json:"size_bytes,omitempty"`
	State               store.FileState  `json:"state"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func toFileDetail(f *store.FileObject) FileDetail {
	d := FileDetail{
		ID:                  f.ID,
		OwnerID:             f.OwnerID,
		Bucket:              f.Bucket,
		ObjectKey:           f.ObjectKey,
		OriginalFilename:    f.OriginalFilename,
		DeclaredContentType: f.DeclaredContentType,
		ChecksumSHA256:      f.ChecksumSHA256,
		ChecksumVerified:    f.ChecksumVerified,
		SizeBytes:           f.SizeBytes,
		State:               f.State,
		CreatedAt:           f.CreatedAt,
		UpdatedAt:           f.UpdatedAt,
	}
	if f.SniffedContentType != nil {
		d.SniffedContentType = *f.SniffedContentType
	}
	return d
}

// DownloadResult is returned by DownloadURL.
type DownloadResult struct {
	DownloadURL string
	ExpiresIn   int
}
