package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shivaxm/uploadsvc/internal/store"
	"github.com/shivaxm/uploadsvc/internal/upload"
)

// actor resolves the caller's identity: a registered user (bearer
// token) or a demo session (cookie), provisioning the demo user row on
// first use. allowDemo gates whether a demo identity is acceptable for
// this route (GET /files/{id} is bearer-only per spec.md §6).
func (s *Server) actor(w http.ResponseWriter, r *http.Request, allowDemo bool) (upload.RequestContext, bool) {
	ctx := r.Context()

	if u, ok := userFromContext(ctx); ok {
		return upload.RequestContext{
			ActorUserID: u.ID,
			IsAdmin:     u.Role == store.RoleAdmin,
			IP:          clientIP(r),
			UserAgent:   r.UserAgent(),
		}, true
	}

	if allowDemo {
		if demoID, ok := demoIDFromContext(ctx); ok {
			u, err := s.demo.EnsureUser(ctx, demoID)
			if err != nil {
				s.logger.WithError(err).Error("failed to provision demo user")
				writeError(w, http.StatusInternalServerError, "internal error")
				return upload.RequestContext{}, false
			}
			return upload.RequestContext{
				ActorUserID: u.ID,
				IP:          clientIP(r),
				UserAgent:   r.UserAgent(),
			}, true
		}
	}

	writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
	return upload.RequestContext{}, false
}

func (s *Server) handleFilesInit(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.actor(w, r, true)
	if !ok {
		return
	}

	var req struct {
		OriginalFilename string `json:"original_filename"`
		ContentType      string `json:"content_type"`
		ChecksumSHA256   string `json:"checksum_sha256"`
		SizeBytes        *int64 `json:"size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var demoID *string
	if id, ok := demoIDFromContext(r.Context()); ok {
		demoID = &id
	}

	result, err := s.coordinator.Init(r.Context(), rc.ActorUserID, demoID, upload.InitRequest{
		OriginalFilename: req.OriginalFilename,
		ContentType:      req.ContentType,
		ChecksumSHA256:   req.ChecksumSHA256,
		SizeBytes:        req.SizeBytes,
	})
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":            result.FileID,
		"object_key":         result.ObjectKey,
		"upload_url":         result.UploadURL,
		"expires_in":         result.ExpiresIn,
		"headers_to_include": result.HeadersToInclude,
	})
}

func (s *Server) handleFilesComplete(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	result, err := s.coordinator.Complete(r.Context(), fileID, rc)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":                result.State,
		"sniffed_content_type": result.SniffedContentType,
	})
}

func (s *Server) handleFilesList(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.actor(w, r, true)
	if !ok {
		return
	}

	files, err := s.coordinator.List(r.Context(), rc)
	if err != nil {
		s.logger.WithError(err).Error("list files failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleFilesGet(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.actor(w, r, false)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	detail, err := s.coordinator.Get(r.Context(), fileID, rc)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleFilesDownloadURL(w http.ResponseWriter, r *http.Request) {
	rc, ok := s.actor(w, r, true)
	if !ok {
		return
	}
	fileID := mux.Vars(r)["id"]

	result, err := s.coordinator.DownloadURL(r.Context(), fileID, rc)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"download_url": result.DownloadURL,
		"expires_in":   result.ExpiresIn,
	})
}

// writeUploadError translates a Coordinator error into the status codes
// spec.md §6 assigns to each failure class.
func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, upload.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, upload.ErrNotAvailable):
		writeError(w, http.StatusForbidden, "file not available for download")
	case errors.Is(err, upload.ErrBadState):
		writeError(w, http.StatusBadRequest, "upload not in expected state")
	case errors.Is(err, upload.ErrExpired):
		writeError(w, http.StatusBadRequest, "upload request expired")
	case errors.Is(err, upload.ErrObjectNotUploaded):
		writeError(w, http.StatusBadRequest, "object not uploaded")
	case errors.Is(err, upload.ErrQuotaExceeded):
		writeError(w, http.StatusForbidden, "quota_exceeded")
	case errors.Is(err, upload.ErrDemoSizeLimit):
		writeError(w, http.StatusBadRequest, "declared size exceeds demo upload limit")
	default:
		s.logger.WithError(err).Error("upload operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
