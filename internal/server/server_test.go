package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/go-redis/redis"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivaxm/uploadsvc/internal/auditlog"
	"github.com/shivaxm/uploadsvc/internal/authn"
	"github.com/shivaxm/uploadsvc/internal/blobstore"
	"github.com/shivaxm/uploadsvc/internal/demo"
	"github.com/shivaxm/uploadsvc/internal/quota"
	"github.com/shivaxm/uploadsvc/internal/ratelimit"
	"github.com/shivaxm/uploadsvc/internal/scanqueue"
	"github.com/shivaxm/uploadsvc/internal/store"
	"github.com/shivaxm/uploadsvc/internal/upload"
)

// noopBlobStore satisfies upload.BlobStore without ever reaching a real
// object store; the handler tests below exercise only the routes that
// don't need a completed upload.
type noopBlobStore struct{}

func (noopBlobStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}
func (noopBlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.invalid/" + key, nil
}
func (noopBlobStore) Head(ctx context.Context, key string) (*blobstore.HeadResult, error) {
	return nil, assertErr
}
func (noopBlobStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	return nil, assertErr
}

var assertErr = io.ErrUnexpectedEOF

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q, err := scanqueue.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	authManager, err := authn.New(s, "test-secret", "HS256")
	require.NoError(t, err)
	demoManager := demo.New(s, "test-secret")
	limiter := ratelimit.New(redisClient)
	coordinator := upload.New(upload.Config{
		Store:       s,
		Blobs:       noopBlobStore{},
		Quota:       quota.New(s),
		Audit:       auditlog.New(s, logger),
		ScanQueue:   q,
		Logger:      logger,
		Bucket:      "uploads",
		UploadTTL:   15 * time.Minute,
		DownloadTTL: 5 * time.Minute,
	})

	srv := New(Config{
		Authn:       authManager,
		Demo:        demoManager,
		Limiter:     limiter,
		Coordinator: coordinator,
		Logger:      logger,
		Listen:      ":0",
		IsProd:      false,
	})
	return srv, s
}

func doRequest(srv *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthLive(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterAndListFiles(t *testing.T) {
	srv, _ := newTestServer(t)

	registerRec := doRequest(srv, http.MethodPost, "/auth/register", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, registerRec.Code)

	var tok tokenResponse
	require.NoError(t, json.Unmarshal(registerRec.Body.Bytes(), &tok))
	assert.Equal(t, "bearer", tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)

	listRec := doRequest(srv, http.MethodGet, "/files", nil, map[string]string{
		"Authorization": "Bearer " + tok.AccessToken,
	})
	assert.Equal(t, http.StatusOK, listRec.Code)
	assert.JSONEq(t, "[]", listRec.Body.String())
}

func TestFilesGetRejectsDemoSession(t *testing.T) {
	srv, _ := newTestServer(t)

	demoRec := doRequest(srv, http.MethodPost, "/demo/start", nil, nil)
	require.Equal(t, http.StatusOK, demoRec.Code)
	cookies := demoRec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/files/some-id", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFilesListAcceptsDemoSession(t *testing.T) {
	srv, _ := newTestServer(t)

	demoRec := doRequest(srv, http.MethodPost, "/demo/start", nil, nil)
	require.Equal(t, http.StatusOK, demoRec.Code)
	cookies := demoRec.Result().Cookies()
	require.Len(t, cookies, 1)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(srv, http.MethodPost, "/auth/register", map[string]string{
		"email":    "bob@example.com",
		"password": "correct-password",
	}, nil)

	rec := doRequest(srv, http.MethodPost, "/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterIsRateLimited(t *testing.T) {
	srv, _ := newTestServer(t)

	// auth_register allows 3/min; the 4th request in the same window must
	// be rejected with 429.
	for i := 0; i < 3; i++ {
		rec := doRequest(srv, http.MethodPost, "/auth/register", map[string]string{
			"email":    "user" + string(rune('a'+i)) + "@example.com",
			"password": "hunter2hunter2",
		}, nil)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec := doRequest(srv, http.MethodPost, "/auth/register", map[string]string{
		"email":    "userextra@example.com",
		"password": "hunter2hunter2",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
