// Package blobstore wraps the S3-compatible object store backing file
// bodies. Metadata lives in the relational store; blobstore only ever
// speaks in (bucket, key) pairs and presigned URLs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sirupsen/logrus"
)

// HeadResult is the subset of HEAD metadata the upload-completion path
// inspects.
type HeadResult struct {
	SizeBytes   int64
	ContentType string
	ETag        string
}

// Store issues presigned PUT/GET URLs against an S3-compatible endpoint
// and performs the server-side HEAD/GET checks that validate an upload
// after the client has pushed bytes directly to the object store.
//
// Two endpoint configurations are kept distinct because the SigV4
// signature is computed over the Host header: a presigned URL must be
// signed for the host the caller will actually hit, not the host this
// process uses to reach the same bucket internally (e.g. a Kubernetes
// in-cluster DNS name vs. a publicly routable one).
type Store struct {
	internal *s3.Client // used for HEAD/GET from inside this process
	public   *s3.Client // used only to presign URLs handed to clients
	presign  *s3.PresignClient

	bucket string
	logger *logrus.Logger
}

// New builds a Store. endpoint is used for server-side calls (HEAD, GET
// range reads during scanning); publicEndpoint is the host presigned
// URLs are signed for and that external clients will actually reach.
func New(endpoint, publicEndpoint, region, accessKeyID, secretKey, bucket string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}

	creds := credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")

	internal := s3.New(s3.Options{
		Region:       region,
		Credentials:  creds,
		UsePathStyle: true,
		BaseEndpoint: aws.String(endpoint),
	})

	public := s3.New(s3.Options{
		Region:       region,
		Credentials:  creds,
		UsePathStyle: true,
		BaseEndpoint: aws.String(publicEndpoint),
	})

	return &Store{
		internal: internal,
		public:   public,
		presign:  s3.NewPresignClient(public),
		bucket:   bucket,
		logger:   logger,
	}
}

// EnsureBucket creates the configured bucket if it does not already
// exist, matching the startup bootstrap behavior the teacher's server
// performs for its own buckets.
func (s *Store) EnsureBucket(ctx context.Context) error {
	_, err := s.internal.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	_, err = s.internal.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		var alreadyExists *types.BucketAlreadyExists
		if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}

	s.logger.WithField("bucket", s.bucket).Info("bucket created")
	return nil
}

// PresignPut returns a presigned PUT URL for key, valid for ttl. The
// signature covers contentType, so the uploader must send that exact
// Content-Type header; the header set itself is not returned here.
func (s *Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	out, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return out.URL, nil
}

// PresignGet returns a presigned GET URL for key, valid for ttl.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return out.URL, nil
}

// Head fetches object size, content type and ETag for the completion
// check. The SDK error is returned unwrapped; IsNotFound reports whether
// it means the object was never actually uploaded.
func (s *Store) Head(ctx context.Context, key string) (*HeadResult, error) {
	out, err := s.internal.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}

	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	var ct string
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	var etag string
	if out.ETag != nil {
		etag = *out.ETag
	}

	return &HeadResult{SizeBytes: size, ContentType: ct, ETag: etag}, nil
}

// IsNotFound reports whether err indicates the object does not exist,
// i.e. the client never actually completed the PUT to the presigned URL.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

// GetRange opens a ranged read for sniffing and checksum verification,
// avoiding a full download of large objects when only the header bytes
// are needed by the caller. An end of 0 or less reads to EOF.
func (s *Store) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-", start)
	if end > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-%d", start, end)
	}

	out, err := s.internal.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, fmt.Errorf("get object range: %w", err)
	}
	return out.Body, nil
}

// Delete removes an object. The upload lifecycle does not call it:
// rejected and quarantined objects stay in the bucket.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.internal.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
