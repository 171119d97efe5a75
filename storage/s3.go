package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// S3Backend keeps blobs as private, server-side encrypted objects of an S3
// bucket. A custom endpoint selects path-style addressing for S3-compatible
// stores.
type S3Backend struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader

	bucket      string
	prefix      string
	locationURI string
	log         *slog.Logger
}

// NewS3Backend creates the backend. Empty credentials select the default AWS
// credential chain.
func NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty S3 bucket name", interfaces.ErrInvalidLocationURI)
	}
	prefix = strings.Trim(prefix, "/")

	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		uploader:    s3manager.NewUploader(sess),
		downloader:  s3manager.NewDownloader(sess),
		bucket:      bucket,
		prefix:      prefix,
		locationURI: s3LocationURI(bucket, prefix, region, endpoint, accessKey),
		log:         log.With("backend", "s3", "bucket", bucket),
	}, nil
}

// s3LocationURI renders the backend URI with the secret key masked.
func s3LocationURI(bucket, prefix, region, endpoint, accessKey string) string {
	var sb strings.Builder
	sb.WriteString("s3://")
	if accessKey != "" {
		sb.WriteString(accessKey + ":***@")
	}
	sb.WriteString(bucket + "/" + prefix)
	sb.WriteString("?region=" + region)
	if endpoint != "" {
		sb.WriteString("&endpoint=" + endpoint)
	}
	return sb.String()
}

func (b *S3Backend) objectKey(id interfaces.ServerKeyID) *string {
	return aws.String(path.Join(b.prefix, id.String()))
}

func (b *S3Backend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	n, err := b.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.objectKey(id),
	})
	switch {
	case isS3NotFound(err):
		return nil, interfaces.ErrKeyNotFound
	case err != nil:
		b.log.Error("S3 download failed", "key_id", id.String(), "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return buf.Bytes()[:n], nil
}

func (b *S3Backend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	out, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(b.bucket),
		Key:                  b.objectKey(id),
		Body:                 bytes.NewReader(data),
		ServerSideEncryption: aws.String(s3.ServerSideEncryptionAes256),
	})
	if err != nil {
		b.log.Error("S3 upload failed", "key_id", id.String(), "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	b.log.Debug("Stored blob", "key_id", id.String(), "location", out.Location)
	return nil
}

// Delete removes the object. S3 deletes of missing keys succeed, so the object
// is looked up first.
func (b *S3Backend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	key := b.objectKey(id)
	if _, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: key}); err != nil {
		if isS3NotFound(err) {
			return interfaces.ErrKeyNotFound
		}
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: key}); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *S3Backend) Available(ctx context.Context) bool {
	if _, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		b.log.Warn("S3 bucket unreachable", "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string {
	return "s3-" + b.bucket
}

func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound")
}
