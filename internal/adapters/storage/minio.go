package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"lexidraft-realtime/internal/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize bounds a single chat attachment.
const MaxAttachmentSize = 20 << 20

var (
	ErrAttachmentTooLarge  = errors.New("attachment too large")
	ErrUnsupportedFileType = errors.New("unsupported attachment type")
	ErrEmptyAttachment     = errors.New("attachment is empty")
)

var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"image/png":  true,
	"image/jpeg": true,
}

// Attachment describes an uploaded object.
type Attachment struct {
	URL         string `json:"url"`
	ObjectName  string `json:"objectName"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// MinIOClient stores chat attachments (contract drafts, signed PDFs) in a
// single bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
	secure bool
}

// NewMinIOClient connects and makes sure the bucket exists.
func NewMinIOClient(ctx context.Context, cfg config.MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		slog.Info("Created MinIO bucket", "bucket", cfg.Bucket)
	}

	slog.Info("Successfully connected to MinIO", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &MinIOClient{client: client, bucket: cfg.Bucket, secure: cfg.UseSSL}, nil
}

// Upload stores the file under the owner's prefix and returns its URL.
func (m *MinIOClient) Upload(ctx context.Context, ownerID, fileName, contentType string, r io.Reader, size int64) (*Attachment, error) {
	if err := ValidateAttachment(contentType, size); err != nil {
		return nil, err
	}

	objectName := ObjectName(ownerID, fileName)
	_, err := m.client.PutObject(ctx, m.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"owner": ownerID, "filename": fileName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &Attachment{
		URL:         m.objectURL(objectName),
		ObjectName:  objectName,
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (m *MinIOClient) objectURL(objectName string) string {
	scheme := "http"
	if m.secure {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   m.client.EndpointURL().Host,
		Path:   "/" + m.bucket + "/" + objectName,
	}
	return u.String()
}

// ValidateAttachment checks size and content type before anything is sent.
func ValidateAttachment(contentType string, size int64) error {
	if size <= 0 {
		return ErrEmptyAttachment
	}
	if size > MaxAttachmentSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrAttachmentTooLarge, size, MaxAttachmentSize)
	}
	mediaType := strings.TrimSpace(strings.Split(contentType, ";")[0])
	if !allowedContentTypes[mediaType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFileType, contentType)
	}
	return nil
}

// ObjectName is attachments/<owner>/<uuid><ext>. The original file name only
// contributes its extension.
func ObjectName(ownerID, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	return fmt.Sprintf("attachments/%s/%s%s", ownerID, uuid.New().String(), ext)
}
