package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/payvat/vat-extraction-service/internal/models"
)

// Archiver copies successfully processed documents into object storage so
// originals survive database retention. Archival is best-effort: callers
// never fail a request on its errors.
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver builds the MinIO client from MINIO_* environment variables and
// verifies the bucket exists. Returns an error when MINIO_ENDPOINT is unset;
// callers then run without archival.
func NewArchiver(ctx context.Context) (*Archiver, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT not set")
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "payvat-documents"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			os.Getenv("MINIO_ACCESS_KEY"),
			os.Getenv("MINIO_SECRET_KEY"), ""),
		Secure: os.Getenv("MINIO_USE_SSL") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// Archive stores the decoded document under
// {owner}/{year}/{month}/{documentID}{ext}, using the extracted date when one
// was resolved and the upload date otherwise. Guest documents go under
// "guest".
func (a *Archiver) Archive(ctx context.Context, doc *models.Document) error {
	decoded, err := base64.StdEncoding.DecodeString(doc.FileData)
	if err != nil {
		return fmt.Errorf("decode file data: %w", err)
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectName(doc),
		bytes.NewReader(decoded), int64(len(decoded)),
		minio.PutObjectOptions{
			ContentType: doc.MimeType,
			UserMetadata: map[string]string{
				"original-name": doc.OriginalName,
				"category":      doc.Category,
				"upload-id":     uuid.NewString(),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to archive document: %w", err)
	}
	return nil
}

// DocumentURL generates a time-limited download link for a previously
// archived document. The object name is recomputed from the same document
// fields Archive used, so no object path needs storing.
func (a *Archiver) DocumentURL(ctx context.Context, doc *models.Document) (string, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, objectName(doc), 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// objectName is {owner}/{year}/{month}/{documentID}{ext}, keyed on the
// extracted date when one was resolved and the upload date otherwise.
func objectName(doc *models.Document) string {
	owner := "guest"
	if doc.UserID != nil {
		owner = *doc.UserID
	}
	when := doc.UploadedAt
	if doc.ExtractedDate != nil {
		when = *doc.ExtractedDate
	}
	return fmt.Sprintf("%s/%d/%02d/%s%s",
		owner, when.Year(), when.Month(), doc.ID, fileExtension(doc.MimeType))
}

func fileExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
