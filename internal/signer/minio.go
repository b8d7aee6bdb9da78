package signer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

// MinioIssuer presigns objects held in an S3-compatible store
type MinioIssuer struct {
	client  *minio.Client
	expiry  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewMinioIssuer connects to the configured S3-compatible endpoint
func NewMinioIssuer(cfg config.SignerConfig) (*MinioIssuer, error) {
	cli, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
		Region: cfg.Minio.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	expiry := cfg.Expiry.Duration
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &MinioIssuer{
		client:  cli,
		expiry:  expiry,
		timeout: cfg.Timeout.Duration,
		now:     time.Now,
	}, nil
}

// IssueReadURL stats the object, then presigns a GET for it
func (i *MinioIssuer) IssueReadURL(ctx context.Context, bucket, objectPath string) (models.SignedReadURL, error) {
	ctx, cancel := withTimeout(ctx, i.timeout)
	defer cancel()

	if _, err := i.client.StatObject(ctx, bucket, objectPath, minio.StatObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		notFound := resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound
		return models.SignedReadURL{}, issuanceError(bucket, objectPath, notFound, err)
	}

	expiresAt := i.now().Add(i.expiry)
	signed, err := i.client.PresignedGetObject(ctx, bucket, objectPath, i.expiry, url.Values{})
	if err != nil {
		return models.SignedReadURL{}, issuanceError(bucket, objectPath, false, err)
	}

	log.WithFields(log.Fields{
		"bucket":     bucket,
		"object":     objectPath,
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Debug("presigned object url")

	return models.SignedReadURL{URL: signed.String(), ExpiresAt: expiresAt}, nil
}
