package signer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/apex/log"
	"google.golang.org/api/option"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

// objectBackend is the slice of the Cloud Storage client the issuer needs.
type objectBackend interface {
	exists(ctx context.Context, bucket, objectPath string) error
	sign(bucket, objectPath string, opts *storage.SignedURLOptions) (string, error)
}

type gcsBackend struct {
	client *storage.Client
}

func (b gcsBackend) exists(ctx context.Context, bucket, objectPath string) error {
	_, err := b.client.Bucket(bucket).Object(objectPath).Attrs(ctx)
	return err
}

func (b gcsBackend) sign(bucket, objectPath string, opts *storage.SignedURLOptions) (string, error) {
	return b.client.Bucket(bucket).SignedURL(objectPath, opts)
}

// GCSIssuer signs Cloud Storage (and Firebase Storage) objects with V4 signatures
type GCSIssuer struct {
	backend objectBackend
	client  *storage.Client
	expiry  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewGCSIssuer creates a Cloud Storage client from the configured credentials
// file, or application default credentials when none is set.
func NewGCSIssuer(ctx context.Context, cfg config.SignerConfig) (*GCSIssuer, error) {
	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	issuer := newGCSIssuer(gcsBackend{client: client}, cfg.Expiry.Duration, cfg.Timeout.Duration)
	issuer.client = client
	return issuer, nil
}

func newGCSIssuer(backend objectBackend, expiry, timeout time.Duration) *GCSIssuer {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &GCSIssuer{
		backend: backend,
		expiry:  expiry,
		timeout: timeout,
		now:     time.Now,
	}
}

// IssueReadURL checks the object exists and returns a GET-only signed URL
func (i *GCSIssuer) IssueReadURL(ctx context.Context, bucket, objectPath string) (models.SignedReadURL, error) {
	ctx, cancel := withTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.backend.exists(ctx, bucket, objectPath); err != nil {
		return models.SignedReadURL{}, issuanceError(bucket, objectPath, errors.Is(err, storage.ErrObjectNotExist), err)
	}

	expiresAt := i.now().Add(i.expiry)
	signed, err := i.backend.sign(bucket, objectPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expiresAt,
	})
	if err != nil {
		return models.SignedReadURL{}, issuanceError(bucket, objectPath, false, err)
	}
	if err := ctx.Err(); err != nil {
		return models.SignedReadURL{}, issuanceError(bucket, objectPath, false, err)
	}

	log.WithFields(log.Fields{
		"bucket":     bucket,
		"object":     objectPath,
		"expires_at": expiresAt.Format(time.RFC3339),
	}).Debug("issued signed url")

	return models.SignedReadURL{URL: signed, ExpiresAt: expiresAt}, nil
}

// Close releases the storage client
func (i *GCSIssuer) Close() error {
	if i.client == nil {
		return nil
	}
	return i.client.Close()
}
