// Package signer mints short-lived read URLs for stored images so the model
// endpoint can fetch them without credentials.
package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

// DefaultExpiry is how long a signed URL stays valid unless configured otherwise
const DefaultExpiry = time.Hour

// Issuer issues signed read URLs
type Issuer interface {
	// IssueReadURL fails with models.ErrObjectNotFound when the object does not
	// exist and models.ErrCredentialIssuance on any other failure.
	IssueReadURL(ctx context.Context, bucket, objectPath string) (models.SignedReadURL, error)
}

// New creates the issuer selected by cfg.Type. The returned close function
// releases the underlying client.
func New(ctx context.Context, cfg config.SignerConfig) (Issuer, func() error, error) {
	switch cfg.Type {
	case "gcs", "":
		issuer, err := NewGCSIssuer(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return issuer, issuer.Close, nil
	case "minio":
		issuer, err := NewMinioIssuer(cfg)
		if err != nil {
			return nil, nil, err
		}
		return issuer, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported signer type: %s", cfg.Type)
	}
}

// issuanceError wraps a backend failure as a credential error, keeping
// not-found distinct from everything else.
func issuanceError(bucket, objectPath string, notFound bool, err error) error {
	if notFound {
		return fmt.Errorf("%w: %s/%s", models.ErrObjectNotFound, bucket, objectPath)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: signing timed out for %s/%s: %v", models.ErrCredentialIssuance, bucket, objectPath, err)
	}
	return fmt.Errorf("%w: %s/%s: %v", models.ErrCredentialIssuance, bucket, objectPath, err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
