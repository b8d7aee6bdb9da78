package ml

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

const (
	defaultVertexBaseURL = "https://%s-aiplatform.googleapis.com"
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
)

// GoogleConfig holds configuration for the Vertex AI backends
type GoogleConfig struct {
	ProjectID       string
	Location        string
	Model           string
	BaseURL         string
	CredentialsFile string
	Timeout         time.Duration
}

func newGoogleConfig(cfg config.MLConfig) GoogleConfig {
	c := GoogleConfig{
		ProjectID:       cfg.ProjectID,
		Location:        cfg.Location,
		Model:           cfg.Model,
		BaseURL:         cfg.BaseURL,
		CredentialsFile: cfg.CredentialsFile,
		Timeout:         cfg.Timeout.Duration,
	}
	c.Load()
	return c
}

// Load fills unset fields from the environment and applies defaults
func (c *GoogleConfig) Load() {
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.Location == "" {
		c.Location = "us-central1"
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.Model == "" {
		c.Model = "gemini-1.5-flash"
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf(defaultVertexBaseURL, c.Location)
	}
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
}

// generateContentURL is the Vertex AI REST endpoint for the configured model
func (c GoogleConfig) generateContentURL() string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		strings.TrimSuffix(c.BaseURL, "/"), c.ProjectID, c.Location, c.Model)
}

// tokenSource returns bearer tokens for the Vertex AI endpoint, from the
// credentials file when set and application default credentials otherwise.
func (c GoogleConfig) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if c.CredentialsFile != "" {
		data, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read credentials file: %v", models.ErrAuthentication, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
		}
		return creds.TokenSource, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	return creds.TokenSource, nil
}
