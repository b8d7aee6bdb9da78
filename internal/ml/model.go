package ml

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/franckalain/snapnourish/internal/config"
)

// Model represents a generative model that can describe a food image
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Invoke sends the nutrition prompt with the image at imageURL and returns
	// the model's raw text answer
	Invoke(ctx context.Context, imageURL string) (string, error)
	// Close releases any client held by the model
	Close() error
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new, not yet loaded, model for cfg.Type
func NewModel(cfg config.MLConfig) (Model, error) {
	var factory ModelFactory

	switch cfg.Type {
	case "vertex-rest", "":
		factory = NewRESTModelFactory(newGoogleConfig(cfg))
	case "vertex-sdk":
		factory = NewGoogleModelFactory(newGoogleConfig(cfg))
	case "openai":
		factory = NewOpenAIModelFactory(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout.Duration,
		})
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
	return factory.CreateModel()
}

// imageMIMEType guesses the MIME type of the image behind a (signed) URL from
// its object extension.
func imageMIMEType(imageURL string) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "image/jpeg"
	}
}
