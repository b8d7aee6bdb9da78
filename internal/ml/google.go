package ml

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"github.com/apex/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/franckalain/snapnourish/internal/models"
)

// GoogleModel implements the Model interface with the Vertex AI Go SDK
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	config.Load()
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("%w: failed to create client: %v", models.ErrAuthentication, err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.Model)
	return nil
}

// Invoke sends the image reference and prompt through the SDK
func (m *GoogleModel) Invoke(ctx context.Context, imageURL string) (string, error) {
	if m.model == nil {
		return "", fmt.Errorf("%w: model not loaded", models.ErrAuthentication)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	img := genai.FileData{MIMEType: imageMIMEType(imageURL), FileURI: imageURL}

	log.WithFields(log.Fields{
		"model":          m.config.Model,
		"prompt_version": PromptVersion,
	}).Debug("calling vertex ai sdk")

	resp, err := m.model.GenerateContent(ctx, img, genai.Text(Prompt))
	if err != nil {
		return "", classifySDKError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no candidates", models.ErrEmptyModelResponse)
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if text, ok := p.(genai.Text); ok && text != "" {
			return string(text), nil
		}
	}
	return "", fmt.Errorf("%w: no text part", models.ErrEmptyModelResponse)
}

// Close releases the SDK client
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func classifySDKError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", models.ErrUpstream, err)
	}
	return fmt.Errorf("%w: failed to call ai: %v", models.ErrUpstream, err)
}
