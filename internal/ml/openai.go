package ml

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/franckalain/snapnourish/internal/models"
)

const maxTokens = 4096

// OpenAIConfig holds configuration for the OpenAI backend
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIModel sends the prompt as a chat completion with an image_url part
type OpenAIModel struct {
	config OpenAIConfig
	client *openai.Client
}

// OpenAIModelFactory implements ModelFactory for OpenAI models
type OpenAIModelFactory struct {
	config OpenAIConfig
}

// NewOpenAIModelFactory creates a new OpenAI model factory
func NewOpenAIModelFactory(config OpenAIConfig) *OpenAIModelFactory {
	return &OpenAIModelFactory{config: config}
}

// CreateModel creates a new OpenAI model instance
func (f *OpenAIModelFactory) CreateModel() (Model, error) {
	return &OpenAIModel{config: f.config}, nil
}

// Load builds the API client
func (m *OpenAIModel) Load(ctx context.Context) error {
	if m.config.APIKey == "" {
		return fmt.Errorf("%w: openai api key is not set", models.ErrAuthentication)
	}
	if m.config.Model == "" {
		m.config.Model = openai.GPT4o
	}
	if m.config.Timeout <= 0 {
		m.config.Timeout = 90 * time.Second
	}

	cfg := openai.DefaultConfig(m.config.APIKey)
	if m.config.BaseURL != "" {
		cfg.BaseURL = m.config.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: m.config.Timeout}
	m.client = openai.NewClientWithConfig(cfg)
	return nil
}

// Invoke returns the content of the first choice
func (m *OpenAIModel) Invoke(ctx context.Context, imageURL string) (string, error) {
	if m.client == nil {
		return "", fmt.Errorf("%w: model not loaded", models.ErrAuthentication)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     m.config.Model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: no choices", models.ErrEmptyModelResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op for the OpenAI client
func (m *OpenAIModel) Close() error { return nil }

func classifyOpenAIError(err error) error {
	statusCode := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		statusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		statusCode = reqErr.HTTPStatusCode
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}
	return fmt.Errorf("%w: failed to create chat completion: %v", models.ErrUpstream, err)
}
