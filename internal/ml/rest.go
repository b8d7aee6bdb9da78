package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/apex/log"
	"golang.org/x/oauth2"

	"github.com/franckalain/snapnourish/internal/models"
)

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// maxErrorBody caps how much of an error response is quoted back
const maxErrorBody = 2048

// RESTModel calls the Vertex AI generateContent endpoint over HTTPS with a
// bearer token
type RESTModel struct {
	config GoogleConfig
	tokens oauth2.TokenSource
	http   *http.Client
}

// RESTModelFactory implements ModelFactory for the Vertex AI REST backend
type RESTModelFactory struct {
	config GoogleConfig
}

// NewRESTModelFactory creates a new REST model factory
func NewRESTModelFactory(config GoogleConfig) *RESTModelFactory {
	config.Load()
	return &RESTModelFactory{config: config}
}

// CreateModel creates a new REST model instance
func (f *RESTModelFactory) CreateModel() (Model, error) {
	return &RESTModel{
		config: f.config,
		http:   &http.Client{Timeout: f.config.Timeout},
	}, nil
}

// NewRESTModel creates a ready-to-use REST model with an explicit token
// source, skipping credential discovery.
func NewRESTModel(config GoogleConfig, tokens oauth2.TokenSource) *RESTModel {
	config.Load()
	return &RESTModel{
		config: config,
		tokens: tokens,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Load resolves the bearer credential source
func (m *RESTModel) Load(ctx context.Context) error {
	if m.tokens != nil {
		return nil
	}
	ts, err := m.config.tokenSource(ctx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	m.tokens = oauth2.ReuseTokenSource(nil, ts)
	return nil
}

// Invoke posts the prompt and image reference and returns the first text part
// of the first candidate
func (m *RESTModel) Invoke(ctx context.Context, imageURL string) (string, error) {
	if m.tokens == nil {
		return "", fmt.Errorf("%w: model not loaded", models.ErrAuthentication)
	}

	token, err := m.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: failed to obtain access token: %v", models.ErrAuthentication, err)
	}

	body, err := json.Marshal(generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{FileData: &fileData{MimeType: imageMIMEType(imageURL), FileURI: imageURL}},
				{Text: Prompt},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.generateContentURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", models.ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	log.WithFields(log.Fields{
		"model":          m.config.Model,
		"prompt_version": PromptVersion,
	}).Debug("calling vertex ai")

	resp, err := m.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: request timed out: %v", models.ErrUpstream, err)
		}
		return "", fmt.Errorf("%w: failed to send request: %v", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", models.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status %d: %s", models.ErrAuthentication, resp.StatusCode, truncate(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: status %d: %s", models.ErrUpstream, resp.StatusCode, truncate(respBody))
	}

	var gr generateContentResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", models.ErrUpstream, err)
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", models.ErrEmptyModelResponse)
	}
	for _, p := range gr.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text part", models.ErrEmptyModelResponse)
}

// Close drops idle keep-alive connections
func (m *RESTModel) Close() error {
	m.http.CloseIdleConnections()
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
