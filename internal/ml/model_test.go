package ml

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/franckalain/snapnourish/internal/config"
	"github.com/franckalain/snapnourish/internal/models"
)

const signedURL = "https://storage.googleapis.com/bkt/users/u1/img.png?X-Goog-Signature=abc"

func newRESTTestModel(t *testing.T, handler http.HandlerFunc) *RESTModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTModel(GoogleConfig{
		ProjectID: "snap-project",
		Location:  "us-central1",
		Model:     "gemini-1.5-flash",
		BaseURL:   srv.URL,
		Timeout:   2 * time.Second,
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
}

func TestRESTModelInvoke(t *testing.T) {
	var gotReq generateContentRequest
	m := newRESTTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/snap-project/locations/us-central1/publishers/google/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ingredients\":[]}"}]}}]}`))
	})

	text, err := m.Invoke(context.Background(), signedURL)
	require.NoError(t, err)
	assert.Equal(t, `{"ingredients":[]}`, text)

	require.Len(t, gotReq.Contents, 1)
	parts := gotReq.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].FileData)
	assert.Equal(t, signedURL, parts[0].FileData.FileURI)
	assert.Equal(t, "image/png", parts[0].FileData.MimeType)
	assert.Equal(t, Prompt, parts[1].Text)
}

func TestRESTModelSkipsEmptyParts(t *testing.T) {
	m := newRESTTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":""},{"text":"second"}]}}]}`))
	})

	text, err := m.Invoke(context.Background(), signedURL)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
}

func TestRESTModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":401}}`, models.ErrAuthentication},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403}}`, models.ErrAuthentication},
		{"server error", http.StatusInternalServerError, `{"error":{"code":500}}`, models.ErrUpstream},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"code":429}}`, models.ErrUpstream},
		{"not json", http.StatusOK, `<html>`, models.ErrUpstream},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, models.ErrEmptyModelResponse},
		{"no text", http.StatusOK, `{"candidates":[{"content":{"parts":[]}}]}`, models.ErrEmptyModelResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newRESTTestModel(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := m.Invoke(context.Background(), signedURL)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, models.KindModelInvocation, models.KindOf(err))
		})
	}
}

type failingTokenSource struct{}

func (failingTokenSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("metadata server unavailable")
}

func TestRESTModelTokenFailure(t *testing.T) {
	called := false
	m := newRESTTestModel(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	m.tokens = failingTokenSource{}

	_, err := m.Invoke(context.Background(), signedURL)
	assert.ErrorIs(t, err, models.ErrAuthentication)
	assert.False(t, called)
}

func TestRESTModelTimeout(t *testing.T) {
	done := make(chan struct{})
	m := newRESTTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-done:
		case <-r.Context().Done():
		}
	})
	// registered after the server so it runs before srv.Close
	t.Cleanup(func() { close(done) })
	m.config.Timeout = 50 * time.Millisecond

	_, err := m.Invoke(context.Background(), signedURL)
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestOpenAIModelInvoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ingredients\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	m, err := NewModel(config.MLConfig{Type: "openai", APIKey: "sk-test", Model: "gpt-4o", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	text, err := m.Invoke(context.Background(), signedURL)
	require.NoError(t, err)
	assert.Equal(t, `{"ingredients":[]}`, text)

	raw, _ := json.Marshal(body)
	assert.Contains(t, string(raw), signedURL)
	assert.Contains(t, string(raw), "image_url")
}

func TestOpenAIModelUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	m, err := NewModel(config.MLConfig{Type: "openai", APIKey: "sk-bad", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	_, err = m.Invoke(context.Background(), signedURL)
	assert.ErrorIs(t, err, models.ErrAuthentication)
}

func TestOpenAIModelRequiresKey(t *testing.T) {
	m, err := NewModel(config.MLConfig{Type: "openai"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Load(context.Background()), models.ErrAuthentication)
}

func TestNewModelUnsupported(t *testing.T) {
	_, err := NewModel(config.MLConfig{Type: "local"})
	assert.Error(t, err)
}

func TestImageMIMEType(t *testing.T) {
	assert.Equal(t, "image/jpeg", imageMIMEType("https://storage.googleapis.com/b/img.jpg?sig=1"))
	assert.Equal(t, "image/png", imageMIMEType("https://storage.googleapis.com/b/IMG.PNG"))
	assert.Equal(t, "image/webp", imageMIMEType("https://x/y.webp?a=b.png"))
	assert.Equal(t, "image/heic", imageMIMEType("https://x/photo.heic"))
	assert.Equal(t, "image/jpeg", imageMIMEType("https://x/noext"))
}

func TestPromptContract(t *testing.T) {
	for _, want := range []string{
		"100g", "carbon footprint", DeficiencyThreshold, "at most 2 recommendations",
		"30 words", "empty ingredients list", "saturated_fat", "carbon_footprint",
		"nutrient_deficiencies", "suggested_sources", "pescatarian",
	} {
		assert.True(t, strings.Contains(Prompt, want), "prompt is missing %q", want)
	}
}
