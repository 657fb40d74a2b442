// Package llm is the chat-completion transport shared by the verifier and
// the adaptive geo planner. Three providers are supported; all of them are
// driven in JSON mode and return the raw text for the caller to parse.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"prospector/internal/config"
	"prospector/internal/metrics"
)

// Provider represents a logical LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Request is one completion call. System sets the role framing; User carries
// the evidence and instructions.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Client is the abstraction used by the verifier and planner.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// TransientError marks provider failures worth retrying: 429, 5xx, and
// transport errors.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm transient failure: status %d", e.Status)
	}
	return fmt.Sprintf("llm transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ExtractJSON pulls a JSON object out of completion text. It first tries the
// whole string, then the outermost {...} block, so providers that wrap JSON
// in prose or code fences still parse.
func ExtractJSON(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in content")
	}
	snippet := content[start : end+1]
	if !json.Valid([]byte(snippet)) {
		return nil, errors.New("embedded JSON object does not parse")
	}
	return []byte(snippet), nil
}

// meteredClient counts completion calls per provider.
type meteredClient struct {
	inner    Client
	provider Provider
}

func (m meteredClient) Complete(ctx context.Context, req Request) (string, error) {
	out, err := m.inner.Complete(ctx, req)
	metrics.RecordProviderCall("llm_"+string(m.provider), err == nil)
	return out, err
}

// NewClientFromConfig constructs a Client for the configured default
// provider, returning the resolved provider and model for logging.
func NewClientFromConfig(cfg *config.Config) (Client, Provider, string, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	prov := Provider(cfg.LLM.DefaultProvider)
	switch prov {
	case ProviderOpenAI:
		c := cfg.LLM.OpenAI
		if c.APIKey == "" || c.Model == "" {
			return nil, prov, c.Model, errors.New("openai llm provider is not fully configured")
		}
		return meteredClient{inner: &openAIClient{
			apiKey:  c.APIKey,
			baseURL: c.BaseURL,
			model:   c.Model,
			http:    &http.Client{Timeout: timeout},
		}, provider: prov}, prov, c.Model, nil
	case ProviderAnthropic:
		c := cfg.LLM.Anthropic
		if c.APIKey == "" || c.Model == "" {
			return nil, prov, c.Model, errors.New("anthropic llm provider is not fully configured")
		}
		return meteredClient{inner: &anthropicClient{
			apiKey: c.APIKey,
			model:  c.Model,
			http:   &http.Client{Timeout: timeout},
		}, provider: prov}, prov, c.Model, nil
	case ProviderGoogle:
		c := cfg.LLM.Google
		if c.APIKey == "" || c.Model == "" {
			return nil, prov, c.Model, errors.New("google llm provider is not fully configured")
		}
		return meteredClient{inner: &googleClient{
			apiKey: c.APIKey,
			model:  c.Model,
			http:   &http.Client{Timeout: timeout},
		}, provider: prov}, prov, c.Model, nil
	default:
		return nil, prov, "", fmt.Errorf("unsupported llm provider: %s", cfg.LLM.DefaultProvider)
	}
}

func classifyStatus(status int) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{Status: status}
	}
	return fmt.Errorf("llm request failed with status %d", status)
}

// openAIClient uses OpenAI-compatible Chat Completions in JSON mode.
type openAIClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	body := openAIChatRequest{
		Model: c.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    0.0,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint += "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode)
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// anthropicClient uses Anthropic's Messages API.
type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicMessagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicTextContent{{Type: "text", Text: req.User}}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode)
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("anthropic messages returned no content")
	}
	return parsed.Content[0].Text, nil
}

// googleClient uses Gemini's generateContent API.
type googleClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type googleGenerateContentRequest struct {
	Contents         []googleContent         `json:"contents"`
	GenerationConfig *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (c *googleClient) Complete(ctx context.Context, req Request) (string, error) {
	text := req.User
	if req.System != "" {
		text = req.System + "\n\n" + text
	}
	body := googleGenerateContentRequest{
		Contents:         []googleContent{{Parts: []googlePart{{Text: text}}}},
		GenerationConfig: &googleGenerationConfig{ResponseMIMEType: "application/json"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	base := "https://generativelanguage.googleapis.com/v1beta"
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, c.model, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyStatus(resp.StatusCode)
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("google generateContent returned no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
