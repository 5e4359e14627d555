// Package llm generates market analyses through an ordered chain of text and
// vision model providers, then extracts a schema-validated set of price zones
// from the output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is one generation call. ImageB64, when set, is a base64-encoded PNG
// attached to vision-capable providers and ignored by text-only ones.
// Temperature is a pointer so that an explicit 0.0 survives the wire encoding;
// nil means "use the provider default".
type Request struct {
	SystemPrompt string
	UserPrompt   string
	ImageB64     string
	Temperature  *float64
	MaxTokens    int
}

// Temp wraps a sampling temperature for Request.Temperature.
func Temp(v float64) *float64 { return &v }

// Provider is one generation upstream. Implementations must error on missing
// credentials, non-2xx status or empty content.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderConfig holds per-provider credentials and model selection.
type ProviderConfig struct {
	APIKey    string        `json:"api_key"`
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Timeout   time.Duration `json:"timeout"`
}

func (c ProviderConfig) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// ---- Claude ----

// ClaudeProvider calls the Anthropic messages API.
type ClaudeProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

func NewClaudeProvider(cfg ProviderConfig) *ClaudeProvider {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	return &ClaudeProvider{config: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (p *ClaudeProvider) Name() string { return "claude" }

type claudeContent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (string, error) {
	if p.config.APIKey == "" {
		return "", fmt.Errorf("claude API key not configured")
	}

	content := []claudeContent{{Type: "text", Text: req.UserPrompt}}
	if req.ImageB64 != "" {
		img := claudeContent{Type: "image"}
		img.Source = &struct {
			Type      string `json:"type"`
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		}{Type: "base64", MediaType: "image/png", Data: req.ImageB64}
		content = append([]claudeContent{img}, content...)
	}

	payload := claudeRequest{
		Model:       p.config.Model,
		MaxTokens:   p.config.maxTokens(req),
		Temperature: req.Temperature,
		System:      req.SystemPrompt,
		Messages:    []claudeMessage{{Role: "user", Content: content}},
	}

	headers := map[string]string{
		"x-api-key":         p.config.APIKey,
		"anthropic-version": "2023-06-01",
	}
	body, status, err := postJSON(ctx, p.httpClient, "https://api.anthropic.com/v1/messages", headers, payload)
	if err != nil {
		return "", err
	}

	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("API error: status %d", status)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", fmt.Errorf("empty response from claude")
	}
	return resp.Content[0].Text, nil
}

// ---- OpenAI (and OpenAI-compatible DeepSeek) ----

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func completeOpenAICompatible(ctx context.Context, client *http.Client, url, apiKey, name string, cfg ProviderConfig, req Request, vision bool) (string, error) {
	if apiKey == "" {
		return "", fmt.Errorf("%s API key not configured", name)
	}

	var userContent interface{} = req.UserPrompt
	if vision && req.ImageB64 != "" {
		userContent = []map[string]interface{}{
			{"type": "text", "text": req.UserPrompt},
			{"type": "image_url", "image_url": map[string]string{
				"url": "data:image/png;base64," + req.ImageB64,
			}},
		}
	}

	messages := []openAIMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: userContent})

	payload := openAIRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.maxTokens(req),
		Temperature: req.Temperature,
	}

	body, status, err := postJSON(ctx, client, url, map[string]string{"Authorization": "Bearer " + apiKey}, payload)
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("API error: status %d", status)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from %s", name)
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	return &OpenAIProvider{config: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	return completeOpenAICompatible(ctx, p.httpClient,
		"https://api.openai.com/v1/chat/completions", p.config.APIKey, "openai", p.config, req, true)
}

// DeepSeekProvider calls the DeepSeek API (OpenAI-compatible, text only).
type DeepSeekProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

func NewDeepSeekProvider(cfg ProviderConfig) *DeepSeekProvider {
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	return &DeepSeekProvider{config: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (p *DeepSeekProvider) Name() string { return "deepseek" }

func (p *DeepSeekProvider) Complete(ctx context.Context, req Request) (string, error) {
	return completeOpenAICompatible(ctx, p.httpClient,
		"https://api.deepseek.com/v1/chat/completions", p.config.APIKey, "deepseek", p.config, req, false)
}

// ---- Gemini ----

// GeminiProvider calls the Google Gemini generateContent API.
type GeminiProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &GeminiProvider{config: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (p *GeminiProvider) Name() string { return "gemini" }

type geminiPart struct {
	Text       string `json:"text,omitempty"`
	InlineData *struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	} `json:"inline_data,omitempty"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature     *float64 `json:"temperature,omitempty"`
		MaxOutputTokens int      `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	if p.config.APIKey == "" {
		return "", fmt.Errorf("gemini API key not configured")
	}

	parts := []geminiPart{}
	if req.SystemPrompt != "" {
		parts = append(parts, geminiPart{Text: req.SystemPrompt + "\n\n"})
	}
	parts = append(parts, geminiPart{Text: req.UserPrompt})
	if req.ImageB64 != "" {
		img := geminiPart{}
		img.InlineData = &struct {
			MimeType string `json:"mime_type"`
			Data     string `json:"data"`
		}{MimeType: "image/png", Data: req.ImageB64}
		parts = append(parts, img)
	}

	var payload geminiRequest
	payload.Contents = []struct {
		Parts []geminiPart `json:"parts"`
	}{{Parts: parts}}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = p.config.maxTokens(req)

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		p.config.Model, p.config.APIKey)

	body, status, err := postJSON(ctx, p.httpClient, url, nil, payload)
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %d - %s", resp.Error.Code, resp.Error.Message)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("API error: status %d", status)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", fmt.Errorf("empty response from gemini")
	}
	return text, nil
}
