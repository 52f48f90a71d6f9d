// Package openai implements AI arbitration over the OpenAI-compatible
// chat-completions API and the Anthropic messages API. Both speak JSON
// over a single request/response call, so one adapter covers them with a
// per-provider payload shape and auth header.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/starsorty/starsorty-api/internal/arbiter"
	"github.com/starsorty/starsorty-api/internal/config"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/redact"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"

	// maxErrorBodyBytes caps provider error bodies embedded in error text.
	maxErrorBodyBytes = 800
)

// Arbitrator calls a chat-style language model API to arbitrate one
// record's classification. It is stateless per call; wrap it in
// arbiter.ResilientArbitrator for retries and circuit breaking.
type Arbitrator struct {
	logger       *slog.Logger
	cfg          config.LLMConfig
	schema       *taxonomy.Schema
	client       *http.Client
	anthropic    bool
	baseURL      string
	extraHeaders map[string]string
}

// New creates an Arbitrator for provider "openai" or "anthropic".
// Returns arbiter.ErrNotConfigured when the provider is empty or "none",
// and arbiter.ErrInvalidConfig when required settings are missing.
func New(logger *slog.Logger, cfg config.LLMConfig, schema *taxonomy.Schema) (*Arbitrator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if schema == nil {
		return nil, errors.New("taxonomy schema cannot be nil")
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" || provider == "none" {
		return nil, arbiter.ErrNotConfigured
	}
	if provider != "openai" && provider != "anthropic" {
		return nil, fmt.Errorf("%w: unsupported provider %q", arbiter.ErrInvalidConfig, cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", arbiter.ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if provider == "anthropic" {
			baseURL = defaultAnthropicBaseURL
		} else {
			baseURL = defaultOpenAIBaseURL
		}
	}

	extraHeaders := map[string]string{}
	if cfg.ExtraHeadersJSON != "" {
		if err := json.Unmarshal([]byte(cfg.ExtraHeadersJSON), &extraHeaders); err != nil {
			// Malformed extra headers are ignored rather than fatal.
			logger.Warn("ignoring malformed extra headers JSON", "error", err)
			extraHeaders = map[string]string{}
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Arbitrator{
		logger:       logger,
		cfg:          cfg,
		schema:       schema,
		client:       &http.Client{Timeout: timeout},
		anthropic:    provider == "anthropic",
		baseURL:      strings.TrimRight(baseURL, "/"),
		extraHeaders: extraHeaders,
	}, nil
}

// chatMessage is one turn in either wire dialect.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Arbitrate sends one classification request and returns the
// taxonomy-validated result plus any tag ids dropped during validation.
// Rule candidates are embedded in the prompt as priors.
func (a *Arbitrator) Arbitrate(
	ctx context.Context,
	repo *domain.Repo,
	candidates []domain.RuleCandidate,
) (*domain.Classification, []string, error) {
	prompt, err := arbiter.BuildPrompt(repo, candidates, a.schema.FormatForPrompt(), a.schema.TagIDs())
	if err != nil {
		return nil, nil, err
	}

	url, body, err := a.buildRequest(prompt)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build arbitration request: %w", err)
	}
	a.setHeaders(req)

	a.logger.DebugContext(ctx, "arbitration request",
		"repo", repo.FullName,
		"model", a.cfg.Model,
		"candidates", len(candidates))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", arbiter.ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading response: %v", arbiter.ErrTransientFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, a.statusError(resp.StatusCode, url, respBody)
	}

	text, err := a.extractText(respBody)
	if err != nil {
		return nil, nil, err
	}

	result, dropped, err := arbiter.DecodeClassification(text, a.schema, a.cfg.Provider, a.cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	if len(dropped) > 0 {
		a.logger.WarnContext(ctx, "arbitration reply contained unknown tags",
			"repo", repo.FullName,
			"dropped", dropped)
	}
	return result, dropped, nil
}

func (a *Arbitrator) buildRequest(prompt arbiter.Prompt) (string, []byte, error) {
	var (
		url     string
		payload any
	)
	if a.anthropic {
		url = a.baseURL + "/messages"
		payload = anthropicRequest{
			Model:       a.cfg.Model,
			System:      prompt.System,
			Messages:    []chatMessage{{Role: "user", Content: prompt.User}},
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		}
	} else {
		url = a.baseURL + "/chat/completions"
		payload = openAIRequest{
			Model: a.cfg.Model,
			Messages: []chatMessage{
				{Role: "system", Content: prompt.System},
				{Role: "user", Content: prompt.User},
			},
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal arbitration payload: %w", err)
	}
	return url, body, nil
}

func (a *Arbitrator) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.anthropic {
		if a.cfg.APIKey != "" {
			req.Header.Set("x-api-key", a.cfg.APIKey)
		}
		req.Header.Set("anthropic-version", anthropicVersion)
	} else if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	for k, v := range a.extraHeaders {
		req.Header.Set(k, v)
	}
}

// statusError maps a non-200 provider response onto the arbitration error
// taxonomy. 429 and 5xx are transient; everything else is reported as-is
// with a redacted body excerpt.
func (a *Arbitrator) statusError(code int, url string, body []byte) error {
	detail := redact.Body(string(body), maxErrorBodyBytes)
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%w: provider returned %d | url=%s | body=%s",
			arbiter.ErrTransientFailure, code, url, detail)
	}
	return fmt.Errorf("provider returned %d | url=%s | body=%s", code, url, detail)
}

// extractText pulls the reply text out of the provider envelope.
func (a *Arbitrator) extractText(body []byte) (string, error) {
	if a.anthropic {
		var parsed anthropicResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("%w: %v", arbiter.ErrInvalidResponse, err)
		}
		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", arbiter.ErrInvalidResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", arbiter.ErrInvalidResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}
