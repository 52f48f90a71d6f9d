// Package gemini implements AI arbitration using Google's Gemini API via
// the google.golang.org/genai client.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/starsorty/starsorty-api/internal/arbiter"
	"github.com/starsorty/starsorty-api/internal/config"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// Arbitrator performs arbitration calls against the Gemini API. Like the
// HTTP adapter it is a bare single-call client; retries and circuit
// breaking live in arbiter.ResilientArbitrator.
type Arbitrator struct {
	logger  *slog.Logger
	cfg     config.LLMConfig
	schema  *taxonomy.Schema
	client  *genai.Client
	timeout time.Duration
}

// New creates a Gemini-backed Arbitrator. Returns arbiter.ErrInvalidConfig
// when the API key or model is missing.
func New(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig, schema *taxonomy.Schema) (*Arbitrator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if schema == nil {
		return nil, errors.New("taxonomy schema cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", arbiter.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", arbiter.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", arbiter.ErrInvalidConfig, err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Arbitrator{
		logger:  logger,
		cfg:     cfg,
		schema:  schema,
		client:  client,
		timeout: timeout,
	}, nil
}

// Arbitrate sends one classification request and returns the
// taxonomy-validated result plus any tag ids dropped during validation.
func (a *Arbitrator) Arbitrate(
	ctx context.Context,
	repo *domain.Repo,
	candidates []domain.RuleCandidate,
) (*domain.Classification, []string, error) {
	prompt, err := arbiter.BuildPrompt(repo, candidates, a.schema.FormatForPrompt(), a.schema.TagIDs())
	if err != nil {
		return nil, nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.logger.DebugContext(ctx, "arbitration request",
		"repo", repo.FullName,
		"model", a.cfg.Model,
		"candidates", len(candidates))

	resp, err := a.client.Models.GenerateContent(callCtx, a.cfg.Model, genai.Text(prompt.User), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       genai.Ptr(float32(a.cfg.Temperature)),
		MaxOutputTokens:   int32(a.cfg.MaxTokens),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", arbiter.ErrTransientFailure, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, nil, fmt.Errorf("%w: no content generated", arbiter.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, nil, fmt.Errorf("%w: content blocked by safety filters", arbiter.ErrInvalidResponse)
	}

	result, dropped, err := arbiter.DecodeClassification(resp.Text(), a.schema, a.cfg.Provider, a.cfg.Model)
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
