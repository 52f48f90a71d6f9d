package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starsorty/starsorty-api/internal/arbiter"
	"github.com/starsorty/starsorty-api/internal/config"
	"github.com/starsorty/starsorty-api/internal/domain"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

func testSchema() *taxonomy.Schema {
	return taxonomy.New(
		[]taxonomy.Category{
			{Name: "infrastructure", Subcategories: []string{"containers", "orchestration", "other"}},
			{Name: "uncategorized", Subcategories: []string{"other"}},
		},
		[]taxonomy.TagDef{
			{ID: "kubernetes", Aliases: []string{"k8s"}},
			{ID: "docker"},
		},
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(provider, baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:       provider,
		Model:          "test-model",
		APIKey:         "sk-test-key",
		BaseURL:        baseURL,
		Temperature:    0.2,
		MaxTokens:      500,
		TimeoutSeconds: 5,
	}
}

func testRepo() *domain.Repo {
	return &domain.Repo{
		FullName:    "acme/widget",
		Description: "A Kubernetes operator for widgets",
		Topics:      []string{"kubernetes", "operator"},
	}
}

// openAIReply wraps a classification JSON string in the chat-completions
// envelope.
func openAIReply(content string) string {
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

const validClassificationJSON = `{"category":"infrastructure","subcategory":"orchestration","tags":["k8s"],"confidence":0.9,"reason":"operator for k8s"}`

func TestNewValidatesConfig(t *testing.T) {
	schema := testSchema()

	t.Run("empty provider is not configured", func(t *testing.T) {
		_, err := New(testLogger(), config.LLMConfig{Provider: ""}, schema)
		assert.ErrorIs(t, err, arbiter.ErrNotConfigured)
	})

	t.Run("none provider is not configured", func(t *testing.T) {
		_, err := New(testLogger(), config.LLMConfig{Provider: "none"}, schema)
		assert.ErrorIs(t, err, arbiter.ErrNotConfigured)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := New(testLogger(), config.LLMConfig{Provider: "cohere", Model: "m"}, schema)
		assert.ErrorIs(t, err, arbiter.ErrInvalidConfig)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := New(testLogger(), config.LLMConfig{Provider: "openai"}, schema)
		assert.ErrorIs(t, err, arbiter.ErrInvalidConfig)
	})

	t.Run("nil schema", func(t *testing.T) {
		_, err := New(testLogger(), testConfig("openai", ""), nil)
		assert.Error(t, err)
	})

	t.Run("provider casing is normalized", func(t *testing.T) {
		_, err := New(testLogger(), testConfig("OpenAI", ""), schema)
		assert.NoError(t, err)
	})
}

func TestArbitrateOpenAIWireFormat(t *testing.T) {
	var (
		gotPath    string
		gotAuth    string
		gotBody    openAIRequest
		gotExtra   string
		gotContent string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotExtra = r.Header.Get("X-Custom-Header")
		gotContent = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, openAIReply(validClassificationJSON))
	}))
	defer srv.Close()

	cfg := testConfig("openai", srv.URL)
	cfg.ExtraHeadersJSON = `{"X-Custom-Header":"custom-value"}`
	arb, err := New(testLogger(), cfg, testSchema())
	require.NoError(t, err)

	result, _, err := arb.Arbitrate(context.Background(), testRepo(), nil)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test-key", gotAuth)
	assert.Equal(t, "custom-value", gotExtra)
	assert.Equal(t, "application/json", gotContent)

	assert.Equal(t, "test-model", gotBody.Model)
	assert.Equal(t, 500, gotBody.MaxTokens)
	assert.InDelta(t, 0.2, gotBody.Temperature, 1e-9)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "user", gotBody.Messages[1].Role)
	assert.Contains(t, gotBody.Messages[1].Content, "acme/widget")

	assert.Equal(t, "infrastructure", result.Category)
	assert.Equal(t, "orchestration", result.Subcategory)
	assert.Equal(t, []string{"kubernetes"}, result.TagIDs)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "test-model", result.Model)
}

func TestArbitrateAnthropicWireFormat(t *testing.T) {
	var (
		gotPath    string
		gotKey     string
		gotVersion string
		gotBody    anthropicRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		reply := map[string]any{
			"content": []map[string]any{
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": validClassificationJSON},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("anthropic", srv.URL), testSchema())
	require.NoError(t, err)

	result, _, err := arb.Arbitrate(context.Background(), testRepo(), nil)
	require.NoError(t, err)

	assert.Equal(t, "/messages", gotPath)
	assert.Equal(t, "sk-test-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)

	// The messages dialect carries the system prompt as a top-level field.
	assert.NotEmpty(t, gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)

	assert.Equal(t, "infrastructure", result.Category)
	assert.Equal(t, "anthropic", result.Provider)
}

func TestArbitrateFencedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fenced := "```json\n" + validClassificationJSON + "\n```"
		fmt.Fprint(w, openAIReply(fenced))
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	result, _, err := arb.Arbitrate(context.Background(), testRepo(), nil)
	require.NoError(t, err)
	assert.Equal(t, "infrastructure", result.Category)
}

func TestArbitrateStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tc.code)
			}))
			defer srv.Close()

			arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
			require.NoError(t, err)

			_, _, err = arb.Arbitrate(context.Background(), testRepo(), nil)
			require.Error(t, err)
			assert.Equal(t, tc.transient, errors.Is(err, arbiter.ErrTransientFailure))
			assert.Contains(t, err.Error(), fmt.Sprint(tc.code))
		})
	}
}

func TestArbitrateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	_, _, err = arb.Arbitrate(context.Background(), testRepo(), nil)
	assert.ErrorIs(t, err, arbiter.ErrInvalidResponse)
}

func TestArbitrateUnparseableReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, openAIReply("I could not decide on a category, sorry."))
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	_, _, err = arb.Arbitrate(context.Background(), testRepo(), nil)
	assert.ErrorIs(t, err, arbiter.ErrInvalidResponse)
}

func TestArbitrateConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connect to a dead server

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	_, _, err = arb.Arbitrate(context.Background(), testRepo(), nil)
	assert.ErrorIs(t, err, arbiter.ErrTransientFailure)
}

func TestArbitrateEmbedsCandidatePriors(t *testing.T) {
	// Candidate priors ride in the system message; the user message only
	// carries the repository context.
	var systemContent, userContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		systemContent = body.Messages[0].Content
		userContent = body.Messages[1].Content
		fmt.Fprint(w, openAIReply(validClassificationJSON))
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	candidates := []domain.RuleCandidate{
		{RuleID: "k8s-tooling", Score: 0.72, Category: "infrastructure", Subcategory: "orchestration"},
	}
	_, _, err = arb.Arbitrate(context.Background(), testRepo(), candidates)
	require.NoError(t, err)
	assert.Contains(t, systemContent, "k8s-tooling")
	assert.NotContains(t, userContent, "k8s-tooling")
	assert.Contains(t, userContent, "acme/widget")
}

func TestArbitrateReturnsDroppedTags(t *testing.T) {
	reply := `{"category":"infrastructure","subcategory":"orchestration","tags":["k8s","made-up-tag"],"confidence":0.9,"reason":"operator for k8s"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, openAIReply(reply))
	}))
	defer srv.Close()

	arb, err := New(testLogger(), testConfig("openai", srv.URL), testSchema())
	require.NoError(t, err)

	result, dropped, err := arb.Arbitrate(context.Background(), testRepo(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"kubernetes"}, result.TagIDs)
	assert.Equal(t, []string{"made-up-tag"}, dropped)
}

func TestMalformedExtraHeadersIgnored(t *testing.T) {
	cfg := testConfig("openai", "")
	cfg.ExtraHeadersJSON = `{not json`
	arb, err := New(testLogger(), cfg, testSchema())
	require.NoError(t, err)
	assert.Empty(t, arb.extraHeaders)
}
