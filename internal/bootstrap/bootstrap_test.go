package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/ratelimit"
)

func testConfig() config.Config {
	return config.Config{
		RAG:                    config.DefaultTunables(),
		SearchBackend:          config.SearchBackendSupabase,
		SupabaseURL:            "http://supabase.invalid",
		SupabaseServiceRoleKey: "service-key",
		LLMProvider:            config.LLMProviderOpenAI,
		OpenAIBaseURL:          "http://openai.invalid",
		QADispatch:             config.DispatchLocal,
		APIRateLimitBurst:      10,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQAOptionsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.QueryRewriteEnabled = true
	cfg.RAG.WeakContextPolicy = "abstain"

	opts, err := QAOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 28, opts.Retrieval.CandidateTopN)
	assert.Equal(t, 0.74, opts.Retrieval.VectorWeight)
	assert.True(t, opts.Retrieval.RewriteEnabled)
	assert.Equal(t, 20*time.Second, opts.Retrieval.CallTimeout)
	assert.Equal(t, usecase.DefaultThresholds(), opts.Thresholds)
	assert.Equal(t, usecase.WeakContextAbstain, opts.WeakContextPolicy)
	assert.Equal(t, 6, opts.GenerationTopK)
	assert.Equal(t, 10, opts.AssessmentTopK)
}

func TestQAOptionsRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.RAG.WeakContextPolicy = "guess"
	_, err := QAOptions(cfg)
	require.Error(t, err)
}

func TestNewLimiterSelection(t *testing.T) {
	cfg := testConfig()

	limiter, closeFn, err := newLimiter(cfg)
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.Nil(t, closeFn)

	cfg.APIRateLimitRPS = 5
	limiter, _, err = newLimiter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Local{}, limiter)

	cfg.RedisURL = "redis://localhost:6379/0"
	limiter, closeFn, err = newLimiter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.Redis{}, limiter)
	require.NotNil(t, closeFn)
	closeFn()

	cfg.RedisURL = "://bad"
	_, _, err = newLimiter(cfg)
	require.Error(t, err)
}

func TestNewIdentityAcceptsStaticToken(t *testing.T) {
	cfg := testConfig()
	cfg.AuthAPIKey = "secret"
	resolver := newIdentity(cfg)

	id, ok := resolver.Resolve(context.Background(), "Bearer secret")
	assert.True(t, ok)
	assert.Equal(t, staticTokenCaller, id)

	_, ok = resolver.Resolve(context.Background(), "Bearer other")
	assert.False(t, ok)
}

func TestNewAPIBuildsLocalPipeline(t *testing.T) {
	app, err := NewAPI(context.Background(), testConfig(), quietLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Pipeline)
	assert.Same(t, app.Pipeline, app.Answerer)
	assert.Nil(t, app.Queue)
	assert.Nil(t, app.Limiter)
	assert.NotNil(t, app.Identity)
}

func TestNewAPIUsesOllamaProvider(t *testing.T) {
	cfg := testConfig()
	cfg.LLMProvider = config.LLMProviderOllama
	cfg.APIRateLimitRPS = 2
	app, err := NewAPI(context.Background(), cfg, quietLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Answerer)
	assert.IsType(t, &ratelimit.Local{}, app.Limiter)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	app := &App{}
	app.onClose(func() { order = append(order, 1) })
	app.onClose(nil)
	app.onClose(func() { order = append(order, 2) })

	app.Close()
	app.Close()
	assert.Equal(t, []int{2, 1}, order)
}
