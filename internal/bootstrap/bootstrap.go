package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/knowledge-qa/internal/config"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
	"github.com/kirillkom/knowledge-qa/internal/core/usecase"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/identity"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/ratelimit"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/search/postgres"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/search/supabase"
	"github.com/kirillkom/knowledge-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/knowledge-qa/internal/observability/metrics"
)

const staticTokenCaller = "api-key"

type App struct {
	Config config.Config
	Logger *slog.Logger

	// Answerer serves questions: the local pipeline, or the NATS queue when
	// dispatch is delegated to workers.
	Answerer ports.QuestionAnswerer
	Pipeline *usecase.QAUseCase
	Queue    *nats.Queue

	Identity ports.IdentityResolver
	Limiter  ports.RateLimiter

	closers []func()
}

// NewAPI wires the HTTP process. QA metrics register on registerer.
func NewAPI(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Identity: newIdentity(cfg)}

	limiter, closeLimiter, err := newLimiter(cfg)
	if err != nil {
		return nil, err
	}
	app.Limiter = limiter
	app.onClose(closeLimiter)

	executor := newExecutor(cfg, logger)
	if cfg.QADispatch == config.DispatchNATS {
		queue, err := newQueue(cfg, executor, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Queue = queue
		app.Answerer = queue
		app.onClose(queue.Close)
		return app, nil
	}

	pipeline, err := app.buildPipeline(ctx, executor, metrics.NewQAMetrics("api", registerer))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = pipeline
	app.Answerer = pipeline
	return app, nil
}

// NewWorker wires a queue consumer that runs the pipeline locally.
func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger, registerer prometheus.Registerer) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	executor := newExecutor(cfg, logger)

	pipeline, err := app.buildPipeline(ctx, executor, metrics.NewQAMetrics("worker", registerer))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline = pipeline
	app.Answerer = pipeline

	queue, err := newQueue(cfg, executor, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Queue = queue
	app.onClose(queue.Close)
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

func (a *App) buildPipeline(ctx context.Context, executor *resilience.Executor, observer ports.QAObserver) (*usecase.QAUseCase, error) {
	opts, err := QAOptions(a.Config)
	if err != nil {
		return nil, err
	}
	index, err := a.newHybridIndex(ctx, executor)
	if err != nil {
		return nil, err
	}
	embedder, completer := newLLM(a.Config, executor)
	return usecase.NewQAUseCase(embedder, index, completer, opts, a.Logger, observer), nil
}

// newHybridIndex opens the configured backend. A failed readiness probe is
// logged, not fatal: retrieval outages degrade answers rather than startup.
func (a *App) newHybridIndex(ctx context.Context, executor *resilience.Executor) (ports.HybridIndex, error) {
	cfg := a.Config
	switch cfg.SearchBackend {
	case config.SearchBackendSupabase:
		return supabase.NewRPCIndex(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, executor), nil
	case config.SearchBackendQdrant:
		client := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, cfg.QdrantDenseVector, cfg.QdrantSparseVector, executor)
		if err := client.CheckCollection(ctx); err != nil {
			a.Logger.Warn("qdrant_collection_unavailable", "collection", cfg.QdrantCollection, "error", err.Error())
		}
		return client, nil
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.onClose(func() { _ = db.Close() })
		index := postgres.NewHybridIndex(db, executor)
		if err := index.CheckFunction(ctx); err != nil {
			a.Logger.Warn("hybrid_function_unavailable", "error", err.Error())
		}
		return index, nil
	}
}

func newLLM(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.Completer) {
	if cfg.LLMProvider == config.LLMProviderOllama {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
		return ollama.NewEmbedder(client), ollama.NewCompleter(client)
	}
	client := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIGenModel, cfg.OpenAIEmbedModel, executor)
	return openai.NewEmbedder(client), openai.NewCompleter(client)
}

// QAOptions maps configured tunables onto pipeline options.
func QAOptions(cfg config.Config) (usecase.QAOptions, error) {
	policy, err := usecase.ParseWeakContextPolicy(cfg.RAG.WeakContextPolicy)
	if err != nil {
		return usecase.QAOptions{}, err
	}
	return usecase.QAOptions{
		Retrieval: usecase.RetrievalOptions{
			CandidateTopN:  cfg.RAG.CandidateTopN,
			VectorWeight:   cfg.RAG.VectorWeight,
			LexicalWeight:  cfg.RAG.LexicalWeight,
			RewriteEnabled: cfg.RAG.QueryRewriteEnabled,
			CallTimeout:    cfg.CallTimeout(),
		},
		Thresholds: usecase.Thresholds{
			Answerable:  cfg.RAG.AnswerableThreshold,
			WeakFloor:   cfg.RAG.WeakContextFloor,
			MinEvidence: cfg.RAG.MinEvidenceCount,
			WidenAccept: cfg.RAG.WidenAcceptScore,
		},
		GenerationTopK:      cfg.RAG.GenerationTopK,
		AssessmentTopK:      cfg.RAG.AssessmentTopK,
		WeakContextPolicy:   policy,
		SectionBoostEnabled: cfg.RAG.SectionBoostEnabled,
	}, nil
}

func newExecutor(cfg config.Config, logger *slog.Logger) *resilience.Executor {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return resilience.NewExecutor(rc, logger)
}

func newIdentity(cfg config.Config) ports.IdentityResolver {
	chain := identity.Chain{}
	if cfg.AuthAPIKey != "" {
		chain = append(chain, identity.StaticTokenResolver{Token: cfg.AuthAPIKey, CallerID: staticTokenCaller})
	}
	return append(chain, identity.NewJWTSubjectResolver())
}

// newLimiter returns nil when rate limiting is disabled. With Redis the
// sliding window admits burst requests per burst/rps seconds.
func newLimiter(cfg config.Config) (ports.RateLimiter, func(), error) {
	if cfg.APIRateLimitRPS <= 0 {
		return nil, nil, nil
	}
	burst := max(cfg.APIRateLimitBurst, 1)
	if cfg.RedisURL == "" {
		return ratelimit.NewLocal(cfg.APIRateLimitRPS, burst), nil, nil
	}
	rdb, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	window := time.Duration(float64(burst) / cfg.APIRateLimitRPS * float64(time.Second))
	return ratelimit.NewRedis(rdb, burst, window), func() { _ = rdb.Close() }, nil
}

func newQueue(cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (*nats.Queue, error) {
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	return queue, nil
}
