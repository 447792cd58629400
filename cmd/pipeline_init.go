package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visa-pipeline/internal/config"
	"github.com/sells-group/visa-pipeline/internal/gateway"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/orchestrator"
	"github.com/sells-group/visa-pipeline/internal/pipeline"
	"github.com/sells-group/visa-pipeline/internal/resilience"
	"github.com/sells-group/visa-pipeline/internal/store"
	"github.com/sells-group/visa-pipeline/internal/visa"
	anthropicpkg "github.com/sells-group/visa-pipeline/pkg/anthropic"
)

// pipelineEnv holds the store, metrics and orchestrator needed by the
// stage, batch and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Metrics      *metrics.Metrics
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for mode, opens and migrates the store,
// and wires the gateway and stages. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	return initPipelineWith(ctx, mode, nil)
}

// initPipelineWith is initPipeline with an injectable backend client; nil
// builds the SDK client from config.
func initPipelineWith(ctx context.Context, mode string, client anthropicpkg.Client) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.New()
	gw, err := gateway.New(client, gatewayConfig(cfg, m))
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init gateway")
	}

	resolver := visa.Default()
	if cfg.Pipeline.RulesPath != "" {
		resolver, err = visa.LoadRules(cfg.Pipeline.RulesPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load visa rules")
		}
	}

	stages := pipeline.New(gw, pipelineConfig(cfg.Pipeline), resolver, m)

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
		zap.Bool("breaker", cfg.Gateway.BreakerEnabled),
		zap.String("rules_version", resolver.Version()),
	)

	return &pipelineEnv{
		Store:        st,
		Metrics:      m,
		Orchestrator: orchestrator.New(st, orchestrator.FromPipeline(stages), defaultLanguage(cfg.Pipeline)),
	}, nil
}

func gatewayConfig(c *config.Config, m *metrics.Metrics) gateway.Config {
	g := c.Gateway
	gc := gateway.Config{
		APIKey:    c.Anthropic.Key,
		BaseURL:   c.Anthropic.BaseURL,
		Model:     c.Anthropic.Model,
		MaxTokens: c.Anthropic.MaxTokens,
		Retry:     resilience.FromRetryConfig(g.MaxRetries, g.InitialBackoffMs, g.MaxBackoffMs, g.JitterMs, g.TimeoutSecs),
		RateLimit: g.RateLimitRPS,
		RateBurst: g.RateLimitBurst,
		Metrics:   m,
	}
	if g.BreakerEnabled {
		bc := resilience.FromBreakerConfig("anthropic", g.BreakerFailureThreshold, g.BreakerOpenSecs)
		gc.Breaker = &bc
	}
	return gc
}

func pipelineConfig(p config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		MinTextLength:   p.MinTextLength,
		ClassifyCount:   p.ClassifyCount,
		RequireTopFloor: p.RequireTopFloor,
		ConfidenceFloor: p.ConfidenceFloor,
		QuestionMin:     p.QuestionMin,
		QuestionMax:     p.QuestionMax,
		QuestionTop:     p.QuestionTop,
		NoVisaThreshold: p.NoVisaThreshold,
		DefaultLanguage: defaultLanguage(p),
		Temperatures: pipeline.Temperatures{
			Extract:   p.Temperatures.Extract,
			Classify:  p.Temperatures.Classify,
			Questions: p.Temperatures.Questions,
			Finalize:  p.Temperatures.Finalize,
			Path:      p.Temperatures.Path,
		},
	}
}

func defaultLanguage(p config.PipelineConfig) model.Language {
	return model.ParseLanguage(p.DefaultLanguage, model.LanguagePT)
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "visa-pipeline.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
