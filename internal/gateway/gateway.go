// Package gateway is the single path from pipeline stages to the generative
// backend. Every call sends system instructions plus one JSON user payload,
// expects exactly one JSON object back, validates it and retries only
// transient failures.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/resilience"
	"github.com/sells-group/visa-pipeline/pkg/anthropic"
)

// JSONOnly is appended to every system prompt as an uncached trailer.
const JSONOnly = "Respond with a single JSON object only. Do not use markdown, code fences or commentary."

// ErrMissingAPIKey is returned by New when no client and no key are given.
var ErrMissingAPIKey = eris.New("gateway: anthropic api key is required")

// Caller is implemented by Gateway; stages depend on it so tests can stub
// the backend.
type Caller interface {
	Call(ctx context.Context, req Request) (map[string]any, error)
}

// Validator sanitizes and checks a parsed object. It may return a rewritten
// object. Errors are reported as validation failures unless they already
// carry a pipeline error kind.
type Validator func(obj map[string]any) (map[string]any, error)

// Request is one logical generative call.
type Request struct {
	// Stage labels logs and metrics ("facts", "classification", ...).
	Stage   string
	System  string
	Payload any
	// Validate is optional.
	Validate    Validator
	Temperature *float64
	MaxTokens   int64
	// Timeout overrides the per-attempt timeout when positive.
	Timeout time.Duration
	// MaxRetries overrides the retry count when non-nil.
	MaxRetries *int
}

// Config configures a Gateway.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64

	Retry resilience.RetryConfig

	// RateLimit is requests per second across all stages; 0 disables it.
	RateLimit float64
	RateBurst int

	// Breaker is nil when the circuit breaker is disabled.
	Breaker *resilience.BreakerConfig

	Metrics *metrics.Metrics
}

// Gateway implements Caller over an anthropic.Client.
type Gateway struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	limiter   *rate.Limiter
	breaker   *resilience.Breaker[*anthropic.MessageResponse]
	metrics   *metrics.Metrics
}

// New builds a Gateway. When client is nil an SDK client is created from
// cfg.APIKey, and an empty key is an error.
func New(client anthropic.Client, cfg Config) (*Gateway, error) {
	if client == nil {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, ErrMissingAPIKey
		}
		var opts []anthropic.ClientOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		client = anthropic.NewClient(cfg.APIKey, opts...)
	}
	if cfg.Model == "" {
		return nil, eris.New("gateway: model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	g := &Gateway{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
		metrics:   cfg.Metrics,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Breaker != nil {
		g.breaker = resilience.NewBreaker[*anthropic.MessageResponse](*cfg.Breaker)
	}
	return g, nil
}

// Call sends req and returns the validated JSON object.
func (g *Gateway) Call(ctx context.Context, req Request) (map[string]any, error) {
	start := time.Now()
	attempts := 0

	obj, err := g.call(ctx, req, &attempts)
	outcome := "ok"
	if err != nil {
		outcome = model.ErrorCode(err)
	}
	g.metrics.RecordCall(req.Stage, outcome, attempts, time.Since(start))
	return obj, err
}

func (g *Gateway) call(ctx context.Context, req Request, attempts *int) (map[string]any, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, eris.Wrapf(err, "gateway: %s: marshal payload", req.Stage)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	msgReq := anthropic.MessageRequest{
		Model:       g.model,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(req.System, JSONOnly),
		Messages:    []anthropic.Message{{Role: "user", Content: string(payload)}},
		Temperature: req.Temperature,
	}

	zap.L().Debug("gateway: sending request",
		zap.String("stage", req.Stage),
		zap.Int("system_chars", len(req.System)),
		zap.Int("payload_bytes", len(payload)),
	)

	retry := g.retry
	if req.MaxRetries != nil {
		retry.MaxAttempts = *req.MaxRetries + 1
	}
	if req.Timeout > 0 {
		retry.AttemptTimeout = req.Timeout
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", req.Stage)

	resp, err := g.execute(func() (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			*attempts++
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return nil, resilience.NewTransientError(eris.Wrap(err, "gateway: rate limit wait"), 0)
				}
			}
			return g.client.CreateMessage(ctx, msgReq)
		})
	})
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, eris.Wrapf(model.ErrUpstreamTransient, "gateway: %s after %d attempt(s): %v", req.Stage, *attempts, err)
		}
		return nil, eris.Wrapf(err, "gateway: %s", req.Stage)
	}

	resp.Usage.LogCost(g.model, req.Stage)
	g.metrics.RecordTokens(req.Stage, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	obj, err := ParseObject(resp.Text())
	if err != nil {
		return nil, model.NewInvalidOutput(req.Stage, err.Error())
	}

	if req.Validate == nil {
		return obj, nil
	}
	out, err := req.Validate(obj)
	if err != nil {
		return nil, validationError(req.Stage, err)
	}
	return out, nil
}

func (g *Gateway) execute(fn func() (*anthropic.MessageResponse, error)) (*anthropic.MessageResponse, error) {
	if g.breaker == nil {
		return fn()
	}
	return g.breaker.Execute(fn)
}

// ParseObject decodes text as exactly one JSON object. Surrounding
// whitespace is allowed; anything else is an error.
func ParseObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("empty response")
		}
		return nil, eris.Wrap(err, "response is not valid JSON")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, eris.New("response is not a JSON object")
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, eris.New("unexpected data after JSON object")
	}
	return obj, nil
}

func validationError(stage string, err error) error {
	if model.ErrorCode(err) != "internal_error" {
		return err
	}
	return model.NewValidationError(stage, contract.Details(err)...)
}

// CallAs calls c and decodes the validated object into T.
func CallAs[T any](ctx context.Context, c Caller, req Request) (T, error) {
	var zero T
	obj, err := c.Call(ctx, req)
	if err != nil {
		return zero, err
	}
	v, err := contract.Decode[T](obj)
	if err != nil {
		return zero, model.NewValidationError(req.Stage, err.Error())
	}
	return v, nil
}

// Float returns a pointer to f, for Request.Temperature.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to n, for Request.MaxRetries.
func Int(n int) *int { return &n }
