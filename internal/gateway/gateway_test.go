package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visa-pipeline/internal/contract"
	"github.com/sells-group/visa-pipeline/internal/metrics"
	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/resilience"
	"github.com/sells-group/visa-pipeline/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 120, OutputTokens: 30},
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		AttemptTimeout: time.Second,
	}
}

func newTestGateway(t *testing.T, mc *mockClient) *Gateway {
	t.Helper()
	g, err := New(mc, Config{Model: "claude-haiku-4-5-20251001", Retry: fastRetry(), Metrics: metrics.New()})
	require.NoError(t, err)
	return g
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Model: "m"})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(nil, Config{Model: "m", APIKey: "   "})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(new(mockClient), Config{})
	require.Error(t, err)

	g, err := New(nil, Config{Model: "m", APIKey: "sk-test", RateLimit: 2})
	require.NoError(t, err)
	assert.NotNil(t, g.limiter)
	assert.Equal(t, int64(4096), g.maxTokens)
	assert.Equal(t, 3, g.retry.MaxAttempts)
}

func TestCall_BuildsTwoPartRequest(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 2 &&
			req.System[0].Text == "extract facts" &&
			req.System[0].CacheControl != nil &&
			req.System[1].Text == JSONOnly &&
			len(req.Messages) == 1 &&
			req.Messages[0].Role == "user" &&
			req.Messages[0].Content == `{"text":"hello"}` &&
			req.Temperature != nil && *req.Temperature == 0.2 &&
			req.MaxTokens == 4096
	})).Return(textResponse(`  {"purpose":"work"} `), nil).Once()

	g := newTestGateway(t, mc)
	obj, err := g.Call(context.Background(), Request{
		Stage:       "facts",
		System:      "extract facts",
		Payload:     map[string]string{"text": "hello"},
		Temperature: Float(0.2),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"purpose": "work"}, obj)
	mc.AssertExpectations(t)
}

func TestCall_InvalidOutputIsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "Sure! Here is the JSON you asked for."},
		{"markdown fence", "```json\n{\"a\":1}\n```"},
		{"two objects", `{"a":1}{"b":2}`},
		{"array", `[{"a":1}]`},
		{"trailing text", `{"a":1} thanks`},
		{"truncated", `{"a":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mc := new(mockClient)
			mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(tt.text), nil).Once()

			g := newTestGateway(t, mc)
			_, err := g.Call(context.Background(), Request{Stage: "facts", System: "s", Payload: map[string]any{}})
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidOutput)
			assert.Equal(t, "invalid_output", model.ErrorCode(err))
			mc.AssertNumberOfCalls(t, "CreateMessage", 1)
		})
	}
}

func TestCall_ValidationFailure(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"questions":"nope"}`), nil).Once()

	g := newTestGateway(t, mc)
	_, err := g.Call(context.Background(), Request{
		Stage:   "questions",
		System:  "s",
		Payload: map[string]any{},
		Validate: func(obj map[string]any) (map[string]any, error) {
			return obj, contract.Validate(contract.QuestionsSchema(), obj)
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	var ce *model.ContractError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "questions", ce.Stage)
	require.NotEmpty(t, ce.Detail)
	assert.Contains(t, ce.Detail[0], "/questions")
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCall_ValidatorKindPassesThrough(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"candidates":[]}`), nil).Once()

	g := newTestGateway(t, mc)
	_, err := g.Call(context.Background(), Request{
		Stage: "classification",
		Validate: func(map[string]any) (map[string]any, error) {
			return nil, model.ErrNoCandidates
		},
	})
	require.ErrorIs(t, err, model.ErrNoCandidates)
	assert.NotErrorIs(t, err, model.ErrValidation)
}

func TestCall_ValidatorRewritesObject(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{"n":"5"}`), nil).Once()

	g := newTestGateway(t, mc)
	obj, err := g.Call(context.Background(), Request{
		Stage: "facts",
		Validate: func(obj map[string]any) (map[string]any, error) {
			n, _ := contract.Number(obj["n"])
			return map[string]any{"n": n}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 5.0}, obj)
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ok":true}`), nil).Once()

	g := newTestGateway(t, mc)
	obj, err := g.Call(context.Background(), Request{Stage: "classification"})
	require.NoError(t, err)
	assert.Equal(t, true, obj["ok"])
	mc.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestCall_ExhaustionIsUpstreamTransient(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("503"), 503))

	g := newTestGateway(t, mc)
	_, err := g.Call(context.Background(), Request{Stage: "classification", MaxRetries: Int(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamTransient)
	assert.Equal(t, "upstream_unavailable", model.ErrorCode(err))
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestCall_PermanentBackendErrorNotRetried(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("401 unauthorized")).Once()

	g := newTestGateway(t, mc)
	_, err := g.Call(context.Background(), Request{Stage: "facts"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrUpstreamTransient)
	assert.Contains(t, err.Error(), "401 unauthorized")
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestCall_AttemptTimeout(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(nil, context.DeadlineExceeded)

	g := newTestGateway(t, mc)
	_, err := g.Call(context.Background(), Request{
		Stage:      "finalize",
		Timeout:    5 * time.Millisecond,
		MaxRetries: Int(1),
	})
	require.ErrorIs(t, err, model.ErrUpstreamTransient)
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestCall_OpenCircuitSurfacesAsUpstreamTransient(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("500"), 500))

	bc := resilience.BreakerConfig{Name: "anthropic", FailureThreshold: 1, OpenTimeout: time.Hour}
	g, err := New(mc, Config{Model: "m", Retry: fastRetry(), Breaker: &bc})
	require.NoError(t, err)

	_, err = g.Call(context.Background(), Request{Stage: "facts", MaxRetries: Int(0)})
	require.ErrorIs(t, err, model.ErrUpstreamTransient)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)

	_, err = g.Call(context.Background(), Request{Stage: "facts", MaxRetries: Int(0)})
	require.ErrorIs(t, err, model.ErrUpstreamTransient)
	assert.Contains(t, err.Error(), "circuit")
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

type answer struct {
	Questions []string `json:"questions"`
}

func TestCallAs(t *testing.T) {
	t.Parallel()

	mc := new(mockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"questions":["a","b"]}`), nil).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"questions":"a"}`), nil).Once()

	g := newTestGateway(t, mc)
	got, err := CallAs[answer](context.Background(), g, Request{Stage: "questions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Questions)

	_, err = CallAs[answer](context.Background(), g, Request{Stage: "questions"})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestParseObject(t *testing.T) {
	t.Parallel()

	obj, err := ParseObject("\n{\"a\": {\"b\": [1, 2]}}\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": []any{1.0, 2.0}}}, obj)

	for _, bad := range []string{"", "null", `"x"`, "{} {}", "{}x"} {
		_, err := ParseObject(bad)
		assert.Error(t, err, bad)
	}
}
