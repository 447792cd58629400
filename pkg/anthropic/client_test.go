package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestCreateMessage_MockClient(t *testing.T) {
	t.Parallel()

	mc := new(MockClient)
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		System:    BuildCachedSystemBlocks("classify visas", ""),
		Messages:  []Message{{Role: "user", Content: `{"purpose":"work"}`}},
	}
	mc.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: `{"ok":`}, {Type: "text", Text: `true}`}},
	}, nil)

	resp, err := mc.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text())
	mc.AssertExpectations(t)
}

func TestMessageResponse_Text(t *testing.T) {
	t.Parallel()

	var nilResp *MessageResponse
	assert.Empty(t, nilResp.Text())

	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Text: "ignored"},
		{Text: "b"},
	}}
	assert.Equal(t, "ab", resp.Text())
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	t.Parallel()

	blocks := BuildCachedSystemBlocks("instructions", "Respond with JSON only.")
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
	assert.Nil(t, blocks[1].CacheControl)
	assert.Equal(t, "Respond with JSON only.", blocks[1].Text)

	assert.Len(t, BuildCachedSystemBlocks("instructions", ""), 1)
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 4.80},
		{"sonnet", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18.00},
		{
			"with cache", "claude-haiku-4-5-20251001",
			TokenUsage{InputTokens: 500_000, OutputTokens: 100_000, CacheCreationInputTokens: 200_000, CacheReadInputTokens: 300_000},
			1.024,
		},
		{"unknown", "unknown-model", TokenUsage{InputTokens: 1_000_000}, 0},
		{"zero", "claude-haiku-4-5-20251001", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-haiku-4-5-20251001", "classification",
			zap.String("submission_id", "abc"))
		TokenUsage{}.LogCost("unknown-model", "")
	})
}
