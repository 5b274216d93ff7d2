package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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
	mc := new(MockClient)
	ctx := context.Background()

	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Messages:  []Message{{Role: "user", Content: "extract"}},
	}
	mc.On("CreateMessage", ctx, req).Return(&MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: "part one, "}, {Type: "text", Text: "part two"}},
	}, nil).Once()
	mc.On("CreateMessage", ctx, mock.Anything).Return(nil, errors.New("boom"))

	resp, err := mc.CreateMessage(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", resp.Text())

	_, err = mc.CreateMessage(ctx, MessageRequest{Model: "other"})
	assert.EqualError(t, err, "boom")
	mc.AssertExpectations(t)
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "thinking", Text: "hmm"},
		{Type: "text", Text: "{}"},
	}}
	assert.Equal(t, "{}", resp.Text())
}

func TestSDKTypeConversion_toSDKMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
		{Role: "system-ish", Content: "treated as user"},
	}

	sdkMsgs := toSDKMessages(msgs)
	require.Len(t, sdkMsgs, 3)
	assert.Equal(t, "assistant", string(sdkMsgs[1].Role))
	assert.Equal(t, "user", string(sdkMsgs[2].Role))
}

func TestSDKTypeConversion_toSDKSystemBlocks(t *testing.T) {
	blocks := []SystemBlock{
		{Text: "You are a helpful assistant."},
		{Text: "Context data here.", CacheControl: &CacheControl{TTL: "1h"}},
	}

	sdkBlocks := toSDKSystemBlocks(blocks)
	require.Len(t, sdkBlocks, 2)
	assert.Equal(t, "You are a helpful assistant.", sdkBlocks[0].Text)
	assert.Equal(t, "Context data here.", sdkBlocks[1].Text)
	assert.Equal(t, "1h", string(sdkBlocks[1].CacheControl.TTL))
}

func TestBuildSystemBlocks(t *testing.T) {
	cached := BuildCachedSystemBlocks("prompt")
	require.Len(t, cached, 1)
	require.NotNil(t, cached[0].CacheControl)
	assert.Equal(t, "1h", cached[0].CacheControl.TTL)

	plain := BuildSystemBlocks("prompt")
	require.Len(t, plain, 1)
	assert.Nil(t, plain[0].CacheControl)
	assert.Nil(t, BuildSystemBlocks(""))
}
