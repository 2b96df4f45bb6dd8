package anthropic

import (
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_test_123",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "end_turn",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: `{"overall_level":`},
			{Type: "text", Text: `"low"}`},
		},
		Usage: sdk.Usage{
			InputTokens:  100,
			OutputTokens: 50,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, `{"overall_level":"low"}`, resp.Text())
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{ID: "msg_empty", StopReason: "max_tokens"})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Empty(t, resp.Text())
	assert.Equal(t, "max_tokens", resp.StopReason)
}

func TestText_SkipsNonTextBlocks(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "thinking", Text: "hmm"},
		{Type: "text", Text: "answer"},
	}}
	assert.Equal(t, "answer", resp.Text())
}

func TestToSDKMessages(t *testing.T) {
	assert.Empty(t, toSDKMessages(nil))

	msgs := []Message{
		{Role: "user", Content: "Question"},
		{Role: "assistant", Content: "Answer"},
		{Role: "unknown", Content: "Follow-up"},
	}
	sdkMsgs := toSDKMessages(msgs)
	require.Len(t, sdkMsgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, sdkMsgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, sdkMsgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, sdkMsgs[2].Role)
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	client := NewClient("test-api-key", Options{})
	require.NotNil(t, client)
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(errors.New("dial tcp: refused")))
	assert.Equal(t, 0, StatusCode(nil))
}
