package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
)

type stubAnswerer struct {
	got domain.QARequest
	err error
}

func (s *stubAnswerer) Ask(_ context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.QAResponse{
		Data: domain.AnswerData{Answer: "요약 (출처: 노트)"},
		Meta: domain.ResponseMeta{RequestID: req.RequestID, Confidence: 0.7},
	}, nil
}

func callRequest(t *testing.T, args string) mcp.CallToolRequest {
	t.Helper()
	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal([]byte(`{"params":{"name":"ask_knowledge_base","arguments":`+args+`}}`), &req))
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAskHandlerReturnsEnvelopeJSON(t *testing.T) {
	answerer := &stubAnswerer{}
	ctx := context.WithValue(context.Background(), identityContextKey{}, requestIdentity{requestID: "req-1", callerID: "user-1"})

	res, err := askHandler(answerer, quietLogger())(ctx, callRequest(t, `{"question":"벡터 검색이란?"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var resp domain.QAResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
	assert.Equal(t, "req-1", resp.Meta.RequestID)
	assert.Equal(t, domain.QARequest{Question: "벡터 검색이란?", RequestID: "req-1", CallerID: "user-1"}, answerer.got)
}

func TestAskHandlerRequiresQuestion(t *testing.T) {
	res, err := askHandler(&stubAnswerer{}, quietLogger())(context.Background(), callRequest(t, `{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAskHandlerMapsErrorsToEnvelope(t *testing.T) {
	answerer := &stubAnswerer{err: domain.WrapError(domain.ErrInvalidInput, "ask", errors.New("question is too short"))}

	res, err := askHandler(answerer, quietLogger())(context.Background(), callRequest(t, `{"question":"a"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var env domain.ErrorEnvelope
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &env))
	assert.Equal(t, domain.CodeBadRequest, env.Error.Code)
}

func TestAskToolSchema(t *testing.T) {
	tool := askTool()
	assert.Equal(t, askToolName, tool.Name)
	assert.Contains(t, tool.InputSchema.Required, "question")
	assert.Contains(t, tool.InputSchema.Properties, "question")
}

func TestNewHandlerBuilds(t *testing.T) {
	assert.NotNil(t, NewHandler(&stubAnswerer{}, nil, nil))
}
