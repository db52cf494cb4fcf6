package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/knowledge-qa/internal/core/domain"
	"github.com/kirillkom/knowledge-qa/internal/core/ports"
)

const (
	serverName    = "knowledge-qa"
	serverVersion = "1.0.0"
	askToolName   = "ask_knowledge_base"
)

// IdentityFunc returns the request and caller ids attached by the HTTP
// middleware chain.
type IdentityFunc func(r *http.Request) (requestID, callerID string)

type identityContextKey struct{}

type requestIdentity struct {
	requestID string
	callerID  string
}

// NewHandler exposes the QA pipeline as a single MCP tool over streamable HTTP.
func NewHandler(answerer ports.QuestionAnswerer, identity IdentityFunc, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions("Answers questions from the stored knowledge base. Every answer carries evidence and citations."),
	)
	s.AddTool(askTool(), askHandler(answerer, logger))

	return server.NewStreamableHTTPServer(s,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if identity == nil {
				return ctx
			}
			requestID, callerID := identity(r)
			return context.WithValue(ctx, identityContextKey{}, requestIdentity{requestID: requestID, callerID: callerID})
		}),
	)
}

func askTool() mcp.Tool {
	return mcp.NewTool(askToolName,
		mcp.WithDescription("Answer a question using only the knowledge base. Returns the answer envelope with evidence, citations and confidence as JSON."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question, at least two characters."),
		),
	)
}

func askHandler(answerer ports.QuestionAnswerer, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ids, _ := ctx.Value(identityContextKey{}).(requestIdentity)
		resp, err := answerer.Ask(ctx, domain.QARequest{
			Question:  question,
			RequestID: ids.requestID,
			CallerID:  ids.callerID,
		})
		if err != nil {
			logger.WarnContext(ctx, "mcp_ask_failed",
				"request_id", ids.requestID,
				"failure", domain.ClassifyFailure(err),
				"error", err.Error(),
			)
			return toolError(domain.ErrorEnvelope{Error: domain.ErrorBody{
				Code:      domain.ErrorCode(err),
				Message:   err.Error(),
				RequestID: ids.requestID,
			}}), nil
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func toolError(env domain.ErrorEnvelope) *mcp.CallToolResult {
	body, err := json.Marshal(env)
	if err != nil {
		return mcp.NewToolResultError(env.Error.Message)
	}
	return mcp.NewToolResultError(string(body))
}
