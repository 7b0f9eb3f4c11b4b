package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codecollection/bundlesearch/internal/conversation"
	"github.com/codecollection/bundlesearch/internal/pipeline"
	"github.com/codecollection/bundlesearch/internal/telemetry"
)

// AskCatalogInput is the input schema for the askCatalog tool.
type AskCatalogInput struct {
	Question     string `json:"question" jsonschema:"The question to ask about the CodeBundle catalog"`
	ContextLimit int    `json:"context_limit,omitempty" jsonschema:"Maximum number of catalog entries to retrieve"`
	History      []Turn `json:"conversation_history,omitempty" jsonschema:"Prior turns of this conversation, oldest first"`
}

// Turn mirrors one conversation turn on the wire.
type Turn struct {
	Role    string `json:"role" jsonschema:"Either user or assistant"`
	Content string `json:"content" jsonschema:"The turn's text"`
}

// RecentTracesInput is the input schema for the recentTraces tool.
type RecentTracesInput struct {
	Filter string `json:"filter,omitempty" jsonschema:"all, no_match, or success"`
	Sort   string `json:"sort,omitempty" jsonschema:"newest, oldest, most_items, or fewest_items"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of traces to return"`
}

// QualityReportInput is the input schema for the qualityReport tool.
type QualityReportInput struct {
	WindowHours int `json:"window_hours,omitempty" jsonschema:"Trailing analysis window in hours, default 24"`
}

// registerTools registers all catalog tools to the MCP server.
func (s *Server) registerTools() error {
	askSchema, err := jsonschema.For[AskCatalogInput](nil)
	if err != nil {
		return fmt.Errorf("schema for askCatalog: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "askCatalog",
		Description: "Answer a question about the CodeBundle catalog, grounded in semantic search over the corpus.",
		InputSchema: askSchema,
	}, s.AskCatalog)

	tracesSchema, err := jsonschema.For[RecentTracesInput](nil)
	if err != nil {
		return fmt.Errorf("schema for recentTraces: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "recentTraces",
		Description: "List recent question/answer telemetry records, including retrieval results and prompts.",
		InputSchema: tracesSchema,
	}, s.RecentTraces)

	reportSchema, err := jsonschema.For[QualityReportInput](nil)
	if err != nil {
		return fmt.Errorf("schema for qualityReport: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "qualityReport",
		Description: "Aggregate answer-quality report over a trailing window: no-match rate, follow-up failures, recommendations.",
		InputSchema: reportSchema,
	}, s.QualityReport)

	debugSchema, err := jsonschema.For[AskCatalogInput](nil)
	if err != nil {
		return fmt.Errorf("schema for debugQuery: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "debugQuery",
		Description: "Run a question through the full pipeline and return the answer, its trace, and detected quality issues.",
		InputSchema: debugSchema,
	}, s.DebugQuery)

	return nil
}

// AskCatalog handles the askCatalog MCP tool call.
func (s *Server) AskCatalog(ctx context.Context, req *mcp.CallToolRequest, input AskCatalogInput) (*mcp.CallToolResult, any, error) {
	resp, err := s.pipeline.Ask(ctx, pipelineRequest(input))
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(resp)
}

// RecentTraces handles the recentTraces MCP tool call.
func (s *Server) RecentTraces(ctx context.Context, req *mcp.CallToolRequest, input RecentTracesInput) (*mcp.CallToolResult, any, error) {
	filter, err := telemetry.ParseFilter(input.Filter)
	if err != nil {
		return errorResult(err), nil, nil
	}
	order, err := telemetry.ParseSort(input.Sort)
	if err != nil {
		return errorResult(err), nil, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	return jsonResult(s.traces.Recent(limit, filter, order))
}

// QualityReport handles the qualityReport MCP tool call.
func (s *Server) QualityReport(ctx context.Context, req *mcp.CallToolRequest, input QualityReportInput) (*mcp.CallToolResult, any, error) {
	hours := input.WindowHours
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return jsonResult(s.traces.Analyze(since))
}

// DebugQuery handles the debugQuery MCP tool call.
func (s *Server) DebugQuery(ctx context.Context, req *mcp.CallToolRequest, input AskCatalogInput) (*mcp.CallToolResult, any, error) {
	diag, err := s.pipeline.DryRun(ctx, pipelineRequest(input))
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(diag)
}

// pipelineRequest maps the wire input onto the pipeline request.
func pipelineRequest(input AskCatalogInput) pipeline.Request {
	history := make([]conversation.Turn, 0, len(input.History))
	for _, turn := range input.History {
		history = append(history, conversation.Turn{Role: turn.Role, Content: turn.Content})
	}
	return pipeline.Request{
		Question:     input.Question,
		ContextLimit: input.ContextLimit,
		History:      history,
	}
}

// jsonResult marshals data as the tool's text content.
func jsonResult(data any) (*mcp.CallToolResult, any, error) {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(encoded)}},
	}, nil, nil
}

// errorResult reports a handled failure to the agent without tearing down
// the protocol session.
func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
