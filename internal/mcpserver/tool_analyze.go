package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meridianhq/meridian/internal/gateway"
)

type AnalyzeInput struct {
	Question string `json:"question"`
	Depth    string `json:"depth,omitempty"`
}

type AnalyzeOutput struct {
	Success         bool     `json:"success"`
	Response        string   `json:"response"`
	Confidence      float64  `json:"confidence"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	DatasetsUsed    []string `json:"datasets_used"`
	RowCount        int      `json:"row_count"`
	Warnings        []string `json:"warnings,omitempty"`
	Error           string   `json:"error,omitempty"`
	AnalysisType    string   `json:"analysis_type,omitempty"`
}

func analyzeOutput(result gateway.PublicResult) AnalyzeOutput {
	return AnalyzeOutput{
		Success:         result.Success,
		Response:        result.Response,
		Confidence:      result.Confidence,
		ExecutionTimeMS: result.ExecutionTimeMS,
		DatasetsUsed:    result.DatasetsUsed,
		RowCount:        result.RowCount,
		Warnings:        result.Warnings,
		Error:           result.Error,
		AnalysisType:    result.AnalysisType,
	}
}

// RegisterAnalysisTools registers analyze_data and business_insights. Both
// drive the full pipeline; the latter tags results for decision support.
func RegisterAnalysisTools(log *slog.Logger, server *mcp.Server, gw *gateway.Service) error {
	req, err := jsonschema.For[AnalyzeInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create analyze input schema: %w", err)
	}

	res, err := jsonschema.For[AnalyzeOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create analyze output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "analyze_data",
		Description: `Run a full analysis of a business question against the data catalog.
Detects the relevant datasets, plans and executes queries, and returns a formatted answer with insights.
Depth is one of "standard", "deep", or "extensive" (default "standard").`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, AnalyzeOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling analyze_data", "question", in.Question)

		result := gw.RunIntelligentAnalysis(ctx, in.Question, in.Depth)
		observeToolCall("analyze_data", result.Success, startTime)
		return nil, analyzeOutput(result), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "business_insights",
		Description: `Run an insight-focused analysis of a business question.
Same pipeline as analyze_data, with the result tagged for decision support.
Depth is one of "standard", "deep", or "extensive" (default "standard").`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, AnalyzeOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling business_insights", "question", in.Question)

		result := gw.RunBusinessInsights(ctx, in.Question, in.Depth)
		observeToolCall("business_insights", result.Success, startTime)
		return nil, analyzeOutput(result), nil
	})

	return nil
}

func observeToolCall(toolName string, success bool, startTime time.Time) {
	status := "success"
	if !success {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	ToolCallDuration.WithLabelValues(toolName).Observe(time.Since(startTime).Seconds())
}
