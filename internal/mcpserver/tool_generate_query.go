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

type GenerateQueryInput struct {
	Request        string `json:"request"`
	DatasetContext string `json:"dataset_context,omitempty"`
}

type GenerateQueryOutput struct {
	Success      bool     `json:"success"`
	Query        string   `json:"query"`
	Alternatives []string `json:"alternatives,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
	Confidence   float64  `json:"confidence"`
	Datasets     []string `json:"datasets"`
	Intent       string   `json:"intent"`
	Complexity   string   `json:"complexity"`
	Error        string   `json:"error,omitempty"`
}

// RegisterQueryGenerationTool registers generate_query, which produces an
// optimized statement without executing it.
func RegisterQueryGenerationTool(log *slog.Logger, server *mcp.Server, gw *gateway.Service) error {
	req, err := jsonschema.For[GenerateQueryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create generate-query input schema: %w", err)
	}

	res, err := jsonschema.For[GenerateQueryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create generate-query output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "generate_query",
		Description: `Generate an optimized analytical query for a natural language request without executing it.
Set dataset_context to a dataset name to steer detection, or "auto" (default) to detect from the request.
Requires the language model to be configured.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in GenerateQueryInput) (*mcp.CallToolResult, GenerateQueryOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling generate_query", "request", in.Request)

		gen := gw.RunSmartQueryGeneration(ctx, in.Request, in.DatasetContext)
		observeToolCall("generate_query", gen.Success, startTime)

		return nil, GenerateQueryOutput{
			Success:      gen.Success,
			Query:        gen.Query,
			Alternatives: gen.Alternatives,
			Explanation:  gen.Explanation,
			Confidence:   gen.Confidence,
			Datasets:     gen.ContextUsed.Datasets,
			Intent:       gen.ContextUsed.Intent,
			Complexity:   gen.ContextUsed.Complexity,
			Error:        gen.Error,
		}, nil
	})

	return nil
}
