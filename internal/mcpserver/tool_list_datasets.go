package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meridianhq/meridian/internal/pipeline"
)

type ListDatasetsInput struct {
	// Collection filters by collection name or ID; empty lists everything.
	Collection string `json:"collection,omitempty"`
}

type DatasetSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Collection  string `json:"collection"`
	Refreshable bool   `json:"refreshable"`
}

type ListDatasetsOutput struct {
	Datasets []DatasetSummary `json:"datasets"`
	Count    int              `json:"count"`
}

// RegisterListDatasetsTool registers list_datasets for catalog discovery.
func RegisterListDatasetsTool(log *slog.Logger, server *mcp.Server, cat pipeline.CatalogBrowser) error {
	req, err := jsonschema.For[ListDatasetsInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create list-datasets input schema: %w", err)
	}

	res, err := jsonschema.For[ListDatasetsOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create list-datasets output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "list_datasets",
		Description: `List the queryable datasets in the data catalog.
Optionally filter by collection name or ID. Use this to discover what data is available before asking analyze_data or generate_query about it.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ListDatasetsInput) (*mcp.CallToolResult, ListDatasetsOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling list_datasets", "collection", in.Collection)

		summaries := collectDatasetSummaries(ctx, cat, in.Collection)

		observeToolCall("list_datasets", true, startTime)
		return nil, ListDatasetsOutput{Datasets: summaries, Count: len(summaries)}, nil
	})

	return nil
}

func collectDatasetSummaries(ctx context.Context, cat pipeline.CatalogBrowser, collection string) []DatasetSummary {
	filter := strings.TrimSpace(collection)
	summaries := make([]DatasetSummary, 0)
	for _, coll := range cat.ListCollections(ctx, false) {
		if filter != "" && !strings.EqualFold(coll.Name, filter) && coll.ID != filter {
			continue
		}
		for _, ds := range cat.ListDatasets(ctx, coll.ID, false) {
			summaries = append(summaries, DatasetSummary{
				ID:          ds.ID,
				Name:        ds.Name,
				Collection:  ds.CollectionName,
				Refreshable: ds.Refreshable,
			})
		}
	}
	return summaries
}
