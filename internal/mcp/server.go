// Package mcp exposes the feature ledger to coding agents over the
// Model Context Protocol, served on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jacob8919/autonomous-coding/internal/db"
	"github.com/jacob8919/autonomous-coding/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server.
func NewServer(database *db.DB) *server.MCPServer {
	s := server.NewMCPServer("Autocode", "0.1.0")

	s.AddTool(mcp.NewTool("feature_get_stats",
		mcp.WithDescription("Get overall progress: passing count, total count, and completion percentage."),
	), getStatsHandler(database))

	s.AddTool(mcp.NewTool("feature_get_next",
		mcp.WithDescription("Get the highest-priority feature eligible for work."),
	), getNextHandler(database))

	s.AddTool(mcp.NewTool("feature_get_for_regression",
		mcp.WithDescription("Get a random sample of passing features to regression-test."),
		mcp.WithNumber("limit", mcp.Description("Sample size (defaults to 3)")),
	), getForRegressionHandler(database))

	s.AddTool(mcp.NewTool("feature_get_all_categories",
		mcp.WithDescription("List all distinct feature categories."),
	), getAllCategoriesHandler(database))

	s.AddTool(mcp.NewTool("feature_get_summary",
		mcp.WithDescription("Get per-category totals and passing counts."),
	), getSummaryHandler(database))

	s.AddTool(mcp.NewTool("feature_search",
		mcp.WithDescription("Search features by name and description."),
		mcp.WithString("query", mcp.Description("Search text"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Max results (defaults to 10)")),
	), searchHandler(database))

	s.AddTool(mcp.NewTool("feature_mark_passing",
		mcp.WithDescription("Mark the feature currently being worked on as passing. Only call after verifying every step."),
		mcp.WithNumber("id", mcp.Description("Feature ID"), mcp.Required()),
	), markPassingHandler(database))

	s.AddTool(mcp.NewTool("feature_skip",
		mcp.WithDescription("Move a feature to the back of the queue. Use when a feature is blocked on work that has not happened yet."),
		mcp.WithNumber("id", mcp.Description("Feature ID"), mcp.Required()),
	), skipHandler(database))

	s.AddTool(mcp.NewTool("feature_create_bulk",
		mcp.WithDescription("Register a batch of features. Each needs category, name, description, and steps."),
		mcp.WithArray("features", mcp.Description("Feature objects to create"), mcp.Required()),
		mcp.WithString("priority_mode", mcp.Description("'append' to queue after existing work, 'prepend' to queue before it (defaults to append)")),
		mcp.WithString("source", mcp.Description("'initial' or 'enhancement' (defaults to initial)")),
		mcp.WithString("batch_id", mcp.Description("Batch identifier for grouping")),
	), createBulkHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func getStatsHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := database.GetStats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(stats)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getNextHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f, err := database.NextPending(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if f == nil {
			return mcp.NewToolResultText("No eligible features remain"), nil
		}

		data, err := json.Marshal(f)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getForRegressionHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := mcp.ParseInt(request, "limit", 3)

		features, err := database.GetFeaturesForRegression(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"features": features})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getAllCategoriesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		categories, err := database.GetAllCategories(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"categories": categories})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func getSummaryHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := database.GetSummaryByCategory(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"categories": summary})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func searchHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := mcp.ParseString(request, "query", "")
		limit := mcp.ParseInt(request, "limit", 10)

		features, err := database.SearchFeatures(ctx, query, limit)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"features": features})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func markPassingHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(mcp.ParseInt(request, "id", 0))

		f, err := database.MarkOutcome(ctx, id, models.FeatureStatusPassing, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Feature %d '%s' marked passing", f.ID, f.Name)), nil
	}
}

func skipHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := int64(mcp.ParseInt(request, "id", 0))

		oldPriority, newPriority, err := database.SkipFeature(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Feature %d moved from priority %d to %d", id, oldPriority, newPriority)), nil
	}
}

func createBulkHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		raw, err := json.Marshal(args["features"])
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var inputs []models.FeatureInput
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid features payload: %v", err)), nil
		}
		if len(inputs) == 0 {
			return mcp.NewToolResultError("features must be a non-empty array"), nil
		}

		mode := models.PriorityMode(mcp.ParseString(request, "priority_mode", string(models.PriorityModeAppend)))
		if mode != models.PriorityModeAppend && mode != models.PriorityModePrepend {
			return mcp.NewToolResultError(fmt.Sprintf("unknown priority_mode %q", mode)), nil
		}

		source := models.FeatureSource(mcp.ParseString(request, "source", string(models.FeatureSourceInitial)))
		if source != models.FeatureSourceInitial && source != models.FeatureSourceEnhancement {
			return mcp.NewToolResultError(fmt.Sprintf("unknown source %q", source)), nil
		}

		var batchID *string
		if b := mcp.ParseString(request, "batch_id", ""); b != "" {
			batchID = &b
		}

		ids, err := database.InsertFeatures(ctx, inputs, batchID, source, mode)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		data, err := json.Marshal(map[string]interface{}{"created": len(ids), "ids": ids})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}
