package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"mnemo/internal/query"
	"mnemo/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing semantic memory tools",
	Long: "Serves search over the index on stdio. The process stays resident, so " +
		"repeated queries hit the in-memory result cache instead of the embedding model.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	eng, st, closer, err := openEngine()
	if err != nil {
		return err
	}
	defer closer()

	s := mcpserver.NewMCPServer("mnemo", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchMemoryTool(), makeSearchHandler(eng))
	s.AddTool(indexStatsTool(), makeStatsHandler(st))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchMemoryTool() mcp.Tool {
	return mcp.NewTool("search_memory",
		mcp.WithDescription("Semantically search indexed notes. Returns ranked, diverse results with file paths, line ranges and similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of results (default 5)"),
		),
	)
}

func indexStatsTool() mcp.Tool {
	return mcp.NewTool("index_stats",
		mcp.WithDescription("Report how many files, chunks and duplicate locations the index holds."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func makeSearchHandler(eng *query.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := req.GetString("query", "")
		if q == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", 5)

		results, err := eng.Search(ctx, q, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(q, results)), nil
	}
}

func makeStatsHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := st.Stats()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"Indexed files: %d\nChunks: %d\nDuplicate locations: %d",
			stats.Files, stats.Chunks, stats.Aliases)), nil
	}
}

func formatSearchResults(q string, results []query.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d)\n\n", q, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "### Result %d: `%s` (lines %d-%d, score %.3f)\n\n",
			i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		fmt.Fprintf(&sb, "%s\n\n", r.Text)
	}
	return sb.String()
}
