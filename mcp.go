package ctag

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Parameter structures for MCP tools
type FindPagesParams struct {
	Query      string `json:"query" jsonschema:"CQL expression selecting the pages"`
	Exclude    string `json:"exclude,omitempty" jsonschema:"CQL expression for pages to leave out"`
	MaxResults *int   `json:"max_results,omitempty"`
}

type ListTagsParams struct {
	Query      string `json:"query" jsonschema:"CQL expression selecting the pages"`
	Exclude    string `json:"exclude,omitempty"`
	MinCount   int    `json:"min_count"`
	Pattern    string `json:"pattern,omitempty" jsonschema:"regular expression filtering label names"`
	MaxResults *int   `json:"max_results,omitempty"`
}

type ValidateTagsParams struct {
	Tags []string `json:"tags"`
}

type CommandParams struct {
	Action  string    `json:"action" jsonschema:"one of add or remove or replace"`
	Query   string    `json:"cql_expression"`
	Exclude string    `json:"cql_exclude,omitempty"`
	Tags    []string  `json:"tags,omitempty" jsonschema:"labels for add and remove or old=new pairs for replace"`
	Pairs   []TagPair `json:"pairs,omitempty" jsonschema:"replace pairs applied in order"`
	Regex   bool      `json:"regex,omitempty" jsonschema:"treat remove tags and replace old values as regular expressions"`
}

type RunCommandParams struct {
	Action  string    `json:"action" jsonschema:"one of add or remove or replace"`
	Query   string    `json:"cql_expression"`
	Exclude string    `json:"cql_exclude,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
	Pairs   []TagPair `json:"pairs,omitempty"`
	Regex   bool      `json:"regex,omitempty"`
	DryRun  *bool     `json:"dry_run,omitempty" jsonschema:"preview only and defaults to true"`
}

type RunBatchParams struct {
	Commands []CommandParams `json:"commands"`
	DryRun   *bool           `json:"dry_run,omitempty" jsonschema:"preview only and defaults to true"`
}

type RunResult struct {
	Summary  *RunSummary     `json:"summary"`
	Totals   RunTotals       `json:"totals"`
	Failures []FailureRecord `json:"failures"`
	ExitCode int             `json:"exit_code"`
}

func (p CommandParams) command() (Command, error) {
	raw := rawCommand{
		action:  p.Action,
		query:   p.Query,
		exclude: p.Exclude,
		regex:   p.Regex,
		tags:    p.Tags,
		pairs:   p.Pairs,
	}
	return raw.build()
}

// Tool handler functions
func FindPagesTool(ctx context.Context, req *mcp.CallToolRequest, args FindPagesParams, manager TagManager) (*mcp.CallToolResult, any, error) {
	result, err := manager.FindPages(ctx, args.Query, args.Exclude)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find pages: %w", err)
	}

	if args.MaxResults != nil && len(result) > *args.MaxResults {
		result = result[:*args.MaxResults]
	}

	return nil, result, nil
}

func ListTagsTool(ctx context.Context, req *mcp.CallToolRequest, args ListTagsParams, manager TagManager) (*mcp.CallToolResult, any, error) {
	result, err := manager.ListTags(ctx, args.Query, args.Exclude, args.MinCount)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list tags: %w", err)
	}

	if args.Pattern != "" {
		pattern, err := regexp.Compile(args.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid pattern: %w", err)
		}
		result = filterTagsByPattern(result, pattern)
	}

	if args.MaxResults != nil && len(result) > *args.MaxResults {
		result = result[:*args.MaxResults]
	}

	return nil, result, nil
}

func ValidateTagsTool(ctx context.Context, req *mcp.CallToolRequest, args ValidateTagsParams, manager TagManager) (*mcp.CallToolResult, any, error) {
	result := manager.ValidateTags(ctx, args.Tags)
	return nil, result, nil
}

func RunCommandTool(ctx context.Context, req *mcp.CallToolRequest, args RunCommandParams, manager TagManager, policy FailurePolicy) (*mcp.CallToolResult, any, error) {
	params := CommandParams{
		Action:  args.Action,
		Query:   args.Query,
		Exclude: args.Exclude,
		Tags:    args.Tags,
		Pairs:   args.Pairs,
		Regex:   args.Regex,
	}
	cmd, err := params.command()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid command: %w", err)
	}

	summary, err := manager.RunCommand(ctx, cmd, RunOptions{DryRun: dryRunOrDefault(args.DryRun)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run command: %w", err)
	}
	return nil, newRunResult(summary, policy), nil
}

func RunBatchTool(ctx context.Context, req *mcp.CallToolRequest, args RunBatchParams, manager TagManager, policy FailurePolicy) (*mcp.CallToolResult, any, error) {
	cmds := make([]Command, 0, len(args.Commands))
	for i, params := range args.Commands {
		cmd, err := params.command()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid command %d: %w", i+1, err)
		}
		cmds = append(cmds, cmd)
	}

	summary, err := manager.RunBatch(ctx, cmds, RunOptions{DryRun: dryRunOrDefault(args.DryRun)})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run batch: %w", err)
	}
	return nil, newRunResult(summary, policy), nil
}

// Agents get a preview unless they explicitly ask for writes.
func dryRunOrDefault(dryRun *bool) bool {
	if dryRun == nil {
		return true
	}
	return *dryRun
}

func newRunResult(summary *RunSummary, policy FailurePolicy) RunResult {
	failures := summary.Failures()
	if failures == nil {
		failures = []FailureRecord{}
	}
	return RunResult{
		Summary:  summary,
		Totals:   summary.Totals(),
		Failures: failures,
		ExitCode: summary.ExitCode(policy),
	}
}

func filterTagsByPattern(tagInfos []TagInfo, pattern *regexp.Regexp) []TagInfo {
	filtered := []TagInfo{}
	for _, tagInfo := range tagInfos {
		if pattern.MatchString(tagInfo.Name) {
			filtered = append(filtered, tagInfo)
		}
	}
	return filtered
}

// NewMCPServer registers every tool against manager.
func NewMCPServer(manager TagManager, policy FailurePolicy) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "ctag",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "find_pages",
		Description: "Find Confluence pages matching a CQL query",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args FindPagesParams) (*mcp.CallToolResult, any, error) {
		return FindPagesTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tags",
		Description: "List labels on the pages matching a CQL query with usage counts",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListTagsParams) (*mcp.CallToolResult, any, error) {
		return ListTagsTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_tags",
		Description: "Validate label syntax and get suggestions for invalid labels",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ValidateTagsParams) (*mcp.CallToolResult, any, error) {
		return ValidateTagsTool(ctx, req, args, manager)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Add, remove or replace labels on every page matching a CQL query",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RunCommandParams) (*mcp.CallToolResult, any, error) {
		return RunCommandTool(ctx, req, args, manager, policy)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_batch",
		Description: "Run an ordered batch of label commands",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RunBatchParams) (*mcp.CallToolResult, any, error) {
		return RunBatchTool(ctx, req, args, manager, policy)
	})

	return server
}

// RunMCPServer serves the tools until the client disconnects or the process
// is interrupted. A nil transport connects to Confluence from config and a
// nil mcpTransport serves on stdio.
func RunMCPServer(config *Config, transport Transport, mcpTransport mcp.Transport) error {
	manager, err := NewDefaultTagManager(config, transport)
	if err != nil {
		return fmt.Errorf("failed to create tag manager: %w", err)
	}
	defer manager.Close()

	server := NewMCPServer(manager, manager.FailurePolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if mcpTransport == nil {
		mcpTransport = &mcp.StdioTransport{}
	}
	return server.Run(ctx, mcpTransport)
}
