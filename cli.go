package ctag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RunCmdOptions contains options for customizing RunCmd behavior
type RunCmdOptions struct {
	// MCPTransport allows providing a custom transport for the MCP server (used for testing)
	MCPTransport mcp.Transport
	// Transport replaces the Confluence client (used for testing)
	Transport Transport
	// Confirmer replaces the terminal prompt for interactive commands
	Confirmer Confirmer
	// Stdin reader for command documents and prompts (defaults to os.Stdin)
	Stdin io.Reader
	// Stdout writer for normal output (defaults to os.Stdout)
	Stdout io.Writer
	// Stderr writer for logs, progress and prompts (defaults to os.Stderr)
	Stderr io.Writer
}

// ExitError carries a non-zero exit status for a run that completed but
// reported failures or was aborted.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	switch e.Code {
	case ExitAborted:
		return "run aborted by user"
	default:
		return fmt.Sprintf("run finished with failures (exit status %d)", e.Code)
	}
}

type globalFlags struct {
	configPath string
	dryRun     bool
	format     string
	verbose    bool
	abortKey   string
	strict     bool
	logLevel   string
	noProgress bool
}

// commandContext holds runtime context for command execution
type commandContext struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	options RunCmdOptions
	flags   globalFlags
	config  *Config
	format  OutputFormat
	manager *DefaultTagManager
}

func RunCmd(args []string, options *RunCmdOptions) error {
	cmdCtx := &commandContext{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		format: OutputSimple,
	}
	if options != nil {
		cmdCtx.options = *options
		if options.Stdin != nil {
			cmdCtx.stdin = options.Stdin
		}
		if options.Stdout != nil {
			cmdCtx.stdout = options.Stdout
		}
		if options.Stderr != nil {
			cmdCtx.stderr = options.Stderr
		}
	}
	defer cmdCtx.close()

	root := newRootCommand(cmdCtx)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := root.ExecuteContext(ctx)
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		_ = RenderError(cmdCtx.stdout, err, cmdCtx.format)
	}
	return err
}

func newRootCommand(cmdCtx *commandContext) *cobra.Command {
	root := &cobra.Command{
		Use:   "ctag",
		Short: "Bulk manage Confluence page labels with CQL",
		Long: `ctag selects Confluence pages with a CQL query and adds, removes or replaces
their labels in bulk, with dry-run previews, interactive confirmation and
batched command files.

Connection settings come from ATLASSIAN_URL, ATLASSIAN_USERNAME and
ATLASSIAN_TOKEN, read from the environment or a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.setup(cmd)
		},
	}
	root.SetIn(cmdCtx.stdin)
	root.SetOut(cmdCtx.stdout)
	root.SetErr(cmdCtx.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&cmdCtx.flags.configPath, "config", "", "Path to a YAML configuration file")
	flags.BoolVar(&cmdCtx.flags.dryRun, "dry-run", false, "Show what would change without writing labels")
	flags.StringVar(&cmdCtx.flags.format, "format", "simple", "Output format: simple, verbose, json or csv")
	flags.BoolVarP(&cmdCtx.flags.verbose, "verbose", "v", false, "Verbose output (same as --format verbose)")
	flags.StringVar(&cmdCtx.flags.abortKey, "abort-key", "", "Key that aborts an interactive run (default q)")
	flags.BoolVar(&cmdCtx.flags.strict, "strict", false, "Exit non-zero when any page fails")
	flags.StringVar(&cmdCtx.flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&cmdCtx.flags.noProgress, "no-progress", false, "Disable live progress output")

	root.AddCommand(
		newAddCommand(cmdCtx),
		newRemoveCommand(cmdCtx),
		newReplaceCommand(cmdCtx),
		newGetCommand(cmdCtx),
		newFromFileCommand(cmdCtx, "from-file", "Run commands from a JSON, YAML, TOML or CSV file", ""),
		newFromFileCommand(cmdCtx, "from-json", "Run commands from a JSON file", FormatJSON),
		newFromFileCommand(cmdCtx, "from-csv", "Run commands from a CSV file", FormatCSV),
		newFromStdinCommand(cmdCtx),
		newValidateCommand(cmdCtx),
		newMCPCommand(cmdCtx),
	)
	return root
}

func (c *commandContext) setup(cmd *cobra.Command) error {
	format, err := ParseOutputFormat(c.flags.format)
	if err != nil {
		return err
	}
	if c.flags.verbose && !cmd.Flags().Changed("format") {
		format = OutputVerbose
	}
	c.format = format

	config, err := LoadConfig(c.flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.flags.abortKey != "" {
		config.AbortKey = c.flags.abortKey
	}
	if c.flags.strict {
		config.FailOnPageErrors = true
	}
	if c.flags.logLevel != "" {
		config.Log.Level = c.flags.logLevel
	}
	c.config = config

	InitLogger(config.Log, c.stderr)
	return nil
}

func (c *commandContext) tagManager() (*DefaultTagManager, error) {
	if c.manager != nil {
		return c.manager, nil
	}
	manager, err := NewDefaultTagManager(c.config, c.options.Transport)
	if err != nil {
		return nil, err
	}
	c.manager = manager
	return manager, nil
}

func (c *commandContext) close() {
	if c.manager != nil {
		_ = c.manager.Close()
	}
}

func (c *commandContext) policy() FailurePolicy {
	return FailurePolicy{FailOnPageErrors: c.config.FailOnPageErrors}
}

// confirmer returns the confirmation channel for cmds, or an error when an
// interactive command cannot prompt because stdin is not a terminal.
func (c *commandContext) confirmer(cmds []Command) (Confirmer, error) {
	if c.options.Confirmer != nil {
		return c.options.Confirmer, nil
	}

	interactive := false
	for _, cmd := range cmds {
		interactive = interactive || cmd.Interactive
	}
	if !interactive || c.flags.dryRun {
		return nil, nil
	}

	if !isTerminal(c.stdin) {
		return nil, errors.New("interactive commands need a terminal on stdin for confirmations")
	}
	return NewTerminalConfirmer(c.stdin, c.stderr, c.config.AbortKey), nil
}

func (c *commandContext) progress() Observer {
	if c.flags.noProgress || !isTerminal(c.stderr) {
		return nil
	}
	return newProgressObserver(c.stderr)
}

func (c *commandContext) run(ctx context.Context, cmds []Command) error {
	confirmer, err := c.confirmer(cmds)
	if err != nil {
		return err
	}

	manager, err := c.tagManager()
	if err != nil {
		return err
	}

	summary, err := manager.RunBatch(ctx, cmds, RunOptions{
		DryRun:    c.flags.dryRun,
		Confirmer: confirmer,
		Observer:  c.progress(),
	})
	if err != nil {
		return err
	}

	if err := RenderSummary(c.stdout, summary, c.format, c.policy()); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}
	if code := summary.ExitCode(c.policy()); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type mutationFlags struct {
	interactive bool
	exclude     string
	regex       bool
}

func addMutationFlags(fs *pflag.FlagSet, flags *mutationFlags, regex bool) {
	fs.BoolVarP(&flags.interactive, "interactive", "i", false, "Confirm each page before changing it")
	fs.StringVar(&flags.exclude, "exclude", "", "CQL expression for pages to leave untouched")
	fs.StringVar(&flags.exclude, "cql-exclude", "", "Alias for --exclude")
	if regex {
		fs.BoolVar(&flags.regex, "regex", false, "Treat tags as regular expressions")
	}
}

func newAddCommand(cmdCtx *commandContext) *cobra.Command {
	var flags mutationFlags
	cmd := &cobra.Command{
		Use:   "add QUERY TAG...",
		Short: "Add labels to every page matching QUERY",
		Example: `  ctag add 'space = DOCS AND title ~ "Project"' documentation project
  ctag --dry-run add 'label = "draft"' needs-review --exclude 'label = "keep"'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.run(cmd.Context(), []Command{{
				Operation:    AddTags{Tags: args[1:]},
				Query:        args[0],
				ExcludeQuery: flags.exclude,
				Interactive:  flags.interactive,
			}})
		},
	}
	addMutationFlags(cmd.Flags(), &flags, false)
	return cmd
}

func newRemoveCommand(cmdCtx *commandContext) *cobra.Command {
	var flags mutationFlags
	cmd := &cobra.Command{
		Use:   "remove QUERY TAG...",
		Short: "Remove labels from every page matching QUERY",
		Example: `  ctag remove 'space = ARCHIVE' outdated deprecated
  ctag remove --regex 'space = DOCS' '^test-.*'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.run(cmd.Context(), []Command{{
				Operation:    RemoveTags{Tags: args[1:], Pattern: flags.regex},
				Query:        args[0],
				ExcludeQuery: flags.exclude,
				Interactive:  flags.interactive,
			}})
		},
	}
	addMutationFlags(cmd.Flags(), &flags, true)
	return cmd
}

func newReplaceCommand(cmdCtx *commandContext) *cobra.Command {
	var flags mutationFlags
	cmd := &cobra.Command{
		Use:   "replace QUERY OLD=NEW...",
		Short: "Replace labels on every page matching QUERY",
		Long: `Replace labels on every page matching QUERY. Pairs are applied in order,
so a later pair can rewrite a label produced by an earlier one.

With --regex, pairs may also be given as separate PATTERN REPLACEMENT arguments.`,
		Example: `  ctag replace 'space = DOCS' old-tag=new-tag typo=correct
  ctag replace --regex 'space = DOCS' 'v1-.*' legacy`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parseReplaceArgs(args[1:], flags.regex)
			if err != nil {
				return err
			}
			return cmdCtx.run(cmd.Context(), []Command{{
				Operation:    ReplaceTags{Pairs: pairs, Pattern: flags.regex},
				Query:        args[0],
				ExcludeQuery: flags.exclude,
				Interactive:  flags.interactive,
			}})
		},
	}
	addMutationFlags(cmd.Flags(), &flags, true)
	return cmd
}

// parseReplaceArgs reads OLD=NEW arguments. In pattern mode, arguments
// without '=' are read as PATTERN REPLACEMENT pairs.
func parseReplaceArgs(args []string, pattern bool) ([]TagPair, error) {
	var pairs []TagPair
	for i := 0; i < len(args); i++ {
		if strings.Contains(args[i], "=") {
			pair, err := ParseTagPair(args[i])
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, pair)
			continue
		}
		if !pattern {
			return nil, fmt.Errorf("invalid pair %q, expected old=new", args[i])
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("pattern %q has no replacement", args[i])
		}
		pairs = append(pairs, TagPair{Old: args[i], New: args[i+1]})
		i++
	}
	return pairs, nil
}

func newGetCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		exclude    string
		tagsOnly   bool
		outputFile string
		minCount   int
	)
	cmd := &cobra.Command{
		Use:   "get QUERY",
		Short: "List pages matching QUERY, or their labels with --tags-only",
		Example: `  ctag get 'space = DOCS AND label = "draft"'
  ctag get --tags-only --format csv --output-file labels.csv 'space = DOCS'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := cmdCtx.tagManager()
			if err != nil {
				return err
			}

			out := cmdCtx.stdout
			if outputFile != "" {
				f, err := os.Create(outputFile)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			if tagsOnly {
				infos, err := manager.ListTags(cmd.Context(), args[0], exclude, minCount)
				if err != nil {
					return err
				}
				return RenderTagInfos(out, infos, cmdCtx.format)
			}

			pages, err := manager.FindPages(cmd.Context(), args[0], exclude)
			if err != nil {
				return err
			}
			return RenderPages(out, pages, cmdCtx.format)
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "CQL expression for pages to leave out")
	cmd.Flags().StringVar(&exclude, "cql-exclude", "", "Alias for --exclude")
	cmd.Flags().BoolVar(&tagsOnly, "tags-only", false, "List the labels of matching pages with counts")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "Write output to a file instead of stdout")
	cmd.Flags().IntVar(&minCount, "min-count", 0, "With --tags-only, hide labels used on fewer pages")
	return cmd
}

func newFromFileCommand(cmdCtx *commandContext, name, short string, format CommandFormat) *cobra.Command {
	return &cobra.Command{
		Use:   name + " PATH",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				file *CommandFile
				err  error
			)
			if format == "" {
				file, err = LoadCommandFile(args[0])
			} else {
				file, err = LoadCommandFileAs(args[0], format)
			}
			if err != nil {
				return err
			}
			return cmdCtx.runFile(cmd.Context(), file)
		},
	}
}

func newFromStdinCommand(cmdCtx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "from-stdin-json",
		Short: "Run commands from a JSON document on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := ParseCommands(cmdCtx.stdin, CommandFormat(format))
			if err != nil {
				return fmt.Errorf("stdin: %w", err)
			}
			return cmdCtx.runFile(cmd.Context(), file)
		},
	}
	cmd.Flags().StringVar(&format, "input-format", string(FormatJSON), "Format of the stdin document: json, yaml, toml or csv")
	return cmd
}

func (c *commandContext) runFile(ctx context.Context, file *CommandFile) error {
	if file.Description != "" && c.format != OutputJSON && c.format != OutputCSV {
		fmt.Fprintln(c.stderr, mutedStyle.Render("Description: "+file.Description))
	}
	return c.run(ctx, file.Commands)
}

func newValidateCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate TAG...",
		Short: "Check labels against Confluence label rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator := NewDefaultValidator()
			results := make([]*ValidationResult, len(args))
			valid := true
			for i, tag := range args {
				results[i] = validator.ValidateTag(tag)
				valid = valid && results[i].IsValid
			}
			if err := RenderValidation(cmdCtx.stdout, args, results, cmdCtx.format); err != nil {
				return err
			}
			if !valid {
				return &ExitError{Code: ExitFailure}
			}
			return nil
		},
	}
}

func newMCPCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run as an MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunMCPServer(cmdCtx.config, cmdCtx.options.Transport, cmdCtx.options.MCPTransport)
		},
	}
}
