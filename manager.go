package ctag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type TagManager interface {
	FindPages(ctx context.Context, query, exclude string) ([]PageRef, error)
	ListTags(ctx context.Context, query, exclude string, minCount int) ([]TagInfo, error)
	RunCommand(ctx context.Context, cmd Command, opts RunOptions) (*RunSummary, error)
	RunBatch(ctx context.Context, cmds []Command, opts RunOptions) (*RunSummary, error)
	ValidateTags(ctx context.Context, tags []string) map[string]*ValidationResult
}

// RunOptions are the per invocation settings of a command run.
type RunOptions struct {
	DryRun    bool
	Confirmer Confirmer
	Observer  Observer
}

type DefaultTagManager struct {
	transport Transport
	query     *QueryExecutor
	validator Validator
	config    *Config
	audit     AuditSink
}

// NewDefaultTagManager wires a manager to transport. A nil transport connects
// to Confluence using the settings in config.
func NewDefaultTagManager(config *Config, transport Transport) (*DefaultTagManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	validator := NewDefaultValidator()
	if transport == nil {
		if err := validator.ValidateConfig(config); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		client, err := NewConfluenceClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create confluence client: %w", err)
		}
		transport = client
	}

	audit, err := OpenAuditSink(config.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &DefaultTagManager{
		transport: transport,
		query:     NewQueryExecutor(transport),
		validator: validator,
		config:    config,
		audit:     audit,
	}, nil
}

func (m *DefaultTagManager) Config() *Config {
	return m.config
}

func (m *DefaultTagManager) Close() error {
	if m.audit == nil {
		return nil
	}
	return m.audit.Close()
}

// FindPages returns every page matched by query that exclude does not match.
func (m *DefaultTagManager) FindPages(ctx context.Context, query, exclude string) ([]PageRef, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Field: "cql_expression", Message: "query cannot be empty"}
	}

	excluded, err := BuildExclusionSet(ctx, m.query, exclude)
	if err != nil {
		return nil, err
	}

	pages := []PageRef{}
	for page, err := range m.query.Pages(ctx, query) {
		if err != nil {
			return nil, err
		}
		if excluded.Excludes(page.ID) {
			continue
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// ListTags counts label usage across the matched pages, most used first.
func (m *DefaultTagManager) ListTags(ctx context.Context, query, exclude string, minCount int) ([]TagInfo, error) {
	pages, err := m.FindPages(ctx, query, exclude)
	if err != nil {
		return nil, err
	}

	byTag := make(map[string][]string)
	for _, page := range pages {
		for tag := range page.Tags {
			byTag[tag] = append(byTag[tag], page.ID)
		}
	}

	result := []TagInfo{}
	for tag, ids := range byTag {
		if len(ids) < minCount {
			continue
		}
		sort.Strings(ids)
		result = append(result, TagInfo{Name: tag, Count: len(ids), Pages: ids})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (m *DefaultTagManager) RunCommand(ctx context.Context, cmd Command, opts RunOptions) (*RunSummary, error) {
	return m.RunBatch(ctx, []Command{cmd}, opts)
}

// RunBatch executes cmds in order. Invalid commands are recorded as failed
// commands in the summary rather than returned as errors.
func (m *DefaultTagManager) RunBatch(ctx context.Context, cmds []Command, opts RunOptions) (*RunSummary, error) {
	if len(cmds) == 0 {
		return nil, errors.New("no commands to run")
	}

	for _, cmd := range cmds {
		m.validator.WarnLabels(cmd)
	}

	observers := []Observer{newLogObserver(), opts.Observer}
	if m.audit != nil {
		observers = append(observers, newAuditObserver(m.audit))
	}

	executor := NewExecutor(m.transport, ExecutorOptions{
		DryRun:      opts.DryRun,
		RefreshTags: m.config.RefreshTags,
		Confirmer:   opts.Confirmer,
		Observer:    Observers(observers...),
	})
	return NewRunner(executor).Run(ctx, cmds), nil
}

func (m *DefaultTagManager) ValidateTags(ctx context.Context, tags []string) map[string]*ValidationResult {
	results := make(map[string]*ValidationResult, len(tags))
	for _, tag := range tags {
		results[tag] = m.validator.ValidateTag(tag)
	}
	return results
}

func (m *DefaultTagManager) FailurePolicy() FailurePolicy {
	return FailurePolicy{FailOnPageErrors: m.config.FailOnPageErrors}
}
