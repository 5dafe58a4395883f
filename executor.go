package ctag

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type ExecutorOptions struct {
	// DryRun computes every delta but never writes or prompts.
	DryRun bool
	// RefreshTags re-reads a page's labels right before diffing it.
	RefreshTags bool
	Confirmer   Confirmer
	Observer    Observer
}

// Executor runs one command at a time against a Transport.
type Executor struct {
	transport Transport
	query     *QueryExecutor
	opts      ExecutorOptions
	log       zerolog.Logger
}

func NewExecutor(transport Transport, opts ExecutorOptions) *Executor {
	if opts.Observer == nil {
		opts.Observer = Observers()
	}
	return &Executor{
		transport: transport,
		query:     NewQueryExecutor(transport),
		opts:      opts,
		log:       newLogger("executor"),
	}
}

func (e *Executor) DryRun() bool {
	return e.opts.DryRun
}

// Execute runs cmd and always returns a finished result. Command level
// failures are recorded in result.Error; page failures are recorded per page
// and never stop the command. Only a DecisionAbort does.
func (e *Executor) Execute(ctx context.Context, index int, cmd Command) *CommandResult {
	result := &CommandResult{
		Index:     index,
		Command:   cmd,
		DryRun:    e.opts.DryRun,
		Outcomes:  []PageOutcome{},
		StartedAt: time.Now(),
	}
	e.opts.Observer.CommandStarted(index, cmd)
	defer func() {
		result.FinishedAt = time.Now()
		e.opts.Observer.CommandFinished(result)
	}()

	if err := ValidateCommand(cmd); err != nil {
		result.fail(err)
		return result
	}

	plan, err := CompileOperation(cmd.Operation)
	if err != nil {
		result.fail(err)
		return result
	}

	if cmd.Interactive && !e.opts.DryRun && e.opts.Confirmer == nil {
		result.fail(&ValidationError{Field: "interactive", Message: "no confirmation channel available"})
		return result
	}

	excluded, err := BuildExclusionSet(ctx, e.query, cmd.ExcludeQuery)
	if err != nil {
		result.fail(err)
		return result
	}

	for page, err := range e.query.Pages(ctx, cmd.Query) {
		if err != nil {
			result.fail(err)
			break
		}

		result.Matched++
		if excluded.Excludes(page.ID) {
			result.Excluded++
			continue
		}

		if e.processPage(ctx, result, plan, page) == DecisionAbort {
			result.Aborted = true
			e.log.Info().Int("command", index).Str("page", page.ID).Msg("aborted by user")
			break
		}
	}

	return result
}

// processPage diffs, confirms and writes a single page. It returns
// DecisionAbort when the user halted the run.
func (e *Executor) processPage(ctx context.Context, result *CommandResult, plan *DiffPlan, page PageRef) Decision {
	current := page.Tags
	if e.opts.RefreshTags {
		tags, err := e.transport.GetTags(ctx, page.ID)
		if err != nil {
			e.record(result, PageOutcome{Page: page, Status: StatusFailed, Kind: KindOf(err), Error: err.Error()})
			return DecisionNo
		}
		current = tags
		page.Tags = tags
	}

	delta := plan.Delta(page, current)

	if delta.Empty() {
		e.processed(result, PageOutcome{Page: page, Status: StatusUnchanged, Delta: &delta})
		return DecisionYes
	}

	if e.opts.DryRun {
		e.processed(result, PageOutcome{Page: page, Status: StatusPlanned, Delta: &delta})
		return DecisionYes
	}

	if result.Command.Interactive {
		switch e.opts.Confirmer.Ask(ctx, delta) {
		case DecisionAbort:
			// the aborted page is neither processed nor recorded
			return DecisionAbort
		case DecisionNo:
			e.processed(result, PageOutcome{Page: page, Status: StatusSkipped, Delta: &delta})
			return DecisionNo
		}
	}

	if err := e.transport.SetTags(ctx, page.ID, delta.After); err != nil {
		e.processed(result, PageOutcome{Page: page, Status: StatusFailed, Delta: &delta, Kind: KindOf(err), Error: err.Error()})
		return DecisionNo
	}

	e.processed(result, PageOutcome{Page: page, Status: StatusApplied, Delta: &delta})
	return DecisionYes
}

// processed records the outcome of a page that got as far as a diff.
func (e *Executor) processed(result *CommandResult, outcome PageOutcome) {
	result.Processed++
	e.record(result, outcome)
}

func (e *Executor) record(result *CommandResult, outcome PageOutcome) {
	switch outcome.Status {
	case StatusApplied:
		result.Succeeded++
	case StatusPlanned:
		result.Planned++
	case StatusUnchanged:
		result.Unchanged++
	case StatusSkipped:
		result.Skipped++
	case StatusFailed:
		result.Failed++
	}
	if outcome.Delta != nil && (outcome.Status == StatusApplied || outcome.Status == StatusPlanned) {
		result.TagsAdded += len(outcome.Delta.Added)
		result.TagsRemoved += len(outcome.Delta.Removed)
	}

	result.Outcomes = append(result.Outcomes, outcome)
	e.opts.Observer.PageProcessed(result.Index, outcome)
}

func (r *CommandResult) fail(err error) {
	r.Error = &CommandError{Kind: KindOf(err), Message: err.Error()}
}
