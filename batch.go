package ctag

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitAborted = 2
)

// FailurePolicy decides whether page level failures affect the exit status.
type FailurePolicy struct {
	FailOnPageErrors bool
}

// RunObserver is implemented by observers that also want run boundaries.
type RunObserver interface {
	RunStarted(summary *RunSummary)
	RunFinished(summary *RunSummary)
}

// Runner executes a batch of commands strictly in order.
type Runner struct {
	executor *Executor
	observer Observer
}

func NewRunner(executor *Executor) *Runner {
	return &Runner{executor: executor, observer: executor.opts.Observer}
}

// Run executes cmds in order. A command that fails does not stop the batch;
// an aborted command does and no later command is started. A cancelled ctx
// counts as an abort.
func (r *Runner) Run(ctx context.Context, cmds []Command) *RunSummary {
	summary := &RunSummary{
		ID:        uuid.NewString(),
		DryRun:    r.executor.DryRun(),
		Commands:  []*CommandResult{},
		StartedAt: time.Now(),
	}

	runObserver, _ := r.observer.(RunObserver)
	if runObserver != nil {
		runObserver.RunStarted(summary)
	}

	for i, cmd := range cmds {
		result := r.executor.Execute(ctx, i, cmd)
		summary.Commands = append(summary.Commands, result)
		if result.Aborted || ctx.Err() != nil {
			summary.Aborted = true
			break
		}
	}

	summary.FinishedAt = time.Now()
	if runObserver != nil {
		runObserver.RunFinished(summary)
	}
	return summary
}

// ExitCode maps the summary onto a process exit status: ExitAborted after a
// user abort, ExitFailure when a command failed (or, under policy, any page
// failed), ExitOK otherwise, including runs that matched nothing.
func (s *RunSummary) ExitCode(policy FailurePolicy) int {
	if s.Aborted {
		return ExitAborted
	}
	for _, result := range s.Commands {
		if result.Error != nil {
			return ExitFailure
		}
		if policy.FailOnPageErrors && result.Failed > 0 {
			return ExitFailure
		}
	}
	return ExitOK
}

// Failures lists every command and page failure in run order.
func (s *RunSummary) Failures() []FailureRecord {
	var failures []FailureRecord
	for _, result := range s.Commands {
		for _, outcome := range result.Outcomes {
			if outcome.Status != StatusFailed {
				continue
			}
			failures = append(failures, FailureRecord{
				CommandIndex: result.Index,
				PageID:       outcome.Page.ID,
				PageTitle:    outcome.Page.Title,
				Kind:         outcome.Kind,
				Message:      outcome.Error,
			})
		}
		if result.Error != nil {
			failures = append(failures, FailureRecord{
				CommandIndex: result.Index,
				Kind:         result.Error.Kind,
				Message:      result.Error.Message,
			})
		}
	}
	return failures
}

// RunTotals sums the per command counters of a run.
type RunTotals struct {
	Matched     int  `json:"matched"`
	Excluded    int  `json:"excluded"`
	Processed   int  `json:"processed"`
	Unchanged   int  `json:"unchanged"`
	Skipped     int  `json:"skipped"`
	Planned     int  `json:"planned"`
	Succeeded   int  `json:"succeeded"`
	Failed      int  `json:"failed"`
	TagsAdded   int  `json:"tags_added"`
	TagsRemoved int  `json:"tags_removed"`
	Aborted     bool `json:"aborted"`
}

func (s *RunSummary) Totals() RunTotals {
	var total RunTotals
	for _, r := range s.Commands {
		total.Matched += r.Matched
		total.Excluded += r.Excluded
		total.Processed += r.Processed
		total.Unchanged += r.Unchanged
		total.Skipped += r.Skipped
		total.Planned += r.Planned
		total.Succeeded += r.Succeeded
		total.Failed += r.Failed
		total.TagsAdded += r.TagsAdded
		total.TagsRemoved += r.TagsRemoved
	}
	total.Aborted = s.Aborted
	return total
}
