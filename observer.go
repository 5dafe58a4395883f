package ctag

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Observer is notified as commands run. Observers are passive and cannot
// change control flow.
type Observer interface {
	CommandStarted(index int, cmd Command)
	PageProcessed(index int, outcome PageOutcome)
	CommandFinished(result *CommandResult)
}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

func (m multiObserver) CommandStarted(index int, cmd Command) {
	for _, o := range m {
		o.CommandStarted(index, cmd)
	}
}

func (m multiObserver) PageProcessed(index int, outcome PageOutcome) {
	for _, o := range m {
		o.PageProcessed(index, outcome)
	}
}

func (m multiObserver) CommandFinished(result *CommandResult) {
	for _, o := range m {
		o.CommandFinished(result)
	}
}

type logObserver struct {
	log zerolog.Logger
}

func newLogObserver() *logObserver {
	return &logObserver{log: newLogger("executor")}
}

func (o *logObserver) CommandStarted(index int, cmd Command) {
	o.log.Info().
		Int("command", index).
		Str("action", string(cmd.Action())).
		Str("query", cmd.Query).
		Str("exclude", cmd.ExcludeQuery).
		Bool("interactive", cmd.Interactive).
		Msg("command started")
}

func (o *logObserver) PageProcessed(index int, outcome PageOutcome) {
	event := o.log.Debug()
	if outcome.Status == StatusFailed {
		event = o.log.Warn().Str("error", outcome.Error)
	}
	event = event.
		Int("command", index).
		Str("page", outcome.Page.ID).
		Str("title", outcome.Page.Title).
		Str("status", string(outcome.Status))
	if outcome.Delta != nil {
		event = event.
			Strs("added", outcome.Delta.Added.Sorted()).
			Strs("removed", outcome.Delta.Removed.Sorted())
	}
	event.Msg("page processed")
}

func (o *logObserver) CommandFinished(result *CommandResult) {
	event := o.log.Info()
	if result.Error != nil {
		event = o.log.Error().Str("error", result.Error.Message).Str("kind", string(result.Error.Kind))
	}
	event.
		Int("command", result.Index).
		Int("matched", result.Matched).
		Int("excluded", result.Excluded).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Bool("aborted", result.Aborted).
		Dur("elapsed", result.FinishedAt.Sub(result.StartedAt)).
		Msg("command finished")
}

// progressObserver prints one line per page to a terminal.
type progressObserver struct {
	out io.Writer
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out}
}

func (o *progressObserver) CommandStarted(index int, cmd Command) {
	fmt.Fprintf(o.out, "%s %s %s\n",
		accentStyle.Render(fmt.Sprintf("[%d]", index+1)),
		boldStyle.Render(string(cmd.Action())),
		mutedStyle.Render(cmd.Query))
}

func (o *progressObserver) PageProcessed(_ int, outcome PageOutcome) {
	symbol := map[PageStatus]string{
		StatusApplied:   "✓",
		StatusPlanned:   "~",
		StatusUnchanged: "=",
		StatusSkipped:   "-",
		StatusFailed:    "✗",
	}[outcome.Status]

	line := fmt.Sprintf("  %s %s", symbol, outcome.Page.Title)
	if outcome.Delta != nil && !outcome.Delta.Empty() {
		if len(outcome.Delta.Added) > 0 {
			line += " " + formatAdded(outcome.Delta.Added)
		}
		if len(outcome.Delta.Removed) > 0 {
			line += " " + formatRemoved(outcome.Delta.Removed)
		}
	}
	if outcome.Error != "" {
		line += " " + mutedStyle.Render(outcome.Error)
	}
	fmt.Fprintln(o.out, line)
}

func (o *progressObserver) CommandFinished(result *CommandResult) {
	fmt.Fprintf(o.out, "  %s\n", mutedStyle.Render(fmt.Sprintf(
		"%d matched, %d excluded, %d succeeded, %d skipped, %d failed",
		result.Matched, result.Excluded, result.Succeeded, result.Skipped, result.Failed)))
}

func (m multiObserver) RunStarted(summary *RunSummary) {
	for _, o := range m {
		if ro, ok := o.(RunObserver); ok {
			ro.RunStarted(summary)
		}
	}
}

func (m multiObserver) RunFinished(summary *RunSummary) {
	for _, o := range m {
		if ro, ok := o.(RunObserver); ok {
			ro.RunFinished(summary)
		}
	}
}
