package ctag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrawn01/ctag"
)

func TestRunnerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsInOrderAndContinuesAfterFailure", func(t *testing.T) {
		transport := docsTransport()
		transport.searchErr["bad"] = &ctag.QueryError{Query: "bad", Err: errors.New("parse error")}
		observer := &recordingObserver{}
		executor := ctag.NewExecutor(transport, ctag.ExecutorOptions{Observer: observer})

		summary := ctag.NewRunner(executor).Run(ctx, []ctag.Command{
			{Operation: ctag.AddTags{Tags: []string{"a"}}, Query: "space = DOCS"},
			{Operation: ctag.AddTags{Tags: []string{"b"}}, Query: "bad"},
			{Operation: ctag.ReplaceTags{Pairs: []ctag.TagPair{{Old: "a", New: "c"}}}, Query: "space = DOCS"},
		})

		require.Len(t, summary.Commands, 3)
		assert.Nil(t, summary.Commands[0].Error)
		require.NotNil(t, summary.Commands[1].Error)
		assert.Equal(t, ctag.KindQuery, summary.Commands[1].Error.Kind)
		assert.Nil(t, summary.Commands[2].Error)
		assert.Equal(t, 4, summary.Commands[2].Succeeded, "later commands see earlier writes")
		assert.Equal(t, []string{"c", "docs"}, transport.tagsOf("1"))

		assert.False(t, summary.Aborted)
		assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
		_, err := uuid.Parse(summary.ID)
		assert.NoError(t, err)

		assert.Equal(t, "run started", observer.events[0])
		assert.Equal(t, "run finished", observer.events[len(observer.events)-1])
		assert.Equal(t, []string{summary.ID}, observer.runIDs)
	})

	t.Run("AbortStopsTheBatch", func(t *testing.T) {
		transport := docsTransport()
		confirmer := &ctag.ScriptedConfirmer{Decisions: []ctag.Decision{ctag.DecisionAbort}}
		executor := ctag.NewExecutor(transport, ctag.ExecutorOptions{Confirmer: confirmer})

		summary := ctag.NewRunner(executor).Run(ctx, []ctag.Command{
			{Operation: ctag.AddTags{Tags: []string{"a"}}, Query: "space = DOCS", Interactive: true},
			{Operation: ctag.AddTags{Tags: []string{"b"}}, Query: "space = DOCS"},
		})

		assert.True(t, summary.Aborted)
		require.Len(t, summary.Commands, 1)
		assert.True(t, summary.Commands[0].Aborted)
		assert.Equal(t, 0, transport.writeCount())
		assert.Equal(t, ctag.ExitAborted, summary.ExitCode(ctag.FailurePolicy{}))
	})

	t.Run("CancelStopsTheBatch", func(t *testing.T) {
		transport := docsTransport()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		executor := ctag.NewExecutor(transport, ctag.ExecutorOptions{Observer: &cancelObserver{cancel: cancel}})

		summary := ctag.NewRunner(executor).Run(ctx, []ctag.Command{
			{Operation: ctag.AddTags{Tags: []string{"a"}}, Query: "space = DOCS"},
			{Operation: ctag.AddTags{Tags: []string{"b"}}, Query: "space = DOCS"},
			{Operation: ctag.AddTags{Tags: []string{"c"}}, Query: "space = DOCS"},
		})

		assert.True(t, summary.Aborted)
		require.Len(t, summary.Commands, 1, "no command starts after cancellation")
		assert.Nil(t, summary.Commands[0].Error)
		assert.Empty(t, summary.Failures())
		assert.Equal(t, 4, transport.writeCount())
		assert.Equal(t, ctag.ExitAborted, summary.ExitCode(ctag.FailurePolicy{}))
	})

	t.Run("EachRunGetsANewID", func(t *testing.T) {
		executor := ctag.NewExecutor(docsTransport(), ctag.ExecutorOptions{DryRun: true})
		runner := ctag.NewRunner(executor)
		cmds := []ctag.Command{{Operation: ctag.AddTags{Tags: []string{"a"}}, Query: "space = DOCS"}}

		first := runner.Run(ctx, cmds)
		second := runner.Run(ctx, cmds)
		assert.NotEqual(t, first.ID, second.ID)
		assert.True(t, first.DryRun)
	})
}

func TestRunSummaryExitCode(t *testing.T) {
	withPageFailure := &ctag.RunSummary{Commands: []*ctag.CommandResult{{Succeeded: 2, Failed: 1}}}
	withCommandError := &ctag.RunSummary{Commands: []*ctag.CommandResult{
		{Succeeded: 1},
		{Error: &ctag.CommandError{Kind: ctag.KindQuery, Message: "bad"}},
	}}

	tests := []struct {
		name    string
		summary *ctag.RunSummary
		policy  ctag.FailurePolicy
		code    int
	}{
		{
			name:    "Clean",
			summary: &ctag.RunSummary{Commands: []*ctag.CommandResult{{Succeeded: 3}}},
			code:    ctag.ExitOK,
		},
		{
			name:    "NothingMatched",
			summary: &ctag.RunSummary{Commands: []*ctag.CommandResult{{}}},
			code:    ctag.ExitOK,
		},
		{
			name:    "PageFailureIsInformational",
			summary: withPageFailure,
			code:    ctag.ExitOK,
		},
		{
			name:    "PageFailureUnderStrictPolicy",
			summary: withPageFailure,
			policy:  ctag.FailurePolicy{FailOnPageErrors: true},
			code:    ctag.ExitFailure,
		},
		{
			name:    "CommandError",
			summary: withCommandError,
			code:    ctag.ExitFailure,
		},
		{
			name: "AbortWins",
			summary: &ctag.RunSummary{Aborted: true, Commands: []*ctag.CommandResult{
				{Error: &ctag.CommandError{Kind: ctag.KindTransport, Message: "down"}},
			}},
			code: ctag.ExitAborted,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.code, test.summary.ExitCode(test.policy))
		})
	}
}

func TestRunSummaryFailuresAndTotals(t *testing.T) {
	summary := &ctag.RunSummary{Commands: []*ctag.CommandResult{
		{
			Index:     0,
			Matched:   3,
			Processed: 3,
			Succeeded: 2,
			Failed:    1,
			TagsAdded: 2,
			Outcomes: []ctag.PageOutcome{
				{Page: ctag.PageRef{ID: "1"}, Status: ctag.StatusApplied},
				{Page: ctag.PageRef{ID: "2", Title: "Two"}, Status: ctag.StatusFailed, Kind: ctag.KindTransport, Error: "forbidden"},
				{Page: ctag.PageRef{ID: "3"}, Status: ctag.StatusApplied},
			},
		},
		{
			Index: 1,
			Error: &ctag.CommandError{Kind: ctag.KindQuery, Message: "bad cql"},
		},
		{
			Index:       2,
			Matched:     1,
			Processed:   1,
			Planned:     1,
			TagsRemoved: 3,
		},
	}}

	failures := summary.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, ctag.FailureRecord{
		CommandIndex: 0,
		PageID:       "2",
		PageTitle:    "Two",
		Kind:         ctag.KindTransport,
		Message:      "forbidden",
	}, failures[0])
	assert.Equal(t, ctag.FailureRecord{CommandIndex: 1, Kind: ctag.KindQuery, Message: "bad cql"}, failures[1])

	totals := summary.Totals()
	assert.Equal(t, 4, totals.Matched)
	assert.Equal(t, 4, totals.Processed)
	assert.Equal(t, 2, totals.Succeeded)
	assert.Equal(t, 1, totals.Planned)
	assert.Equal(t, 1, totals.Failed)
	assert.Equal(t, 2, totals.TagsAdded)
	assert.Equal(t, 3, totals.TagsRemoved)
	assert.False(t, totals.Aborted)
}

// cancelObserver cancels the run once the first command finishes.
type cancelObserver struct {
	cancel context.CancelFunc
}

func (o *cancelObserver) CommandStarted(int, ctag.Command) {}
func (o *cancelObserver) PageProcessed(int, ctag.PageOutcome) {}
func (o *cancelObserver) CommandFinished(*ctag.CommandResult) { o.cancel() }
