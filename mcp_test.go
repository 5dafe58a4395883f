package ctag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrawn01/ctag"
)

func TestMCPTools(t *testing.T) {
	ctx := context.Background()
	policy := ctag.FailurePolicy{}

	t.Run("FindPages", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())
		limit := 2

		_, out, err := ctag.FindPagesTool(ctx, nil, ctag.FindPagesParams{Query: "space = DOCS", Exclude: "label = keep", MaxResults: &limit}, manager)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, pageIDs(out.([]ctag.PageRef)))
	})

	t.Run("ListTagsWithPattern", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())

		_, out, err := ctag.ListTagsTool(ctx, nil, ctag.ListTagsParams{Query: "space = DOCS", Pattern: "^d"}, manager)
		require.NoError(t, err)
		assert.Equal(t, []ctag.TagInfo{{Name: "docs", Count: 1, Pages: []string{"1"}}}, out)

		_, _, err = ctag.ListTagsTool(ctx, nil, ctag.ListTagsParams{Query: "space = DOCS", Pattern: "("}, manager)
		assert.Error(t, err)
	})

	t.Run("ValidateTags", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())

		_, out, err := ctag.ValidateTagsTool(ctx, nil, ctag.ValidateTagsParams{Tags: []string{"ok", "not ok"}}, manager)
		require.NoError(t, err)
		results := out.(map[string]*ctag.ValidationResult)
		assert.True(t, results["ok"].IsValid)
		assert.False(t, results["not ok"].IsValid)
	})

	t.Run("RunCommandDefaultsToDryRun", func(t *testing.T) {
		transport := docsTransport()
		manager := newTestManager(t, transport)

		_, out, err := ctag.RunCommandTool(ctx, nil, ctag.RunCommandParams{
			Action: "add",
			Query:  "space = DOCS",
			Tags:   []string{"agent"},
		}, manager, policy)
		require.NoError(t, err)

		result := out.(ctag.RunResult)
		assert.True(t, result.Summary.DryRun)
		assert.Equal(t, 4, result.Totals.Planned)
		assert.Equal(t, ctag.ExitOK, result.ExitCode)
		assert.NotNil(t, result.Failures)
		assert.Equal(t, 0, transport.writeCount())
	})

	t.Run("RunCommandWrites", func(t *testing.T) {
		transport := docsTransport()
		manager := newTestManager(t, transport)
		dryRun := false

		_, out, err := ctag.RunCommandTool(ctx, nil, ctag.RunCommandParams{
			Action: "replace",
			Query:  "space = DOCS",
			Pairs:  []ctag.TagPair{{Old: "docs", New: "documentation"}},
			DryRun: &dryRun,
		}, manager, policy)
		require.NoError(t, err)

		result := out.(ctag.RunResult)
		assert.Equal(t, 1, result.Totals.Succeeded)
		assert.Equal(t, []string{"documentation"}, transport.tagsOf("1"))
	})

	t.Run("RunCommandInvalid", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())
		_, _, err := ctag.RunCommandTool(ctx, nil, ctag.RunCommandParams{Action: "rename", Query: "q", Tags: []string{"a"}}, manager, policy)
		assert.ErrorContains(t, err, "invalid command")
	})

	t.Run("RunBatch", func(t *testing.T) {
		transport := docsTransport()
		transport.setErr["2"] = &ctag.TransportError{Op: "add labels", Status: 403, Err: assert.AnError}
		manager := newTestManager(t, transport)
		dryRun := false

		_, out, err := ctag.RunBatchTool(ctx, nil, ctag.RunBatchParams{
			Commands: []ctag.CommandParams{
				{Action: "add", Query: "space = DOCS", Tags: []string{"one"}},
				{Action: "replace", Query: "space = DOCS", Tags: []string{"one=two"}},
			},
			DryRun: &dryRun,
		}, manager, ctag.FailurePolicy{FailOnPageErrors: true})
		require.NoError(t, err)

		result := out.(ctag.RunResult)
		require.Len(t, result.Summary.Commands, 2)
		assert.Equal(t, 1, result.Totals.Failed)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, "2", result.Failures[0].PageID)
		assert.Equal(t, ctag.ExitFailure, result.ExitCode)
		assert.Equal(t, []string{"docs", "two"}, transport.tagsOf("1"))
	})

	t.Run("RunBatchInvalidCommand", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())
		_, _, err := ctag.RunBatchTool(ctx, nil, ctag.RunBatchParams{
			Commands: []ctag.CommandParams{
				{Action: "add", Query: "q", Tags: []string{"a"}},
				{Action: "add", Query: "", Tags: []string{"a"}},
			},
		}, manager, policy)
		assert.ErrorContains(t, err, "invalid command 2")
	})

	t.Run("NewMCPServer", func(t *testing.T) {
		manager := newTestManager(t, docsTransport())
		assert.NotNil(t, ctag.NewMCPServer(manager, policy))
	})
}
