package ctag_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrawn01/ctag"
)

type searchFunc func(ctx context.Context, query, cursor string) (ctag.SearchPage, error)

func (f searchFunc) Search(ctx context.Context, query, cursor string) (ctag.SearchPage, error) {
	return f(ctx, query, cursor)
}

func pageIDs(pages []ctag.PageRef) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

func TestQueryExecutorPages(t *testing.T) {
	ctx := context.Background()

	t.Run("FollowsCursorAcrossPages", func(t *testing.T) {
		transport := newFakeTransport(2)
		for _, id := range []string{"1", "2", "3", "4", "5"} {
			transport.addPage(id, "Page "+id)
		}
		transport.match("space = DOCS", "1", "2", "3", "4", "5")

		pages, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "space = DOCS")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3", "4", "5"}, pageIDs(pages))
		assert.Equal(t, 3, transport.searchCount())
	})

	t.Run("YieldsEachIDOnce", func(t *testing.T) {
		transport := newFakeTransport(2)
		transport.addPage("1", "One").addPage("2", "Two")
		transport.match("q", "1", "2", "2", "1")

		pages, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, pageIDs(pages))
	})

	t.Run("NoMatches", func(t *testing.T) {
		transport := newFakeTransport(10)
		pages, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, pages)
	})

	t.Run("NilTagsBecomeEmptySet", func(t *testing.T) {
		search := searchFunc(func(_ context.Context, _, _ string) (ctag.SearchPage, error) {
			return ctag.SearchPage{Items: []ctag.PageRef{{ID: "1"}}}, nil
		})
		pages, err := ctag.NewQueryExecutor(search).CollectPages(ctx, "q")
		require.NoError(t, err)
		require.Len(t, pages, 1)
		assert.NotNil(t, pages[0].Tags)
	})

	t.Run("StopsOnEmptyPageWithCursor", func(t *testing.T) {
		calls := 0
		search := searchFunc(func(_ context.Context, _, cursor string) (ctag.SearchPage, error) {
			calls++
			if cursor == "" {
				return ctag.SearchPage{Items: []ctag.PageRef{{ID: "1"}}, Next: "next"}, nil
			}
			return ctag.SearchPage{Next: "more"}, nil
		})
		pages, err := ctag.NewQueryExecutor(search).CollectPages(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, pageIDs(pages))
		assert.Equal(t, 2, calls)
	})

	t.Run("StopsWhenCursorRewinds", func(t *testing.T) {
		calls := 0
		search := searchFunc(func(_ context.Context, _, cursor string) (ctag.SearchPage, error) {
			calls++
			switch cursor {
			case "":
				return ctag.SearchPage{Items: []ctag.PageRef{{ID: "1"}}, Next: "a"}, nil
			case "a":
				return ctag.SearchPage{Items: []ctag.PageRef{{ID: "2"}}, Next: ""}, nil
			}
			return ctag.SearchPage{}, errors.New("unexpected cursor " + cursor)
		})
		rewinding := searchFunc(func(ctx context.Context, q, cursor string) (ctag.SearchPage, error) {
			page, err := search(ctx, q, cursor)
			if cursor == "a" {
				page.Next = "a"
			}
			return page, err
		})

		pages, err := ctag.NewQueryExecutor(rewinding).CollectPages(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, pageIDs(pages))
		assert.Equal(t, 2, calls)
	})

	t.Run("EarlyBreakStopsFetching", func(t *testing.T) {
		transport := newFakeTransport(1)
		transport.addPage("1", "One").addPage("2", "Two").addPage("3", "Three")
		transport.match("q", "1", "2", "3")

		for page, err := range ctag.NewQueryExecutor(transport).Pages(ctx, "q") {
			require.NoError(t, err)
			assert.Equal(t, "1", page.ID)
			break
		}
		assert.Equal(t, 1, transport.searchCount())
	})

	t.Run("EveryRangeReExecutes", func(t *testing.T) {
		transport := newFakeTransport(10)
		transport.addPage("1", "One").match("q", "1")

		executor := ctag.NewQueryExecutor(transport)
		_, err := executor.CollectPages(ctx, "q")
		require.NoError(t, err)
		_, err = executor.CollectPages(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, 2, transport.searchCount())
	})
}

func TestQueryExecutorErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("QueryErrorPassesThrough", func(t *testing.T) {
		transport := newFakeTransport(10)
		transport.searchErr["bad cql"] = &ctag.QueryError{Query: "bad cql", Err: errors.New("could not parse")}

		_, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "bad cql")
		require.Error(t, err)
		assert.True(t, ctag.IsQueryError(err))
		assert.Equal(t, ctag.KindQuery, ctag.KindOf(err))
	})

	t.Run("UntypedErrorBecomesTransportError", func(t *testing.T) {
		transport := newFakeTransport(10)
		transport.searchErr["q"] = errors.New("connection reset")

		_, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "q")
		require.Error(t, err)
		assert.True(t, ctag.IsTransportError(err))
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("FailureAfterFirstPage", func(t *testing.T) {
		search := searchFunc(func(_ context.Context, _, cursor string) (ctag.SearchPage, error) {
			if cursor == "" {
				return ctag.SearchPage{Items: []ctag.PageRef{{ID: "1"}}, Next: "1"}, nil
			}
			return ctag.SearchPage{}, &ctag.TransportError{Op: "search", Status: 503, Err: errors.New("unavailable")}
		})

		pages, err := ctag.NewQueryExecutor(search).CollectPages(ctx, "q")
		require.Error(t, err)
		assert.Equal(t, []string{"1"}, pageIDs(pages))
		assert.Equal(t, ctag.KindTransport, ctag.KindOf(err))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		transport := newFakeTransport(10)
		transport.addPage("1", "One").match("q", "1")

		_, err := ctag.NewQueryExecutor(transport).CollectPages(ctx, "q")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, transport.searchCount())
	})
}

func TestBuildExclusionSet(t *testing.T) {
	ctx := context.Background()
	transport := newFakeTransport(1)
	transport.addPage("1", "One").addPage("2", "Two")
	transport.match("label = keep", "1", "2")
	executor := ctag.NewQueryExecutor(transport)

	t.Run("EmptyQuerySkipsRemote", func(t *testing.T) {
		set, err := ctag.BuildExclusionSet(ctx, executor, "  ")
		require.NoError(t, err)
		assert.Empty(t, set)
		assert.Equal(t, 0, transport.searchCount())
	})

	t.Run("CollectsAllPages", func(t *testing.T) {
		set, err := ctag.BuildExclusionSet(ctx, executor, "label = keep")
		require.NoError(t, err)
		assert.True(t, set.Excludes("1"))
		assert.True(t, set.Excludes("2"))
		assert.False(t, set.Excludes("3"))
	})

	t.Run("QueryFailure", func(t *testing.T) {
		transport.searchErr["broken"] = &ctag.QueryError{Query: "broken", Err: errors.New("syntax")}
		set, err := ctag.BuildExclusionSet(ctx, executor, "broken")
		assert.Nil(t, set)
		assert.True(t, ctag.IsQueryError(err))
	})
}
