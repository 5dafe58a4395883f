package ctag

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// SearchPage is one page of query results. An empty Next means no further pages.
type SearchPage struct {
	Items []PageRef
	Next  string
}

type SearchTransport interface {
	Search(ctx context.Context, query string, cursor string) (SearchPage, error)
}

type TagReader interface {
	GetTags(ctx context.Context, pageID string) (TagSet, error)
}

type TagWriter interface {
	SetTags(ctx context.Context, pageID string, tags TagSet) error
}

// Transport is everything the engine needs from the remote content API.
type Transport interface {
	SearchTransport
	TagReader
	TagWriter
}

// QueryExecutor turns a query into a lazy sequence of matched pages.
type QueryExecutor struct {
	search SearchTransport
}

func NewQueryExecutor(search SearchTransport) *QueryExecutor {
	return &QueryExecutor{search: search}
}

// Pages returns a sequence that issues query when ranged over and follows the
// remote cursor until it runs out or a page comes back empty. Every range
// re-executes the query. Each page id is yielded at most once. A failure is
// yielded once and ends the sequence.
func (q *QueryExecutor) Pages(ctx context.Context, query string) iter.Seq2[PageRef, error] {
	return func(yield func(PageRef, error) bool) {
		seen := make(map[string]struct{})
		served := make(map[string]struct{})
		cursor := ""

		for {
			if err := ctx.Err(); err != nil {
				yield(PageRef{}, err)
				return
			}

			page, err := q.search.Search(ctx, query, cursor)
			if err != nil {
				yield(PageRef{}, queryFailure(query, err))
				return
			}
			if len(page.Items) == 0 {
				return
			}

			for _, item := range page.Items {
				if _, dup := seen[item.ID]; dup {
					continue
				}
				seen[item.ID] = struct{}{}
				if item.Tags == nil {
					item.Tags = NewTagSet()
				}
				if !yield(item, nil) {
					return
				}
			}

			if page.Next == "" {
				return
			}
			served[cursor] = struct{}{}
			if _, rewound := served[page.Next]; rewound {
				return
			}
			cursor = page.Next
		}
	}
}

// CollectPages drains the sequence for query into a slice.
func (q *QueryExecutor) CollectPages(ctx context.Context, query string) ([]PageRef, error) {
	var pages []PageRef
	for page, err := range q.Pages(ctx, query) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// queryFailure keeps typed transport errors as-is and wraps anything else so
// callers always see a QueryError or TransportError.
func queryFailure(query string, err error) error {
	if IsQueryError(err) || IsTransportError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransportError{Op: "search", Err: fmt.Errorf("query %q: %w", query, err)}
}
