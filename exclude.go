package ctag

import (
	"context"
	"strings"
)

// ExclusionSet holds the ids of pages a command must not touch.
type ExclusionSet map[string]struct{}

func (e ExclusionSet) Excludes(id string) bool {
	_, ok := e[id]
	return ok
}

// BuildExclusionSet runs query once and collects every matched id. An empty
// query yields an empty set without contacting the remote.
func BuildExclusionSet(ctx context.Context, q *QueryExecutor, query string) (ExclusionSet, error) {
	set := make(ExclusionSet)
	if strings.TrimSpace(query) == "" {
		return set, nil
	}

	for page, err := range q.Pages(ctx, query) {
		if err != nil {
			return nil, err
		}
		set[page.ID] = struct{}{}
	}
	return set, nil
}
