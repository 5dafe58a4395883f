package ctag_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/thrawn01/ctag"
)

type tagWrite struct {
	PageID string
	Tags   []string
}

// fakeTransport is an in-memory Confluence. Queries are registered up front
// with match and return their pages pageSize at a time.
type fakeTransport struct {
	mu       sync.Mutex
	pageSize int
	pages    map[string]ctag.PageRef
	results  map[string][]string

	searchErr map[string]error
	getErr    map[string]error
	setErr    map[string]error

	searches []string
	writes   []tagWrite
}

func newFakeTransport(pageSize int) *fakeTransport {
	return &fakeTransport{
		pageSize:  pageSize,
		pages:     make(map[string]ctag.PageRef),
		results:   make(map[string][]string),
		searchErr: make(map[string]error),
		getErr:    make(map[string]error),
		setErr:    make(map[string]error),
	}
}

func (f *fakeTransport) addPage(id, title string, tags ...string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[id] = ctag.PageRef{
		ID:    id,
		Title: title,
		Space: "DOCS",
		URL:   "https://example.atlassian.net/wiki/pages/" + id,
		Tags:  ctag.NewTagSet(tags...),
	}
	return f
}

func (f *fakeTransport) match(query string, ids ...string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[query] = ids
	return f
}

func (f *fakeTransport) Search(_ context.Context, query string, cursor string) (ctag.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.searches = append(f.searches, query)
	if err, ok := f.searchErr[query]; ok {
		return ctag.SearchPage{}, err
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return ctag.SearchPage{}, fmt.Errorf("bad cursor %q", cursor)
		}
		start = n
	}

	ids := f.results[query]
	if start >= len(ids) {
		return ctag.SearchPage{}, nil
	}
	end := min(start+f.pageSize, len(ids))

	var page ctag.SearchPage
	for _, id := range ids[start:end] {
		ref := f.pages[id]
		ref.Tags = ref.Tags.Clone()
		page.Items = append(page.Items, ref)
	}
	if end < len(ids) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeTransport) GetTags(_ context.Context, pageID string) (ctag.TagSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.getErr[pageID]; ok {
		return nil, err
	}
	page, ok := f.pages[pageID]
	if !ok {
		return nil, &ctag.TransportError{Op: "get labels", Status: 404, Err: fmt.Errorf("page %s not found", pageID)}
	}
	return page.Tags.Clone(), nil
}

func (f *fakeTransport) SetTags(_ context.Context, pageID string, tags ctag.TagSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.setErr[pageID]; ok {
		return err
	}
	page := f.pages[pageID]
	page.Tags = tags.Clone()
	f.pages[pageID] = page
	f.writes = append(f.writes, tagWrite{PageID: pageID, Tags: tags.Sorted()})
	return nil
}

func (f *fakeTransport) tagsOf(pageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[pageID].Tags.Sorted()
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeTransport) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

// recordingObserver keeps every notification in order.
type recordingObserver struct {
	events   []string
	outcomes []ctag.PageOutcome
	runIDs   []string
}

func (o *recordingObserver) CommandStarted(index int, cmd ctag.Command) {
	o.events = append(o.events, fmt.Sprintf("start %d %s", index, cmd.Action()))
}

func (o *recordingObserver) PageProcessed(index int, outcome ctag.PageOutcome) {
	o.events = append(o.events, fmt.Sprintf("page %d %s %s", index, outcome.Page.ID, outcome.Status))
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) CommandFinished(result *ctag.CommandResult) {
	o.events = append(o.events, fmt.Sprintf("finish %d", result.Index))
}

func (o *recordingObserver) RunStarted(summary *ctag.RunSummary) {
	o.events = append(o.events, "run started")
	o.runIDs = append(o.runIDs, summary.ID)
}

func (o *recordingObserver) RunFinished(summary *ctag.RunSummary) {
	o.events = append(o.events, "run finished")
}
