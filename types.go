package ctag

import (
	"encoding/json"
	"sort"
	"time"
)

// TagSet is an unordered, case-sensitive set of labels.
type TagSet map[string]struct{}

func NewTagSet(tags ...string) TagSet {
	set := make(TagSet, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return set
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

func (s TagSet) Add(tag string) {
	s[tag] = struct{}{}
}

func (s TagSet) Remove(tag string) {
	delete(s, tag)
}

func (s TagSet) Clone() TagSet {
	clone := make(TagSet, len(s))
	for tag := range s {
		clone[tag] = struct{}{}
	}
	return clone
}

// Minus returns the elements of s that are not in other.
func (s TagSet) Minus(other TagSet) TagSet {
	result := make(TagSet)
	for tag := range s {
		if !other.Has(tag) {
			result[tag] = struct{}{}
		}
	}
	return result
}

func (s TagSet) Equal(other TagSet) bool {
	if len(s) != len(other) {
		return false
	}
	for tag := range s {
		if !other.Has(tag) {
			return false
		}
	}
	return true
}

// Sorted returns the tags in lexical order, for stable output.
func (s TagSet) Sorted() []string {
	tags := make([]string, 0, len(s))
	for tag := range s {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}

// PageRef identifies one page matched by a query. It is fetched fresh for every
// command and never persisted.
type PageRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space string `json:"space"`
	URL   string `json:"url,omitempty"`
	Tags  TagSet `json:"tags"`
}

type OperationKind string

const (
	OpAdd     OperationKind = "add"
	OpRemove  OperationKind = "remove"
	OpReplace OperationKind = "replace"
)

// TagOperation is a closed set of label mutations: AddTags, RemoveTags or ReplaceTags.
type TagOperation interface {
	Kind() OperationKind
	isTagOperation()
}

type AddTags struct {
	Tags []string `json:"tags"`
}

type RemoveTags struct {
	Tags    []string `json:"tags"`
	Pattern bool     `json:"regex,omitempty"`
}

// TagPair maps Old to New. In pattern mode Old is a regular expression.
type TagPair struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ReplaceTags applies Pairs in declared order, so a later pair may rewrite a
// tag introduced by an earlier one.
type ReplaceTags struct {
	Pairs   []TagPair `json:"pairs"`
	Pattern bool      `json:"regex,omitempty"`
}

func (AddTags) Kind() OperationKind     { return OpAdd }
func (RemoveTags) Kind() OperationKind  { return OpRemove }
func (ReplaceTags) Kind() OperationKind { return OpReplace }

func (AddTags) isTagOperation()     {}
func (RemoveTags) isTagOperation()  {}
func (ReplaceTags) isTagOperation() {}

// Command is one declarative bulk mutation. It is not modified once built.
type Command struct {
	Operation    TagOperation
	Query        string
	ExcludeQuery string
	Interactive  bool
}

// Action is the operation kind, or empty when no operation is set.
func (c Command) Action() OperationKind {
	if c.Operation == nil {
		return ""
	}
	return c.Operation.Kind()
}

func (c Command) MarshalJSON() ([]byte, error) {
	type wire struct {
		Action       OperationKind `json:"action"`
		Query        string        `json:"cql_expression"`
		ExcludeQuery string        `json:"cql_exclude,omitempty"`
		Interactive  bool          `json:"interactive,omitempty"`
		Operation    TagOperation  `json:"operation"`
	}
	return json.Marshal(wire{
		Action:       c.Action(),
		Query:        c.Query,
		ExcludeQuery: c.ExcludeQuery,
		Interactive:  c.Interactive,
		Operation:    c.Operation,
	})
}

// TagDelta is the computed change for one page within one command.
// Added and Removed never share an element.
type TagDelta struct {
	Page    PageRef `json:"page"`
	Before  TagSet  `json:"before"`
	After   TagSet  `json:"after"`
	Added   TagSet  `json:"added"`
	Removed TagSet  `json:"removed"`
}

func (d TagDelta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

type PageStatus string

const (
	StatusApplied   PageStatus = "applied"
	StatusPlanned   PageStatus = "planned"
	StatusUnchanged PageStatus = "unchanged"
	StatusSkipped   PageStatus = "skipped"
	StatusFailed    PageStatus = "failed"
)

// PageOutcome records what happened to a single page.
type PageOutcome struct {
	Page   PageRef    `json:"page"`
	Status PageStatus `json:"status"`
	Delta  *TagDelta  `json:"delta,omitempty"`
	Kind   ErrorKind  `json:"error_kind,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// CommandError is a failure that stopped a command before or during its query.
type CommandError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type CommandResult struct {
	Index       int           `json:"index"`
	Command     Command       `json:"command"`
	DryRun      bool          `json:"dry_run"`
	Matched     int           `json:"matched"`
	Excluded    int           `json:"excluded"`
	Processed   int           `json:"processed"`
	Unchanged   int           `json:"unchanged"`
	Skipped     int           `json:"skipped"`
	Planned     int           `json:"planned"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TagsAdded   int           `json:"tags_added"`
	TagsRemoved int           `json:"tags_removed"`
	Aborted     bool          `json:"aborted"`
	Error       *CommandError `json:"error,omitempty"`
	Outcomes    []PageOutcome `json:"outcomes"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Deltas returns the deltas of every page that was applied or planned.
func (r *CommandResult) Deltas() []TagDelta {
	var deltas []TagDelta
	for _, outcome := range r.Outcomes {
		if outcome.Delta == nil {
			continue
		}
		if outcome.Status == StatusApplied || outcome.Status == StatusPlanned {
			deltas = append(deltas, *outcome.Delta)
		}
	}
	return deltas
}

type RunSummary struct {
	ID         string           `json:"id"`
	DryRun     bool             `json:"dry_run"`
	Aborted    bool             `json:"aborted"`
	Commands   []*CommandResult `json:"commands"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// FailureRecord carries enough context to retry just the failed subset of a run.
type FailureRecord struct {
	CommandIndex int       `json:"command_index"`
	PageID       string    `json:"page_id,omitempty"`
	PageTitle    string    `json:"page_title,omitempty"`
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
}

type TagInfo struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Pages []string `json:"pages"`
}

type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
