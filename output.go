package ctag

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type OutputFormat string

const (
	OutputSimple  OutputFormat = "simple"
	OutputVerbose OutputFormat = "verbose"
	OutputJSON    OutputFormat = "json"
	OutputCSV     OutputFormat = "csv"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputSimple, OutputVerbose, OutputJSON, OutputCSV:
		return f, nil
	case "":
		return OutputSimple, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use simple, verbose, json or csv)", s)
	}
}

// Response is the JSON envelope for every machine readable result.
type Response struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
	Meta  *Meta      `json:"meta,omitempty"`
}

type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type Meta struct {
	Count      int    `json:"count,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ExitCode   int    `json:"exit_code"`
}

func writeJSON(w io.Writer, resp Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// RenderError writes err in the requested format. Only JSON gets an envelope;
// other formats leave error reporting to the caller.
func RenderError(w io.Writer, err error, format OutputFormat) error {
	if format != OutputJSON {
		return nil
	}
	return writeJSON(w, Response{
		OK:    false,
		Error: &ErrorInfo{Code: string(KindOf(err)), Message: err.Error()},
		Meta:  &Meta{ExitCode: ExitFailure},
	})
}

type summaryData struct {
	*RunSummary
	Totals   RunTotals       `json:"totals"`
	Failures []FailureRecord `json:"failures"`
}

// RenderSummary writes the result of a run.
func RenderSummary(w io.Writer, summary *RunSummary, format OutputFormat, policy FailurePolicy) error {
	switch format {
	case OutputJSON:
		failures := summary.Failures()
		if failures == nil {
			failures = []FailureRecord{}
		}
		exit := summary.ExitCode(policy)
		resp := Response{
			OK:   exit == ExitOK,
			Data: summaryData{RunSummary: summary, Totals: summary.Totals(), Failures: failures},
			Meta: &Meta{
				Count:      len(summary.Commands),
				RunID:      summary.ID,
				DurationMs: summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
				ExitCode:   exit,
			},
		}
		if summary.Aborted {
			resp.Error = &ErrorInfo{Code: "aborted", Message: "run aborted by user"}
		}
		return writeJSON(w, resp)
	case OutputCSV:
		return renderSummaryCSV(w, summary)
	case OutputVerbose:
		return renderSummaryVerbose(w, summary)
	default:
		return renderSummarySimple(w, summary)
	}
}

func commandLine(r *CommandResult) string {
	done := r.Succeeded
	verb := "updated"
	if r.DryRun {
		done = r.Planned
		verb = "would update"
	}
	return fmt.Sprintf("[%d] %s %q: %d matched, %d excluded, %d %s, %d unchanged, %d skipped, %d failed",
		r.Index+1, r.Command.Action(), r.Command.Query,
		r.Matched, r.Excluded, done, verb, r.Unchanged, r.Skipped, r.Failed)
}

func renderSummarySimple(w io.Writer, summary *RunSummary) error {
	for _, r := range summary.Commands {
		fmt.Fprintln(w, commandLine(r))
	}
	return renderSummaryFooter(w, summary)
}

func renderSummaryFooter(w io.Writer, summary *RunSummary) error {
	if summary.DryRun {
		fmt.Fprintln(w, mutedStyle.Render("Dry run: no changes were written."))
	}
	if summary.Aborted {
		fmt.Fprintln(w, boldStyle.Render("Aborted by user."))
	}

	failures := summary.Failures()
	if len(failures) == 0 {
		return nil
	}
	fmt.Fprintln(w, boldStyle.Render(fmt.Sprintf("Failures (%d):", len(failures))))
	for _, f := range failures {
		if f.PageID == "" {
			fmt.Fprintf(w, "  command %d: %s: %s\n", f.CommandIndex+1, f.Kind, f.Message)
			continue
		}
		fmt.Fprintf(w, "  command %d, page %s %q: %s: %s\n", f.CommandIndex+1, f.PageID, f.PageTitle, f.Kind, f.Message)
	}
	return nil
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			return style
		})
}

func renderSummaryVerbose(w io.Writer, summary *RunSummary) error {
	tbl := newTable().Headers("#", "Action", "Query", "Matched", "Excluded", "Changed", "Unchanged", "Skipped", "Failed", "+Tags", "-Tags")
	for _, r := range summary.Commands {
		changed := r.Succeeded
		if r.DryRun {
			changed = r.Planned
		}
		tbl.Row(
			strconv.Itoa(r.Index+1),
			string(r.Command.Action()),
			r.Command.Query,
			strconv.Itoa(r.Matched),
			strconv.Itoa(r.Excluded),
			strconv.Itoa(changed),
			strconv.Itoa(r.Unchanged),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.TagsAdded),
			strconv.Itoa(r.TagsRemoved),
		)
	}
	fmt.Fprintln(w, tbl.Render())

	for _, r := range summary.Commands {
		if len(r.Outcomes) == 0 {
			continue
		}
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("[%d] %s", r.Index+1, r.Command.Query)))
		for _, outcome := range r.Outcomes {
			line := fmt.Sprintf("  %-9s %s (%s)", outcome.Status, outcome.Page.Title, outcome.Page.ID)
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
			fmt.Fprintln(w, line)
		}
	}
	return renderSummaryFooter(w, summary)
}

var summaryCSVHeader = []string{
	"command", "action", "cql_expression", "cql_exclude", "dry_run", "matched", "excluded", "processed",
	"unchanged", "planned", "succeeded", "skipped", "failed", "tags_added", "tags_removed", "aborted", "error",
}

func renderSummaryCSV(w io.Writer, summary *RunSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryCSVHeader); err != nil {
		return err
	}
	for _, r := range summary.Commands {
		errMsg := ""
		if r.Error != nil {
			errMsg = r.Error.Message
		}
		record := []string{
			strconv.Itoa(r.Index + 1),
			string(r.Command.Action()),
			r.Command.Query,
			r.Command.ExcludeQuery,
			strconv.FormatBool(r.DryRun),
			strconv.Itoa(r.Matched),
			strconv.Itoa(r.Excluded),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Unchanged),
			strconv.Itoa(r.Planned),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.TagsAdded),
			strconv.Itoa(r.TagsRemoved),
			strconv.FormatBool(r.Aborted),
			errMsg,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderPages writes the pages matched by a get query.
func RenderPages(w io.Writer, pages []PageRef, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if pages == nil {
			pages = []PageRef{}
		}
		return writeJSON(w, Response{OK: true, Data: pages, Meta: &Meta{Count: len(pages)}})
	case OutputCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "title", "space", "url", "tags"}); err != nil {
			return err
		}
		for _, p := range pages {
			if err := cw.Write([]string{p.ID, p.Title, p.Space, p.URL, strings.Join(p.Tags.Sorted(), ",")}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case OutputVerbose:
		tbl := newTable().Headers("ID", "Title", "Space", "Tags", "URL")
		for _, p := range pages {
			tbl.Row(p.ID, p.Title, p.Space, strings.Join(p.Tags.Sorted(), ", "), p.URL)
		}
		fmt.Fprintln(w, tbl.Render())
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d pages", len(pages))))
		return nil
	default:
		for _, p := range pages {
			fmt.Fprintf(w, "%s %s %s\n", boldStyle.Render(p.Title), mutedStyle.Render("("+p.Space+")"), mutedStyle.Render(p.ID))
			if len(p.Tags) > 0 {
				fmt.Fprintf(w, "  %s\n", strings.Join(p.Tags.Sorted(), ", "))
			}
		}
		fmt.Fprintf(w, "%d pages\n", len(pages))
		return nil
	}
}

// RenderTagInfos writes label usage counts.
func RenderTagInfos(w io.Writer, infos []TagInfo, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if infos == nil {
			infos = []TagInfo{}
		}
		return writeJSON(w, Response{OK: true, Data: infos, Meta: &Meta{Count: len(infos)}})
	case OutputCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"name", "count", "pages"}); err != nil {
			return err
		}
		for _, info := range infos {
			if err := cw.Write([]string{info.Name, strconv.Itoa(info.Count), strings.Join(info.Pages, ",")}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case OutputVerbose:
		tbl := newTable().Headers("Label", "Pages", "Page IDs")
		for _, info := range infos {
			tbl.Row(info.Name, strconv.Itoa(info.Count), strings.Join(info.Pages, ", "))
		}
		fmt.Fprintln(w, tbl.Render())
		return nil
	default:
		for _, info := range infos {
			fmt.Fprintf(w, "%s %s\n", info.Name, mutedStyle.Render(fmt.Sprintf("(%d)", info.Count)))
		}
		return nil
	}
}

type validationData struct {
	Tag string `json:"tag"`
	*ValidationResult
}

// RenderValidation writes one validation result per tag, in input order.
func RenderValidation(w io.Writer, tags []string, results []*ValidationResult, format OutputFormat) error {
	if format == OutputJSON {
		data := make([]validationData, len(tags))
		allValid := true
		for i, tag := range tags {
			data[i] = validationData{Tag: tag, ValidationResult: results[i]}
			allValid = allValid && results[i].IsValid
		}
		return writeJSON(w, Response{OK: allValid, Data: data, Meta: &Meta{Count: len(tags)}})
	}

	for i, tag := range tags {
		result := results[i]
		if result.IsValid {
			fmt.Fprintf(w, "✓ %s\n", tag)
		} else {
			fmt.Fprintf(w, "✗ %s\n", tag)
		}
		for _, issue := range result.Issues {
			fmt.Fprintf(w, "  %s\n", issue)
		}
		for _, suggestion := range result.Suggestions {
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render(suggestion))
		}
	}
	return nil
}
