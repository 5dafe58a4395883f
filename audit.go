package ctag

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// AuditEntry is one line of the mutation history.
type AuditEntry struct {
	Timestamp    time.Time  `json:"ts"`
	RunID        string     `json:"run_id"`
	Event        string     `json:"event"`
	DryRun       bool       `json:"dry_run,omitempty"`
	CommandIndex int        `json:"command"`
	Action       string     `json:"action,omitempty"`
	Query        string     `json:"query,omitempty"`
	PageID       string     `json:"page_id,omitempty"`
	PageTitle    string     `json:"page_title,omitempty"`
	Status       PageStatus `json:"status,omitempty"`
	Added        []string   `json:"added,omitempty"`
	Removed      []string   `json:"removed,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	Error        string     `json:"error,omitempty"`
}

const (
	AuditRunStarted      = "run_started"
	AuditPage            = "page"
	AuditCommandFinished = "command_finished"
	AuditRunFinished     = "run_finished"
)

// AuditSink stores audit entries. Implementations must be safe for
// sequential use from a single run.
type AuditSink interface {
	Record(entry AuditEntry) error
	Close() error
}

// OpenAuditSink returns the sink selected by cfg, or nil when auditing is off.
func OpenAuditSink(cfg AuditConfig) (AuditSink, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "jsonl":
		return newJSONLAudit(cfg.Path)
	case "sqlite":
		return OpenSQLiteAudit(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

type jsonlAudit struct {
	path string
	mu   sync.Mutex
}

func newJSONLAudit(path string) (*jsonlAudit, error) {
	if path == "" {
		return nil, fmt.Errorf("audit.path is required for the jsonl driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	return &jsonlAudit{path: path}, nil
}

func (a *jsonlAudit) Record(entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

func (a *jsonlAudit) Close() error { return nil }

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	event         TEXT NOT NULL,
	dry_run       INTEGER NOT NULL DEFAULT 0,
	command_index INTEGER NOT NULL,
	action        TEXT,
	query         TEXT,
	page_id       TEXT,
	page_title    TEXT,
	status        TEXT,
	added         TEXT,
	removed       TEXT,
	error_kind    TEXT,
	error         TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_entries(run_id);
`

// SQLiteAudit keeps the audit history in a SQLite database so past runs can
// be queried.
type SQLiteAudit struct {
	db *sql.DB
}

func OpenSQLiteAudit(path string) (*SQLiteAudit, error) {
	if path == "" {
		return nil, fmt.Errorf("audit.path is required for the sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit database: %w", err)
	}
	return &SQLiteAudit{db: db}, nil
}

func (a *SQLiteAudit) Record(entry AuditEntry) error {
	_, err := a.db.Exec(`INSERT INTO audit_entries
		(ts, run_id, event, dry_run, command_index, action, query, page_id, page_title, status, added, removed, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.RunID,
		entry.Event,
		entry.DryRun,
		entry.CommandIndex,
		entry.Action,
		entry.Query,
		entry.PageID,
		entry.PageTitle,
		string(entry.Status),
		strings.Join(entry.Added, ","),
		strings.Join(entry.Removed, ","),
		string(entry.ErrorKind),
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Entries returns the entries of one run in insertion order.
func (a *SQLiteAudit) Entries(runID string) ([]AuditEntry, error) {
	rows, err := a.db.Query(`SELECT ts, run_id, event, dry_run, command_index, action, query, page_id, page_title,
		status, added, removed, error_kind, error FROM audit_entries WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry          AuditEntry
			ts             string
			status, kind   string
			added, removed string
		)
		if err := rows.Scan(&ts, &entry.RunID, &entry.Event, &entry.DryRun, &entry.CommandIndex, &entry.Action,
			&entry.Query, &entry.PageID, &entry.PageTitle, &status, &added, &removed, &kind, &entry.Error); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entry.Status = PageStatus(status)
		entry.ErrorKind = ErrorKind(kind)
		entry.Added = splitList(added)
		entry.Removed = splitList(removed)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (a *SQLiteAudit) Close() error {
	return a.db.Close()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// auditObserver turns executor notifications into audit entries. Sink
// failures are logged and never interrupt the run.
type auditObserver struct {
	sink    AuditSink
	log     zerolog.Logger
	runID   string
	dryRun  bool
	current Command
}

func newAuditObserver(sink AuditSink) *auditObserver {
	return &auditObserver{sink: sink, log: newLogger("audit")}
}

func (o *auditObserver) RunStarted(summary *RunSummary) {
	o.runID = summary.ID
	o.dryRun = summary.DryRun
	o.record(AuditEntry{Event: AuditRunStarted, CommandIndex: -1})
}

func (o *auditObserver) RunFinished(summary *RunSummary) {
	entry := AuditEntry{Event: AuditRunFinished, CommandIndex: -1}
	if summary.Aborted {
		entry.Status = "aborted"
	}
	o.record(entry)
}

func (o *auditObserver) CommandStarted(_ int, cmd Command) {
	o.current = cmd
}

func (o *auditObserver) PageProcessed(index int, outcome PageOutcome) {
	entry := AuditEntry{
		Event:        AuditPage,
		CommandIndex: index,
		PageID:       outcome.Page.ID,
		PageTitle:    outcome.Page.Title,
		Status:       outcome.Status,
		ErrorKind:    outcome.Kind,
		Error:        outcome.Error,
	}
	if outcome.Delta != nil {
		entry.Added = outcome.Delta.Added.Sorted()
		entry.Removed = outcome.Delta.Removed.Sorted()
	}
	o.record(entry)
}

func (o *auditObserver) CommandFinished(result *CommandResult) {
	entry := AuditEntry{Event: AuditCommandFinished, CommandIndex: result.Index}
	if result.Aborted {
		entry.Status = "aborted"
	}
	if result.Error != nil {
		entry.ErrorKind = result.Error.Kind
		entry.Error = result.Error.Message
	}
	o.record(entry)
}

func (o *auditObserver) record(entry AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	entry.RunID = o.runID
	entry.DryRun = o.dryRun
	if entry.Action == "" {
		entry.Action = string(o.current.Action())
		entry.Query = o.current.Query
	}
	if entry.Event == AuditRunStarted || entry.Event == AuditRunFinished {
		entry.Action, entry.Query = "", ""
	}
	if err := o.sink.Record(entry); err != nil {
		o.log.Warn().Err(err).Str("event", entry.Event).Msg("failed to write audit entry")
	}
}
