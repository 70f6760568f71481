package audit

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry kinds.
const (
	KindTool    = "tool"
	KindExtract = "extract"
	KindRewrite = "rewrite"
)

// Auditor records tool calls and model outcomes. A nil or disabled Auditor
// silently drops everything.
type Auditor struct {
	db *sql.DB
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Tool      string    `json:"tool,omitempty"`
	Input     string    `json:"input,omitempty"`
	Output    string    `json:"output,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAuditor opens the audit database at path. An empty path disables auditing.
func NewAuditor(path string) *Auditor {
	if path == "" {
		return &Auditor{}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		log.Printf("Failed to open audit DB: %v", err)
		return &Auditor{}
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		tool TEXT NOT NULL DEFAULT '',
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		log.Printf("Failed to create audit table: %v", err)
		db.Close()
		return &Auditor{}
	}
	return &Auditor{db: db}
}

// Enabled reports whether entries are being persisted.
func (a *Auditor) Enabled() bool {
	return a != nil && a.db != nil
}

// Log records a tool invocation.
func (a *Auditor) Log(tool string, input json.RawMessage, output []byte, err error) {
	a.insert(KindTool, tool, string(input), string(output), "", err)
}

// Record records the outcome of an extraction or rewrite.
func (a *Auditor) Record(kind, outcome string, err error) {
	a.insert(kind, "", "", "", outcome, err)
}

func (a *Auditor) insert(kind, tool, input, output, outcome string, err error) {
	if !a.Enabled() {
		return
	}
	var errStr string
	if err != nil {
		errStr = err.Error()
	}
	_, err = a.db.Exec(
		"INSERT INTO audit_log (kind, tool, input, output, outcome, error) VALUES (?, ?, ?, ?, ?, ?)",
		kind, tool, input, output, outcome, errStr,
	)
	if err != nil {
		log.Printf("Failed to write audit log: %v", err)
	}
}

// GetLogs returns the most recent entries, newest first.
func (a *Auditor) GetLogs(limit int) ([]AuditEntry, error) {
	if !a.Enabled() {
		return nil, nil
	}
	rows, err := a.db.Query("SELECT id, kind, tool, input, output, outcome, error, timestamp FROM audit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Tool, &e.Input, &e.Output, &e.Outcome, &e.Error, &e.Timestamp); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (a *Auditor) Close() {
	if a.Enabled() {
		a.db.Close()
	}
}
