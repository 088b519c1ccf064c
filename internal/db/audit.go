package db

import (
	"time"

	"github.com/google/uuid"
)

// AppendAudit writes one append-only audit row
func (db *DB) AppendAudit(e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Details == "" {
		e.Details = "{}"
	}
	_, err := db.Exec(
		"INSERT INTO audit_log (id, timestamp, action, project, details, success, error_message) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Timestamp, e.Action, e.Project, e.Details, e.Success, e.ErrorMessage,
	)
	return err
}

// ListAudit returns the most recent audit rows, newest first
func (db *DB) ListAudit(limit int) ([]*AuditEntry, error) {
	rows, err := db.Query(
		"SELECT id, timestamp, action, project, details, success, error_message FROM audit_log ORDER BY timestamp DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Project, &e.Details, &e.Success, &e.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
