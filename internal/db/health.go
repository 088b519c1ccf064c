package db

import (
	"database/sql"
	"time"
)

// AppendTunnelHealth snapshots one tunnel state machine outcome
func (db *DB) AppendTunnelHealth(e *TunnelHealthEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := db.Exec(
		"INSERT INTO tunnel_health (timestamp, status, uptime_s, restart_count, last_error) VALUES (?, ?, ?, ?, ?)",
		e.Timestamp, e.Status, e.UptimeS, e.RestartCount, e.LastError,
	)
	return err
}

// LatestTunnelHealth returns the most recent snapshot, or nil when none exist
func (db *DB) LatestTunnelHealth() (*TunnelHealthEvent, error) {
	e := &TunnelHealthEvent{}
	err := db.QueryRow(
		"SELECT id, timestamp, status, uptime_s, restart_count, last_error FROM tunnel_health ORDER BY id DESC LIMIT 1",
	).Scan(&e.ID, &e.Timestamp, &e.Status, &e.UptimeS, &e.RestartCount, &e.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListTunnelHealth returns the most recent snapshots, newest first
func (db *DB) ListTunnelHealth(limit int) ([]*TunnelHealthEvent, error) {
	rows, err := db.Query(
		"SELECT id, timestamp, status, uptime_s, restart_count, last_error FROM tunnel_health ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TunnelHealthEvent
	for rows.Next() {
		e := &TunnelHealthEvent{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Status, &e.UptimeS, &e.RestartCount, &e.LastError); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneTunnelHealth keeps only the newest N snapshots
func (db *DB) PruneTunnelHealth(keep int) error {
	_, err := db.Exec(
		`DELETE FROM tunnel_health WHERE id NOT IN (
			SELECT id FROM tunnel_health ORDER BY id DESC LIMIT ?
		)`,
		keep,
	)
	return err
}
