package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/overseer/internal/domain"
)

// EnsurePortRange creates a named range if absent and returns its row.
// Active ranges must not overlap; a new range overlapping an existing active
// one is rejected.
func (db *DB) EnsurePortRange(name string, start, end int) (*PortRange, error) {
	if existing, err := db.GetPortRangeByName(name); err == nil {
		return existing, nil
	} else if !domain.IsNotFound(err) {
		return nil, err
	}

	if start > end {
		return nil, domain.WrapValidation(fmt.Sprintf("range start %d after end %d", start, end), nil)
	}

	var overlapping int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM port_ranges WHERE active = 1 AND range_start <= ? AND range_end >= ?",
		end, start,
	).Scan(&overlapping)
	if err != nil {
		return nil, err
	}
	if overlapping > 0 {
		return nil, domain.WrapConflict(fmt.Sprintf("range %s [%d-%d] overlaps an active range", name, start, end), nil)
	}

	res, err := db.Exec(
		"INSERT INTO port_ranges (name, range_start, range_end, active) VALUES (?, ?, ?, 1)",
		name, start, end,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &PortRange{ID: id, Name: name, Start: start, End: end, Active: true}, nil
}

// GetPortRangeByName retrieves an active range by its name
func (db *DB) GetPortRangeByName(name string) (*PortRange, error) {
	r := &PortRange{}
	err := db.QueryRow(
		"SELECT id, name, range_start, range_end, active FROM port_ranges WHERE name = ? AND active = 1",
		name,
	).Scan(&r.ID, &r.Name, &r.Start, &r.End, &r.Active)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("port range %s", name), err)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetPortRange retrieves a range by id
func (db *DB) GetPortRange(id int64) (*PortRange, error) {
	r := &PortRange{}
	err := db.QueryRow(
		"SELECT id, name, range_start, range_end, active FROM port_ranges WHERE id = ?",
		id,
	).Scan(&r.ID, &r.Name, &r.Start, &r.End, &r.Active)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("port range %d", id), err)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpsertProject writes a project row at configuration load or reload
func (db *DB) UpsertProject(p *Project) error {
	tools, err := json.Marshal(p.ToolsAllowed)
	if err != nil {
		return err
	}

	_, err = db.Exec(`INSERT INTO projects (name, port_range_id, working_dir, tools_allowed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			port_range_id = excluded.port_range_id,
			working_dir = excluded.working_dir,
			tools_allowed = excluded.tools_allowed,
			updated_at = excluded.updated_at`,
		p.Name, p.PortRangeID, p.WorkingDir, string(tools), time.Now(), time.Now(),
	)
	return err
}

// GetProject retrieves a project by name
func (db *DB) GetProject(name string) (*Project, error) {
	p := &Project{}
	var tools string
	err := db.QueryRow(
		"SELECT name, port_range_id, working_dir, tools_allowed, created_at, updated_at FROM projects WHERE name = ?",
		name,
	).Scan(&p.Name, &p.PortRangeID, &p.WorkingDir, &tools, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("project %s", name), err)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tools), &p.ToolsAllowed); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects retrieves all projects
func (db *DB) ListProjects() ([]*Project, error) {
	rows, err := db.Query("SELECT name, port_range_id, working_dir, tools_allowed, created_at, updated_at FROM projects ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		var tools string
		if err := rows.Scan(&p.Name, &p.PortRangeID, &p.WorkingDir, &tools, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tools), &p.ToolsAllowed); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
