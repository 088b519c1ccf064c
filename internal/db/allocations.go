package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/domain"
)

// FindAvailablePort returns the lowest unused port in the range with no
// active allocation at (host, protocol). Atomic with respect to AllocatePort
// because both take the write lock up front (_txlock=immediate).
func (db *DB) FindAvailablePort(rangeID int64, host, protocol string) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	port, err := findAvailablePortTx(tx, rangeID, host, protocol)
	if err != nil {
		return 0, err
	}
	return port, tx.Commit()
}

func findAvailablePortTx(tx *sql.Tx, rangeID int64, host, protocol string) (int, error) {
	var start, end int
	err := tx.QueryRow(
		"SELECT range_start, range_end FROM port_ranges WHERE id = ? AND active = 1",
		rangeID,
	).Scan(&start, &end)
	if err == sql.ErrNoRows {
		return 0, domain.WrapNotFound(fmt.Sprintf("port range %d", rangeID), err)
	}
	if err != nil {
		return 0, err
	}

	rows, err := tx.Query(
		`SELECT port FROM port_allocations
		 WHERE status = ? AND host = ? AND protocol = ? AND port BETWEEN ? AND ?`,
		constants.AllocationStatusAllocated, host, protocol, start, end,
	)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return 0, err
		}
		used[p] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	// Deterministic: always the lowest free port
	for port := start; port <= end; port++ {
		if !used[port] {
			return port, nil
		}
	}

	return 0, &domain.DomainError{
		Code:    domain.ErrPortExhausted.Code,
		Message: fmt.Sprintf("no free ports in range %d-%d for %s/%s", start, end, host, protocol),
	}
}

// AllocatePort atomically finds the lowest free port and inserts an active
// allocation. Fails with ErrDuplicateService when the service already holds
// an active allocation and ErrPortExhausted when the range is full.
func (db *DB) AllocatePort(project string, rangeID int64, serviceName, serviceType, host, protocol string) (*PortAllocation, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRow(
		"SELECT COUNT(*) FROM port_allocations WHERE project = ? AND service_name = ? AND status = ?",
		project, serviceName, constants.AllocationStatusAllocated,
	).Scan(&existing)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, &domain.DomainError{
			Code:    domain.ErrDuplicateService.Code,
			Message: fmt.Sprintf("service %s/%s already has an active allocation", project, serviceName),
		}
	}

	port, err := findAvailablePortTx(tx, rangeID, host, protocol)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO port_allocations (project, service_name, port, service_type, host, protocol, status, allocated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		project, serviceName, port, serviceType, host, protocol, constants.AllocationStatusAllocated, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &PortAllocation{
		ID:          id,
		Project:     project,
		ServiceName: serviceName,
		Port:        port,
		ServiceType: serviceType,
		Host:        host,
		Protocol:    protocol,
		Status:      constants.AllocationStatusAllocated,
		AllocatedAt: now,
	}, nil
}

// GetActiveAllocation retrieves the active allocation for (project, service)
func (db *DB) GetActiveAllocation(project, serviceName string) (*PortAllocation, error) {
	a := &PortAllocation{}
	err := db.QueryRow(
		`SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		 FROM port_allocations WHERE project = ? AND service_name = ? AND status = ?`,
		project, serviceName, constants.AllocationStatusAllocated,
	).Scan(&a.ID, &a.Project, &a.ServiceName, &a.Port, &a.ServiceType, &a.Host, &a.Protocol, &a.Status, &a.CloudflareHostname, &a.AllocatedAt, &a.ReleasedAt)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("allocation %s/%s", project, serviceName), err)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetActiveAllocationByPort retrieves the active allocation holding a port
func (db *DB) GetActiveAllocationByPort(port int, host, protocol string) (*PortAllocation, error) {
	a := &PortAllocation{}
	err := db.QueryRow(
		`SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		 FROM port_allocations WHERE port = ? AND host = ? AND protocol = ? AND status = ?`,
		port, host, protocol, constants.AllocationStatusAllocated,
	).Scan(&a.ID, &a.Project, &a.ServiceName, &a.Port, &a.ServiceType, &a.Host, &a.Protocol, &a.Status, &a.CloudflareHostname, &a.AllocatedAt, &a.ReleasedAt)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("allocation for port %d", port), err)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListActiveAllocations retrieves active allocations, optionally filtered by project
func (db *DB) ListActiveAllocations(project string) ([]*PortAllocation, error) {
	query := `SELECT id, project, service_name, port, service_type, host, protocol, status, cloudflare_hostname, allocated_at, released_at
		FROM port_allocations WHERE status = ?`
	args := []interface{}{constants.AllocationStatusAllocated}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY port"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*PortAllocation
	for rows.Next() {
		a := &PortAllocation{}
		if err := rows.Scan(&a.ID, &a.Project, &a.ServiceName, &a.Port, &a.ServiceType, &a.Host, &a.Protocol, &a.Status, &a.CloudflareHostname, &a.AllocatedAt, &a.ReleasedAt); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// ReleaseAllocation soft-deletes the active allocation for (project, service).
// Idempotent: releasing an already released service is a no-op.
func (db *DB) ReleaseAllocation(project, serviceName string) error {
	_, err := db.Exec(
		"UPDATE port_allocations SET status = ?, released_at = ? WHERE project = ? AND service_name = ? AND status = ?",
		constants.AllocationStatusReleased, time.Now(), project, serviceName, constants.AllocationStatusAllocated,
	)
	return err
}

// SetAllocationHostname records the Cloudflare hostname published for a port
func (db *DB) SetAllocationHostname(id int64, hostname *string) error {
	_, err := db.Exec("UPDATE port_allocations SET cloudflare_hostname = ? WHERE id = ?", hostname, id)
	return err
}

// ClearAllocationHostname removes the hostname marker from whichever
// allocation published it
func (db *DB) ClearAllocationHostname(hostname string) error {
	_, err := db.Exec("UPDATE port_allocations SET cloudflare_hostname = NULL WHERE cloudflare_hostname = ?", hostname)
	return err
}

// CountActiveAllocations counts active allocations inside a range
func (db *DB) CountActiveAllocations(rangeID int64) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM port_allocations a
		 JOIN port_ranges r ON r.id = ?
		 WHERE a.status = ? AND a.port BETWEEN r.range_start AND r.range_end`,
		rangeID, constants.AllocationStatusAllocated,
	).Scan(&count)
	return count, err
}
