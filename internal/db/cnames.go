package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/overseer/internal/domain"
)

// InsertCNAME persists a published hostname
func (db *DB) InsertCNAME(c *CNAME) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := db.Exec(
		`INSERT INTO cnames (id, subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subdomain, c.Domain, c.FullHostname, c.TargetService, c.TargetType, c.ContainerName, c.DockerNetwork, c.Project, c.CloudflareRecordID, c.CreatedBy, c.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return domain.WrapConflict(fmt.Sprintf("cname already exists: %s", c.FullHostname), err)
	}
	return err
}

// GetCNAMEByHostname retrieves a CNAME row by its full hostname
func (db *DB) GetCNAMEByHostname(fullHostname string) (*CNAME, error) {
	c := &CNAME{}
	err := db.QueryRow(
		`SELECT id, subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by, created_at
		 FROM cnames WHERE full_hostname = ?`,
		fullHostname,
	).Scan(&c.ID, &c.Subdomain, &c.Domain, &c.FullHostname, &c.TargetService, &c.TargetType, &c.ContainerName, &c.DockerNetwork, &c.Project, &c.CloudflareRecordID, &c.CreatedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("cname %s", fullHostname), err)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CNAMEExists reports whether (subdomain, domain) is taken
func (db *DB) CNAMEExists(subdomain, domainName string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM cnames WHERE subdomain = ? AND domain = ?", subdomain, domainName).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteCNAME removes a CNAME row by full hostname
func (db *DB) DeleteCNAME(fullHostname string) error {
	res, err := db.Exec("DELETE FROM cnames WHERE full_hostname = ?", fullHostname)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapNotFound(fmt.Sprintf("cname %s", fullHostname), nil)
	}
	return nil
}

// ListCNAMEs retrieves CNAME rows, optionally filtered by project
func (db *DB) ListCNAMEs(project string) ([]*CNAME, error) {
	query := `SELECT id, subdomain, domain, full_hostname, target_service, target_type, container_name, docker_network, project, cloudflare_record_id, created_by, created_at
		FROM cnames`
	var args []interface{}
	if project != "" {
		query += " WHERE project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CNAME
	for rows.Next() {
		c := &CNAME{}
		if err := rows.Scan(&c.ID, &c.Subdomain, &c.Domain, &c.FullHostname, &c.TargetService, &c.TargetType, &c.ContainerName, &c.DockerNetwork, &c.Project, &c.CloudflareRecordID, &c.CreatedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
