package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/overseer/internal/domain"
)

// InsertSecret persists a new encrypted secret. The key path is unique;
// overwriting requires an explicit delete first.
func (db *DB) InsertSecret(s *Secret) error {
	now := time.Now()
	_, err := db.Exec(
		`INSERT INTO secrets (key_path, ciphertext, iv, auth_tag, description, scope, project, service, expires_at, needs_rotation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.KeyPath, s.Ciphertext, s.IV, s.AuthTag, s.Description, s.Scope, s.Project, s.Service, s.ExpiresAt, s.NeedsRotation, now, now,
	)
	if err != nil && isUniqueViolation(err) {
		return domain.WrapConflict(fmt.Sprintf("secret already exists: %s", s.KeyPath), err)
	}
	return err
}

// UpdateSecretValue replaces the ciphertext of an existing secret in place,
// clearing the rotation flag.
func (db *DB) UpdateSecretValue(keyPath string, ciphertext, iv, authTag []byte, description string, expiresAt *time.Time) error {
	res, err := db.Exec(
		`UPDATE secrets SET ciphertext = ?, iv = ?, auth_tag = ?, description = ?, expires_at = ?, needs_rotation = 0, updated_at = ?
		 WHERE key_path = ?`,
		ciphertext, iv, authTag, description, expiresAt, time.Now(), keyPath,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapNotFound(fmt.Sprintf("secret %s", keyPath), nil)
	}
	return nil
}

// GetSecret retrieves a secret row including ciphertext
func (db *DB) GetSecret(keyPath string) (*Secret, error) {
	s := &Secret{}
	err := db.QueryRow(
		`SELECT key_path, ciphertext, iv, auth_tag, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation, created_at, updated_at
		 FROM secrets WHERE key_path = ?`,
		keyPath,
	).Scan(&s.KeyPath, &s.Ciphertext, &s.IV, &s.AuthTag, &s.Description, &s.Scope, &s.Project, &s.Service, &s.ExpiresAt, &s.AccessCount, &s.LastAccessed, &s.NeedsRotation, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("secret %s", keyPath), err)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SecretExists reports whether a key path is taken
func (db *DB) SecretExists(keyPath string) (bool, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM secrets WHERE key_path = ?", keyPath).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SecretFilter narrows ListSecretMetadata results
type SecretFilter struct {
	Scope   string
	Project string
	Service string
}

// ListSecretMetadata returns secret metadata only; ciphertext and plaintext
// never appear in listings.
func (db *DB) ListSecretMetadata(filter SecretFilter) ([]*SecretMetadata, error) {
	query := `SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation, created_at
		FROM secrets WHERE 1=1`
	var args []interface{}
	if filter.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filter.Scope)
	}
	if filter.Project != "" {
		query += " AND project = ?"
		args = append(args, filter.Project)
	}
	if filter.Service != "" {
		query += " AND service = ?"
		args = append(args, filter.Service)
	}
	query += " ORDER BY key_path"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecretMetadata
	for rows.Next() {
		m := &SecretMetadata{}
		if err := rows.Scan(&m.KeyPath, &m.Description, &m.Scope, &m.Project, &m.Service, &m.ExpiresAt, &m.AccessCount, &m.LastAccessed, &m.NeedsRotation, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSecret removes a secret row
func (db *DB) DeleteSecret(keyPath string) error {
	res, err := db.Exec("DELETE FROM secrets WHERE key_path = ?", keyPath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapNotFound(fmt.Sprintf("secret %s", keyPath), nil)
	}
	return nil
}

// TouchSecretAccess bumps the access counter and timestamp after a get
func (db *DB) TouchSecretAccess(keyPath string) error {
	_, err := db.Exec(
		"UPDATE secrets SET access_count = access_count + 1, last_accessed = ? WHERE key_path = ?",
		time.Now(), keyPath,
	)
	return err
}

// AppendSecretAccess appends one access-log row
func (db *DB) AppendSecretAccess(keyPath, accessor string, success bool) error {
	_, err := db.Exec(
		"INSERT INTO secret_access_log (key_path, accessor, success, accessed_at) VALUES (?, ?, ?, ?)",
		keyPath, accessor, success, time.Now(),
	)
	return err
}

// ListSecretAccess returns the most recent access-log rows for a key path
func (db *DB) ListSecretAccess(keyPath string, limit int) ([]*SecretAccess, error) {
	rows, err := db.Query(
		"SELECT id, key_path, accessor, success, accessed_at FROM secret_access_log WHERE key_path = ? ORDER BY accessed_at DESC LIMIT ?",
		keyPath, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecretAccess
	for rows.Next() {
		a := &SecretAccess{}
		if err := rows.Scan(&a.ID, &a.KeyPath, &a.Accessor, &a.Success, &a.AccessedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListSecretsExpiringBefore returns metadata for secrets expiring before the cutoff
func (db *DB) ListSecretsExpiringBefore(cutoff time.Time) ([]*SecretMetadata, error) {
	rows, err := db.Query(
		`SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation, created_at
		 FROM secrets WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecretMetadata
	for rows.Next() {
		m := &SecretMetadata{}
		if err := rows.Scan(&m.KeyPath, &m.Description, &m.Scope, &m.Project, &m.Service, &m.ExpiresAt, &m.AccessCount, &m.LastAccessed, &m.NeedsRotation, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListSecretsNeedingRotation returns metadata for secrets flagged for rotation
func (db *DB) ListSecretsNeedingRotation() ([]*SecretMetadata, error) {
	rows, err := db.Query(
		`SELECT key_path, description, scope, project, service, expires_at, access_count, last_accessed, needs_rotation, created_at
		 FROM secrets WHERE needs_rotation = 1 ORDER BY key_path`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SecretMetadata
	for rows.Next() {
		m := &SecretMetadata{}
		if err := rows.Scan(&m.KeyPath, &m.Description, &m.Scope, &m.Project, &m.Service, &m.ExpiresAt, &m.AccessCount, &m.LastAccessed, &m.NeedsRotation, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSecretForRotation flags a secret for rotation
func (db *DB) MarkSecretForRotation(keyPath string) error {
	res, err := db.Exec("UPDATE secrets SET needs_rotation = 1, updated_at = ? WHERE key_path = ?", time.Now(), keyPath)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.WrapNotFound(fmt.Sprintf("secret %s", keyPath), nil)
	}
	return nil
}
