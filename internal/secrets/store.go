package secrets

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/crypto"
	"github.com/overseer/internal/db"
	"github.com/overseer/internal/domain"
	"github.com/overseer/internal/validation"
)

// Store is the encrypted hierarchical key/value store. Plaintext only ever
// leaves through Get; listings, logs and errors carry metadata alone.
type Store struct {
	database *db.DB
	box      *crypto.Box
	logger   *slog.Logger
}

// NewStore creates a secrets store
func NewStore(database *db.DB, box *crypto.Box, logger *slog.Logger) *Store {
	return &Store{
		database: database,
		box:      box,
		logger:   logger,
	}
}

// SetOptions carries the optional fields of Set
type SetOptions struct {
	ExpiresAt *time.Time
	// Overwrite allows replacing the value of an existing key path
	Overwrite bool
}

// Set validates, encrypts and persists one secret
func (s *Store) Set(keyPath, plaintext, description string, opts SetOptions) error {
	if err := validation.ValidateKeyPath(keyPath); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	if err := validation.ValidateSecretDescription(description); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	if plaintext == "" {
		return domain.WrapValidation("secret value cannot be empty", nil)
	}

	iv, ciphertext, tag, err := s.box.Encrypt([]byte(plaintext))
	if err != nil {
		// Encryption failures must not echo the value
		return domain.WrapInternal("encrypt secret", redactError(err, plaintext))
	}

	scope, project, service := splitKeyPath(keyPath)

	exists, err := s.database.SecretExists(keyPath)
	if err != nil {
		return domain.WrapInternal("check secret existence", err)
	}
	if exists {
		if !opts.Overwrite {
			return domain.WrapConflict(fmt.Sprintf("secret already exists: %s", keyPath), nil)
		}
		if err := s.database.UpdateSecretValue(keyPath, ciphertext, iv, tag, description, opts.ExpiresAt); err != nil {
			return domain.WrapInternal("update secret", redactError(err, plaintext))
		}
		s.logger.Info("secret updated", "key_path", keyPath)
		return nil
	}

	secret := &db.Secret{
		KeyPath:     keyPath,
		Ciphertext:  ciphertext,
		IV:          iv,
		AuthTag:     tag,
		Description: description,
		Scope:       scope,
		Project:     project,
		Service:     service,
		ExpiresAt:   opts.ExpiresAt,
	}
	if err := s.database.InsertSecret(secret); err != nil {
		if domain.IsConflict(err) {
			return err
		}
		return domain.WrapInternal("store secret", redactError(err, plaintext))
	}

	s.logger.Info("secret stored", "key_path", keyPath, "scope", scope)
	return nil
}

// Get decrypts and returns the plaintext for a key path. Every call appends
// an access-log row with the outcome.
func (s *Store) Get(keyPath, accessor string) (string, error) {
	if err := validation.ValidateKeyPath(keyPath); err != nil {
		return "", domain.WrapValidation(err.Error(), nil)
	}

	secret, err := s.database.GetSecret(keyPath)
	if err != nil {
		s.logAccess(keyPath, accessor, false)
		return "", err
	}

	plaintext, err := s.box.Decrypt(secret.IV, secret.Ciphertext, secret.AuthTag)
	if err != nil {
		// Tag mismatch is fatal for this operation; log without material
		s.logger.Error("secret decryption failed", "key_path", keyPath, "error", err)
		s.logAccess(keyPath, accessor, false)
		return "", err
	}

	if err := s.database.TouchSecretAccess(keyPath); err != nil {
		s.logger.Warn("failed to bump access counter", "key_path", keyPath, "error", err)
	}
	s.logAccess(keyPath, accessor, true)

	return string(plaintext), nil
}

// List returns metadata for matching secrets, never values
func (s *Store) List(filter db.SecretFilter) ([]*db.SecretMetadata, error) {
	return s.database.ListSecretMetadata(filter)
}

// Delete removes a secret
func (s *Store) Delete(keyPath string) error {
	if err := validation.ValidateKeyPath(keyPath); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	if err := s.database.DeleteSecret(keyPath); err != nil {
		return err
	}
	s.logger.Info("secret deleted", "key_path", keyPath)
	return nil
}

// GetExpiringSoon returns metadata for secrets expiring within the window
func (s *Store) GetExpiringSoon(days int) ([]*db.SecretMetadata, error) {
	cutoff := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	return s.database.ListSecretsExpiringBefore(cutoff)
}

// GetNeedingRotation returns metadata for secrets flagged for rotation
func (s *Store) GetNeedingRotation() ([]*db.SecretMetadata, error) {
	return s.database.ListSecretsNeedingRotation()
}

// MarkForRotation flags a secret for rotation
func (s *Store) MarkForRotation(keyPath string) error {
	if err := validation.ValidateKeyPath(keyPath); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	return s.database.MarkSecretForRotation(keyPath)
}

func (s *Store) logAccess(keyPath, accessor string, success bool) {
	if err := s.database.AppendSecretAccess(keyPath, accessor, success); err != nil {
		s.logger.Warn("failed to append access log", "key_path", keyPath, "error", err)
	}
}

// splitKeyPath derives (scope, project, service) from a validated key path
func splitKeyPath(keyPath string) (scope string, project, service *string) {
	parts := strings.SplitN(keyPath, "/", 3)
	scope = parts[0]
	switch scope {
	case constants.ScopeProject:
		project = &parts[1]
	case constants.ScopeService:
		service = &parts[1]
	}
	return scope, project, service
}

// redactError strips the plaintext from a low-level error before it crosses
// the store boundary.
func redactError(err error, plaintext string) error {
	if err == nil || plaintext == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, plaintext) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, plaintext, "[redacted]"))
}
