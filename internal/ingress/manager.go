package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/docker"
	"github.com/overseer/internal/domain"
)

// OriginRequest carries per-rule origin options
type OriginRequest struct {
	NoTLSVerify bool `yaml:"noTLSVerify,omitempty"`
}

// Rule is one ingress routing rule. The catch-all rule has no hostname.
type Rule struct {
	Hostname      string         `yaml:"hostname,omitempty"`
	Service       string         `yaml:"service"`
	Path          string         `yaml:"path,omitempty"`
	OriginRequest *OriginRequest `yaml:"originRequest,omitempty"`
}

// Document is the cloudflared ingress config file. The ingress list is
// ordered and must end with the catch-all rule.
type Document struct {
	Tunnel          string `yaml:"tunnel"`
	CredentialsFile string `yaml:"credentials-file"`
	Ingress         []Rule `yaml:"ingress"`
}

// Manager owns the ingress YAML file. All mutations go through a single
// writer lock; each successful write is committed to version control so a
// prior state can always be recovered.
type Manager struct {
	path     string
	executor docker.CommandExecutor
	logger   *slog.Logger

	mu sync.Mutex

	// afterWrite runs between the rename and re-validation, test seam only
	afterWrite func()
}

// NewManager creates an ingress file manager for the given path
func NewManager(path string, executor docker.CommandExecutor, logger *slog.Logger) *Manager {
	return &Manager{
		path:     path,
		executor: executor,
		logger:   logger,
	}
}

// EnsureFile creates a minimal valid config when none exists
func (m *Manager) EnsureFile(tunnelID, credentialsFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return domain.WrapInternal("stat ingress file", err)
	}

	doc := &Document{
		Tunnel:          tunnelID,
		CredentialsFile: credentialsFile,
		Ingress: []Rule{
			{Service: constants.IngressCatchAllService},
		},
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return domain.WrapInternal("create ingress directory", err)
	}
	if err := m.writeLocked(doc, nil, "ingress: initialize config"); err != nil {
		return err
	}
	m.logger.Info("ingress config created", "path", m.path, "tunnel_id", tunnelID)
	return nil
}

// Load parses the current file contents
func (m *Manager) Load() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, _, err := m.loadLocked()
	return doc, err
}

// Hostnames returns every routed hostname in rule order, catch-all excluded
func (m *Manager) Hostnames() ([]string, error) {
	doc, err := m.Load()
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, rule := range doc.Ingress {
		if rule.Hostname != "" {
			hosts = append(hosts, rule.Hostname)
		}
	}
	return hosts, nil
}

// Add inserts a rule for hostname immediately before the catch-all and
// writes the file. A hostname that is already routed is a conflict.
func (m *Manager) Add(hostname, serviceURL string, origin *OriginRequest) error {
	if hostname == "" {
		return domain.WrapValidation("hostname cannot be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, backup, err := m.loadLocked()
	if err != nil {
		return err
	}
	if err := validateCatchAll(doc); err != nil {
		return err
	}

	for _, rule := range doc.Ingress {
		if rule.Hostname == hostname {
			return domain.WrapConflict(fmt.Sprintf("hostname already routed: %s", hostname), nil)
		}
	}

	rule := Rule{Hostname: hostname, Service: serviceURL, OriginRequest: origin}
	catchAll := len(doc.Ingress) - 1
	doc.Ingress = append(doc.Ingress[:catchAll], rule, doc.Ingress[catchAll])

	if err := m.writeLocked(doc, backup, fmt.Sprintf("ingress: add %s", hostname)); err != nil {
		return err
	}
	m.logger.Info("ingress rule added", "hostname", hostname, "service", serviceURL)
	return nil
}

// Remove deletes the rule for hostname if present. Removing an absent
// hostname is a no-op.
func (m *Manager) Remove(hostname string) error {
	if hostname == "" {
		return domain.WrapValidation("hostname cannot be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, backup, err := m.loadLocked()
	if err != nil {
		return err
	}

	kept := doc.Ingress[:0]
	removed := false
	for _, rule := range doc.Ingress {
		if rule.Hostname == hostname {
			removed = true
			continue
		}
		kept = append(kept, rule)
	}
	if !removed {
		return nil
	}
	doc.Ingress = kept

	if err := m.writeLocked(doc, backup, fmt.Sprintf("ingress: remove %s", hostname)); err != nil {
		return err
	}
	m.logger.Info("ingress rule removed", "hostname", hostname)
	return nil
}

func (m *Manager) loadLocked() (*Document, []byte, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, domain.WrapNotFound("ingress config", err)
		}
		return nil, nil, domain.WrapInternal("read ingress file", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, domain.NewDomainError(domain.ErrConfigCorrupted.Code,
			"ingress config does not parse", err)
	}
	if doc.Tunnel == "" || doc.CredentialsFile == "" {
		return nil, nil, domain.NewDomainError(domain.ErrConfigCorrupted.Code,
			"ingress config missing tunnel or credentials-file", nil)
	}
	return &doc, raw, nil
}

// writeLocked serializes doc, writes it via temp file + rename, re-validates
// the result, and commits it. If the written file does not parse the backup
// bytes are restored and ErrConfigCorrupted returned.
func (m *Manager) writeLocked(doc *Document, backup []byte, commitMessage string) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return domain.WrapInternal("serialize ingress config", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".ingress-*.yml")
	if err != nil {
		return domain.WrapInternal("create temp ingress file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.WrapInternal("write temp ingress file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.WrapInternal("close temp ingress file", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return domain.WrapInternal("replace ingress file", err)
	}

	if m.afterWrite != nil {
		m.afterWrite()
	}

	if err := m.validateAfterWrite(backup); err != nil {
		return err
	}

	m.commit(commitMessage)
	return nil
}

// validateAfterWrite re-parses the file on disk. On failure the pre-write
// bytes are restored so the file never stays corrupt.
func (m *Manager) validateAfterWrite(backup []byte) error {
	raw, err := os.ReadFile(m.path)
	if err == nil {
		var doc Document
		if parseErr := yaml.Unmarshal(raw, &doc); parseErr == nil && doc.Tunnel != "" {
			return nil
		}
	}

	m.logger.Error("ingress config invalid after write, restoring previous contents",
		"path", m.path)
	if backup != nil {
		if restoreErr := os.WriteFile(m.path, backup, 0o644); restoreErr != nil {
			m.logger.Error("restore of ingress config failed", "error", restoreErr)
		}
	}
	return domain.ErrConfigCorrupted
}

// commit records the change in version control. A failed commit is logged
// but does not fail the write, the file on disk is already correct.
func (m *Manager) commit(message string) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.IngressCommitTimeout)
	defer cancel()

	dir := filepath.Dir(m.path)
	name := filepath.Base(m.path)

	if out, err := m.executor.ExecuteCommandInDir(ctx, dir, "git", "add", name); err != nil {
		m.logger.Warn("git add failed for ingress config", "error", err, "output", string(out))
		return
	}
	if out, err := m.executor.ExecuteCommandInDir(ctx, dir, "git", "commit", "-m", message); err != nil {
		m.logger.Warn("git commit failed for ingress config", "error", err, "output", string(out))
	}
}

func validateCatchAll(doc *Document) error {
	if len(doc.Ingress) == 0 {
		return domain.NewDomainError(domain.ErrConfigCorrupted.Code,
			"ingress config has no catch-all rule", nil)
	}
	last := doc.Ingress[len(doc.Ingress)-1]
	if last.Hostname != "" || last.Service != constants.IngressCatchAllService {
		return domain.NewDomainError(domain.ErrConfigCorrupted.Code,
			fmt.Sprintf("ingress catch-all malformed, last rule must be service %s",
				constants.IngressCatchAllService), nil)
	}
	return nil
}
