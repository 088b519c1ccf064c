package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/overseer/internal/cloudflare"
	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/db"
)

// ZoneLister is the slice of the Cloudflare client the zone refresh needs
type ZoneLister interface {
	ListZones(ctx context.Context) ([]cloudflare.Zone, error)
}

// SecretScanner is the slice of the secrets store the expiry scan needs
type SecretScanner interface {
	GetExpiringSoon(days int) ([]*db.SecretMetadata, error)
	MarkForRotation(keyPath string) error
}

// Scheduler runs background maintenance on fixed cron schedules
type Scheduler struct {
	cron     *cron.Cron
	database *db.DB
	zones    ZoneLister
	secrets  SecretScanner
	logger   *slog.Logger
}

// NewScheduler creates a scheduler; Start wires and runs the jobs
func NewScheduler(database *db.DB, zones ZoneLister, secretScanner SecretScanner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		database: database,
		zones:    zones,
		secrets:  secretScanner,
		logger:   logger,
	}
}

// Start registers the maintenance jobs and starts the cron loop. The zone
// refresh also runs once immediately so a fresh database gets populated.
func (s *Scheduler) Start() error {
	if s.zones != nil {
		if _, err := s.cron.AddFunc(constants.ZoneRefreshSchedule, s.RefreshZones); err != nil {
			return err
		}
		go s.refreshZonesIfStale()
	}
	if s.secrets != nil {
		if _, err := s.cron.AddFunc(constants.ExpiryScanSchedule, s.ScanExpiringSecrets); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc(constants.AuditSweepSchedule, s.PruneHealthHistory); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// refreshZonesIfStale runs the startup refresh only when the cache is empty
// or its oldest row has outlived the TTL
func (s *Scheduler) refreshZonesIfStale() {
	oldest, err := s.database.OldestZoneRefresh()
	if err == nil && !oldest.IsZero() && time.Since(oldest) < constants.ZoneCacheTTL {
		s.logger.Info("zone cache fresh, startup refresh skipped", "oldest", oldest)
		return
	}
	s.RefreshZones()
}

// RefreshZones pulls the zone list from Cloudflare into the local cache
func (s *Scheduler) RefreshZones() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.CloudflareRequestTimeout)
	defer cancel()

	zones, err := s.zones.ListZones(ctx)
	if err != nil {
		s.logger.Error("zone refresh failed", "error", err)
		return
	}
	for _, zone := range zones {
		if err := s.database.UpsertZone(zone.Name, zone.ID); err != nil {
			s.logger.Error("failed to cache zone", "domain", zone.Name, "error", err)
		}
	}
	s.logger.Info("zone cache refreshed", "zones", len(zones))
}

// ScanExpiringSecrets flags secrets expiring inside the warning window
func (s *Scheduler) ScanExpiringSecrets() {
	days := int(constants.SecretExpiryWarningWindow / (24 * time.Hour))
	expiring, err := s.secrets.GetExpiringSoon(days)
	if err != nil {
		s.logger.Error("expiry scan failed", "error", err)
		return
	}

	for _, meta := range expiring {
		s.logger.Warn("secret expiring soon",
			"key_path", meta.KeyPath, "expires_at", meta.ExpiresAt)
		if meta.NeedsRotation {
			continue
		}
		if err := s.secrets.MarkForRotation(meta.KeyPath); err != nil {
			s.logger.Error("failed to flag secret for rotation",
				"key_path", meta.KeyPath, "error", err)
		}
	}
	if len(expiring) > 0 {
		s.logger.Info("expiry scan flagged secrets", "count", len(expiring))
	}
}

// tunnelHealthKeep bounds the retained health history rows
const tunnelHealthKeep = 1000

// PruneHealthHistory trims old tunnel health rows
func (s *Scheduler) PruneHealthHistory() {
	if err := s.database.PruneTunnelHealth(tunnelHealthKeep); err != nil {
		s.logger.Error("health history prune failed", "error", err)
	}
}
