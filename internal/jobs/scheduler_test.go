package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/overseer/internal/cloudflare"
	"github.com/overseer/internal/db"
)

type fakeZones struct {
	zones []cloudflare.Zone
	err   error
	calls int
}

func (f *fakeZones) ListZones(ctx context.Context) ([]cloudflare.Zone, error) {
	f.calls++
	return f.zones, f.err
}

type fakeScanner struct {
	expiring []*db.SecretMetadata
	flagged  []string
}

func (f *fakeScanner) GetExpiringSoon(days int) ([]*db.SecretMetadata, error) {
	return f.expiring, nil
}

func (f *fakeScanner) MarkForRotation(keyPath string) error {
	f.flagged = append(f.flagged, keyPath)
	return nil
}

func testScheduler(t *testing.T, zones ZoneLister, scanner SecretScanner) (*Scheduler, *db.DB) {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(database, zones, scanner, logger), database
}

func TestRefreshZonesCachesResults(t *testing.T) {
	zones := &fakeZones{zones: []cloudflare.Zone{
		{ID: "zone1", Name: "153.se"},
		{ID: "zone2", Name: "example.com"},
	}}
	s, database := testScheduler(t, zones, nil)

	s.RefreshZones()

	cached, err := database.ListZones()
	if err != nil {
		t.Fatalf("list zones: %v", err)
	}
	if len(cached) != 2 {
		t.Fatalf("cached %d zones, want 2", len(cached))
	}

	zone, err := database.GetZone("153.se")
	if err != nil {
		t.Fatalf("get zone: %v", err)
	}
	if zone.ZoneID != "zone1" {
		t.Errorf("zone id = %s", zone.ZoneID)
	}
}

func TestRefreshZonesKeepsCacheOnError(t *testing.T) {
	zones := &fakeZones{zones: []cloudflare.Zone{{ID: "zone1", Name: "153.se"}}}
	s, database := testScheduler(t, zones, nil)
	s.RefreshZones()

	zones.err = errors.New("upstream down")
	s.RefreshZones()

	if _, err := database.GetZone("153.se"); err != nil {
		t.Errorf("cached zone should survive a failed refresh: %v", err)
	}
}

func TestStartupZoneRefreshRunsOnEmptyCache(t *testing.T) {
	zones := &fakeZones{zones: []cloudflare.Zone{{ID: "zone1", Name: "153.se"}}}
	s, database := testScheduler(t, zones, nil)

	s.refreshZonesIfStale()

	if zones.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", zones.calls)
	}
	if _, err := database.GetZone("153.se"); err != nil {
		t.Errorf("zone not cached: %v", err)
	}
}

func TestStartupZoneRefreshSkippedWhenCacheFresh(t *testing.T) {
	zones := &fakeZones{zones: []cloudflare.Zone{{ID: "zone1", Name: "153.se"}}}
	s, database := testScheduler(t, zones, nil)

	if err := database.UpsertZone("153.se", "zone1"); err != nil {
		t.Fatal(err)
	}

	s.refreshZonesIfStale()

	if zones.calls != 0 {
		t.Errorf("fresh cache must skip the startup refresh, got %d calls", zones.calls)
	}
}

func TestScanExpiringSecretsFlagsRotation(t *testing.T) {
	soon := time.Now().Add(48 * time.Hour)
	scanner := &fakeScanner{expiring: []*db.SecretMetadata{
		{KeyPath: "project/consilio/api_key", ExpiresAt: &soon},
		{KeyPath: "meta/cloudflare/api_token", ExpiresAt: &soon, NeedsRotation: true},
	}}
	s, _ := testScheduler(t, nil, scanner)

	s.ScanExpiringSecrets()

	if len(scanner.flagged) != 1 || scanner.flagged[0] != "project/consilio/api_key" {
		t.Errorf("flagged = %v, want only the unflagged secret", scanner.flagged)
	}
}

func TestStartWithoutOptionalDeps(t *testing.T) {
	s, _ := testScheduler(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
