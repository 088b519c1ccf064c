package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/overseer/internal/domain"
)

// UpsertZone refreshes one cached Cloudflare zone row
func (db *DB) UpsertZone(domainName, zoneID string) error {
	_, err := db.Exec(
		`INSERT INTO zones (domain, zone_id, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET zone_id = excluded.zone_id, last_seen = excluded.last_seen`,
		domainName, zoneID, time.Now(),
	)
	return err
}

// GetZone retrieves a cached zone by domain
func (db *DB) GetZone(domainName string) (*Zone, error) {
	z := &Zone{}
	err := db.QueryRow("SELECT domain, zone_id, last_seen FROM zones WHERE domain = ?", domainName).
		Scan(&z.Domain, &z.ZoneID, &z.LastSeen)
	if err == sql.ErrNoRows {
		return nil, domain.WrapNotFound(fmt.Sprintf("zone %s", domainName), err)
	}
	if err != nil {
		return nil, err
	}
	return z, nil
}

// ListZones retrieves all cached zones
func (db *DB) ListZones() ([]*Zone, error) {
	rows, err := db.Query("SELECT domain, zone_id, last_seen FROM zones ORDER BY domain")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []*Zone
	for rows.Next() {
		z := &Zone{}
		if err := rows.Scan(&z.Domain, &z.ZoneID, &z.LastSeen); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// OldestZoneRefresh returns the oldest last_seen across cached zones, used to
// decide whether the 24h refresh is due. Zero time when the cache is empty.
func (db *DB) OldestZoneRefresh() (time.Time, error) {
	var ts time.Time
	err := db.QueryRow("SELECT last_seen FROM zones ORDER BY last_seen LIMIT 1").Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
