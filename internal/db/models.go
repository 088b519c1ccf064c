package db

import "time"

// Project is a supervised tenant. Rows are written at configuration load and
// immutable at runtime except via an administrative reload.
type Project struct {
	Name         string
	PortRangeID  int64
	WorkingDir   string
	ToolsAllowed []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PortRange is a contiguous inclusive interval of ports owned by one project
// or by the shared-services pool.
type PortRange struct {
	ID     int64
	Name   string
	Start  int
	End    int
	Active bool
}

// PortAllocation is one leased port. Releasing sets Status to released; the
// row is kept for history and the port becomes reusable.
type PortAllocation struct {
	ID                 int64
	Project            string
	ServiceName        string
	Port               int
	ServiceType        string
	Host               string
	Protocol           string
	Status             string
	CloudflareHostname *string
	AllocatedAt        time.Time
	ReleasedAt         *time.Time
}

// Secret is an encrypted payload addressed by key path. Plaintext is never
// persisted; only ciphertext, nonce and tag are stored.
type Secret struct {
	KeyPath       string
	Ciphertext    []byte
	IV            []byte
	AuthTag       []byte
	Description   string
	Scope         string
	Project       *string
	Service       *string
	ExpiresAt     *time.Time
	AccessCount   int
	LastAccessed  *time.Time
	NeedsRotation bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SecretMetadata is the listing shape of a secret. It deliberately has no
// value field.
type SecretMetadata struct {
	KeyPath       string     `json:"keyPath"`
	Description   string     `json:"description"`
	Scope         string     `json:"scope"`
	Project       *string    `json:"project,omitempty"`
	Service       *string    `json:"service,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AccessCount   int        `json:"accessCount"`
	LastAccessed  *time.Time `json:"lastAccessed,omitempty"`
	NeedsRotation bool       `json:"needsRotation"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// SecretAccess is one append-only access-log row
type SecretAccess struct {
	ID         int64
	KeyPath    string
	Accessor   string
	Success    bool
	AccessedAt time.Time
}

// CNAME is one published hostname routed through the tunnel
type CNAME struct {
	ID                 string
	Subdomain          string
	Domain             string
	FullHostname       string
	TargetService      string
	TargetType         string
	ContainerName      *string
	DockerNetwork      *string
	Project            string
	CloudflareRecordID string
	CreatedBy          string
	CreatedAt          time.Time
}

// Zone is one Cloudflare zone cached from the API
type Zone struct {
	Domain   string
	ZoneID   string
	LastSeen time.Time
}

// TunnelHealthEvent is one snapshot of the tunnel state machine
type TunnelHealthEvent struct {
	ID           int64
	Timestamp    time.Time
	Status       string
	UptimeS      int64
	RestartCount int
	LastError    *string
}

// AuditEntry is one append-only audit row. Details never contain secret
// material; callers redact before persisting.
type AuditEntry struct {
	ID           string
	Timestamp    time.Time
	Action       string
	Project      *string
	Details      string
	Success      bool
	ErrorMessage *string
}
