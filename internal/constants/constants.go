package constants

import "time"

// Port allocation status values
const (
	AllocationStatusAllocated = "allocated"
	AllocationStatusReleased  = "released"
)

// Secret scope values
const (
	ScopeMeta    = "meta"
	ScopeProject = "project"
	ScopeService = "service"
)

// CNAME target type values
const (
	TargetTypeLocalhost = "localhost"
	TargetTypeContainer = "container"
)

// Tunnel health status values
const (
	TunnelStatusUp         = "up"
	TunnelStatusDown       = "down"
	TunnelStatusRestarting = "restarting"
)

// Tool scope values
const (
	ToolScopeGlobal  = "global"
	ToolScopeProject = "project"
)

// Allocation defaults
const (
	DefaultServiceType        = "web"
	DefaultAllocationHost     = "localhost"
	DefaultAllocationProtocol = "tcp"
)

// Audit probe outcomes
const (
	AuditStatusInUse      = "in_use"
	AuditStatusNotRunning = "not_running"
)

// MetaProject is the administrative scope allowed to cross project boundaries
const MetaProject = "meta"

// ContainerProjectLabel is the Docker label used to map containers to projects
const ContainerProjectLabel = "com.supervisor.project"

// CloudflaredTunnelHostSuffix is the well-known routing host suffix per tunnel id
const CloudflaredTunnelHostSuffix = ".cfargotunnel.com"

// IngressCatchAllService is the mandatory last ingress rule service
const IngressCatchAllService = "http_status:404"

// Port constants
const (
	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// ProjectRangeSize is the number of ports in a per-project range
	ProjectRangeSize = 100

	// SharedRangeSize is the number of ports in the shared-services range
	SharedRangeSize = 1000
)

// Timeout and interval constants
const (
	// ProberInterval is how often the topology prober rebuilds its snapshot
	ProberInterval = 60 * time.Second

	// ProberStaleTicks is how many missed ticks before a cached row is pruned
	ProberStaleTicks = 2

	// ProberTickBudget is the hard deadline for a single in-flight prober tick
	ProberTickBudget = 5 * time.Second

	// HealthTickInterval is how often the tunnel monitor checks liveness
	HealthTickInterval = 30 * time.Second

	// HealthFailureThreshold marks the tunnel down after this many consecutive failed ticks
	HealthFailureThreshold = 3

	// HealthTickBudget is the hard deadline for a single in-flight health tick
	HealthTickBudget = 5 * time.Second

	// TunnelStopGracePeriod is how long to wait after SIGTERM before SIGKILL
	TunnelStopGracePeriod = 10 * time.Second

	// LivenessProbeTimeout is the TCP connect deadline for port liveness probes
	LivenessProbeTimeout = 500 * time.Millisecond

	// ReachabilityProbeTimeout is the TCP connect deadline for container reachability checks
	ReachabilityProbeTimeout = 1 * time.Second

	// IngressCommitTimeout bounds the git commit after an ingress file write
	IngressCommitTimeout = 10 * time.Second

	// CloudflareRequestTimeout is the per-call deadline for Cloudflare API requests
	CloudflareRequestTimeout = 15 * time.Second

	// CloudflareMaxRetries bounds retries on rate-limited Cloudflare calls
	CloudflareMaxRetries = 3

	// ZoneCacheTTL is how long the cached zone list stays fresh
	ZoneCacheTTL = 24 * time.Hour

	// ServerReadTimeout is the HTTP server read timeout
	ServerReadTimeout = 30 * time.Second

	// ServerWriteTimeout is the HTTP server write timeout
	ServerWriteTimeout = 120 * time.Second

	// ServerIdleTimeout is the HTTP server idle timeout
	ServerIdleTimeout = 120 * time.Second

	// ShutdownDrainTimeout bounds in-flight request draining on SIGTERM
	ShutdownDrainTimeout = 30 * time.Second

	// SecretExpiryWarningWindow is how far ahead the expiry scan looks
	SecretExpiryWarningWindow = 14 * 24 * time.Hour
)

// TunnelRestartBackoff is the fixed backoff schedule for tunnel recovery.
// After the last level the monitor retries at the final level indefinitely.
var TunnelRestartBackoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Cron schedules for background maintenance jobs
const (
	ZoneRefreshSchedule = "@every 24h"
	ExpiryScanSchedule  = "@daily"
	AuditSweepSchedule  = "@hourly"
)

// RPC constants
const (
	// RPCPathPrefix is the URL prefix for per-project JSON-RPC endpoints
	RPCPathPrefix = "/mcp"

	// RPCProtocolVersion is the advertised protocol revision
	RPCProtocolVersion = "2025-03-26"

	// RequestLogSize bounds the per-endpoint request log
	RequestLogSize = 50

	// MaxBodySize limits JSON request bodies
	MaxBodySize = 1 << 20 // 1MB
)

// ServerVersion is reported by initialize and /health
const ServerVersion = "1.4.0"
