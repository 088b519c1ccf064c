package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/overseer/internal/constants"
)

// PortBinding maps a host port to a container port
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// Container is one running container as seen at probe time
type Container struct {
	ID      string
	Name    string
	Image   string
	Project string
	// Networks maps network name to the container's IP on that network
	Networks     map[string]string
	ExposedPorts []int
	Bindings     []PortBinding
}

// Snapshot is an immutable view of the container topology. A new snapshot
// replaces the previous one wholesale at every tick, so stale entries never
// linger.
type Snapshot struct {
	TakenAt           time.Time
	Containers        []*Container
	Cloudflared       *Container
	CloudflaredOnHost bool
}

// Prober polls the Docker inventory and publishes immutable snapshots.
// Callers read the latest snapshot; they never block a probe in progress.
type Prober struct {
	executor CommandExecutor
	logger   *slog.Logger

	snapshot    atomic.Value // *Snapshot
	unavailable atomic.Bool

	// hostHasCloudflared and dial are replaceable in tests
	hostHasCloudflared func() bool
	dial               func(addr string, timeout time.Duration) bool
}

// NewProber creates a topology prober
func NewProber(executor CommandExecutor, logger *slog.Logger) *Prober {
	return &Prober{
		executor:           executor,
		logger:             logger,
		hostHasCloudflared: hostProcessScan,
		dial:               tcpDial,
	}
}

// Run probes immediately and then on every tick until ctx is cancelled
func (p *Prober) Run(ctx context.Context) {
	p.Refresh()

	ticker := time.NewTicker(constants.ProberInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Refresh()
		}
	}
}

// Refresh rebuilds the snapshot once, bounded by the tick budget so a wedged
// Docker daemon cannot stall the loop. A failed probe keeps the previous
// snapshot and flips the prober to unavailable until the next success.
func (p *Prober) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ProberTickBudget)
	defer cancel()

	snap, err := p.probe(ctx)
	if err != nil {
		p.unavailable.Store(true)
		p.logger.Warn("topology probe failed", "error", err)
		return
	}
	p.snapshot.Store(snap)
	p.unavailable.Store(false)
}

// Snapshot returns the latest published snapshot, nil before the first
// successful probe.
func (p *Prober) Snapshot() *Snapshot {
	snap, _ := p.snapshot.Load().(*Snapshot)
	return snap
}

// Unavailable reports whether the last probe failed or the snapshot has gone
// stale. Callers treat the topology as unknown and fall back to host
// assumptions.
func (p *Prober) Unavailable() bool {
	if p.unavailable.Load() {
		return true
	}
	snap := p.Snapshot()
	if snap == nil {
		return true
	}
	return time.Since(snap.TakenAt) > constants.ProberStaleTicks*constants.ProberInterval
}

// FindContainerByListeningPort returns the container listening on port,
// preferring an exact project match when project is non-empty.
func (p *Prober) FindContainerByListeningPort(port int, project string) *Container {
	snap := p.Snapshot()
	if snap == nil {
		return nil
	}

	var fallback *Container
	for _, c := range snap.Containers {
		if !c.listensOn(port) {
			continue
		}
		if project == "" || c.Project == project {
			return c
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// SharedNetworks returns the networks the container shares with the
// cloudflared container. Empty when cloudflared runs on the host.
func (p *Prober) SharedNetworks(c *Container) []string {
	snap := p.Snapshot()
	if snap == nil || snap.Cloudflared == nil || c == nil {
		return nil
	}

	var shared []string
	for name := range c.Networks {
		if _, ok := snap.Cloudflared.Networks[name]; ok {
			shared = append(shared, name)
		}
	}
	return shared
}

// HostPortBinding returns the host port mapped to the given container port
func (p *Prober) HostPortBinding(c *Container, containerPort int) (int, bool) {
	if c == nil {
		return 0, false
	}
	for _, b := range c.Bindings {
		if b.ContainerPort == containerPort {
			return b.HostPort, true
		}
	}
	return 0, false
}

// IsReachable reports whether cloudflared can reach the container on port.
// A shared network means direct reachability; otherwise the container must
// expose a host port binding that answers a short TCP probe.
func (p *Prober) IsReachable(c *Container, port int) bool {
	if len(p.SharedNetworks(c)) > 0 {
		return true
	}
	hostPort, ok := p.HostPortBinding(c, port)
	if !ok {
		return false
	}
	return p.dial(fmt.Sprintf("localhost:%d", hostPort), constants.ReachabilityProbeTimeout)
}

func (p *Prober) probe(ctx context.Context) (*Snapshot, error) {
	output, err := p.executor.ExecuteCommand(ctx, "docker", "ps", "--no-trunc", "--format",
		"{{.ID}}|{{.Names}}|{{.Image}}|{{.Ports}}")
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", err)
	}

	snap := &Snapshot{TakenAt: time.Now()}
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, err := p.parseContainer(ctx, line)
		if err != nil {
			p.logger.Warn("skipping unparseable container line", "line", line, "error", err)
			continue
		}
		snap.Containers = append(snap.Containers, c)
		if snap.Cloudflared == nil && isCloudflared(c) {
			snap.Cloudflared = c
		}
	}

	if snap.Cloudflared == nil && p.hostHasCloudflared() {
		snap.CloudflaredOnHost = true
	}

	return snap, nil
}

func (p *Prober) parseContainer(ctx context.Context, line string) (*Container, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 4 {
		return nil, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}

	c := &Container{
		ID:       strings.TrimSpace(parts[0]),
		Name:     strings.TrimSpace(parts[1]),
		Image:    strings.TrimSpace(parts[2]),
		Networks: make(map[string]string),
	}
	c.ExposedPorts, c.Bindings = parsePorts(parts[3])

	networksOut, err := p.executor.ExecuteCommand(ctx, "docker", "inspect", "--format",
		"{{json .NetworkSettings.Networks}}", c.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect networks for %s: %w", c.Name, err)
	}
	var networks map[string]struct {
		IPAddress string `json:"IPAddress"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(networksOut))), &networks); err != nil {
		return nil, fmt.Errorf("decode networks for %s: %w", c.Name, err)
	}
	for name, settings := range networks {
		c.Networks[name] = settings.IPAddress
	}

	labelOut, err := p.executor.ExecuteCommand(ctx, "docker", "inspect", "--format",
		fmt.Sprintf(`{{index .Config.Labels "%s"}}`, constants.ContainerProjectLabel), c.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect labels for %s: %w", c.Name, err)
	}
	c.Project = deriveProject(c.Name, strings.TrimSpace(string(labelOut)))

	return c, nil
}

// deriveProject prefers the project label, else the container name prefix
// before the first hyphen. Empty when neither applies.
func deriveProject(name, label string) string {
	if label != "" && label != "<no value>" {
		return label
	}
	if idx := strings.Index(name, "-"); idx > 0 {
		return name[:idx]
	}
	return ""
}

func isCloudflared(c *Container) bool {
	return strings.Contains(c.Name, "cloudflared") ||
		strings.Contains(c.Image, "cloudflare/cloudflared")
}

// parsePorts parses the docker ps Ports column, e.g.
// "0.0.0.0:3105->3105/tcp, :::3105->3105/tcp, 8080/tcp"
func parsePorts(field string) (exposed []int, bindings []PortBinding) {
	seen := make(map[int]bool)
	addExposed := func(port int) {
		if !seen[port] {
			seen[port] = true
			exposed = append(exposed, port)
		}
	}

	for _, entry := range strings.Split(field, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "->") {
			// Exposed without a host binding, e.g. "8080/tcp"
			if port, _, ok := splitPortProto(entry); ok {
				addExposed(port)
			}
			continue
		}

		halves := strings.SplitN(entry, "->", 2)
		containerPort, proto, ok := splitPortProto(halves[1])
		if !ok {
			continue
		}
		addExposed(containerPort)

		hostPart := halves[0]
		if idx := strings.LastIndex(hostPart, ":"); idx >= 0 {
			hostPart = hostPart[idx+1:]
		}
		hostPort, err := strconv.Atoi(hostPart)
		if err != nil {
			continue
		}

		duplicate := false
		for _, b := range bindings {
			if b.HostPort == hostPort && b.ContainerPort == containerPort && b.Protocol == proto {
				duplicate = true
				break
			}
		}
		if !duplicate {
			bindings = append(bindings, PortBinding{
				HostPort:      hostPort,
				ContainerPort: containerPort,
				Protocol:      proto,
			})
		}
	}
	return exposed, bindings
}

func splitPortProto(s string) (port int, proto string, ok bool) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "/", 2)
	port, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	proto = "tcp"
	if len(parts) == 2 {
		proto = parts[1]
	}
	return port, proto, true
}

func (c *Container) listensOn(port int) bool {
	for _, p := range c.ExposedPorts {
		if p == port {
			return true
		}
	}
	return false
}

// hostProcessScan looks for a cloudflared process on the host itself
func hostProcessScan() bool {
	procs, err := process.Processes()
	if err != nil {
		return false
	}
	for _, proc := range procs {
		name, err := proc.Name()
		if err == nil && name == "cloudflared" {
			return true
		}
	}
	return false
}

func tcpDial(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
