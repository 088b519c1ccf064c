package cname

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/overseer/internal/cloudflare"
	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/db"
	"github.com/overseer/internal/docker"
	"github.com/overseer/internal/domain"
	"github.com/overseer/internal/ingress"
	"github.com/overseer/internal/validation"
)

// DNSClient is the slice of the Cloudflare client this service needs
type DNSClient interface {
	CreateCNAME(ctx context.Context, zoneID, name, content string) (*cloudflare.DNSRecord, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
	ListRecords(ctx context.Context, zoneID string) ([]cloudflare.DNSRecord, error)
}

// IngressWriter mutates the tunnel's ingress file
type IngressWriter interface {
	Add(hostname, serviceURL string, origin *ingress.OriginRequest) error
	Remove(hostname string) error
}

// Reloader asks the tunnel to pick up ingress changes
type Reloader interface {
	Reload()
}

// Topology is the slice of the prober this service needs
type Topology interface {
	Unavailable() bool
	FindContainerByListeningPort(port int, project string) *docker.Container
	SharedNetworks(c *docker.Container) []string
	HostPortBinding(c *docker.Container, containerPort int) (int, bool)
}

// Result is the public outcome of a CNAME request
type Result struct {
	URL           string `json:"url"`
	Hostname      string `json:"hostname"`
	IngressTarget string `json:"ingressTarget"`
	TargetType    string `json:"targetType"`
}

// target is the resolved routing destination for a port
type target struct {
	serviceURL    string
	targetType    string
	containerName *string
	network       *string
}

// Service drives the CNAME lifecycle: DNS record, ingress rule, tunnel
// reload and persistence, with reverse compensation on partial failure.
type Service struct {
	database      *db.DB
	dns           DNSClient
	ingress       IngressWriter
	tunnel        Reloader
	topo          Topology
	tunnelID      string
	defaultDomain string
	logger        *slog.Logger
}

// NewService creates a CNAME lifecycle service
func NewService(database *db.DB, dns DNSClient, ingressWriter IngressWriter, tunnel Reloader,
	topo Topology, tunnelID, defaultDomain string, logger *slog.Logger) *Service {
	return &Service{
		database:      database,
		dns:           dns,
		ingress:       ingressWriter,
		tunnel:        tunnel,
		topo:          topo,
		tunnelID:      tunnelID,
		defaultDomain: defaultDomain,
		logger:        logger,
	}
}

// RequestCNAME publishes subdomain.domain, routed through the tunnel to the
// service holding targetPort. Steps 1-4 are read-only; from the DNS record
// onward every completed step is undone in reverse if a later one fails.
func (s *Service) RequestCNAME(ctx context.Context, subdomain, domainName string, targetPort int, project string) (*Result, error) {
	if err := validation.ValidateSubdomain(subdomain); err != nil {
		return nil, domain.WrapValidation(err.Error(), nil)
	}
	if err := validation.ValidatePort(targetPort); err != nil {
		return nil, domain.WrapValidation(err.Error(), nil)
	}
	if domainName == "" {
		domainName = s.defaultDomain
	}

	// 1. The domain must be a known zone
	zone, err := s.database.GetZone(domainName)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.WrapValidation(fmt.Sprintf("unknown domain: %s", domainName), err)
		}
		return nil, err
	}

	// 2. (subdomain, domain) must be unused locally and upstream
	fullHostname := subdomain + "." + domainName
	taken, err := s.database.CNAMEExists(subdomain, domainName)
	if err != nil {
		return nil, domain.WrapInternal("check cname uniqueness", err)
	}
	if taken {
		return nil, domain.WrapConflict(fmt.Sprintf("cname already exists: %s", fullHostname), nil)
	}
	records, err := s.dns.ListRecords(ctx, zone.ZoneID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if strings.EqualFold(r.Name, fullHostname) {
			return nil, domain.WrapConflict(
				fmt.Sprintf("dns record already exists upstream: %s", fullHostname), nil)
		}
	}

	// 3. The port must be an active allocation owned by the caller
	alloc, err := s.database.GetActiveAllocationByPort(targetPort,
		constants.DefaultAllocationHost, constants.DefaultAllocationProtocol)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.WrapValidation(
				fmt.Sprintf("port %d has no active allocation", targetPort), err)
		}
		return nil, err
	}
	if alloc.Project != project {
		return nil, domain.NewDomainError(domain.ErrAccessDenied.Code,
			fmt.Sprintf("port %d belongs to project %s", targetPort, alloc.Project), nil)
	}

	// 4. Resolve the routing target over the live topology
	tgt, err := s.selectTarget(targetPort, project)
	if err != nil {
		return nil, err
	}

	// Steps 5-8 mutate; completed steps are compensated in reverse on failure
	var undo []func()
	compensate := func(cause error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		s.audit("cname.request", project,
			fmt.Sprintf("hostname=%s port=%d", fullHostname, targetPort), false, cause)
	}

	// 5. DNS CNAME pointing at the tunnel's routing host
	content := s.tunnelID + constants.CloudflaredTunnelHostSuffix
	record, err := s.dns.CreateCNAME(ctx, zone.ZoneID, fullHostname, content)
	if err != nil {
		compensate(err)
		return nil, err
	}
	undo = append(undo, func() {
		if delErr := s.dns.DeleteRecord(ctx, zone.ZoneID, record.ID); delErr != nil {
			s.logger.Error("rollback: failed to delete dns record",
				"record_id", record.ID, "error", delErr)
		}
	})

	// 6. Ingress rule before the catch-all
	if err := s.ingress.Add(fullHostname, tgt.serviceURL, nil); err != nil {
		compensate(err)
		return nil, err
	}
	undo = append(undo, func() {
		if remErr := s.ingress.Remove(fullHostname); remErr != nil {
			s.logger.Error("rollback: failed to remove ingress rule",
				"hostname", fullHostname, "error", remErr)
			return
		}
		// The tunnel already picked up the rule at step 7, so removing it
		// needs another reload to take effect.
		s.tunnel.Reload()
	})

	// 7. Tunnel picks up the new rule
	s.tunnel.Reload()

	// 8. Persist and audit
	hostname := fullHostname
	if err := s.database.SetAllocationHostname(alloc.ID, &hostname); err != nil {
		compensate(err)
		return nil, err
	}
	undo = append(undo, func() {
		if clrErr := s.database.SetAllocationHostname(alloc.ID, nil); clrErr != nil {
			s.logger.Error("rollback: failed to clear allocation hostname",
				"hostname", fullHostname, "error", clrErr)
		}
	})

	row := &db.CNAME{
		Subdomain:          subdomain,
		Domain:             domainName,
		FullHostname:       fullHostname,
		TargetService:      tgt.serviceURL,
		TargetType:         tgt.targetType,
		ContainerName:      tgt.containerName,
		DockerNetwork:      tgt.network,
		Project:            project,
		CloudflareRecordID: record.ID,
		CreatedBy:          project,
	}
	if err := s.database.InsertCNAME(row); err != nil {
		compensate(err)
		return nil, err
	}
	s.audit("cname.request", project,
		fmt.Sprintf("hostname=%s target=%s type=%s", fullHostname, tgt.serviceURL, tgt.targetType),
		true, nil)

	s.logger.Info("cname published",
		"hostname", fullHostname, "target", tgt.serviceURL, "type", tgt.targetType)

	return &Result{
		URL:           "https://" + fullHostname,
		Hostname:      fullHostname,
		IngressTarget: tgt.serviceURL,
		TargetType:    tgt.targetType,
	}, nil
}

// DeleteCNAME unpublishes a hostname. Only the owning project, or the meta
// project, may delete it.
func (s *Service) DeleteCNAME(ctx context.Context, fullHostname, requester string) error {
	row, err := s.database.GetCNAMEByHostname(fullHostname)
	if err != nil {
		return err
	}
	if row.Project != requester && requester != constants.MetaProject {
		return domain.NewDomainError(domain.ErrAccessDenied.Code,
			fmt.Sprintf("cname %s belongs to project %s", fullHostname, row.Project), nil)
	}

	zone, err := s.database.GetZone(row.Domain)
	if err != nil {
		return err
	}

	if err := s.dns.DeleteRecord(ctx, zone.ZoneID, row.CloudflareRecordID); err != nil {
		// A record already gone upstream should not strand the local state
		if !domain.IsNotFound(err) {
			s.audit("cname.delete", requester, "hostname="+fullHostname, false, err)
			return err
		}
		s.logger.Warn("dns record already absent upstream", "hostname", fullHostname)
	}
	if err := s.ingress.Remove(fullHostname); err != nil {
		s.audit("cname.delete", requester, "hostname="+fullHostname, false, err)
		return err
	}
	s.tunnel.Reload()

	if err := s.database.DeleteCNAME(fullHostname); err != nil {
		return err
	}
	if err := s.database.ClearAllocationHostname(fullHostname); err != nil {
		s.logger.Warn("failed to clear allocation hostname",
			"hostname", fullHostname, "error", err)
	}
	s.audit("cname.delete", requester, "hostname="+fullHostname, true, nil)

	s.logger.Info("cname deleted", "hostname", fullHostname, "requester", requester)
	return nil
}

// List returns CNAME rows, all of them for the meta project, otherwise only
// the requester's.
func (s *Service) List(requester string) ([]*db.CNAME, error) {
	if requester == constants.MetaProject {
		return s.database.ListCNAMEs("")
	}
	return s.database.ListCNAMEs(requester)
}

// selectTarget resolves where the ingress rule should route, preferring
// direct container networking when cloudflared shares a network with the
// listening container.
func (s *Service) selectTarget(port int, project string) (*target, error) {
	if s.topo.Unavailable() {
		s.logger.Warn("topology unavailable, assuming host service", "port", port)
		return &target{
			serviceURL: fmt.Sprintf("http://localhost:%d", port),
			targetType: constants.TargetTypeLocalhost,
		}, nil
	}

	c := s.topo.FindContainerByListeningPort(port, project)
	if c == nil {
		// Nothing containerized listens there, treat it as a host service
		return &target{
			serviceURL: fmt.Sprintf("http://localhost:%d", port),
			targetType: constants.TargetTypeLocalhost,
		}, nil
	}

	if shared := s.topo.SharedNetworks(c); len(shared) > 0 {
		name := c.Name
		network := shared[0]
		return &target{
			serviceURL:    fmt.Sprintf("http://%s:%d", c.Name, port),
			targetType:    constants.TargetTypeContainer,
			containerName: &name,
			network:       &network,
		}, nil
	}

	if hostPort, ok := s.topo.HostPortBinding(c, port); ok {
		s.logger.Warn("no shared network with cloudflared, routing via host port",
			"container", c.Name, "host_port", hostPort)
		name := c.Name
		return &target{
			serviceURL:    fmt.Sprintf("http://localhost:%d", hostPort),
			targetType:    constants.TargetTypeLocalhost,
			containerName: &name,
		}, nil
	}

	network := firstNetwork(c)
	return nil, domain.WrapConnectivity(
		fmt.Sprintf("cloudflared cannot reach container %s on port %d", c.Name, port),
		fmt.Sprintf("Add cloudflared to %s OR expose port with -p %d:%d", network, port, port),
		nil)
}

func (s *Service) audit(action, project, details string, success bool, cause error) {
	entry := &db.AuditEntry{
		Action:  action,
		Project: &project,
		Details: details,
		Success: success,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	if err := s.database.AppendAudit(entry); err != nil {
		s.logger.Warn("failed to append audit entry", "action", action, "error", err)
	}
}

func firstNetwork(c *docker.Container) string {
	for name := range c.Networks {
		return name
	}
	return "a shared docker network"
}
