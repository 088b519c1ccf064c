package ports

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/db"
	"github.com/overseer/internal/domain"
	"github.com/overseer/internal/validation"
)

// AllocateOptions carries the optional fields of an allocation request
type AllocateOptions struct {
	ServiceType string
	Host        string
	Protocol    string
}

func (o *AllocateOptions) withDefaults() AllocateOptions {
	out := AllocateOptions{
		ServiceType: constants.DefaultServiceType,
		Host:        constants.DefaultAllocationHost,
		Protocol:    constants.DefaultAllocationProtocol,
	}
	if o == nil {
		return out
	}
	if o.ServiceType != "" {
		out.ServiceType = o.ServiceType
	}
	if o.Host != "" {
		out.Host = o.Host
	}
	if o.Protocol != "" {
		out.Protocol = o.Protocol
	}
	return out
}

// AuditEntry is the probe outcome for one active allocation
type AuditEntry struct {
	Project     string `json:"project"`
	ServiceName string `json:"serviceName"`
	Port        int    `json:"port"`
	Status      string `json:"status"`
	Conflict    bool   `json:"conflict,omitempty"`
}

// AuditReport summarizes liveness across all active allocations
type AuditReport struct {
	Allocated  int          `json:"allocated"`
	InUse      int          `json:"inUse"`
	NotRunning int          `json:"notRunning"`
	Conflicts  []string     `json:"conflicts,omitempty"`
	Entries    []AuditEntry `json:"entries"`
}

// Summary describes range usage for one project
type Summary struct {
	Project        string  `json:"project"`
	RangeStart     int     `json:"rangeStart"`
	RangeEnd       int     `json:"rangeEnd"`
	Total          int     `json:"total"`
	Allocated      int     `json:"allocated"`
	Available      int     `json:"available"`
	UtilizationPct float64 `json:"utilizationPct"`
}

// Allocator leases ports out of per-project ranges. All uniqueness decisions
// live in the store's transactions; the allocator adds range resolution,
// idempotent lookups and the liveness audit.
type Allocator struct {
	database *db.DB
	logger   *slog.Logger

	// dial is replaceable so audits run without real listeners in tests
	dial func(addr string, timeout time.Duration) bool
}

// NewAllocator creates a port allocator
func NewAllocator(database *db.DB, logger *slog.Logger) *Allocator {
	return &Allocator{
		database: database,
		logger:   logger,
		dial:     tcpProbe,
	}
}

// GetOrAllocate returns the service's existing active allocation, or leases
// the lowest free port in the project's range. Safe to call concurrently for
// the same service; exactly one allocation results.
func (a *Allocator) GetOrAllocate(project, service string, opts *AllocateOptions) (*db.PortAllocation, error) {
	if err := a.validateNames(project, service); err != nil {
		return nil, err
	}

	existing, err := a.database.GetActiveAllocation(project, service)
	if err == nil {
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	alloc, err := a.allocate(project, service, opts)
	if err != nil && domain.CodeOf(err) == domain.ErrDuplicateService.Code {
		// Lost the race to a concurrent caller; theirs is the answer
		return a.database.GetActiveAllocation(project, service)
	}
	return alloc, err
}

// Allocate always leases a new port. The service must not already hold one.
func (a *Allocator) Allocate(project, service string, opts *AllocateOptions) (*db.PortAllocation, error) {
	if err := a.validateNames(project, service); err != nil {
		return nil, err
	}
	return a.allocate(project, service, opts)
}

func (a *Allocator) allocate(project, service string, opts *AllocateOptions) (*db.PortAllocation, error) {
	rng, err := a.rangeFor(project)
	if err != nil {
		return nil, err
	}

	o := opts.withDefaults()
	alloc, err := a.database.AllocatePort(project, rng.ID, service, o.ServiceType, o.Host, o.Protocol)
	if err != nil {
		return nil, err
	}

	a.logger.Info("port allocated",
		"project", project, "service", service, "port", alloc.Port)
	return alloc, nil
}

// Release frees the service's port. Releasing a service without an active
// allocation is a no-op.
func (a *Allocator) Release(project, service string) error {
	if err := a.validateNames(project, service); err != nil {
		return err
	}
	if err := a.database.ReleaseAllocation(project, service); err != nil {
		return domain.WrapInternal("release allocation", err)
	}
	a.logger.Info("port released", "project", project, "service", service)
	return nil
}

// Audit probes every active allocation and reports liveness and range
// conflicts. It never mutates state.
func (a *Allocator) Audit() (*AuditReport, error) {
	allocations, err := a.database.ListActiveAllocations("")
	if err != nil {
		return nil, domain.WrapInternal("list allocations", err)
	}

	report := &AuditReport{Allocated: len(allocations)}
	ranges := make(map[string]*db.PortRange)

	for _, alloc := range allocations {
		entry := AuditEntry{
			Project:     alloc.Project,
			ServiceName: alloc.ServiceName,
			Port:        alloc.Port,
		}

		if a.dial(fmt.Sprintf("%s:%d", alloc.Host, alloc.Port), constants.LivenessProbeTimeout) {
			entry.Status = constants.AuditStatusInUse
			report.InUse++
		} else {
			entry.Status = constants.AuditStatusNotRunning
			report.NotRunning++
		}

		rng, ok := ranges[alloc.Project]
		if !ok {
			rng, err = a.rangeFor(alloc.Project)
			if err != nil {
				rng = nil
			}
			ranges[alloc.Project] = rng
		}
		if rng != nil && (alloc.Port < rng.Start || alloc.Port > rng.End) {
			entry.Conflict = true
			report.Conflicts = append(report.Conflicts, fmt.Sprintf(
				"%s/%s holds port %d outside range %d-%d",
				alloc.Project, alloc.ServiceName, alloc.Port, rng.Start, rng.End))
		}

		report.Entries = append(report.Entries, entry)
	}

	return report, nil
}

// Summary reports range usage for one project
func (a *Allocator) Summary(project string) (*Summary, error) {
	if err := validation.ValidateProjectName(project); err != nil {
		return nil, domain.WrapValidation(err.Error(), nil)
	}

	rng, err := a.rangeFor(project)
	if err != nil {
		return nil, err
	}
	allocated, err := a.database.CountActiveAllocations(rng.ID)
	if err != nil {
		return nil, domain.WrapInternal("count allocations", err)
	}

	total := rng.End - rng.Start + 1
	return &Summary{
		Project:        project,
		RangeStart:     rng.Start,
		RangeEnd:       rng.End,
		Total:          total,
		Allocated:      allocated,
		Available:      total - allocated,
		UtilizationPct: float64(allocated) / float64(total) * 100,
	}, nil
}

func (a *Allocator) rangeFor(project string) (*db.PortRange, error) {
	proj, err := a.database.GetProject(project)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewDomainError(domain.ErrNoRangeAssigned.Code,
				fmt.Sprintf("project %s has no port range", project), err)
		}
		return nil, err
	}

	rng, err := a.database.GetPortRange(proj.PortRangeID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewDomainError(domain.ErrNoRangeAssigned.Code,
				fmt.Sprintf("project %s has no active port range", project), err)
		}
		return nil, err
	}
	return rng, nil
}

func (a *Allocator) validateNames(project, service string) error {
	if err := validation.ValidateProjectName(project); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	if err := validation.ValidateServiceName(service); err != nil {
		return domain.WrapValidation(err.Error(), nil)
	}
	return nil
}

func tcpProbe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
