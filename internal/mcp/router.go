package mcp

import (
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/overseer/internal/config"
	"github.com/overseer/internal/domain"
)

// Router maps project names to their endpoints. The endpoint map is swapped
// atomically on reload so in-flight requests keep the map they started with.
type Router struct {
	registry     *Registry
	projectsFile string
	logger       *slog.Logger
	endpoints    atomic.Value // map[string]*Endpoint
}

// NewRouter builds a router backed by the projects file
func NewRouter(registry *Registry, projectsFile string, logger *slog.Logger) (*Router, error) {
	r := &Router{
		registry:     registry,
		projectsFile: projectsFile,
		logger:       logger,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the projects file and swaps in a fresh endpoint map. The
// old map keeps serving until the swap, so a bad file changes nothing.
func (r *Router) Reload() error {
	projects, err := config.LoadProjects(r.projectsFile)
	if err != nil {
		return domain.WrapValidation("reload projects", err)
	}

	endpoints := make(map[string]*Endpoint, len(projects))
	for _, p := range projects {
		endpoints[p.Name] = NewEndpoint(ProjectContext{
			Name:         p.Name,
			WorkingDir:   p.WorkingDir,
			AllowedTools: p.AllowedTools,
		}, r.registry, r.logger)
	}

	r.endpoints.Store(endpoints)
	r.logger.Info("endpoints loaded", "count", len(endpoints))
	return nil
}

// Endpoint returns the endpoint for a project, or nil if unknown
func (r *Router) Endpoint(project string) *Endpoint {
	endpoints, _ := r.endpoints.Load().(map[string]*Endpoint)
	return endpoints[project]
}

// Projects returns the configured project names, sorted
func (r *Router) Projects() []string {
	endpoints, _ := r.endpoints.Load().(map[string]*Endpoint)
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats aggregates request and error counts across all endpoints
func (r *Router) Stats() (requests, errs int64) {
	endpoints, _ := r.endpoints.Load().(map[string]*Endpoint)
	for _, e := range endpoints {
		req, er := e.Stats()
		requests += req
		errs += er
	}
	return requests, errs
}
