package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/overseer/internal/cname"
	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/db"
	"github.com/overseer/internal/domain"
	"github.com/overseer/internal/ports"
	"github.com/overseer/internal/secrets"
	"github.com/overseer/internal/tunnel"
)

// Services bundles everything the tool set operates on
type Services struct {
	Allocator *ports.Allocator
	Secrets   *secrets.Store
	Detector  *secrets.Detector
	CNAME     *cname.Service
	Monitor   *tunnel.Monitor
	Router    *Router
}

// RegisterTools wires every tool into the registry
func RegisterTools(registry *Registry, svc *Services) error {
	tools := []*Tool{}
	tools = append(tools, portTools(svc)...)
	tools = append(tools, secretTools(svc)...)
	tools = append(tools, tunnelTools(svc)...)
	tools = append(tools, adminTools(svc)...)

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description}
}

func boolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func decodeParams(params json.RawMessage, into interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, into); err != nil {
		return domain.WrapValidation("invalid tool arguments", err)
	}
	return nil
}

type portParams struct {
	Service     string `json:"service"`
	ServiceType string `json:"service_type"`
	Host        string `json:"host"`
	Protocol    string `json:"protocol"`
}

func (p *portParams) options() *ports.AllocateOptions {
	return &ports.AllocateOptions{
		ServiceType: p.ServiceType,
		Host:        p.Host,
		Protocol:    p.Protocol,
	}
}

func allocationView(a *db.PortAllocation) map[string]interface{} {
	return map[string]interface{}{
		"project":      a.Project,
		"service":      a.ServiceName,
		"port":         a.Port,
		"service_type": a.ServiceType,
		"host":         a.Host,
		"protocol":     a.Protocol,
		"status":       a.Status,
		"allocated_at": a.AllocatedAt,
	}
}

func portTools(svc *Services) []*Tool {
	portSchema := objectSchema(map[string]interface{}{
		"service":      stringProp("Service name within the calling project"),
		"service_type": stringProp("Service type, defaults to web"),
		"host":         stringProp("Bind host, defaults to localhost"),
		"protocol":     stringProp("Protocol, defaults to tcp"),
	}, "service")

	return []*Tool{
		{
			Name:        "port_get_or_allocate",
			Description: "Return the service's existing port or allocate the lowest free one in the project's range",
			InputSchema: portSchema,
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p portParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				alloc, err := svc.Allocator.GetOrAllocate(tc.Project, p.Service, p.options())
				if err != nil {
					return nil, err
				}
				return allocationView(alloc), nil
			},
		},
		{
			Name:        "port_allocate",
			Description: "Allocate a new port for a service, failing if one is already held",
			InputSchema: portSchema,
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p portParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				alloc, err := svc.Allocator.Allocate(tc.Project, p.Service, p.options())
				if err != nil {
					return nil, err
				}
				return allocationView(alloc), nil
			},
		},
		{
			Name:        "port_release",
			Description: "Release the port held by a service, a no-op when none is held",
			InputSchema: objectSchema(map[string]interface{}{
				"service": stringProp("Service name within the calling project"),
			}, "service"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p portParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := svc.Allocator.Release(tc.Project, p.Service); err != nil {
					return nil, err
				}
				return map[string]interface{}{"released": true, "service": p.Service}, nil
			},
		},
		{
			Name:        "port_audit",
			Description: "Probe every active allocation for liveness and range conflicts",
			InputSchema: objectSchema(map[string]interface{}{}),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				return svc.Allocator.Audit()
			},
		},
		{
			Name:        "port_summary",
			Description: "Report range utilization for a project",
			InputSchema: objectSchema(map[string]interface{}{
				"project": stringProp("Project to summarize, defaults to the caller"),
			}),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Project string `json:"project"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				project := p.Project
				if project == "" {
					project = tc.Project
				}
				if project != tc.Project && tc.Project != constants.MetaProject {
					return nil, domain.NewDomainError(domain.ErrAccessDenied.Code,
						fmt.Sprintf("project %s cannot inspect %s", tc.Project, project), nil)
				}
				return svc.Allocator.Summary(project)
			},
		},
	}
}

// checkSecretAccess enforces project boundaries on key paths. The meta
// project passes everywhere; others may only touch their own project scope
// and the shared service scope.
func checkSecretAccess(keyPath, project string) error {
	if project == constants.MetaProject {
		return nil
	}
	parts := strings.SplitN(keyPath, "/", 3)
	switch parts[0] {
	case constants.ScopeService:
		return nil
	case constants.ScopeProject:
		if len(parts) > 1 && parts[1] == project {
			return nil
		}
	}
	return domain.NewDomainError(domain.ErrAccessDenied.Code,
		fmt.Sprintf("project %s cannot access %s", project, keyPath), nil)
}

func secretTools(svc *Services) []*Tool {
	return []*Tool{
		{
			Name:        "secret_set",
			Description: "Encrypt and store a secret at a key path",
			InputSchema: objectSchema(map[string]interface{}{
				"key_path":    stringProp("Hierarchical key path, e.g. project/<name>/api_key"),
				"value":       stringProp("Secret value to encrypt"),
				"description": stringProp("Human description, never the value itself"),
				"expires_at":  stringProp("RFC 3339 expiry timestamp"),
				"overwrite":   boolProp("Replace an existing value at the same path"),
			}, "key_path", "value"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					KeyPath     string `json:"key_path"`
					Value       string `json:"value"`
					Description string `json:"description"`
					ExpiresAt   string `json:"expires_at"`
					Overwrite   bool   `json:"overwrite"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := checkSecretAccess(p.KeyPath, tc.Project); err != nil {
					return nil, err
				}
				opts := secrets.SetOptions{Overwrite: p.Overwrite}
				if p.ExpiresAt != "" {
					t, err := time.Parse(time.RFC3339, p.ExpiresAt)
					if err != nil {
						return nil, domain.WrapValidation("expires_at must be RFC 3339", err)
					}
					opts.ExpiresAt = &t
				}
				if err := svc.Secrets.Set(p.KeyPath, p.Value, p.Description, opts); err != nil {
					return nil, err
				}
				return map[string]interface{}{"stored": true, "key_path": p.KeyPath}, nil
			},
		},
		{
			Name:        "secret_get",
			Description: "Decrypt and return the value at a key path",
			InputSchema: objectSchema(map[string]interface{}{
				"key_path": stringProp("Hierarchical key path"),
			}, "key_path"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					KeyPath string `json:"key_path"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := checkSecretAccess(p.KeyPath, tc.Project); err != nil {
					return nil, err
				}
				value, err := svc.Secrets.Get(p.KeyPath, tc.Project)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"key_path": p.KeyPath, "value": value}, nil
			},
		},
		{
			Name:        "secret_list",
			Description: "List secret metadata, never values",
			InputSchema: objectSchema(map[string]interface{}{
				"scope":   stringProp("Filter by scope: meta, project or service"),
				"service": stringProp("Filter by service name"),
			}),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Scope   string `json:"scope"`
					Service string `json:"service"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				switch p.Scope {
				case "", constants.ScopeMeta, constants.ScopeProject, constants.ScopeService:
				default:
					return nil, domain.WrapValidation("scope must be meta, project or service", nil)
				}
				filter := db.SecretFilter{Scope: p.Scope, Service: p.Service}
				// Non-meta callers only ever see their own project's rows
				if tc.Project != constants.MetaProject {
					filter.Scope = constants.ScopeProject
					filter.Project = tc.Project
				}
				list, err := svc.Secrets.List(filter)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"secrets": list}, nil
			},
		},
		{
			Name:        "secret_delete",
			Description: "Delete the secret at a key path",
			InputSchema: objectSchema(map[string]interface{}{
				"key_path": stringProp("Hierarchical key path"),
			}, "key_path"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					KeyPath string `json:"key_path"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := checkSecretAccess(p.KeyPath, tc.Project); err != nil {
					return nil, err
				}
				if err := svc.Secrets.Delete(p.KeyPath); err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": true, "key_path": p.KeyPath}, nil
			},
		},
		{
			Name:        "secret_detect",
			Description: "Classify provider credentials in text without storing them",
			InputSchema: objectSchema(map[string]interface{}{
				"text":     stringProp("Text to scan for credentials"),
				"question": stringProp("Surrounding prompt text, improves classification"),
				"service":  stringProp("Service name for scoping suggested key paths"),
			}, "text"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Text     string `json:"text"`
					Question string `json:"question"`
					Service  string `json:"service"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				detections := svc.Detector.ExtractAllSecrets(p.Text, &secrets.DetectContext{
					Question:    p.Question,
					ProjectName: tc.Project,
					ServiceName: p.Service,
				})
				return map[string]interface{}{"detections": detections}, nil
			},
		},
		{
			Name:        "secret_auto_store",
			Description: "Detect credentials in text and store each at its suggested key path",
			InputSchema: objectSchema(map[string]interface{}{
				"text":     stringProp("Text to scan for credentials"),
				"question": stringProp("Surrounding prompt text, improves classification"),
				"service":  stringProp("Service name for scoping suggested key paths"),
			}, "text"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Text     string `json:"text"`
					Question string `json:"question"`
					Service  string `json:"service"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				detections := svc.Detector.ExtractAllSecrets(p.Text, &secrets.DetectContext{
					Question:    p.Question,
					ProjectName: tc.Project,
					ServiceName: p.Service,
				})

				var stored, skipped []string
				for _, d := range detections {
					if err := checkSecretAccess(d.KeyPath, tc.Project); err != nil {
						skipped = append(skipped, d.KeyPath)
						continue
					}
					err := svc.Secrets.Set(d.KeyPath, d.Value(), d.Description, secrets.SetOptions{})
					if err != nil {
						if domain.IsConflict(err) {
							skipped = append(skipped, d.KeyPath)
							continue
						}
						return nil, err
					}
					stored = append(stored, d.KeyPath)
				}
				return map[string]interface{}{
					"detected": len(detections),
					"stored":   stored,
					"skipped":  skipped,
				}, nil
			},
		},
	}
}

func cnameView(c *db.CNAME) map[string]interface{} {
	return map[string]interface{}{
		"hostname":    c.FullHostname,
		"target":      c.TargetService,
		"target_type": c.TargetType,
		"project":     c.Project,
		"created_at":  c.CreatedAt,
	}
}

func tunnelNotConfigured(svc *Services) error {
	if svc.CNAME == nil || svc.Monitor == nil {
		return domain.WrapValidation("tunnel is not configured", nil)
	}
	return nil
}

func tunnelTools(svc *Services) []*Tool {
	return []*Tool{
		{
			Name:        "tunnel_request_cname",
			Description: "Publish a hostname routed through the tunnel to an allocated port",
			InputSchema: objectSchema(map[string]interface{}{
				"subdomain": stringProp("Subdomain to publish"),
				"domain":    stringProp("Zone domain, defaults to the configured one"),
				"port":      intProp("Allocated target port owned by the caller"),
			}, "subdomain", "port"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Subdomain string `json:"subdomain"`
					Domain    string `json:"domain"`
					Port      int    `json:"port"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := tunnelNotConfigured(svc); err != nil {
					return nil, err
				}
				return svc.CNAME.RequestCNAME(ctx, p.Subdomain, p.Domain, p.Port, tc.Project)
			},
		},
		{
			Name:        "tunnel_delete_cname",
			Description: "Unpublish a hostname owned by the caller",
			InputSchema: objectSchema(map[string]interface{}{
				"hostname": stringProp("Full hostname to unpublish"),
			}, "hostname"),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				var p struct {
					Hostname string `json:"hostname"`
				}
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if err := tunnelNotConfigured(svc); err != nil {
					return nil, err
				}
				if err := svc.CNAME.DeleteCNAME(ctx, p.Hostname, tc.Project); err != nil {
					return nil, err
				}
				return map[string]interface{}{"deleted": true, "hostname": p.Hostname}, nil
			},
		},
		{
			Name:        "tunnel_list_cnames",
			Description: "List published hostnames visible to the caller",
			InputSchema: objectSchema(map[string]interface{}{}),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				if err := tunnelNotConfigured(svc); err != nil {
					return nil, err
				}
				rows, err := svc.CNAME.List(tc.Project)
				if err != nil {
					return nil, err
				}
				cnames := make([]map[string]interface{}, 0, len(rows))
				for _, row := range rows {
					cnames = append(cnames, cnameView(row))
				}
				return map[string]interface{}{"cnames": cnames}, nil
			},
		},
		{
			Name:        "tunnel_status",
			Description: "Report the tunnel process state, restart count and next restart",
			InputSchema: objectSchema(map[string]interface{}{}),
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				if err := tunnelNotConfigured(svc); err != nil {
					return nil, err
				}
				return svc.Monitor.Snapshot(), nil
			},
		},
	}
}

func adminTools(svc *Services) []*Tool {
	return []*Tool{
		{
			Name:        "project_reload",
			Description: "Re-read the projects file and rebuild the endpoint map",
			InputSchema: objectSchema(map[string]interface{}{}),
			Scope:       constants.ToolScopeProject,
			Projects:    []string{constants.MetaProject},
			Execute: func(ctx context.Context, tc ToolContext, params json.RawMessage) (interface{}, error) {
				if err := svc.Router.Reload(); err != nil {
					return nil, err
				}
				return map[string]interface{}{"reloaded": true, "projects": svc.Router.Projects()}, nil
			},
		},
	}
}
