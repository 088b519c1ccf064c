package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the process configuration
type Config struct {
	Environment   string
	ServerAddress string
	DatabasePath  string
	ProjectsFile  string
	Crypto        CryptoConfig
	Cloudflare    CloudflareConfig
	Tunnel        TunnelConfig
	Auth          AuthConfig
}

// CryptoConfig holds the encryption key source
type CryptoConfig struct {
	KeyFile string
	// Key is the raw key material from the environment; KeyFile wins when both are set
	Key string
}

// CloudflareConfig holds Cloudflare API configuration
type CloudflareConfig struct {
	APIToken      string
	DefaultDomain string
}

// TunnelConfig holds the cloudflared tunnel configuration
type TunnelConfig struct {
	TunnelID        string
	IngressFile     string
	CredentialsFile string
	// Command is the cloudflared invocation the monitor owns, split on spaces
	Command string
	// PingURL is the cloudflared readiness endpoint the monitor polls
	PingURL string
}

// AuthConfig holds optional transport-level authentication configuration
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// ProjectConfig describes one supervised project loaded from the projects file
type ProjectConfig struct {
	Name         string   `yaml:"name"`
	WorkingDir   string   `yaml:"working_dir"`
	PortRange    string   `yaml:"port_range"`
	AllowedTools []string `yaml:"allowed_tools"`
}

// ProjectsFile is the on-disk shape of the projects configuration
type ProjectsFile struct {
	Projects []ProjectConfig `yaml:"projects"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		host := os.Getenv("HOST")
		port := getEnv("PORT", "8080")
		addr = fmt.Sprintf("%s:%s", host, port)
	}

	cfg := &Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ServerAddress: addr,
		DatabasePath:  getEnv("DATABASE_PATH", "./data/overseer.db"),
		ProjectsFile:  getEnv("PROJECTS_FILE", "./config/projects.yml"),
		Crypto: CryptoConfig{
			KeyFile: os.Getenv("ENCRYPTION_KEY_FILE"),
			Key:     os.Getenv("ENCRYPTION_KEY"),
		},
		Cloudflare: CloudflareConfig{
			APIToken:      os.Getenv("CLOUDFLARE_API_TOKEN"),
			DefaultDomain: getEnv("DEFAULT_DOMAIN", "153.se"),
		},
		Tunnel: TunnelConfig{
			TunnelID:        os.Getenv("TUNNEL_ID"),
			IngressFile:     getEnv("TUNNEL_INGRESS_FILE", "/etc/cloudflared/config.yml"),
			CredentialsFile: os.Getenv("TUNNEL_CREDENTIALS_FILE"),
			Command:         getEnv("TUNNEL_COMMAND", "cloudflared tunnel run"),
			PingURL:         getEnv("TUNNEL_PING_URL", "http://localhost:2000/ready"),
		},
		Auth: AuthConfig{
			Enabled:   getEnv("AUTH_ENABLED", "false") == "true",
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_ENABLED is set but AUTH_JWT_SECRET is empty")
	}

	return cfg, nil
}

// LoadProjects parses the projects YAML file and validates basic shape.
// An administrative reload re-reads the same file.
func LoadProjects(path string) ([]ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects file: %w", err)
	}

	var file ProjectsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse projects file: %w", err)
	}

	seen := make(map[string]bool, len(file.Projects))
	for i, p := range file.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("project %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate project name: %s", name)
		}
		seen[name] = true
		if p.PortRange == "" {
			return nil, fmt.Errorf("project %s has no port range", name)
		}
	}

	return file.Projects, nil
}

// ParsePortRange parses a "start-end" range declaration
func ParsePortRange(s string) (start, end int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("port range must look like 3100-3199, got %q", s)
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start in %q", s)
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end in %q", s)
	}
	if start <= 0 || end > 65535 || start > end {
		return 0, 0, fmt.Errorf("port range %q is out of order or out of bounds", s)
	}
	return start, end, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
