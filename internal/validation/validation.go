package validation

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/overseer/internal/constants"
)

var (
	// keyPathRegex is the canonical secret key-path grammar
	keyPathRegex = regexp.MustCompile(`^(meta|project|service)/[a-z0-9_-]+/[a-z0-9_-]+$`)

	// projectNameRegex allows only lowercase slugs
	projectNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	// subdomainRegex validates a single DNS label
	subdomainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

	// serviceNameRegex matches allocator service names
	serviceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Reserved names that should not be used as project or service names
var reservedNames = map[string]bool{
	".":    true,
	"..":   true,
	"~":    true,
	"tmp":  true,
	"temp": true,
}

// ValidateKeyPath validates a secret key path against the canonical grammar
func ValidateKeyPath(keyPath string) error {
	if keyPath == "" {
		return errors.New("key path cannot be empty")
	}
	if !keyPathRegex.MatchString(keyPath) {
		return errors.New("key path must match (meta|project|service)/<name>/<key> with lowercase letters, digits, hyphens and underscores")
	}
	return nil
}

// ValidateSecretDescription enforces the minimum description length on set
func ValidateSecretDescription(description string) error {
	if len(description) < 10 {
		return errors.New("description must be at least 10 characters")
	}
	if len(description) > 500 {
		return errors.New("description must be 500 characters or less")
	}
	return nil
}

// ValidateProjectName validates a project slug to prevent path traversal and
// keep key paths and hostnames well formed.
func ValidateProjectName(name string) error {
	if len(name) < 1 {
		return errors.New("project name cannot be empty")
	}
	if len(name) > 64 {
		return errors.New("project name must be 64 characters or less")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return errors.New("project name cannot contain path separators")
	}
	if reservedNames[name] {
		return errors.New("project name is reserved")
	}
	if !projectNameRegex.MatchString(name) {
		return errors.New("project name must be a lowercase slug")
	}
	return nil
}

// ValidateServiceName validates an allocator service name
func ValidateServiceName(name string) error {
	if name == "" {
		return errors.New("service name cannot be empty")
	}
	if len(name) > 64 {
		return errors.New("service name must be 64 characters or less")
	}
	if !serviceNameRegex.MatchString(name) {
		return errors.New("service name must be a lowercase slug")
	}
	return nil
}

// ValidateSubdomain validates a single DNS label used as a CNAME subdomain
func ValidateSubdomain(subdomain string) error {
	if subdomain == "" {
		return errors.New("subdomain cannot be empty")
	}
	if len(subdomain) > 63 {
		return errors.New("subdomain must be 63 characters or less")
	}
	if strings.Contains(subdomain, ".") {
		return errors.New("subdomain must be a single label without dots")
	}
	if !subdomainRegex.MatchString(strings.ToLower(subdomain)) {
		return errors.New("subdomain must contain only letters, digits and hyphens")
	}
	return nil
}

// ValidatePort validates a TCP/UDP port number
func ValidatePort(port int) error {
	if port < constants.MinPort || port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	return nil
}

// ValidateIPv4 validates an IPv4 literal before it is sent to the DNS API
func ValidateIPv4(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return fmt.Errorf("invalid IPv4 address: %q", ip)
	}
	return nil
}
