package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Pattern describes one provider credential shape
type Pattern struct {
	Type        string
	Regex       *regexp.Regexp
	Confidence  float64
	Description string
	// Keywords gate low-confidence patterns: matches at confidence <= 0.7
	// require one of these words in the surrounding question text.
	Keywords []string
	// MetaKeyPath is the default storage location
	MetaKeyPath string
	// ProjectKeyFormat, when set, scopes storage to ctx.ProjectName
	ProjectKeyFormat string
	// ServiceKeyFormat, when set, scopes storage to ctx.ServiceName
	ServiceKeyFormat string
}

// Detection describes one recognized secret. The matched value is held in an
// unexported field so it can never appear in a serialized detection, log line
// or error message.
type Detection struct {
	Type        string  `json:"type"`
	KeyPath     string  `json:"keyPath"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`

	value string
	start int
	end   int
}

// Value returns the matched secret material for storage. Callers must not
// place the result in logs, audit rows or errors.
func (d *Detection) Value() string {
	return d.value
}

// DetectContext carries optional context that improves classification
type DetectContext struct {
	// Question is the free-text prompt surrounding the input, scanned for
	// provider keywords when confidence is low.
	Question    string
	ProjectName string
	ServiceName string
}

// Detector classifies provider credentials in arbitrary input
type Detector struct {
	patterns []Pattern
}

// NewDetector creates a detector with the built-in provider table
func NewDetector() *Detector {
	return &Detector{patterns: providerPatterns()}
}

func providerPatterns() []Pattern {
	return []Pattern{
		{
			Type:             "anthropic",
			Regex:            regexp.MustCompile(`sk-ant-api\d{2}-[A-Za-z0-9_-]{16,}`),
			Confidence:       1.0,
			Description:      "Anthropic API key",
			MetaKeyPath:      "meta/anthropic/api_key",
			ProjectKeyFormat: "project/%s/anthropic_api_key",
		},
		{
			Type:             "openai",
			Regex:            regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`),
			Confidence:       1.0,
			Description:      "OpenAI API key",
			MetaKeyPath:      "meta/openai/api_key",
			ProjectKeyFormat: "project/%s/openai_api_key",
		},
		{
			Type:        "openai",
			Regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9]{48}\b`),
			Confidence:  0.7,
			Description: "OpenAI API key",
			Keywords:    []string{"openai", "gpt", "chatgpt"},
			MetaKeyPath: "meta/openai/api_key",
		},
		{
			Type:        "google",
			Regex:       regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
			Confidence:  1.0,
			Description: "Google API key",
			MetaKeyPath: "meta/google/api_key",
		},
		{
			Type:        "stripe",
			Regex:       regexp.MustCompile(`sk_live_[0-9a-zA-Z]{24,}`),
			Confidence:  1.0,
			Description: "Stripe live secret key",
			MetaKeyPath: "meta/stripe/api_key",
		},
		{
			Type:        "stripe_test",
			Regex:       regexp.MustCompile(`sk_test_[0-9a-zA-Z]{24,}`),
			Confidence:  1.0,
			Description: "Stripe test secret key",
			MetaKeyPath: "meta/stripe/test_api_key",
		},
		{
			Type:        "github",
			Regex:       regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
			Confidence:  1.0,
			Description: "GitHub personal access token",
			MetaKeyPath: "meta/github/pat",
		},
		{
			Type:        "github",
			Regex:       regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),
			Confidence:  1.0,
			Description: "GitHub personal access token",
			MetaKeyPath: "meta/github/pat",
		},
		{
			Type:        "github_oauth",
			Regex:       regexp.MustCompile(`gho_[A-Za-z0-9]{36}`),
			Confidence:  1.0,
			Description: "GitHub OAuth access token",
			MetaKeyPath: "meta/github/oauth_token",
		},
		{
			Type:        "github_app",
			Regex:       regexp.MustCompile(`gh[us]_[A-Za-z0-9]{36}`),
			Confidence:  1.0,
			Description: "GitHub App installation token",
			MetaKeyPath: "meta/github/app_token",
		},
		{
			Type:        "aws",
			Regex:       regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
			Confidence:  1.0,
			Description: "AWS access key ID",
			MetaKeyPath: "meta/aws/access_key_id",
		},
		{
			Type:        "aws_secret",
			Regex:       regexp.MustCompile(`\b[A-Za-z0-9/+=]{40}\b`),
			Confidence:  0.7,
			Description: "AWS secret access key",
			Keywords:    []string{"aws", "amazon", "secret access"},
			MetaKeyPath: "meta/aws/secret_access_key",
		},
		{
			Type:        "cloudflare",
			Regex:       regexp.MustCompile(`\b[A-Za-z0-9_-]{40}\b`),
			Confidence:  0.7,
			Description: "Cloudflare API token",
			Keywords:    []string{"cloudflare", "cf api", "tunnel"},
			MetaKeyPath: "meta/cloudflare/api_token",
		},
		{
			Type:        "jwt",
			Regex:       regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`),
			Confidence:  0.8,
			Description: "JSON Web Token",
			MetaKeyPath: "meta/jwt/token",
		},
		{
			Type:             "database_url",
			Regex:            regexp.MustCompile(`(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s"']+:[^\s"'@]+@[^\s"']+`),
			Confidence:       1.0,
			Description:      "Database connection URL with credentials",
			MetaKeyPath:      "meta/database/url",
			ProjectKeyFormat: "project/%s/database_url",
			ServiceKeyFormat: "service/%s/database_url",
		},
	}
}

// DetectSecret returns the highest-confidence detection in text, or nil.
// Low-confidence patterns need a supporting keyword in ctx.Question.
func (d *Detector) DetectSecret(text string, ctx *DetectContext) *Detection {
	all := d.ExtractAllSecrets(text, ctx)
	if len(all) == 0 {
		return nil
	}

	best := all[0]
	for _, det := range all[1:] {
		if det.Confidence > best.Confidence {
			best = det
		}
	}
	return best
}

// ExtractAllSecrets returns all non-overlapping detections, ordered by
// position in the input.
func (d *Detector) ExtractAllSecrets(text string, ctx *DetectContext) []*Detection {
	var candidates []*Detection

	for i := range d.patterns {
		p := &d.patterns[i]
		if p.Confidence <= 0.7 && !d.keywordPresent(p, ctx) {
			continue
		}
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			candidates = append(candidates, &Detection{
				Type:        p.Type,
				KeyPath:     p.keyPath(ctx),
				Description: p.Description,
				Confidence:  p.Confidence,
				value:       text[loc[0]:loc[1]],
				start:       loc[0],
				end:         loc[1],
			})
		}
	}

	// Prefer higher confidence, then earlier and longer matches, when
	// deciding which of two overlapping candidates survives.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return candidates[i].end > candidates[j].end
	})

	var out []*Detection
	for _, c := range candidates {
		overlaps := false
		for _, kept := range out {
			if c.start < kept.end && kept.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// ContainsSecrets reports whether any high-confidence pattern matches
func (d *Detector) ContainsSecrets(text string) bool {
	return len(d.ExtractAllSecrets(text, nil)) > 0
}

// RedactSecrets replaces every match with first-4 + "..." + last-4 of the
// matched token so no recognized credential appears verbatim in the output.
func (d *Detector) RedactSecrets(text string) string {
	detections := d.ExtractAllSecrets(text, &DetectContext{Question: text})
	if len(detections) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, det := range detections {
		b.WriteString(text[last:det.start])
		b.WriteString(redactToken(det.value))
		last = det.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func (d *Detector) keywordPresent(p *Pattern, ctx *DetectContext) bool {
	if ctx == nil || ctx.Question == "" {
		return false
	}
	question := strings.ToLower(ctx.Question)
	for _, kw := range p.Keywords {
		if strings.Contains(question, kw) {
			return true
		}
	}
	return false
}

// keyPath resolves the storage location for this pattern given the context
func (p *Pattern) keyPath(ctx *DetectContext) string {
	if ctx != nil {
		if ctx.ProjectName != "" && p.ProjectKeyFormat != "" {
			return fmt.Sprintf(p.ProjectKeyFormat, ctx.ProjectName)
		}
		if ctx.ServiceName != "" && p.ServiceKeyFormat != "" {
			return fmt.Sprintf(p.ServiceKeyFormat, ctx.ServiceName)
		}
	}
	return p.MetaKeyPath
}
