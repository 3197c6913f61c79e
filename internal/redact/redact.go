// Package redact strips credentials from knowledge unit content before it is
// stored, embedded or published, using the Gitleaks rule set.
package redact

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"
)

// Config configures the redactor.
type Config struct {
	// Enabled turns redaction on. A disabled redactor returns content as is.
	Enabled bool

	// Allow holds regular expressions for secrets that are known to be safe,
	// such as documented sample keys.
	Allow []string
}

// Finding describes one redacted secret. The secret itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is redacted content plus what was removed.
type Result struct {
	Content  string    `json:"-"`
	Findings []Finding `json:"findings,omitempty"`
}

// Rules returns the distinct rule ids that matched, sorted.
func (r Result) Rules() []string {
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		ids = append(ids, f.RuleID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Redactor replaces detected secrets with [REDACTED:<rule>] markers.
type Redactor struct {
	enabled bool
	allow   []*regexp.Regexp
	logger  *zap.Logger
}

// New compiles cfg. When enabled it also loads the Gitleaks default rules
// once so a broken rule set fails at startup rather than on first ingest.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Redactor{enabled: cfg.Enabled, logger: logger}
	for i, p := range cfg.Allow {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow %d: invalid pattern %q: %w", i, p, err)
		}
		r.allow = append(r.allow, re)
	}
	if r.enabled {
		if _, err := detect.NewDetectorDefaultConfig(); err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
	}
	return r, nil
}

// Enabled reports whether content is scanned.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Redact scans content and replaces every detected secret. Content without
// findings is returned unchanged.
func (r *Redactor) Redact(content string) (Result, error) {
	if !r.Enabled() || content == "" {
		return Result{Content: content}, nil
	}

	// A Detector accumulates findings across scans, so each call gets its own.
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return Result{}, fmt.Errorf("loading gitleaks rules: %w", err)
	}

	res := Result{Content: content}
	for _, f := range d.DetectString(content) {
		if f.Secret == "" || r.allowed(f.Secret) {
			continue
		}
		res.Findings = append(res.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
		res.Content = strings.ReplaceAll(res.Content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	if len(res.Findings) > 0 {
		r.logger.Debug("secrets redacted",
			zap.Int("count", len(res.Findings)),
			zap.Strings("rules", res.Rules()),
		)
	}
	return res, nil
}

func (r *Redactor) allowed(secret string) bool {
	for _, re := range r.allow {
		if re.MatchString(secret) {
			return true
		}
	}
	return false
}
