package secrets

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

const instrumentationName = "github.com/SPCG-NEST/daemon/internal/secrets"

// Finding describes one detected secret. The secret value itself is not kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the outcome of scrubbing one string.
type Result struct {
	Scrubbed string    `json:"scrubbed"`
	Findings []Finding `json:"findings,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Scrubber redacts secrets found by the gitleaks default rules.
// A nil or disabled Scrubber returns its input unchanged.
type Scrubber struct {
	config   Config
	detector *detect.Detector
	logger   *zap.Logger
	counter  metric.Int64Counter
}

// New builds a Scrubber. The gitleaks rule set is compiled once here.
func New(cfg Config, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	s := &Scrubber{config: cfg, logger: logger}
	if !cfg.Enabled {
		return s, nil
	}

	allow, err := cfg.compileAllowList()
	if err != nil {
		return nil, err
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if len(allow) > 0 {
		applyAllowList(&detector.Config, cfg.AllowList, allow)
	}
	s.detector = detector

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"daemon.secrets.redactions_total",
		metric.WithDescription("Secrets redacted before persistence"),
		metric.WithUnit("{secret}"),
	)
	if err != nil {
		logger.Warn("failed to create redaction counter", zap.Error(err))
	}
	s.counter = counter
	return s, nil
}

// applyAllowList appends a global gitleaks allowlist built from the
// configured patterns.
func applyAllowList(cfg *gitleaksConfig.Config, patterns []string, compiled []*regexp.Regexp) {
	allow := &gitleaksConfig.Allowlist{
		Description: "daemond allow list",
	}
	for _, re := range compiled {
		allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	allow.StopWords = append(allow.StopWords, patterns...)
	cfg.Allowlists = append(cfg.Allowlists, allow)
}

// IsEnabled reports whether scrubbing is active.
func (s *Scrubber) IsEnabled() bool {
	return s != nil && s.detector != nil
}

// Scrub replaces every detected secret in text.
func (s *Scrubber) Scrub(text string) Result {
	if !s.IsEnabled() || text == "" {
		return Result{Scrubbed: text}
	}

	found := s.detector.DetectString(text)
	if len(found) == 0 {
		return Result{Scrubbed: text}
	}

	result := Result{Findings: make([]Finding, 0, len(found))}
	values := make([]string, 0, len(found))
	for _, f := range found {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		values = append(values, secret)
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	scrubbed := text
	for _, v := range values {
		scrubbed = strings.ReplaceAll(scrubbed, v, s.config.RedactionString)
	}
	result.Scrubbed = scrubbed

	if s.counter != nil {
		for _, f := range result.Findings {
			s.counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("rule", f.RuleID)))
		}
	}
	return result
}

// Redact returns text with secrets replaced.
func (s *Scrubber) Redact(text string) string {
	return s.Scrub(text).Scrubbed
}

// RedactRecord returns a copy of rec with its free-text fields scrubbed.
// Identity fields are left alone.
func (s *Scrubber) RedactRecord(rec lifecycle.Record) lifecycle.Record {
	if !s.IsEnabled() {
		return rec
	}
	out := rec.Clone()
	total := 0
	redact := func(text string) string {
		r := s.Scrub(text)
		total += len(r.Findings)
		return r.Scrubbed
	}

	out.Message = redact(out.Message)
	out.Output = redact(out.Output)
	for i := range out.Context {
		out.Context[i] = redact(out.Context[i])
	}
	for i := range out.PostProcessLog {
		out.PostProcessLog[i] = redact(out.PostProcessLog[i])
	}
	out.Approval.Reason = redact(out.Approval.Reason)

	if total > 0 {
		s.logger.Info("redacted secrets from record",
			zap.String("daemon.pubkey", rec.DaemonPubkey),
			zap.String("turn.id", rec.TurnID),
			zap.Int("findings", total))
	}
	return out
}
