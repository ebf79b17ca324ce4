// Package analysis produces the structured AI risk report for an alert.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Result is the outcome of one analysis. On failure Analysis holds the
// fallback object and Err the cause.
type Result struct {
	Analysis domain.AIAnalysis
	Status   domain.AnalysisStatus
	Err      error
	Cached   bool
}

// Analyzer runs the JSON-mode risk analysis with an optional cache.
type Analyzer struct {
	client  llm.Client
	prompts PromptBuilder
	cache   domain.Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCache caches successful analyses for ttl.
func WithCache(cache domain.Cache, ttl time.Duration) Option {
	return func(a *Analyzer) {
		a.cache = cache
		a.ttl = ttl
	}
}

// WithPromptBuilder replaces the default RiskPrompt.
func WithPromptBuilder(p PromptBuilder) Option {
	return func(a *Analyzer) {
		a.prompts = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates an analyzer over client.
func NewAnalyzer(client llm.Client, opts ...Option) *Analyzer {
	a := &Analyzer{
		client:  client,
		prompts: RiskPrompt{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze asks the model for the risk report. It never returns a Go
// error; call and parse failures yield the fallback analysis.
func (a *Analyzer) Analyze(ctx context.Context, alert *domain.Alert, findings []domain.Finding) Result {
	key := a.cacheKey(alert, findings)

	if cached, ok := a.lookup(ctx, key); ok {
		return Result{Analysis: cached, Status: domain.AnalysisOK, Cached: true}
	}

	resp, err := a.client.Complete(ctx, a.prompts.Build(alert, findings))
	if err != nil {
		return a.fail(alert, err)
	}

	analysis, err := Parse(resp.Text)
	if err != nil {
		return a.fail(alert, err)
	}

	a.store(ctx, key, analysis)
	return Result{Analysis: analysis, Status: domain.AnalysisOK}
}

func (a *Analyzer) fail(alert *domain.Alert, err error) Result {
	a.logger.Warn("AI analysis failed, using fallback",
		"alert_id", alert.AlertID,
		"provider", a.client.Provider(),
		"error", err,
	)
	return Result{
		Analysis: domain.FallbackAnalysis(),
		Status:   domain.AnalysisError,
		Err:      err,
	}
}

// Parse decodes model output into an AIAnalysis. Markdown fences are
// stripped first. Any JSON object is accepted: missing keys stay zero and
// missing lists become empty. Text that is not a JSON object is malformed.
func Parse(text string) (domain.AIAnalysis, error) {
	text = strings.TrimSpace(llm.CleanJSON(text))
	if text == "" {
		return domain.AIAnalysis{}, domain.ErrEmptyResponse
	}
	if !strings.HasPrefix(text, "{") {
		return domain.AIAnalysis{}, fmt.Errorf("%w: expected a JSON object", domain.ErrMalformedResponse)
	}

	var out domain.AIAnalysis
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return domain.AIAnalysis{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if out.RiskBreakdown == nil {
		out.RiskBreakdown = []domain.RiskFactor{}
	}
	if out.Findings == nil {
		out.Findings = []domain.PolicyFlag{}
	}
	return out, nil
}

// cacheKey fingerprints everything the prompt depends on.
func (a *Analyzer) cacheKey(alert *domain.Alert, findings []domain.Finding) string {
	if a.cache == nil {
		return ""
	}
	payload, err := json.Marshal(struct {
		Provider string           `json:"provider"`
		Alert    *domain.Alert    `json:"alert"`
		Findings []domain.Finding `json:"findings"`
	}{a.client.Provider(), alert, findings})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return "kestrel:analysis:" + hex.EncodeToString(sum[:])
}

func (a *Analyzer) lookup(ctx context.Context, key string) (domain.AIAnalysis, bool) {
	if key == "" {
		return domain.AIAnalysis{}, false
	}

	data, err := a.cache.Get(ctx, key)
	if err != nil {
		metrics.AnalysisCacheTotal.WithLabelValues("error").Inc()
		a.logger.Warn("analysis cache get failed", "error", err)
		return domain.AIAnalysis{}, false
	}
	if data == nil {
		metrics.AnalysisCacheTotal.WithLabelValues("miss").Inc()
		return domain.AIAnalysis{}, false
	}

	var analysis domain.AIAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		metrics.AnalysisCacheTotal.WithLabelValues("error").Inc()
		return domain.AIAnalysis{}, false
	}

	metrics.AnalysisCacheTotal.WithLabelValues("hit").Inc()
	return analysis, true
}

func (a *Analyzer) store(ctx context.Context, key string, analysis domain.AIAnalysis) {
	if key == "" {
		return
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
		a.logger.Warn("analysis cache set failed", "error", err)
	}
}
