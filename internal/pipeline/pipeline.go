// Package pipeline assembles rule findings and model output into reports.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("kestrel-pipeline")

// Audit actions returned with every processed alert.
const (
	ActionEngineStarted     = "Multi-Pillar Engine Started"
	ActionCrossReference    = "Cross-Reference Complete"
	ActionSynthesis         = "AI Synthesis"
	crossReferenceDetails   = "Evaluating transaction patterns against global watchlists."
	synthesisDetails        = "Consolidated dynamic risk report generated."
	engineStartedDetailsFmt = "Screening %s against AML, ABC, ATEF & Sanctions."
)

// Screener runs the static rules over an alert.
type Screener interface {
	Analyze(ctx context.Context, alert *domain.Alert) []domain.Finding
}

// RiskAnalyzer produces the structured AI analysis.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, alert *domain.Alert, findings []domain.Finding) analysis.Result
}

// Processor runs one alert through rules and the model.
type Processor struct {
	rules     Screener
	analyzer  RiskAnalyzer
	narrative *narrative.Generator
	audit     domain.AuditLog
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor. gen may be nil when the narrative
// format is not served.
func NewProcessor(rules Screener, analyzer RiskAnalyzer, gen *narrative.Generator, auditLog domain.AuditLog, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		rules:     rules,
		analyzer:  analyzer,
		narrative: gen,
		audit:     auditLog,
		logger:    logger,
		now:       time.Now,
	}
}

// Process screens the alert, runs the AI analysis, and returns the
// completed report. reportID may be empty to assign a new one.
// The report always carries exactly three audit entries.
func (p *Processor) Process(ctx context.Context, alert *domain.Alert, reportID string) *domain.Report {
	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	start := p.now()
	if reportID == "" {
		reportID = uuid.New().String()
	}

	trail := audit.NewTrail(p.audit)
	trail.Log(ActionEngineStarted, fmt.Sprintf(engineStartedDetailsFmt, alert.CustomerName))

	findings := p.rules.Analyze(ctx, alert)
	trail.Log(ActionCrossReference, crossReferenceDetails)

	res := p.analyzer.Analyze(ctx, alert, findings)
	trail.Log(ActionSynthesis, synthesisDetails)

	report := &domain.Report{
		ID:             reportID,
		AlertID:        alert.AlertID,
		CustomerName:   alert.CustomerName,
		Status:         domain.ReportCompleted,
		Findings:       findings,
		AIAnalysis:     res.Analysis,
		AnalysisStatus: res.Status,
		AuditLogs:      trail.Snapshot(),
		CreatedAt:      start.UTC(),
	}
	if res.Err != nil {
		report.AnalysisError = res.Err.Error()
	}

	metrics.AlertsProcessedTotal.WithLabelValues(string(res.Status)).Inc()

	span.SetAttributes(
		attribute.String("report.id", reportID),
		attribute.String("alert.id", alert.AlertID),
		attribute.Int("findings.count", len(findings)),
		attribute.String("analysis.status", string(res.Status)),
		attribute.Bool("analysis.cached", res.Cached),
	)

	p.logger.Info("alert processed",
		"report_id", reportID,
		"alert_id", alert.AlertID,
		"findings", len(findings),
		"analysis_status", res.Status,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report
}

// Narrate screens the alert and drafts the free-text SAR narrative.
func (p *Processor) Narrate(ctx context.Context, alert *domain.Alert) (*domain.NarrativeReport, error) {
	if p.narrative == nil {
		return nil, fmt.Errorf("%w: narrative generator not configured", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Narrate")
	defer span.End()

	trail := audit.NewTrail(p.audit)
	findings := p.rules.Analyze(ctx, alert)
	res := p.narrative.WithAudit(trail).Generate(ctx, alert, findings)

	out := &domain.NarrativeReport{
		AlertID:   alert.AlertID,
		Narrative: res.Text,
		Status:    domain.AnalysisOK,
		Findings:  findings,
		AuditLogs: trail.Snapshot(),
	}
	if res.Err != nil {
		out.Status = domain.AnalysisError
		out.Error = res.Err.Error()
	}

	span.SetAttributes(
		attribute.String("alert.id", alert.AlertID),
		attribute.String("narrative.status", string(out.Status)),
	)
	return out, nil
}

// Findings runs only the rule engine.
func (p *Processor) Findings(ctx context.Context, alert *domain.Alert) []domain.Finding {
	return p.rules.Analyze(ctx, alert)
}
