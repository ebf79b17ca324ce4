// Package narrative drafts free-text Suspicious Activity Report narratives.
package narrative

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
)

// ErrorText is returned as the narrative when generation fails.
const ErrorText = "Error generating SAR narrative."

// Audit actions raised by the generator.
const (
	ActionPrompted = "LLM Prompted"
	ActionComplete = "LLM Generation Complete"
	ActionError    = "LLM Error"
)

// PromptBuilder turns an alert and its findings into a model request.
type PromptBuilder interface {
	Build(alert *domain.Alert, findings []domain.Finding) llm.Request
}

// SARPrompt is the default PromptBuilder. Output is deterministic for a
// given alert and findings list.
type SARPrompt struct{}

// Build renders the SAR drafting prompt.
func (SARPrompt) Build(alert *domain.Alert, findings []domain.Finding) llm.Request {
	lines := make([]string, len(findings))
	for i, f := range findings {
		lines[i] = "- " + f.String()
	}

	var b strings.Builder
	b.WriteString("You are an expert Anti-Money Laundering (AML) investigator at a retail bank.\n")
	b.WriteString("Draft a formal Suspicious Activity Report (SAR) narrative based on these facts:\n\n")
	fmt.Fprintf(&b, "Customer: %s\n", alert.CustomerName)
	fmt.Fprintf(&b, "Trigger: %s\n\n", alert.TriggerEvent)
	b.WriteString("Findings:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nStructure the report strictly into:\n")
	b.WriteString("1. Customer Profile\n")
	b.WriteString("2. Suspicious Activity Details\n")
	b.WriteString("3. Conclusion\n")
	b.WriteString("Keep it objective, professional, and factual.\n")

	return llm.Request{Prompt: b.String()}
}

// Result is the outcome of one generation. Text is ErrorText when Err is
// set.
type Result struct {
	Text string
	Err  error
}

// OK reports whether the narrative came from the model.
func (r Result) OK() bool {
	return r.Err == nil
}

// Generator drafts SAR narratives through an llm.Client.
type Generator struct {
	client  llm.Client
	prompts PromptBuilder
	audit   domain.AuditLog
	logger  *slog.Logger
}

// NewGenerator creates a generator. A nil prompts uses SARPrompt.
func NewGenerator(client llm.Client, prompts PromptBuilder, auditLog domain.AuditLog, logger *slog.Logger) *Generator {
	if prompts == nil {
		prompts = SARPrompt{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:  client,
		prompts: prompts,
		audit:   auditLog,
		logger:  logger,
	}
}

// WithAudit returns a copy of g that records to auditLog.
func (g *Generator) WithAudit(auditLog domain.AuditLog) *Generator {
	cp := *g
	cp.audit = auditLog
	return &cp
}

// Generate drafts the narrative. Provider failures never surface as a Go
// error: they are recorded on the audit log and returned in Result.Err.
func (g *Generator) Generate(ctx context.Context, alert *domain.Alert, findings []domain.Finding) Result {
	g.record(ActionPrompted, "Generating SAR narrative.")

	resp, err := g.client.Complete(ctx, g.prompts.Build(alert, findings))
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = domain.ErrEmptyResponse
	}
	if err != nil {
		g.logger.Warn("narrative generation failed",
			"alert_id", alert.AlertID,
			"provider", g.client.Provider(),
			"error", err,
		)
		g.record(ActionError, err.Error())
		return Result{Text: ErrorText, Err: err}
	}

	g.record(ActionComplete, "SAR drafted successfully.")
	return Result{Text: resp.Text}
}

func (g *Generator) record(action, details string) {
	if g.audit == nil {
		return
	}
	g.audit.Append(domain.AuditEvent{
		Action:  action,
		User:    domain.SystemUser,
		Details: details,
	})
}
