// Package rules provides the CEL-Go based risk rule engine.
package rules

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"text/template"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("kestrel-rules")

// Scope decides what a rule is evaluated against.
type Scope string

const (
	// ScopeTransaction rules run once per transaction with `tx` bound.
	ScopeTransaction Scope = "transaction"

	// ScopeAlert rules run once per alert with aggregates bound.
	ScopeAlert Scope = "alert"
)

// RuleDefinition describes a rule as configured in code or a rules file.
type RuleDefinition struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Scope       Scope           `yaml:"scope" json:"scope"`
	Severity    domain.Severity `yaml:"severity" json:"severity"`
	Expression  string          `yaml:"expression" json:"expression"`
	Message     string          `yaml:"message" json:"message"`
	Disabled    bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// CompiledRule holds a pre-compiled CEL program and message template.
type CompiledRule struct {
	Definition RuleDefinition
	Program    cel.Program
	Message    *template.Template
}

// Engine evaluates rules over an alert's transactions.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule
	audit domain.AuditLog
}

// NewEngine creates an engine loaded with the built-in rules. Start and
// completion events are appended to auditLog, which may be nil.
func NewEngine(auditLog domain.AuditLog) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("alert", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("outbound_total", cel.DoubleType),
		cel.Variable("total_amount", cel.DoubleType),
		cel.Variable("transaction_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:   env,
		audit: auditLog,
	}

	if err := e.LoadRules(BuiltinRules()); err != nil {
		return nil, err
	}

	return e, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(def RuleDefinition) error {
	_, err := e.compileRule(def)
	return err
}

// LoadRule compiles and loads a rule. A rule with an existing ID replaces
// the old one in place; new rules are appended.
func (e *Engine) LoadRule(def RuleDefinition) error {
	compiled, err := e.compileRule(def)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.Definition.ID == def.ID {
			if def.Disabled {
				e.rules = append(e.rules[:i], e.rules[i+1:]...)
			} else {
				e.rules[i] = compiled
			}
			return nil
		}
	}

	if !def.Disabled {
		e.rules = append(e.rules, compiled)
	}
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(defs []RuleDefinition) error {
	for _, def := range defs {
		if err := e.LoadRule(def); err != nil {
			return err
		}
	}
	return nil
}

// Rules returns the loaded rule definitions in evaluation order.
func (e *Engine) Rules() []RuleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RuleDefinition, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Definition
	}
	return out
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// messageData is the template context for finding messages.
type messageData struct {
	Alert            *domain.Alert
	Tx               domain.Transaction
	OutboundTotal    float64
	TotalAmount      float64
	TransactionCount int
}

// Analyze runs every loaded rule over the alert and returns the findings.
// Transaction rules fire in transaction order, then alert rules. The
// engine never fails: a rule that errors at runtime is logged and skipped.
func (e *Engine) Analyze(ctx context.Context, alert *domain.Alert) []domain.Finding {
	ctx, span := tracer.Start(ctx, "rules.Analyze")
	defer span.End()

	e.logAudit("Risk Engine Started", fmt.Sprintf("Analyzing %d transactions.", len(alert.Transactions)))

	e.mu.RLock()
	rules := make([]*CompiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	data := messageData{
		Alert:            alert,
		OutboundTotal:    domain.FloatFloor(alert.OutboundTotal()),
		TotalAmount:      domain.FloatFloor(alert.TotalAmount()),
		TransactionCount: len(alert.Transactions),
	}

	activation := map[string]any{
		"tx": map[string]any{},
		"alert": map[string]any{
			"alert_id":      alert.AlertID,
			"customer_name": alert.CustomerName,
			"risk_rating":   alert.RiskRating,
			"trigger_event": alert.TriggerEvent,
		},
		"outbound_total":    data.OutboundTotal,
		"total_amount":      data.TotalAmount,
		"transaction_count": int64(data.TransactionCount),
	}

	findings := []domain.Finding{}

	for i, tx := range alert.Transactions {
		activation["tx"] = map[string]any{
			"index":              int64(i),
			"date":               tx.Date,
			"type":               tx.Type,
			"amount":             tx.Amount,
			"destination_origin": tx.DestinationOrigin,
		}
		data.Tx = tx

		for _, rule := range rules {
			if rule.Definition.Scope != ScopeTransaction {
				continue
			}
			if f, ok := e.evaluate(rule, activation, data); ok {
				findings = append(findings, f)
			}
		}
	}

	activation["tx"] = map[string]any{}
	data.Tx = domain.Transaction{}

	for _, rule := range rules {
		if rule.Definition.Scope != ScopeAlert {
			continue
		}
		if f, ok := e.evaluate(rule, activation, data); ok {
			findings = append(findings, f)
		}
	}

	for _, f := range findings {
		metrics.FindingsTotal.WithLabelValues(metricLabel(f.RuleID)).Inc()
	}

	span.SetAttributes(
		attribute.String("alert.id", alert.AlertID),
		attribute.Int("findings.count", len(findings)),
	)

	e.logAudit("Risk Engine Completed", fmt.Sprintf("Found %d risk factors.", len(findings)))

	return findings
}

// evaluate runs one rule and renders its finding when it fires.
func (e *Engine) evaluate(rule *CompiledRule, activation map[string]any, data messageData) (domain.Finding, bool) {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		slog.Warn("rule evaluation failed",
			"rule_id", rule.Definition.ID,
			"error", err,
		)
		return domain.Finding{}, false
	}

	fired, ok := out.(types.Bool)
	if !ok || !bool(fired) {
		return domain.Finding{}, false
	}

	var buf bytes.Buffer
	if err := rule.Message.Execute(&buf, data); err != nil {
		slog.Warn("rule message rendering failed",
			"rule_id", rule.Definition.ID,
			"error", err,
		)
		buf.Reset()
		buf.WriteString(rule.Definition.Name)
	}

	return domain.Finding{
		RuleID:   rule.Definition.ID,
		Severity: rule.Definition.Severity,
		Message:  buf.String(),
	}, true
}

func (e *Engine) logAudit(action, details string) {
	if e.audit == nil {
		return
	}
	e.audit.Append(domain.AuditEvent{
		Action:  action,
		User:    domain.SystemUser,
		Details: details,
	})
}

var messageFuncs = template.FuncMap{
	"money": domain.FormatMoney,
}

func (e *Engine) compileRule(def RuleDefinition) (*CompiledRule, error) {
	if def.ID == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	if def.Scope != ScopeTransaction && def.Scope != ScopeAlert {
		return nil, fmt.Errorf("%w: rule %s: scope must be %q or %q", domain.ErrInvalidInput, def.ID, ScopeTransaction, ScopeAlert)
	}

	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.ID, err)
	}

	message := def.Message
	if message == "" {
		message = def.Name
	}
	tmpl, err := template.New(def.ID).Funcs(messageFuncs).Parse(message)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid message template: %w", def.ID, err)
	}

	if def.Severity == "" {
		def.Severity = domain.SeverityMedium
	}

	return &CompiledRule{
		Definition: def,
		Program:    program,
		Message:    tmpl,
	}, nil
}
