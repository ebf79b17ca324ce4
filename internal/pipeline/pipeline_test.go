package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	text string
	err  error
}

func (f fakeClient) Provider() string { return "fake" }

func (f fakeClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Text: f.text}, f.err
}

const okJSON = `{"narrative": {"background": "b", "timeline": "t", "indicators": "i", "conclusion": "c"},
"risk_breakdown": [{"factor": "AML", "contribution_percentage": 100}],
"recommendation": {"action": "Escalate to L2", "reasoning": "r"},
"findings": []}`

func newProcessor(t *testing.T, client llm.Client) (*Processor, *audit.Log) {
	t.Helper()
	shared := audit.New()
	engine, err := rules.NewEngine(shared)
	require.NoError(t, err)

	gen := narrative.NewGenerator(client, nil, shared, nil)
	return NewProcessor(engine, analysis.NewAnalyzer(client), gen, shared, nil), shared
}

func dispersalAlert() *domain.Alert {
	return &domain.Alert{
		AlertID:      "ALT-100",
		CustomerName: "John Smith",
		RiskRating:   "High",
		TriggerEvent: "Rapid outbound movement",
		Transactions: []domain.Transaction{
			{Date: "2024-03-01", Type: "Outbound Transfer", Amount: 45000, DestinationOrigin: "UK"},
		},
	}
}

func TestProcessSuccess(t *testing.T) {
	p, shared := newProcessor(t, fakeClient{text: okJSON})

	report := p.Process(context.Background(), dispersalAlert(), "")

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "ALT-100", report.AlertID)
	assert.Equal(t, domain.ReportCompleted, report.Status)
	assert.Equal(t, domain.AnalysisOK, report.AnalysisStatus)
	assert.Empty(t, report.AnalysisError)
	assert.Equal(t, "Escalate to L2", report.AIAnalysis.Recommendation.Action)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "Rapid dispersal of funds detected. Total outbound: £45000.00", report.Findings[0].String())

	require.Len(t, report.AuditLogs, 3)
	assert.Equal(t, ActionEngineStarted, report.AuditLogs[0].Action)
	assert.Equal(t, "Screening John Smith against AML, ABC, ATEF & Sanctions.", report.AuditLogs[0].Details)
	assert.Equal(t, ActionCrossReference, report.AuditLogs[1].Action)
	assert.Equal(t, ActionSynthesis, report.AuditLogs[2].Action)
	for _, e := range report.AuditLogs {
		assert.False(t, e.Timestamp.IsZero())
	}

	// Shared log: 3 request entries plus the 2 engine entries.
	assert.Equal(t, 5, shared.Len())
}

func TestProcessUnparsableResponse(t *testing.T) {
	p, _ := newProcessor(t, fakeClient{text: "Sure! Here is the analysis you asked for."})

	report := p.Process(context.Background(), dispersalAlert(), "report-1")

	assert.Equal(t, "report-1", report.ID)
	assert.Equal(t, domain.AnalysisError, report.AnalysisStatus)
	assert.NotEmpty(t, report.AnalysisError)

	got := report.AIAnalysis
	assert.Equal(t, "Error", got.Narrative.Background)
	assert.Equal(t, "Error", got.Narrative.Timeline)
	assert.Equal(t, "Error", got.Narrative.Indicators)
	assert.Equal(t, "Error", got.Narrative.Conclusion)
	assert.NotNil(t, got.RiskBreakdown)
	assert.Empty(t, got.RiskBreakdown)
	assert.Equal(t, domain.Recommendation{Action: "Error", Reasoning: "Could not connect to AI."}, got.Recommendation)
	assert.NotNil(t, got.Findings)
	assert.Empty(t, got.Findings)

	assert.Len(t, report.AuditLogs, 3)
}

func TestProcessProviderError(t *testing.T) {
	p, _ := newProcessor(t, fakeClient{err: domain.ErrMissingAPIKey})

	report := p.Process(context.Background(), dispersalAlert(), "")
	assert.Equal(t, domain.AnalysisError, report.AnalysisStatus)
	assert.Contains(t, report.AnalysisError, "missing API key")
	assert.Len(t, report.AuditLogs, 3)
}

func TestNarrate(t *testing.T) {
	p, shared := newProcessor(t, fakeClient{text: "1. Customer Profile\n..."})

	out, err := p.Narrate(context.Background(), dispersalAlert())
	require.NoError(t, err)

	assert.Equal(t, domain.AnalysisOK, out.Status)
	assert.Equal(t, "1. Customer Profile\n...", out.Narrative)
	assert.Len(t, out.Findings, 1)
	require.Len(t, out.AuditLogs, 2)
	assert.Equal(t, narrative.ActionPrompted, out.AuditLogs[0].Action)
	assert.Equal(t, narrative.ActionComplete, out.AuditLogs[1].Action)
	assert.Equal(t, 4, shared.Len())
}

func TestNarrateFailure(t *testing.T) {
	p, _ := newProcessor(t, fakeClient{err: errors.New("quota exceeded")})

	out, err := p.Narrate(context.Background(), dispersalAlert())
	require.NoError(t, err)

	assert.Equal(t, domain.AnalysisError, out.Status)
	assert.Equal(t, narrative.ErrorText, out.Narrative)
	assert.Equal(t, "quota exceeded", out.Error)
	require.Len(t, out.AuditLogs, 2)
	assert.Equal(t, narrative.ActionError, out.AuditLogs[1].Action)
}

func TestNarrateWithoutGenerator(t *testing.T) {
	engine, err := rules.NewEngine(nil)
	require.NoError(t, err)
	p := NewProcessor(engine, analysis.NewAnalyzer(fakeClient{}), nil, nil, nil)

	_, err = p.Narrate(context.Background(), dispersalAlert())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
