package narrative

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	text string
	err  error
	got  []llm.Request
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

func testAlert() *domain.Alert {
	return &domain.Alert{
		AlertID:      "ALT-1",
		CustomerName: "Jane Doe",
		RiskRating:   "High",
		TriggerEvent: "Large outbound transfers",
	}
}

var testFindings = []domain.Finding{
	{RuleID: "flagged-jurisdiction", Message: "Flagged location detected: Country X Bank for £1000.00"},
	{RuleID: "rapid-dispersal", Message: "Rapid dispersal of funds detected. Total outbound: £45000.00"},
}

func TestSARPromptIsDeterministic(t *testing.T) {
	p := SARPrompt{}

	first := p.Build(testAlert(), testFindings)
	second := p.Build(testAlert(), testFindings)
	assert.Equal(t, first, second)

	assert.Contains(t, first.Prompt, "Customer: Jane Doe")
	assert.Contains(t, first.Prompt, "Trigger: Large outbound transfers")
	assert.Contains(t, first.Prompt,
		"- Flagged location detected: Country X Bank for £1000.00\n- Rapid dispersal of funds detected. Total outbound: £45000.00")
	assert.Contains(t, first.Prompt, "1. Customer Profile")
	assert.False(t, first.JSON)
}

func TestGenerateSuccess(t *testing.T) {
	log := audit.New()
	client := &fakeClient{text: "1. Customer Profile ..."}
	g := NewGenerator(client, nil, log, nil)

	res := g.Generate(context.Background(), testAlert(), testFindings)
	require.True(t, res.OK())
	assert.Equal(t, "1. Customer Profile ...", res.Text)
	assert.Len(t, client.got, 1)

	events := log.List()
	require.Len(t, events, 2)
	assert.Equal(t, ActionPrompted, events[0].Action)
	assert.Equal(t, "Generating SAR narrative.", events[0].Details)
	assert.Equal(t, ActionComplete, events[1].Action)
	assert.Equal(t, "SAR drafted successfully.", events[1].Details)
	assert.Equal(t, domain.SystemUser, events[1].User)
}

func TestGenerateProviderFailure(t *testing.T) {
	log := audit.New()
	boom := errors.New("connection refused")
	g := NewGenerator(&fakeClient{err: boom}, nil, log, nil)

	res := g.Generate(context.Background(), testAlert(), testFindings)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, ErrorText, res.Text)

	events := log.List()
	require.Len(t, events, 2)
	assert.Equal(t, ActionPrompted, events[0].Action)
	assert.Equal(t, ActionError, events[1].Action)
	assert.Equal(t, "connection refused", events[1].Details)
}

func TestGenerateEmptyResponse(t *testing.T) {
	g := NewGenerator(&fakeClient{text: "   "}, nil, audit.New(), nil)

	res := g.Generate(context.Background(), testAlert(), nil)
	assert.ErrorIs(t, res.Err, domain.ErrEmptyResponse)
	assert.Equal(t, ErrorText, res.Text)
}

func TestWithAuditRedirectsEvents(t *testing.T) {
	shared := audit.New()
	g := NewGenerator(&fakeClient{text: "ok"}, nil, shared, nil)

	trail := audit.NewTrail(shared)
	g.WithAudit(trail).Generate(context.Background(), testAlert(), nil)

	assert.Len(t, trail.Snapshot(), 2)
	assert.Equal(t, 2, shared.Len())

	// The original generator is untouched.
	g.Generate(context.Background(), testAlert(), nil)
	assert.Len(t, trail.Snapshot(), 2)
	assert.Equal(t, 4, shared.Len())
}

type idPrompt struct{}

func (idPrompt) Build(alert *domain.Alert, _ []domain.Finding) llm.Request {
	return llm.Request{System: "sys", Prompt: alert.AlertID}
}

func TestCustomPromptBuilder(t *testing.T) {
	client := &fakeClient{text: "ok"}
	NewGenerator(client, idPrompt{}, nil, nil).Generate(context.Background(), testAlert(), nil)

	require.Len(t, client.got, 1)
	assert.Equal(t, llm.Request{System: "sys", Prompt: "ALT-1"}, client.got[0])
}
