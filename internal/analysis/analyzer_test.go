package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "narrative": {"background": "b", "timeline": "t", "indicators": "i", "conclusion": "c"},
  "risk_breakdown": [{"factor": "High-Risk Jurisdiction", "contribution_percentage": 60}, {"factor": "AML", "contribution_percentage": 40}],
  "recommendation": {"action": "Escalate to L2", "reasoning": "large transfers"},
  "findings": [{"rule": "AML Flag", "detail": "45000 outbound", "policy": "AML Standards", "policy_snippet": "..."}]
}`

type fakeClient struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  llm.Request
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Text: f.text}, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Ping(context.Context) error { return nil }
func (c *mapCache) Close() error               { return nil }

func testAlert() *domain.Alert {
	return &domain.Alert{
		AlertID:      "ALT-7",
		CustomerName: "Acme Ltd",
		RiskRating:   "High",
		TriggerEvent: "Structuring",
		Transactions: []domain.Transaction{
			{Date: "2024-01-02", Type: "Outbound Transfer", Amount: 45000, DestinationOrigin: "High-Risk Offshore"},
		},
	}
}

func TestRiskPromptContents(t *testing.T) {
	findings := []domain.Finding{{RuleID: "rapid-dispersal", Severity: domain.SeverityHigh, Message: "Rapid dispersal of funds detected. Total outbound: £45000.00"}}

	req := RiskPrompt{}.Build(testAlert(), findings)
	assert.True(t, req.JSON)
	assert.NotEmpty(t, req.System)
	assert.Contains(t, req.Prompt, "Customer Name: Acme Ltd")
	assert.Contains(t, req.Prompt, "Alert ID: ALT-7")
	assert.Contains(t, req.Prompt, "amount=45000.00 destination_origin=High-Risk Offshore")
	assert.Contains(t, req.Prompt, "- [high] Rapid dispersal of funds detected. Total outbound: £45000.00")
	assert.Contains(t, req.Prompt, `"policy_snippet"`)
}

func TestRiskPromptEmptyAlert(t *testing.T) {
	req := RiskPrompt{}.Build(&domain.Alert{AlertID: "A", CustomerName: "B"}, nil)
	assert.Contains(t, req.Prompt, "Transactions:\n(none)")
	assert.Contains(t, req.Prompt, "Rule Engine Findings:\n(none)")
}

func TestParse(t *testing.T) {
	got, err := Parse("```json\n" + validJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Narrative.Background)
	assert.Len(t, got.RiskBreakdown, 2)
	assert.InDelta(t, 60, got.RiskBreakdown[0].ContributionPercentage, 1e-9)
	assert.Equal(t, "Escalate to L2", got.Recommendation.Action)
	assert.Equal(t, "AML Standards", got.Findings[0].Policy)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "", domain.ErrEmptyResponse},
		{"not json", "I'm sorry, I cannot help with that.", domain.ErrMalformedResponse},
		{"json array", `[{"narrative": {}}]`, domain.ErrMalformedResponse},
		{"json null", "null", domain.ErrMalformedResponse},
		{"wrong field type", `{"risk_breakdown": "high"}`, domain.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseKeepsPartialObject(t *testing.T) {
	got, err := Parse(`{"recommendation": {"action": "Close alert"}}`)
	require.NoError(t, err)
	assert.Equal(t, "Close alert", got.Recommendation.Action)
	assert.Empty(t, got.Recommendation.Reasoning)
	assert.Equal(t, domain.Narrative{}, got.Narrative)
	assert.Empty(t, got.RiskBreakdown)
	assert.NotNil(t, got.Findings)

	got, err = Parse(`{"narrative": {"background": "x"}}`)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Narrative.Background)
	assert.Equal(t, domain.Recommendation{}, got.Recommendation)
}

func TestParseDefaultsEmptyLists(t *testing.T) {
	got, err := Parse(`{"narrative": {}, "recommendation": {}}`)
	require.NoError(t, err)
	assert.NotNil(t, got.RiskBreakdown)
	assert.NotNil(t, got.Findings)
}

func TestAnalyzeSuccess(t *testing.T) {
	client := &fakeClient{text: validJSON}
	res := NewAnalyzer(client).Analyze(context.Background(), testAlert(), nil)

	assert.Equal(t, domain.AnalysisOK, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, "c", res.Analysis.Narrative.Conclusion)
	assert.True(t, client.last.JSON)
}

func TestAnalyzeUnparsableFallsBack(t *testing.T) {
	res := NewAnalyzer(&fakeClient{text: "not json at all"}).Analyze(context.Background(), testAlert(), nil)

	assert.Equal(t, domain.AnalysisError, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrMalformedResponse)
	assert.Equal(t, domain.FallbackAnalysis(), res.Analysis)
}

func TestAnalyzeProviderErrorFallsBack(t *testing.T) {
	boom := errors.New("dial tcp: i/o timeout")
	res := NewAnalyzer(&fakeClient{err: boom}).Analyze(context.Background(), testAlert(), nil)

	assert.Equal(t, domain.AnalysisError, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, "Could not connect to AI.", res.Analysis.Recommendation.Reasoning)
	assert.Empty(t, res.Analysis.RiskBreakdown)
}

func TestAnalyzeCacheHitSkipsModel(t *testing.T) {
	client := &fakeClient{text: validJSON}
	cache := newMapCache()
	a := NewAnalyzer(client, WithCache(cache, time.Minute))

	first := a.Analyze(context.Background(), testAlert(), nil)
	require.Equal(t, domain.AnalysisOK, first.Status)
	assert.False(t, first.Cached)

	second := a.Analyze(context.Background(), testAlert(), nil)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Analysis, second.Analysis)
	assert.Equal(t, 1, client.calls)

	// A different alert is a different key.
	other := testAlert()
	other.Transactions[0].Amount = 100
	a.Analyze(context.Background(), other, nil)
	assert.Equal(t, 2, client.calls)
}

func TestAnalyzeFailuresAreNotCached(t *testing.T) {
	client := &fakeClient{err: errors.New("down")}
	cache := newMapCache()
	a := NewAnalyzer(client, WithCache(cache, time.Minute))

	a.Analyze(context.Background(), testAlert(), nil)
	a.Analyze(context.Background(), testAlert(), nil)

	assert.Equal(t, 2, client.calls)
	assert.Empty(t, cache.data)
}
