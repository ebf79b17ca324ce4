package domain

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertValidate(t *testing.T) {
	valid := Alert{AlertID: "ALT-1", CustomerName: "Jane Doe"}
	require.NoError(t, valid.Validate())
	require.NoError(t, (&Alert{}).Validate(), "blank identifiers are accepted")

	tests := []struct {
		name  string
		alert Alert
	}{
		{"NegativeAmount", Alert{AlertID: "ALT-1", CustomerName: "Jane", Transactions: []Transaction{{Amount: -1}}}},
		{"NaNAmount", Alert{AlertID: "ALT-1", CustomerName: "Jane", Transactions: []Transaction{{Amount: math.NaN()}}}},
		{"InfAmount", Alert{Transactions: []Transaction{{Amount: math.Inf(1)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			assert.True(t, errors.Is(err, ErrInvalidAlert), "got %v", err)
		})
	}
}

func TestOutboundTotal(t *testing.T) {
	alert := Alert{Transactions: []Transaction{
		{Type: TransactionTypeOutbound, Amount: 0.1},
		{Type: TransactionTypeOutbound, Amount: 0.2},
		{Type: "outbound transfer", Amount: 1000},
		{Type: "Inbound Transfer", Amount: 5000},
		{Type: TransactionTypeOutbound, Amount: 39999.70},
	}}

	// 0.1 + 0.2 sums exactly; type match is case-sensitive.
	assert.Equal(t, "40000", alert.OutboundTotal().RatString())
	assert.Equal(t, "46000", alert.TotalAmount().RatString())
}

func TestOutboundTotalSubPenny(t *testing.T) {
	below := Alert{Transactions: []Transaction{
		{Type: TransactionTypeOutbound, Amount: 39999.996},
	}}
	assert.Equal(t, -1, below.OutboundTotal().Cmp(big.NewRat(40000, 1)))
	assert.Less(t, FloatFloor(below.OutboundTotal()), 40000.0)

	above := Alert{Transactions: []Transaction{{Type: TransactionTypeOutbound, Amount: 39999.99}}}
	for range 5 {
		above.Transactions = append(above.Transactions, Transaction{Type: TransactionTypeOutbound, Amount: 0.004})
	}
	assert.Equal(t, "4000001/100", above.OutboundTotal().RatString())
	assert.GreaterOrEqual(t, FloatFloor(above.OutboundTotal()), 40000.0)
}

func TestFloatFloor(t *testing.T) {
	third := big.NewRat(1, 3)
	f := FloatFloor(third)
	assert.LessOrEqual(t, new(big.Rat).SetFloat64(f).Cmp(third), 0)

	assert.Equal(t, 40000.0, FloatFloor(big.NewRat(40000, 1)))
	assert.Equal(t, 0.0, FloatFloor(new(big.Rat)))
}

func TestDecimalSkipsNonFinite(t *testing.T) {
	assert.Nil(t, Transaction{Amount: math.Inf(1)}.Decimal())
	assert.Equal(t, "1/10", Transaction{Amount: 0.1}.Decimal().RatString())
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "45000.00", FormatMoney(45000))
	assert.Equal(t, "0.30", FormatMoney(0.3))
	assert.Equal(t, "1234.50", FormatMoney(1234.5))
}

func TestFallbackAnalysis(t *testing.T) {
	a := FallbackAnalysis()

	assert.Equal(t, FallbackField, a.Narrative.Background)
	assert.Equal(t, FallbackField, a.Recommendation.Action)
	assert.Equal(t, FallbackReasoning, a.Recommendation.Reasoning)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"narrative": {"background": "Error", "timeline": "Error", "indicators": "Error", "conclusion": "Error"},
		"risk_breakdown": [],
		"recommendation": {"action": "Error", "reasoning": "Could not connect to AI."},
		"findings": []
	}`, string(data))
}

func TestFindingMessages(t *testing.T) {
	findings := []Finding{
		{RuleID: "a", Message: "first"},
		{RuleID: "b", Message: "second"},
	}
	assert.Equal(t, []string{"first", "second"}, FindingMessages(findings))
	assert.Empty(t, FindingMessages(nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ProviderGemini, cfg.LLM.AnalysisProvider)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.NarrativeProvider)
	assert.Empty(t, cfg.Repository.Driver)
	assert.Equal(t, 8000, cfg.Server.Port)
}
