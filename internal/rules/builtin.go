package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in rule identifiers.
const (
	RuleFlaggedJurisdiction = "flagged-jurisdiction"
	RuleRapidDispersal      = "rapid-dispersal"
)

// DispersalThreshold is the outbound total, in currency units, at or above
// which the rapid dispersal rule fires.
const DispersalThreshold = 40000

// BuiltinRules returns the static rules every engine starts with.
// The jurisdiction match is a case-sensitive, unanchored substring test.
func BuiltinRules() []RuleDefinition {
	return []RuleDefinition{
		{
			ID:          RuleFlaggedJurisdiction,
			Name:        "Flagged Jurisdiction",
			Description: "Transaction routed to or from a high-risk location.",
			Scope:       ScopeTransaction,
			Severity:    domain.SeverityHigh,
			Expression:  `tx.destination_origin.contains("High-Risk") || tx.destination_origin.contains("Country X")`,
			Message:     "Flagged location detected: {{.Tx.DestinationOrigin}} for £{{money .Tx.Amount}}",
		},
		{
			ID:          RuleRapidDispersal,
			Name:        "Rapid Dispersal",
			Description: "Outbound transfers sum to the structuring threshold or more.",
			Scope:       ScopeAlert,
			Severity:    domain.SeverityHigh,
			Expression:  fmt.Sprintf("outbound_total >= %d.0", DispersalThreshold),
			Message:     "Rapid dispersal of funds detected. Total outbound: £{{money .OutboundTotal}}",
		},
	}
}

// CustomRuleLabel is the metric label shared by every rule loaded at
// runtime, keeping label cardinality fixed.
const CustomRuleLabel = "custom"

func metricLabel(ruleID string) string {
	switch ruleID {
	case RuleFlaggedJurisdiction, RuleRapidDispersal:
		return ruleID
	}
	return CustomRuleLabel
}
