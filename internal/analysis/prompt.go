package analysis

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
)

// PromptBuilder turns an alert and its rule findings into a JSON-mode
// model request.
type PromptBuilder interface {
	Build(alert *domain.Alert, findings []domain.Finding) llm.Request
}

// RiskPrompt is the default PromptBuilder for the multi-pillar analysis.
type RiskPrompt struct{}

const riskSystem = `You are an expert AML and financial crime compliance analyst.
Your analysis must be strictly unbiased, fact-based, and non-discriminatory.
Limit your output to on-topic financial crime typologies and never include
data that is not present in the input.`

const riskSchema = `{
  "narrative": {
    "background": "1 sentence background on the customer or entity.",
    "timeline": "Brief timeline of the flagged transactions, citing the amounts and dates provided.",
    "indicators": "The red flags across Sanctions, ABC, AML, and ATEF that triggered this alert.",
    "conclusion": "1 sentence conclusion in an objective compliance tone."
  },
  "risk_breakdown": [
    { "factor": "Generated factor, e.g. Sanctions List Match", "contribution_percentage": 40 },
    { "factor": "Generated factor, e.g. PEP Connection", "contribution_percentage": 25 },
    { "factor": "Generated factor, e.g. High-Risk Jurisdiction", "contribution_percentage": 20 },
    { "factor": "Generated factor, e.g. Offshore Tax Routing", "contribution_percentage": 15 }
  ],
  "recommendation": {
    "action": "Generated action, e.g. Escalate to L2",
    "reasoning": "Why this action is recommended given the data."
  },
  "findings": [
    {
      "rule": "Triggered rule, e.g. Sanctions Match, ABC Flag, AML Flag, ATEF Flag",
      "detail": "The transaction detail that caused this flag",
      "policy": "The relevant financial crime policy standard",
      "policy_snippet": "A 1-2 sentence excerpt explaining the policy."
    }
  ]
}`

// Build renders the analysis prompt.
func (RiskPrompt) Build(alert *domain.Alert, findings []domain.Finding) llm.Request {
	var b strings.Builder

	b.WriteString("INPUT DATA:\n")
	fmt.Fprintf(&b, "Customer Name: %s\n", alert.CustomerName)
	fmt.Fprintf(&b, "Alert ID: %s\n", alert.AlertID)
	fmt.Fprintf(&b, "Risk Rating: %s\n", alert.RiskRating)
	fmt.Fprintf(&b, "Trigger Event: %s\n", alert.TriggerEvent)

	b.WriteString("Transactions:\n")
	if len(alert.Transactions) == 0 {
		b.WriteString("(none)\n")
	}
	for i, tx := range alert.Transactions {
		fmt.Fprintf(&b, "%d. date=%s type=%s amount=%s destination_origin=%s\n",
			i+1, tx.Date, tx.Type, domain.FormatMoney(tx.Amount), tx.DestinationOrigin)
	}

	b.WriteString("\nRule Engine Findings:\n")
	if len(findings) == 0 {
		b.WriteString("(none)\n")
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Message)
	}

	b.WriteString("\nINSTRUCTIONS:\n")
	b.WriteString("Calculate a realistic risk breakdown based on the severity of the trigger and the actual transaction amounts. ")
	b.WriteString("Split the risk contribution into percentages across the four pillars (Sanctions, PEP/ABC, AML, ATEF). ")
	b.WriteString("Assign more weight to very large amounts, offshore routing, and the rule engine findings above.\n\n")
	b.WriteString("Return ONLY a valid JSON object with exactly this structure:\n")
	b.WriteString(riskSchema)
	b.WriteString("\n")

	return llm.Request{
		System: riskSystem,
		Prompt: b.String(),
		JSON:   true,
	}
}
