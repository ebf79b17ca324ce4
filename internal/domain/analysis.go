package domain

import "time"

// AIAnalysis is the model-produced risk report. It is untrusted: the
// shape is requested in the prompt and only parse failure is guarded.
type AIAnalysis struct {
	Narrative      Narrative      `json:"narrative"`
	RiskBreakdown  []RiskFactor   `json:"risk_breakdown"`
	Recommendation Recommendation `json:"recommendation"`
	Findings       []PolicyFlag   `json:"findings"`
}

// Narrative holds the four narrative sections.
type Narrative struct {
	Background string `json:"background"`
	Timeline   string `json:"timeline"`
	Indicators string `json:"indicators"`
	Conclusion string `json:"conclusion"`
}

// RiskFactor is one slice of the risk contribution breakdown.
type RiskFactor struct {
	Factor                 string  `json:"factor"`
	ContributionPercentage float64 `json:"contribution_percentage"`
}

// Recommendation is the suggested next action.
type Recommendation struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// PolicyFlag is a model-reported rule hit with its policy citation.
type PolicyFlag struct {
	Rule          string `json:"rule"`
	Detail        string `json:"detail"`
	Policy        string `json:"policy"`
	PolicySnippet string `json:"policy_snippet"`
}

// Fallback values used when the model cannot be reached or parsed.
const (
	FallbackField     = "Error"
	FallbackReasoning = "Could not connect to AI."
)

// FallbackAnalysis returns the error-shaped analysis. Every key is present
// so consumers need no separate error path.
func FallbackAnalysis() AIAnalysis {
	return AIAnalysis{
		Narrative: Narrative{
			Background: FallbackField,
			Timeline:   FallbackField,
			Indicators: FallbackField,
			Conclusion: FallbackField,
		},
		RiskBreakdown: []RiskFactor{},
		Recommendation: Recommendation{
			Action:    FallbackField,
			Reasoning: FallbackReasoning,
		},
		Findings: []PolicyFlag{},
	}
}

// AnalysisStatus reports whether the model produced the analysis.
type AnalysisStatus string

const (
	AnalysisOK    AnalysisStatus = "ok"
	AnalysisError AnalysisStatus = "error"
)

// Report is the assembled result of one processed alert.
type Report struct {
	ID             string         `json:"id"`
	AlertID        string         `json:"alert_id"`
	CustomerName   string         `json:"customer_name"`
	Status         ReportStatus   `json:"status"`
	Findings       []Finding      `json:"findings"`
	AIAnalysis     AIAnalysis     `json:"ai_analysis"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	AnalysisError  string         `json:"analysis_error,omitempty"`
	AuditLogs      []AuditEvent   `json:"audit_logs"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ReportStatus tracks a report through async processing.
type ReportStatus string

const (
	ReportQueued    ReportStatus = "queued"
	ReportCompleted ReportStatus = "completed"
	ReportFailed    ReportStatus = "failed"
)

// NarrativeReport is the free-text SAR rendition of one alert.
type NarrativeReport struct {
	AlertID   string         `json:"alert_id"`
	Narrative string         `json:"narrative"`
	Status    AnalysisStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Findings  []Finding      `json:"findings"`
	AuditLogs []AuditEvent   `json:"audit_logs"`
}
