package models

// RiskPoint is one sample of the risk timeline.
type RiskPoint struct {
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"risk_score"`
}

// RiskLevel tags a producer line for presentation.
type RiskLevel string

const (
	RiskNone   RiskLevel = ""
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Category is a classification bucket for high-risk activity.
type Category string

const (
	CategoryNone  Category = ""
	CategoryHTTP  Category = "http"
	CategoryEmail Category = "email"
)

// ActivityRecord is a flagged activity filed under a category.
type ActivityRecord struct {
	Activity string  `json:"activity"`
	Risk     float64 `json:"risk"`
}
