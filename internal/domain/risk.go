package domain

// RiskDecision is the outcome of an admission check for a new position.
type RiskDecision struct {
	OK     bool
	Reason string
}
