package scam

import "regexp"

// RuleType names one family of scam indicator.
type RuleType string

const (
	FinancialScam         RuleType = "financial_scam"
	PaymentRequest        RuleType = "payment_request"
	UrgencyTactic         RuleType = "urgency_tactic"
	InformationHarvesting RuleType = "information_harvesting"
	CommonScamPhrase      RuleType = "common_scam_phrase"
)

// Tunables. Confidence is min(MaxConfidence, totalWeight/WeightDivisor) and a
// message is a scam when confidence is strictly above ScamThreshold.
const (
	WeightDivisor = 2.0
	MaxConfidence = 1.0
	ScamThreshold = 0.5

	HighThreatConfidence = 0.8
)

type Rule struct {
	Type        RuleType
	Description string
	Weight      float64
	Pattern     *regexp.Regexp
}

// DefaultRules is evaluated in order; order breaks ties between equal weights.
var DefaultRules = []Rule{
	{
		Type:        FinancialScam,
		Description: "Mentions winning money or prizes",
		Weight:      0.8,
		Pattern:     regexp.MustCompile(`(?i)(won|win|prize|lottery|reward).*\$?\d+([.,]\d{1,2})?`),
	},
	{
		Type:        PaymentRequest,
		Description: "Requests for payment or transfer of money",
		Weight:      0.7,
		Pattern:     regexp.MustCompile(`(?i)(pay|send|transfer|deposit|fee).*\$?\d+([.,]\d{1,2})?`),
	},
	{
		Type:        UrgencyTactic,
		Description: "Creates false urgency",
		Weight:      0.6,
		Pattern:     regexp.MustCompile(`(?i)(urgent|immediately|right away|asap|limited time|act now|today only|\bnow\b)`),
	},
	{
		Type:        InformationHarvesting,
		Description: "Requests for sensitive personal information",
		Weight:      0.9,
		Pattern:     regexp.MustCompile(`(?i)(password|ssn|social security|credit card|bank account|personal info)`),
	},
	{
		Type:        CommonScamPhrase,
		Description: "Contains known scam phrases",
		Weight:      0.85,
		Pattern:     regexp.MustCompile(`(?i)(nigerian prince|inheritance|unclaimed money|tax refund|free gift|account suspended)`),
	},
}
