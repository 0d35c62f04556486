// Package scam is a synchronous, side-effect free heuristic that flags likely
// scam content before it reaches the model.
package scam

import (
	"math"
	"strings"
)

type Match struct {
	Type        RuleType `json:"type"`
	Description string   `json:"description"`
	Weight      float64  `json:"weight"`
	MatchedText string   `json:"matched"`
}

type Result struct {
	IsScam     bool    `json:"isScam"`
	Confidence float64 `json:"confidence"`
	Matches    []Match `json:"matches"`
}

type Filter struct {
	rules []Rule
}

func NewFilter(rules []Rule) *Filter {
	return &Filter{rules: rules}
}

// Default uses DefaultRules.
func Default() *Filter { return NewFilter(DefaultRules) }

// Classify scores text against every rule in order.
func (f *Filter) Classify(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	var (
		matches []Match
		total   float64
	)
	for _, r := range f.rules {
		m := r.Pattern.FindString(text)
		if m == "" {
			continue
		}
		matches = append(matches, Match{
			Type:        r.Type,
			Description: r.Description,
			Weight:      r.Weight,
			MatchedText: m,
		})
		total += r.Weight
	}

	confidence := math.Min(MaxConfidence, total/WeightDivisor)
	confidence = math.Round(confidence*100) / 100
	return Result{
		IsScam:     confidence > ScamThreshold,
		Confidence: confidence,
		Matches:    matches,
	}
}

// MainIssue is the highest-weight match; the earliest rule wins a tie.
func (r Result) MainIssue() (Match, bool) {
	if len(r.Matches) == 0 {
		return Match{}, false
	}
	best := r.Matches[0]
	for _, m := range r.Matches[1:] {
		if m.Weight > best.Weight {
			best = m
		}
	}
	return best, true
}

// ThreatLevel buckets confidence into low / medium / high.
func (r Result) ThreatLevel() string {
	switch {
	case r.Confidence >= HighThreatConfidence:
		return "high"
	case r.Confidence > ScamThreshold:
		return "medium"
	default:
		return "low"
	}
}

// Analysis renders one "description (type): matched" line per match.
func (r Result) Analysis() []string {
	lines := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		lines = append(lines, m.Description+" ("+string(m.Type)+"): "+m.MatchedText)
	}
	return lines
}
