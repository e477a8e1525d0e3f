package domain

import (
	"fmt"
	"strings"
)

// AmlDecision is a totally ordered compliance outcome: Allow < Flag < Review < Block.
type AmlDecision int

const (
	DecisionAllow AmlDecision = iota
	DecisionFlag
	DecisionReview
	DecisionBlock
)

var decisionNames = [...]string{"allow", "flag", "review", "block"}

func (d AmlDecision) String() string {
	if d < DecisionAllow || d > DecisionBlock {
		return fmt.Sprintf("decision(%d)", int(d))
	}
	return decisionNames[d]
}

// ParseAmlDecision parses a decision name.
func ParseAmlDecision(s string) (AmlDecision, error) {
	for i, name := range decisionNames {
		if strings.EqualFold(name, s) {
			return AmlDecision(i), nil
		}
	}
	return DecisionAllow, fmt.Errorf("unknown decision %q", s)
}

// MarshalText encodes the decision by name.
func (d AmlDecision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a decision name.
func (d *AmlDecision) UnmarshalText(text []byte) error {
	parsed, err := ParseAmlDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Max is the lattice join of two decisions.
func (d AmlDecision) Max(other AmlDecision) AmlDecision {
	if other > d {
		return other
	}
	return d
}

// AggregateDecisions joins any number of decisions. The empty join is Allow.
func AggregateDecisions(decisions ...AmlDecision) AmlDecision {
	result := DecisionAllow
	for _, d := range decisions {
		result = result.Max(d)
	}
	return result
}

// RuleResult is the outcome of one compliance rule.
type RuleResult struct {
	Rule     string      `json:"rule"`
	Decision AmlDecision `json:"decision"`
	Reason   string      `json:"reason,omitempty"`
}

// ComplianceResult aggregates every rule that fired for a transaction.
type ComplianceResult struct {
	Decision AmlDecision  `json:"decision"`
	Rules    []RuleResult `json:"rules,omitempty"`
}

// Add records a rule outcome and joins it into the overall decision.
func (r *ComplianceResult) Add(rule string, decision AmlDecision, reason string) {
	r.Rules = append(r.Rules, RuleResult{Rule: rule, Decision: decision, Reason: reason})
	r.Decision = r.Decision.Max(decision)
}

// RuleNames lists the fired rules in order.
func (r *ComplianceResult) RuleNames() []string {
	names := make([]string, len(r.Rules))
	for i, rr := range r.Rules {
		names[i] = rr.Rule
	}
	return names
}
