// Package retention decides how long datasets live and enforces the
// decision: rule matching at ingestion time, expiry sweeps afterwards.
package retention

import (
	"context"
	"encoding/json"
	"fmt"

	"envds.org/internal/docstore"
)

// Retention bounds from the compliance policy.
const (
	MinDaysToRetain = 1
	MaxDaysToRetain = 3650
)

// Action is what happens to a dataset when it expires.
type Action string

const (
	ActionArchive Action = "ARCHIVE"
	ActionDelete  Action = "DELETE"
)

// ParseAction validates a raw action string.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionArchive, ActionDelete:
		return Action(s), true
	}
	return "", false
}

// Scope is a tagged wildcard: either a specific classification value or
// "match anything". Representing the wildcard as a tag instead of a
// sentinel string keeps the match logic exhaustive; the sentinel "any"
// survives only in the stored JSON form.
type Scope struct {
	any   bool
	value string
}

// AnyScope matches every value.
func AnyScope() Scope { return Scope{any: true} }

// Exactly matches only the given value.
func Exactly(v string) Scope { return Scope{value: v} }

// IsAny reports whether the scope is the wildcard.
func (s Scope) IsAny() bool { return s.any }

// Value returns the specific value, empty for the wildcard.
func (s Scope) Value() string {
	if s.any {
		return ""
	}
	return s.value
}

// Matches reports whether the scope covers v.
func (s Scope) Matches(v string) bool {
	return s.any || s.value == v
}

func (s Scope) String() string {
	if s.any {
		return "any"
	}
	return s.value
}

// MarshalJSON stores the wildcard as the literal "any".
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the stored form back into a tagged value.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "any" {
		*s = AnyScope()
		return nil
	}
	if raw == "" {
		return fmt.Errorf("retention: empty scope value")
	}
	*s = Exactly(raw)
	return nil
}

// Rule is one admin-defined retention policy. Rules are independent:
// several may cover the same dataset, resolved by PickBestRule.
type Rule struct {
	ID           string `json:"id"`
	DataType     Scope  `json:"dataType"`
	Sensitivity  Scope  `json:"sensitivityLevel"`
	DaysToRetain int    `json:"daysToRetain"`
	Action       Action `json:"action"`
	CreatedAtMs  int64  `json:"createdAtMs"`
}

// Validate checks structural constraints. Membership of scope values in
// the dataset classification domains is the caller's concern.
func (r Rule) Validate() error {
	if r.DaysToRetain < MinDaysToRetain || r.DaysToRetain > MaxDaysToRetain {
		return fmt.Errorf("retention: daysToRetain must be in [%d,%d]", MinDaysToRetain, MaxDaysToRetain)
	}
	if _, ok := ParseAction(string(r.Action)); !ok {
		return fmt.Errorf("retention: invalid action %q", r.Action)
	}
	return nil
}

// Eligible reports whether the rule applies to the classification.
func (r Rule) Eligible(dataType, sensitivity string) bool {
	return r.DataType.Matches(dataType) && r.Sensitivity.Matches(sensitivity)
}

// score is the specificity of an eligible rule: one point per exact
// (non-wildcard) scope match, so both-specific=2, one-specific=1,
// all-wildcard=0.
func (r Rule) score(dataType, sensitivity string) int {
	score := 0
	if !r.DataType.IsAny() && r.DataType.Value() == dataType {
		score++
	}
	if !r.Sensitivity.IsAny() && r.Sensitivity.Value() == sensitivity {
		score++
	}
	return score
}

// PickBestRule returns the most specific eligible rule. Ties break to
// the first-seen rule (strict > comparison over a single pass), which
// keeps the result deterministic for a given rule ordering.
func PickBestRule(rules []Rule, dataType, sensitivity string) (Rule, bool) {
	var (
		best      Rule
		bestScore = -1
	)
	for _, r := range rules {
		if !r.Eligible(dataType, sensitivity) {
			continue
		}
		if s := r.score(dataType, sensitivity); s > bestScore {
			best = r
			bestScore = s
		}
	}
	return best, bestScore >= 0
}

// LoadRules reads the stored rules, oldest first so that first-seen
// tie-breaking does not shift when unrelated rules are edited.
func LoadRules(ctx context.Context, col docstore.Collection, limit int) ([]Rule, error) {
	docs, err := col.Query(ctx, docstore.Query{
		OrderBy: "createdAtMs",
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("retention: load rules: %w", err)
	}
	rules := make([]Rule, 0, len(docs))
	for _, doc := range docs {
		var r Rule
		if err := docstore.ToStruct(doc, &r); err != nil {
			return nil, fmt.Errorf("retention: decode rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
