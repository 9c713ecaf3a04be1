// Package mapping implements the home-stay mapping engine: replaying
// durable rules and ignore entries against imported calendar events,
// grouping undecided events into candidates for a human, and applying new
// decisions retroactively.
package mapping

import (
	"github.com/hearthhq/hearth/internal/domain"
)

// Decision is the outcome of replaying the current rule/ignore state
// against one event. An event's stored classification is exactly the
// materialization of this function; nothing else may write it.
type Decision struct {
	Classification domain.Classification
	HomeID         *string
	// Rule is the winning rule, if any (including a non-auto-confirm rule
	// that leaves the event unclassified pending confirmation).
	Rule *domain.MappingRule
	// Pending is set when a rule matched but awaits human confirmation.
	Pending bool
	// Ambiguous is set when two rules of equal specificity matched and the
	// tie was broken by creation time. Callers should log it.
	Ambiguous bool
}

// Classify replays rules and ignores against ev. Precedence: an event_id
// rule beats a title_exact rule; among equals the latest created wins (the
// decision is marked ambiguous). Ignore entries apply only when no rule
// matches.
func Classify(ev domain.CalendarEvent, rules []domain.MappingRule, ignores []domain.IgnoreEntry) Decision {
	winner, ambiguous := winningRule(ev, rules)
	if winner != nil {
		if !winner.AutoConfirm {
			return Decision{
				Classification: domain.ClassificationUnclassified,
				Rule:           winner,
				Pending:        true,
				Ambiguous:      ambiguous,
			}
		}
		homeID := winner.HomeID
		return Decision{
			Classification: domain.ClassificationHomeStay,
			HomeID:         &homeID,
			Rule:           winner,
			Ambiguous:      ambiguous,
		}
	}
	for _, ig := range ignores {
		if ig.Matches(ev) {
			return Decision{Classification: domain.ClassificationIgnored}
		}
	}
	return Decision{Classification: domain.ClassificationUnclassified}
}

func winningRule(ev domain.CalendarEvent, rules []domain.MappingRule) (*domain.MappingRule, bool) {
	var winner *domain.MappingRule
	ambiguous := false
	for i := range rules {
		r := &rules[i]
		if !r.Matches(ev) {
			continue
		}
		if winner == nil {
			winner = r
			continue
		}
		switch {
		case specificity(r.MatchType) > specificity(winner.MatchType):
			winner = r
			ambiguous = false
		case specificity(r.MatchType) == specificity(winner.MatchType):
			// Equal specificity should not happen under the per-scope
			// uniqueness invariant; surface it, last created wins.
			ambiguous = true
			if r.CreatedAt.After(winner.CreatedAt) {
				winner = r
			}
		}
	}
	return winner, ambiguous
}

func specificity(t domain.MatchType) int {
	if t == domain.MatchEventID {
		return 2
	}
	return 1
}
