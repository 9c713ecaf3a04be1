package mapping

import (
	"sort"

	"github.com/hearthhq/hearth/internal/domain"
)

// GroupCandidates produces the candidate groups a human still has to decide
// about: unclassified events with no matching rule of either type and no
// ignore entry. An event_id rule excludes only its own event; a title_exact
// rule or ignore entry keeps the whole (title, source) key out. Pure
// compute, no side effects.
//
// Output order is deterministic for a stepwise wizard: by first-occurrence
// start time, then title.
func GroupCandidates(events []domain.CalendarEvent, rules []domain.MappingRule, ignores []domain.IgnoreEntry) []domain.CandidateGroup {
	type key struct {
		title, sourceID string
	}
	groups := make(map[key]*domain.CandidateGroup)

	for _, ev := range events {
		if ev.Classification != domain.ClassificationUnclassified {
			continue
		}
		if decided(ev, rules, ignores) {
			continue
		}
		k := key{title: ev.Title, sourceID: ev.CalendarSourceID}
		g, ok := groups[k]
		if !ok {
			g = &domain.CandidateGroup{
				Title:            ev.Title,
				CalendarSourceID: ev.CalendarSourceID,
				ChildID:          ev.ChildID,
				FirstStart:       ev.StartTime,
			}
			groups[k] = g
		}
		if ev.StartTime.Before(g.FirstStart) {
			g.FirstStart = ev.StartTime
		}
		g.Events = append(g.Events, ev)
	}

	out := make([]domain.CandidateGroup, 0, len(groups))
	for _, g := range groups {
		g.Occurrences = len(g.Events)
		// One occurrence: the title may be coincidental, target the event.
		// Several: the title is a reliable recurring signal.
		if g.Occurrences > 1 {
			g.SuggestedMatchType = domain.MatchTitleExact
		} else {
			g.SuggestedMatchType = domain.MatchEventID
		}
		sort.Slice(g.Events, func(i, j int) bool {
			if g.Events[i].StartTime.Equal(g.Events[j].StartTime) {
				return g.Events[i].ID < g.Events[j].ID
			}
			return g.Events[i].StartTime.Before(g.Events[j].StartTime)
		})
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstStart.Equal(out[j].FirstStart) {
			return out[i].Title < out[j].Title
		}
		return out[i].FirstStart.Before(out[j].FirstStart)
	})
	return out
}

// decided reports whether a rule or ignore entry already covers the event,
// keeping it out of candidate grouping even when it is still unclassified
// (e.g. a rule staged for confirmation).
func decided(ev domain.CalendarEvent, rules []domain.MappingRule, ignores []domain.IgnoreEntry) bool {
	for _, r := range rules {
		if r.Matches(ev) {
			return true
		}
	}
	for _, ig := range ignores {
		if ig.Matches(ev) {
			return true
		}
	}
	return false
}
