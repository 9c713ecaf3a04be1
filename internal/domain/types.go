package domain

import "time"

// Classification tells how an imported event is currently labeled.
// It is a cache of replaying the rule/ignore state against the event
// and can always be recomputed from scratch.
type Classification string

const (
	ClassificationUnclassified Classification = "unclassified"
	ClassificationHomeStay     Classification = "home_stay"
	ClassificationIgnored      Classification = "ignored"
)

// MatchType selects how a mapping rule identifies events.
type MatchType string

const (
	// MatchEventID targets one event by its provider identifier.
	MatchEventID MatchType = "event_id"
	// MatchTitleExact targets every event with an exactly equal title.
	MatchTitleExact MatchType = "title_exact"
)

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	return t == MatchEventID || t == MatchTitleExact
}

// CalendarEvent is one imported occurrence from an external calendar.
// ExternalID is unique within its calendar source and immutable.
type CalendarEvent struct {
	ID               int64          `json:"id" db:"id"`
	ExternalID       string         `json:"external_id" db:"external_id"`
	CalendarSourceID string         `json:"calendar_source_id" db:"calendar_source_id"`
	ChildID          string         `json:"child_id" db:"child_id"`
	Title            string         `json:"title" db:"title"`
	StartTime        time.Time      `json:"start_time" db:"start_time"`
	EndTime          time.Time      `json:"end_time" db:"end_time"`
	AssignedHomeID   *string        `json:"assigned_home_id,omitempty" db:"assigned_home_id"`
	Classification   Classification `json:"classification" db:"classification"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// MappingRule is a durable instruction translating matching events into a
// home assignment. Within one (child, source) scope at most one rule exists
// per (match_type, match_value); creating a duplicate replaces the target.
type MappingRule struct {
	ID               string    `json:"id" db:"id"`
	ChildID          string    `json:"child_id" db:"child_id"`
	CalendarSourceID string    `json:"calendar_source_id" db:"calendar_source_id"`
	MatchType        MatchType `json:"match_type" db:"match_type"`
	MatchValue       string    `json:"match_value" db:"match_value"`
	HomeID           string    `json:"home_id" db:"home_id"`
	AutoConfirm      bool      `json:"auto_confirm" db:"auto_confirm"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether the rule applies to the event. Matching is exact,
// case-sensitive and scoped to the rule's calendar source.
func (r MappingRule) Matches(ev CalendarEvent) bool {
	if r.CalendarSourceID != ev.CalendarSourceID {
		return false
	}
	switch r.MatchType {
	case MatchEventID:
		return ev.ExternalID == r.MatchValue
	case MatchTitleExact:
		return ev.Title == r.MatchValue
	default:
		return false
	}
}

// IgnoreEntry is a durable "never ask again" marker for a title within a
// calendar source. Semantically a rule whose action is "classify as ignored".
type IgnoreEntry struct {
	ID               string    `json:"id" db:"id"`
	ChildID          string    `json:"child_id" db:"child_id"`
	CalendarSourceID string    `json:"calendar_source_id" db:"calendar_source_id"`
	Title            string    `json:"title" db:"title"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Matches reports whether the entry covers the event.
func (e IgnoreEntry) Matches(ev CalendarEvent) bool {
	return e.CalendarSourceID == ev.CalendarSourceID && e.Title == ev.Title
}

// CandidateGroup is an ephemeral set of not-yet-classified events sharing a
// title and calendar source, presented together for a single human decision.
// Never persisted; recomputed from current state on every request.
type CandidateGroup struct {
	Title              string          `json:"title"`
	CalendarSourceID   string          `json:"calendar_source_id"`
	ChildID            string          `json:"child_id"`
	SuggestedMatchType MatchType       `json:"suggested_match_type"`
	Occurrences        int             `json:"occurrences"`
	FirstStart         time.Time       `json:"first_start"`
	Events             []CalendarEvent `json:"events"`
}

// Home is a physical home a child can stay at.
type Home struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Child is a member of the household whose stays are tracked.
type Child struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CalendarSource is one externally-configured calendar bound to exactly
// one child. URL may be empty when the feed lives in the credential vault.
type CalendarSource struct {
	ID        string    `json:"id" db:"id"`
	ChildID   string    `json:"child_id" db:"child_id"`
	Name      string    `json:"name" db:"name"`
	URL       string    `json:"url,omitempty" db:"url"`
	Color     string    `json:"color,omitempty" db:"color"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Calendar describes a calendar as reported by an external provider.
type Calendar struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

// RemoteEvent is an event as reported by an external provider, before it is
// attached to a calendar source and stored.
type RemoteEvent struct {
	ExternalID   string    `json:"external_id"`
	Title        string    `json:"title"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	RecurrenceID string    `json:"recurrence_id,omitempty"`
}
