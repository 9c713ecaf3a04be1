package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/store"
)

// Engine orchestrates rule creation, ignore decisions and the retroactive
// relabel passes that keep event classifications in sync with the rule
// store. It holds no state of its own between calls.
type Engine struct {
	store *store.Store
	log   *slog.Logger
	now   func() time.Time
}

func New(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, log: logger, now: time.Now}
}

// CreateRuleInput carries one human decision from the wizard.
type CreateRuleInput struct {
	ChildID          string           `json:"child_id"`
	CalendarSourceID string           `json:"calendar_source_id"`
	MatchType        domain.MatchType `json:"match_type"`
	MatchValue       string           `json:"match_value"`
	HomeID           string           `json:"home_id"`
	AutoConfirm      bool             `json:"auto_confirm"`
}

// RuleResult reports the persisted rule and how many events actually
// changed classification, not how many matched.
type RuleResult struct {
	Rule          domain.MappingRule `json:"rule"`
	EventsUpdated int                `json:"events_updated"`
}

// IgnoreResult reports the persisted entry and how many events flipped to
// ignored.
type IgnoreResult struct {
	Entry   domain.IgnoreEntry `json:"entry"`
	Ignored int                `json:"ignored"`
}

// PendingEvent is an event matched by a rule that still awaits human
// confirmation.
type PendingEvent struct {
	Event domain.CalendarEvent `json:"event"`
	Rule  domain.MappingRule   `json:"rule"`
}

// CreateMappingRule validates the decision, upserts the rule (replacing any
// prior rule with the same scope key) and relabels every event of the
// calendar source, past and future, inside one transaction. Calling it
// twice with identical arguments leaves the same end state and reports
// EventsUpdated == 0 the second time.
func (e *Engine) CreateMappingRule(ctx context.Context, in CreateRuleInput) (RuleResult, error) {
	if err := validateRuleInput(in); err != nil {
		return RuleResult{}, err
	}
	var out RuleResult
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := e.checkScope(ctx, tx, in.ChildID, in.CalendarSourceID); err != nil {
			return err
		}
		home, err := tx.HomeByID(ctx, in.HomeID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ValidationError{Field: "home_id", Reason: "unknown home"}
			}
			return err
		}
		if !home.Active {
			return domain.ValidationError{Field: "home_id", Reason: "home is not active"}
		}
		rule, err := tx.UpsertRule(ctx, domain.MappingRule{
			ChildID:          in.ChildID,
			CalendarSourceID: in.CalendarSourceID,
			MatchType:        in.MatchType,
			MatchValue:       in.MatchValue,
			HomeID:           in.HomeID,
			AutoConfirm:      in.AutoConfirm,
			CreatedAt:        e.now().UTC(),
		})
		if err != nil {
			return err
		}
		updated, err := e.relabelSource(ctx, tx, in.CalendarSourceID)
		if err != nil {
			return err
		}
		out = RuleResult{Rule: rule, EventsUpdated: updated}
		return nil
	})
	if err != nil {
		return RuleResult{}, err
	}
	e.log.Info("mapping rule applied",
		"rule_id", out.Rule.ID,
		"match_type", out.Rule.MatchType,
		"calendar_source_id", out.Rule.CalendarSourceID,
		"events_updated", out.EventsUpdated)
	return out, nil
}

// ConfirmMappingRule marks a staged rule as confirmed and relabels its
// calendar source so the held-back events pick up their home assignment.
func (e *Engine) ConfirmMappingRule(ctx context.Context, ruleID string) (RuleResult, error) {
	if strings.TrimSpace(ruleID) == "" {
		return RuleResult{}, domain.ValidationError{Field: "rule_id", Reason: "required"}
	}
	var out RuleResult
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		rule, err := tx.RuleByID(ctx, ruleID)
		if err != nil {
			return err
		}
		if !rule.AutoConfirm {
			if err := tx.SetRuleAutoConfirm(ctx, ruleID, true); err != nil {
				return err
			}
			rule.AutoConfirm = true
		}
		updated, err := e.relabelSource(ctx, tx, rule.CalendarSourceID)
		if err != nil {
			return err
		}
		out = RuleResult{Rule: rule, EventsUpdated: updated}
		return nil
	})
	if err != nil {
		return RuleResult{}, err
	}
	e.log.Info("mapping rule confirmed", "rule_id", ruleID, "events_updated", out.EventsUpdated)
	return out, nil
}

// IgnoreCandidatesByTitle records a "never ask again" marker and flips the
// currently-unclassified events with that title to ignored. Events already
// classified by a rule are untouched.
func (e *Engine) IgnoreCandidatesByTitle(ctx context.Context, title, sourceID, childID string) (IgnoreResult, error) {
	if strings.TrimSpace(title) == "" {
		return IgnoreResult{}, domain.ValidationError{Field: "title", Reason: "required"}
	}
	var out IgnoreResult
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		if err := e.checkScope(ctx, tx, childID, sourceID); err != nil {
			return err
		}
		entry, err := tx.InsertIgnore(ctx, domain.IgnoreEntry{
			ChildID:          childID,
			CalendarSourceID: sourceID,
			Title:            title,
			CreatedAt:        e.now().UTC(),
		})
		if err != nil {
			return err
		}
		updated, err := e.relabelSource(ctx, tx, sourceID)
		if err != nil {
			return err
		}
		out = IgnoreResult{Entry: entry, Ignored: updated}
		return nil
	})
	if err != nil {
		return IgnoreResult{}, err
	}
	e.log.Info("candidate group ignored",
		"title", title, "calendar_source_id", sourceID, "ignored", out.Ignored)
	return out, nil
}

// HomeStayCandidates lists the groups a human still has to decide about,
// scoped to one child when childID is non-empty.
func (e *Engine) HomeStayCandidates(ctx context.Context, childID string) ([]domain.CandidateGroup, error) {
	events, rules, ignores, err := e.loadScope(ctx, childID)
	if err != nil {
		return nil, err
	}
	return GroupCandidates(events, rules, ignores), nil
}

// PendingConfirmations lists events matched by a rule that is still staged
// for confirmation.
func (e *Engine) PendingConfirmations(ctx context.Context, childID string) ([]PendingEvent, error) {
	events, rules, ignores, err := e.loadScope(ctx, childID)
	if err != nil {
		return nil, err
	}
	var out []PendingEvent
	for _, ev := range events {
		d := Classify(ev, rules, ignores)
		if d.Pending {
			out = append(out, PendingEvent{Event: ev, Rule: *d.Rule})
		}
	}
	return out, nil
}

// RecomputeSource replays the full rule/ignore state against every event of
// one calendar source and returns the number of events whose stored
// classification changed. The stored labels are a cache; this is the
// from-scratch rebuild.
func (e *Engine) RecomputeSource(ctx context.Context, sourceID string) (int, error) {
	var updated int
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.SourceByID(ctx, sourceID); err != nil {
			return err
		}
		var err error
		updated, err = e.relabelSource(ctx, tx, sourceID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (e *Engine) relabelSource(ctx context.Context, tx *store.Tx, sourceID string) (int, error) {
	events, err := tx.EventsBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	rules, err := tx.RulesBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	ignores, err := tx.IgnoresBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, ev := range events {
		d := Classify(ev, rules, ignores)
		if d.Ambiguous {
			e.log.Warn("equal-specificity rules matched one event; last created wins",
				"event_external_id", ev.ExternalID,
				"calendar_source_id", sourceID,
				"rule_id", d.Rule.ID)
		}
		changed, err := tx.SetClassification(ctx, ev.ID, d.Classification, d.HomeID)
		if err != nil {
			return 0, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (e *Engine) checkScope(ctx context.Context, tx *store.Tx, childID, sourceID string) error {
	if strings.TrimSpace(childID) == "" {
		return domain.ValidationError{Field: "child_id", Reason: "required"}
	}
	if strings.TrimSpace(sourceID) == "" {
		return domain.ValidationError{Field: "calendar_source_id", Reason: "required"}
	}
	source, err := tx.SourceByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ValidationError{Field: "calendar_source_id", Reason: "unknown calendar source"}
		}
		return err
	}
	if source.ChildID != childID {
		return domain.ValidationError{
			Field:  "child_id",
			Reason: fmt.Sprintf("calendar source %s is bound to another child", sourceID),
		}
	}
	return nil
}

func (e *Engine) loadScope(ctx context.Context, childID string) ([]domain.CalendarEvent, []domain.MappingRule, []domain.IgnoreEntry, error) {
	if childID == "" {
		events, err := e.store.AllEvents(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		rules, err := e.store.AllRules(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		ignores, err := e.store.AllIgnores(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		return events, rules, ignores, nil
	}
	if _, err := e.store.ChildByID(ctx, childID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil, domain.ValidationError{Field: "child_id", Reason: "unknown child"}
		}
		return nil, nil, nil, err
	}
	events, err := e.store.EventsByChild(ctx, childID)
	if err != nil {
		return nil, nil, nil, err
	}
	rules, err := e.store.RulesByChild(ctx, childID)
	if err != nil {
		return nil, nil, nil, err
	}
	ignores, err := e.store.IgnoresByChild(ctx, childID)
	if err != nil {
		return nil, nil, nil, err
	}
	return events, rules, ignores, nil
}

func validateRuleInput(in CreateRuleInput) error {
	if !in.MatchType.Valid() {
		return domain.ValidationError{Field: "match_type", Reason: fmt.Sprintf("unknown match type %q", in.MatchType)}
	}
	if strings.TrimSpace(in.MatchValue) == "" {
		return domain.ValidationError{Field: "match_value", Reason: "required"}
	}
	if strings.TrimSpace(in.HomeID) == "" {
		return domain.ValidationError{Field: "home_id", Reason: "required"}
	}
	return nil
}
