package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hearthhq/hearth/internal/domain"
)

const ruleColumns = `id, child_id, calendar_source_id, match_type, match_value,
	home_id, auto_confirm, created_at`

// UpsertRule creates the rule or, when one already exists for the same
// (child, source, match_type, match_value) scope key, replaces its target
// home and auto-confirm flag. The replacement keeps the original row id but
// takes the new created_at, since it represents a fresh decision. The
// persisted rule is returned.
func (d queries) UpsertRule(ctx context.Context, rule domain.MappingRule) (domain.MappingRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO mapping_rules (id, child_id, calendar_source_id, match_type,
			match_value, home_id, auto_confirm, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (child_id, calendar_source_id, match_type, match_value)
		 DO UPDATE SET home_id = excluded.home_id,
		               auto_confirm = excluded.auto_confirm,
		               created_at = excluded.created_at`,
		rule.ID, rule.ChildID, rule.CalendarSourceID, rule.MatchType,
		rule.MatchValue, rule.HomeID, rule.AutoConfirm, rule.CreatedAt)
	if err != nil {
		return domain.MappingRule{}, fmt.Errorf("upsert rule: %w", err)
	}
	var out domain.MappingRule
	err = sqlx.GetContext(ctx, d.q, &out,
		`SELECT `+ruleColumns+` FROM mapping_rules
		 WHERE child_id = ? AND calendar_source_id = ? AND match_type = ? AND match_value = ?`,
		rule.ChildID, rule.CalendarSourceID, rule.MatchType, rule.MatchValue)
	if err != nil {
		return domain.MappingRule{}, fmt.Errorf("reload rule: %w", err)
	}
	return out, nil
}

func (d queries) RuleByID(ctx context.Context, id string) (domain.MappingRule, error) {
	var out domain.MappingRule
	err := sqlx.GetContext(ctx, d.q, &out,
		`SELECT `+ruleColumns+` FROM mapping_rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MappingRule{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MappingRule{}, fmt.Errorf("rule by id: %w", err)
	}
	return out, nil
}

func (d queries) SetRuleAutoConfirm(ctx context.Context, id string, autoConfirm bool) error {
	res, err := d.q.ExecContext(ctx,
		`UPDATE mapping_rules SET auto_confirm = ? WHERE id = ?`, autoConfirm, id)
	if err != nil {
		return fmt.Errorf("set auto confirm: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (d queries) RulesBySource(ctx context.Context, sourceID string) ([]domain.MappingRule, error) {
	var out []domain.MappingRule
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+ruleColumns+` FROM mapping_rules WHERE calendar_source_id = ? ORDER BY created_at, id`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("rules by source: %w", err)
	}
	return out, nil
}

func (d queries) AllRules(ctx context.Context) ([]domain.MappingRule, error) {
	var out []domain.MappingRule
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+ruleColumns+` FROM mapping_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("all rules: %w", err)
	}
	return out, nil
}

func (d queries) RulesByChild(ctx context.Context, childID string) ([]domain.MappingRule, error) {
	var out []domain.MappingRule
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+ruleColumns+` FROM mapping_rules WHERE child_id = ? ORDER BY created_at, id`,
		childID)
	if err != nil {
		return nil, fmt.Errorf("rules by child: %w", err)
	}
	return out, nil
}

// InsertIgnore records a "never ask again" marker. Inserting the same key
// twice is a no-op.
func (d queries) InsertIgnore(ctx context.Context, entry domain.IgnoreEntry) (domain.IgnoreEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO ignore_entries (id, child_id, calendar_source_id, title, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (child_id, calendar_source_id, title) DO NOTHING`,
		entry.ID, entry.ChildID, entry.CalendarSourceID, entry.Title, entry.CreatedAt)
	if err != nil {
		return domain.IgnoreEntry{}, fmt.Errorf("insert ignore: %w", err)
	}
	var out domain.IgnoreEntry
	err = sqlx.GetContext(ctx, d.q, &out,
		`SELECT id, child_id, calendar_source_id, title, created_at FROM ignore_entries
		 WHERE child_id = ? AND calendar_source_id = ? AND title = ?`,
		entry.ChildID, entry.CalendarSourceID, entry.Title)
	if err != nil {
		return domain.IgnoreEntry{}, fmt.Errorf("reload ignore: %w", err)
	}
	return out, nil
}

func (d queries) IgnoresBySource(ctx context.Context, sourceID string) ([]domain.IgnoreEntry, error) {
	var out []domain.IgnoreEntry
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, child_id, calendar_source_id, title, created_at FROM ignore_entries
		 WHERE calendar_source_id = ? ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ignores by source: %w", err)
	}
	return out, nil
}

func (d queries) AllIgnores(ctx context.Context) ([]domain.IgnoreEntry, error) {
	var out []domain.IgnoreEntry
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, child_id, calendar_source_id, title, created_at FROM ignore_entries
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("all ignores: %w", err)
	}
	return out, nil
}

func (d queries) IgnoresByChild(ctx context.Context, childID string) ([]domain.IgnoreEntry, error) {
	var out []domain.IgnoreEntry
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, child_id, calendar_source_id, title, created_at FROM ignore_entries
		 WHERE child_id = ? ORDER BY created_at, id`, childID)
	if err != nil {
		return nil, fmt.Errorf("ignores by child: %w", err)
	}
	return out, nil
}
