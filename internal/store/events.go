package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hearthhq/hearth/internal/domain"
)

const eventColumns = `id, external_id, calendar_source_id, child_id, title,
	start_time, end_time, assigned_home_id, classification, created_at, updated_at`

// UpsertEvent inserts the event or, when (calendar_source_id, external_id)
// already exists, refreshes its content fields. Classification fields are
// never touched here; relabeling owns them. Returns true when a new row was
// created.
func (d queries) UpsertEvent(ctx context.Context, ev *domain.CalendarEvent) (bool, error) {
	var existingID int64
	err := sqlx.GetContext(ctx, d.q, &existingID,
		`SELECT id FROM events WHERE calendar_source_id = ? AND external_id = ?`,
		ev.CalendarSourceID, ev.ExternalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		res, err := d.q.ExecContext(ctx,
			`INSERT INTO events (external_id, calendar_source_id, child_id, title,
				start_time, end_time, classification, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ExternalID, ev.CalendarSourceID, ev.ChildID, ev.Title,
			ev.StartTime, ev.EndTime, domain.ClassificationUnclassified, now, now)
		if err != nil {
			return false, fmt.Errorf("insert event: %w", err)
		}
		ev.ID, _ = res.LastInsertId()
		ev.Classification = domain.ClassificationUnclassified
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup event: %w", err)
	default:
		_, err := d.q.ExecContext(ctx,
			`UPDATE events SET title = ?, start_time = ?, end_time = ?, updated_at = ?
			 WHERE id = ?`,
			ev.Title, ev.StartTime, ev.EndTime, time.Now().UTC(), existingID)
		if err != nil {
			return false, fmt.Errorf("update event: %w", err)
		}
		ev.ID = existingID
		return false, nil
	}
}

func (d queries) EventsBySource(ctx context.Context, sourceID string) ([]domain.CalendarEvent, error) {
	var out []domain.CalendarEvent
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+eventColumns+` FROM events WHERE calendar_source_id = ? ORDER BY start_time, id`,
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("events by source: %w", err)
	}
	return out, nil
}

func (d queries) EventsByChild(ctx context.Context, childID string) ([]domain.CalendarEvent, error) {
	var out []domain.CalendarEvent
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+eventColumns+` FROM events WHERE child_id = ? ORDER BY start_time, id`,
		childID)
	if err != nil {
		return nil, fmt.Errorf("events by child: %w", err)
	}
	return out, nil
}

func (d queries) AllEvents(ctx context.Context) ([]domain.CalendarEvent, error) {
	var out []domain.CalendarEvent
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT `+eventColumns+` FROM events ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("all events: %w", err)
	}
	return out, nil
}

// SetClassification writes the classification cache for one event and
// reports whether the stored value actually changed. A no-op write returns
// false so relabel passes can count real transitions.
func (d queries) SetClassification(ctx context.Context, eventID int64, c domain.Classification, homeID *string) (bool, error) {
	res, err := d.q.ExecContext(ctx,
		`UPDATE events SET classification = ?, assigned_home_id = ?, updated_at = ?
		 WHERE id = ?
		   AND (classification != ? OR IFNULL(assigned_home_id, '') != IFNULL(?, ''))`,
		c, homeID, time.Now().UTC(), eventID, c, homeID)
	if err != nil {
		return false, fmt.Errorf("set classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set classification: %w", err)
	}
	return n > 0, nil
}
