package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hearthhq/hearth/internal/domain"
)

// The registry tables (homes, children, calendar sources) are plain records
// the engine only reads for validation. Upserts are keyed by id so the seed
// file can be re-applied on every start.

func (d queries) UpsertHome(ctx context.Context, h domain.Home) (domain.Home, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO homes (id, name, active, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		h.ID, h.Name, h.Active, h.CreatedAt)
	if err != nil {
		return domain.Home{}, fmt.Errorf("upsert home: %w", err)
	}
	return d.HomeByID(ctx, h.ID)
}

func (d queries) HomeByID(ctx context.Context, id string) (domain.Home, error) {
	var out domain.Home
	err := sqlx.GetContext(ctx, d.q, &out,
		`SELECT id, name, active, created_at FROM homes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Home{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Home{}, fmt.Errorf("home by id: %w", err)
	}
	return out, nil
}

func (d queries) ListHomes(ctx context.Context) ([]domain.Home, error) {
	var out []domain.Home
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, name, active, created_at FROM homes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list homes: %w", err)
	}
	return out, nil
}

func (d queries) UpsertChild(ctx context.Context, c domain.Child) (domain.Child, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO children (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		c.ID, c.Name, c.CreatedAt)
	if err != nil {
		return domain.Child{}, fmt.Errorf("upsert child: %w", err)
	}
	return d.ChildByID(ctx, c.ID)
}

func (d queries) ChildByID(ctx context.Context, id string) (domain.Child, error) {
	var out domain.Child
	err := sqlx.GetContext(ctx, d.q, &out,
		`SELECT id, name, created_at FROM children WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Child{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Child{}, fmt.Errorf("child by id: %w", err)
	}
	return out, nil
}

func (d queries) ListChildren(ctx context.Context) ([]domain.Child, error) {
	var out []domain.Child
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, name, created_at FROM children ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return out, nil
}

func (d queries) UpsertSource(ctx context.Context, s domain.CalendarSource) (domain.CalendarSource, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.ChildID == "" {
		return domain.CalendarSource{}, domain.ValidationError{Field: "child_id", Reason: "required"}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if _, err := d.ChildByID(ctx, s.ChildID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.CalendarSource{}, domain.ValidationError{Field: "child_id", Reason: "unknown child"}
		}
		return domain.CalendarSource{}, err
	}
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO calendar_sources (id, child_id, name, url, color, is_primary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET child_id = excluded.child_id,
		       name = excluded.name, url = excluded.url,
		       color = excluded.color, is_primary = excluded.is_primary`,
		s.ID, s.ChildID, s.Name, s.URL, s.Color, s.IsPrimary, s.CreatedAt)
	if err != nil {
		return domain.CalendarSource{}, fmt.Errorf("upsert source: %w", err)
	}
	return d.SourceByID(ctx, s.ID)
}

func (d queries) SourceByID(ctx context.Context, id string) (domain.CalendarSource, error) {
	var out domain.CalendarSource
	err := sqlx.GetContext(ctx, d.q, &out,
		`SELECT id, child_id, name, url, color, is_primary, created_at
		 FROM calendar_sources WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CalendarSource{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CalendarSource{}, fmt.Errorf("source by id: %w", err)
	}
	return out, nil
}

func (d queries) ListSources(ctx context.Context) ([]domain.CalendarSource, error) {
	var out []domain.CalendarSource
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, child_id, name, url, color, is_primary, created_at
		 FROM calendar_sources ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

func (d queries) SourcesByChild(ctx context.Context, childID string) ([]domain.CalendarSource, error) {
	var out []domain.CalendarSource
	err := sqlx.SelectContext(ctx, d.q, &out,
		`SELECT id, child_id, name, url, color, is_primary, created_at
		 FROM calendar_sources WHERE child_id = ? ORDER BY name, id`, childID)
	if err != nil {
		return nil, fmt.Errorf("sources by child: %w", err)
	}
	return out, nil
}
