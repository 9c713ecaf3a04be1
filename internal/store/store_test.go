package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthhq/hearth/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRegistry(t *testing.T, s *Store) (domain.Child, domain.Home, domain.CalendarSource) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	child, err := s.UpsertChild(ctx, domain.Child{ID: "child-1", Name: "Nora", CreatedAt: now})
	if err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	home, err := s.UpsertHome(ctx, domain.Home{ID: "home-a", Name: "Mom's place", Active: true, CreatedAt: now})
	if err != nil {
		t.Fatalf("upsert home: %v", err)
	}
	source, err := s.UpsertSource(ctx, domain.CalendarSource{
		ID: "cal-1", ChildID: child.ID, Name: "Shared custody calendar", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	return child, home, source
}

func TestUpsertEventCreateThenUpdate(t *testing.T) {
	s := openTestStore(t)
	_, _, source := seedRegistry(t, s)
	ctx := context.Background()

	ev := domain.CalendarEvent{
		ExternalID:       "e1",
		CalendarSourceID: source.ID,
		ChildID:          source.ChildID,
		Title:            "Weekend at Mom's",
		StartTime:        time.Date(2025, 3, 7, 17, 0, 0, 0, time.UTC),
		EndTime:          time.Date(2025, 3, 9, 17, 0, 0, 0, time.UTC),
	}
	created, err := s.UpsertEvent(ctx, &ev)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created || ev.ID == 0 {
		t.Fatalf("expected created row with id, got created=%v id=%d", created, ev.ID)
	}

	ev.Title = "Weekend at Mom's (updated)"
	created, err = s.UpsertEvent(ctx, &ev)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected update, not create")
	}

	events, err := s.EventsBySource(ctx, source.ID)
	if err != nil {
		t.Fatalf("events by source: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Title != "Weekend at Mom's (updated)" {
		t.Fatalf("title not updated: %q", events[0].Title)
	}
	if events[0].Classification != domain.ClassificationUnclassified {
		t.Fatalf("upsert must not touch classification, got %q", events[0].Classification)
	}
}

func TestSetClassificationReportsChange(t *testing.T) {
	s := openTestStore(t)
	_, home, source := seedRegistry(t, s)
	ctx := context.Background()

	ev := domain.CalendarEvent{
		ExternalID: "e1", CalendarSourceID: source.ID, ChildID: source.ChildID,
		Title: "Dad's week", StartTime: time.Now().UTC(), EndTime: time.Now().UTC().Add(time.Hour),
	}
	if _, err := s.UpsertEvent(ctx, &ev); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	changed, err := s.SetClassification(ctx, ev.ID, domain.ClassificationHomeStay, &home.ID)
	if err != nil {
		t.Fatalf("set classification: %v", err)
	}
	if !changed {
		t.Fatal("expected first write to report a change")
	}
	changed, err = s.SetClassification(ctx, ev.ID, domain.ClassificationHomeStay, &home.ID)
	if err != nil {
		t.Fatalf("repeat set classification: %v", err)
	}
	if changed {
		t.Fatal("expected identical write to be a no-op")
	}
}

func TestUpsertRuleReplacesScopeKey(t *testing.T) {
	s := openTestStore(t)
	child, home, source := seedRegistry(t, s)
	ctx := context.Background()

	first, err := s.UpsertRule(ctx, domain.MappingRule{
		ChildID: child.ID, CalendarSourceID: source.ID,
		MatchType: domain.MatchTitleExact, MatchValue: "Dad's week",
		HomeID: home.ID, AutoConfirm: true, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	otherHome, err := s.UpsertHome(ctx, domain.Home{Name: "Dad's place", Active: true, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("upsert home: %v", err)
	}
	second, err := s.UpsertRule(ctx, domain.MappingRule{
		ChildID: child.ID, CalendarSourceID: source.ID,
		MatchType: domain.MatchTitleExact, MatchValue: "Dad's week",
		HomeID: otherHome.ID, AutoConfirm: true, CreatedAt: time.Now().UTC().Add(time.Second),
	})
	if err != nil {
		t.Fatalf("replace rule: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replacement must keep the row id: %q != %q", second.ID, first.ID)
	}
	if second.HomeID != otherHome.ID {
		t.Fatalf("replacement home = %q, want %q", second.HomeID, otherHome.ID)
	}

	rules, err := s.RulesBySource(ctx, source.ID)
	if err != nil {
		t.Fatalf("rules by source: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected single rule row, got %d", len(rules))
	}
}

func TestInsertIgnoreIdempotent(t *testing.T) {
	s := openTestStore(t)
	child, _, source := seedRegistry(t, s)
	ctx := context.Background()

	entry := domain.IgnoreEntry{
		ChildID: child.ID, CalendarSourceID: source.ID,
		Title: "School holiday", CreatedAt: time.Now().UTC(),
	}
	first, err := s.InsertIgnore(ctx, entry)
	if err != nil {
		t.Fatalf("insert ignore: %v", err)
	}
	second, err := s.InsertIgnore(ctx, entry)
	if err != nil {
		t.Fatalf("repeat insert ignore: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat insert must keep the original row: %q != %q", first.ID, second.ID)
	}
}

func TestRegistryLookups(t *testing.T) {
	s := openTestStore(t)
	child, home, source := seedRegistry(t, s)
	ctx := context.Background()

	if _, err := s.HomeByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.SourceByID(ctx, source.ID); err != nil {
		t.Fatalf("source by id: %v", err)
	}
	got, err := s.SourcesByChild(ctx, child.ID)
	if err != nil {
		t.Fatalf("sources by child: %v", err)
	}
	if len(got) != 1 || got[0].ID != source.ID {
		t.Fatalf("unexpected sources: %+v", got)
	}
	if _, err := s.UpsertSource(ctx, domain.CalendarSource{ChildID: "ghost", Name: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown child, got %v", err)
	}
	_ = home
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	child, home, source := seedRegistry(t, s)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.UpsertRule(ctx, domain.MappingRule{
			ChildID: child.ID, CalendarSourceID: source.ID,
			MatchType: domain.MatchEventID, MatchValue: "e9",
			HomeID: home.ID, AutoConfirm: true, CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	rules, err := s.RulesBySource(ctx, source.ID)
	if err != nil {
		t.Fatalf("rules by source: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("expected rollback to drop the rule, found %d", len(rules))
	}
}
