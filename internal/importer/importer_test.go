package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/mapping"
	"github.com/hearthhq/hearth/internal/store"
)

type fakeProvider struct {
	events map[string][]domain.RemoteEvent
	fail   map[string]error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListCalendars(context.Context) ([]domain.Calendar, error) {
	return nil, nil
}

func (f *fakeProvider) ListEvents(_ context.Context, calendarID string, _, _ time.Time) ([]domain.RemoteEvent, error) {
	if err := f.fail[calendarID]; err != nil {
		return nil, err
	}
	return f.events[calendarID], nil
}

func seed(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := st.UpsertChild(ctx, domain.Child{ID: "child-1", Name: "Nora", CreatedAt: now}); err != nil {
		t.Fatalf("seed child: %v", err)
	}
	if _, err := st.UpsertHome(ctx, domain.Home{ID: "home-a", Name: "Mom's place", Active: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed home: %v", err)
	}
	for _, id := range []string{"cal-1", "cal-2"} {
		if _, err := st.UpsertSource(ctx, domain.CalendarSource{
			ID: id, ChildID: "child-1", Name: id, CreatedAt: now,
		}); err != nil {
			t.Fatalf("seed source: %v", err)
		}
	}
	return st
}

func remoteEvent(id, title string, start time.Time) domain.RemoteEvent {
	return domain.RemoteEvent{ExternalID: id, Title: title, Start: start, End: start.Add(2 * time.Hour)}
}

func TestSyncAllPartialSuccess(t *testing.T) {
	st := seed(t)
	base := time.Now().UTC().Add(24 * time.Hour)
	p := &fakeProvider{
		events: map[string][]domain.RemoteEvent{
			"cal-1": {remoteEvent("e1", "Mom's house", base), remoteEvent("e2", "Mom's house", base.AddDate(0, 0, 7))},
		},
		fail: map[string]error{"cal-2": errors.New("feed unreachable")},
	}
	imp := New(st, p, mapping.New(st, nil), nil)

	summary, err := imp.SyncAll(context.Background(), "")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("failed sources = %d, want 1", summary.Failed)
	}
	if len(summary.Sources) != 2 {
		t.Fatalf("source results = %d, want 2", len(summary.Sources))
	}
	for _, res := range summary.Sources {
		switch res.CalendarSourceID {
		case "cal-1":
			if res.Created != 2 || res.Error != "" {
				t.Fatalf("cal-1 result: %+v", res)
			}
		case "cal-2":
			if res.Error == "" {
				t.Fatal("cal-2 should report its feed error")
			}
		}
	}

	events, err := st.EventsBySource(context.Background(), "cal-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("imported events = %d, want 2", len(events))
	}
	if events[0].Classification != domain.ClassificationUnclassified {
		t.Fatal("import must not classify events")
	}
}

func TestSyncIsIdempotentAndUpdatesContent(t *testing.T) {
	st := seed(t)
	base := time.Now().UTC().Add(24 * time.Hour)
	p := &fakeProvider{events: map[string][]domain.RemoteEvent{
		"cal-1": {remoteEvent("e1", "Dentist", base)},
	}}
	imp := New(st, p, nil, nil)
	ctx := context.Background()

	first, err := imp.SyncAll(ctx, "cal-1")
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Sources[0].Created != 1 || first.Sources[0].Updated != 0 {
		t.Fatalf("first sync result: %+v", first.Sources[0])
	}

	p.events["cal-1"][0].Title = "Dentist (moved)"
	second, err := imp.SyncAll(ctx, "cal-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Sources[0].Created != 0 || second.Sources[0].Updated != 1 {
		t.Fatalf("second sync result: %+v", second.Sources[0])
	}

	events, err := st.EventsBySource(ctx, "cal-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Title != "Dentist (moved)" {
		t.Fatalf("content not refreshed: %+v", events)
	}
}

func TestSyncAutoClassifiesThroughRelabeler(t *testing.T) {
	st := seed(t)
	engine := mapping.New(st, nil)
	ctx := context.Background()
	base := time.Now().UTC().Add(24 * time.Hour)

	p := &fakeProvider{events: map[string][]domain.RemoteEvent{
		"cal-1": {remoteEvent("m1", "Mom's house", base)},
	}}
	imp := New(st, p, engine, nil)
	if _, err := imp.SyncAll(ctx, "cal-1"); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	if _, err := engine.CreateMappingRule(ctx, mapping.CreateRuleInput{
		ChildID: "child-1", CalendarSourceID: "cal-1",
		MatchType: domain.MatchTitleExact, MatchValue: "Mom's house",
		HomeID: "home-a", AutoConfirm: true,
	}); err != nil {
		t.Fatalf("rule: %v", err)
	}

	// A new occurrence arrives on the next sync and is labeled immediately.
	p.events["cal-1"] = append(p.events["cal-1"], remoteEvent("m2", "Mom's house", base.AddDate(0, 0, 7)))
	summary, err := imp.SyncAll(ctx, "cal-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if summary.Sources[0].Relabeled != 1 {
		t.Fatalf("relabeled = %d, want 1", summary.Sources[0].Relabeled)
	}

	events, err := st.EventsBySource(ctx, "cal-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	for _, ev := range events {
		if ev.Classification != domain.ClassificationHomeStay {
			t.Fatalf("event %s = %q, want home_stay", ev.ExternalID, ev.Classification)
		}
	}

	groups, err := engine.HomeStayCandidates(ctx, "child-1")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("auto-classified events must not appear as candidates: %+v", groups)
	}
}

func TestSyncUnknownSource(t *testing.T) {
	st := seed(t)
	imp := New(st, &fakeProvider{}, nil, nil)
	if _, err := imp.SyncAll(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
