package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/go-resty/resty/v2"
	"github.com/teambition/rrule-go"

	"github.com/hearthhq/hearth/internal/domain"
)

const maxOccurrencesPerEvent = 1000

// FeedResolver tells the ICS provider which feeds exist and where each one
// lives. Implementations typically read the calendar source registry and,
// for secret URLs, the feed vault.
type FeedResolver interface {
	Feeds(ctx context.Context) ([]domain.Calendar, error)
	FeedURL(ctx context.Context, calendarID string) (string, error)
}

// ICSProvider reads ICS feeds over HTTP. Fetches are conditional
// (ETag / Last-Modified) with an in-memory body cache per feed.
type ICSProvider struct {
	resolver FeedResolver
	client   *resty.Client
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]feedCache
}

type feedCache struct {
	etag         string
	lastModified string
	body         []byte
}

func NewICSProvider(resolver FeedResolver, client *resty.Client) *ICSProvider {
	if client == nil {
		client = resty.New().SetTimeout(15 * time.Second)
	}
	return &ICSProvider{
		resolver: resolver,
		client:   client,
		now:      time.Now,
		cache:    make(map[string]feedCache),
	}
}

func (p *ICSProvider) Name() string { return "ics" }

func (p *ICSProvider) ListCalendars(ctx context.Context) ([]domain.Calendar, error) {
	return p.resolver.Feeds(ctx)
}

func (p *ICSProvider) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]domain.RemoteEvent, error) {
	url, err := p.resolver.FeedURL(ctx, calendarID)
	if err != nil {
		return nil, FeedError{CalendarID: calendarID, Err: err}
	}
	body, err := p.fetch(ctx, calendarID, url)
	if err != nil {
		return nil, FeedError{CalendarID: calendarID, Err: err}
	}
	events, err := parseAndExpand(body, from, to)
	if err != nil {
		return nil, FeedError{CalendarID: calendarID, Err: err}
	}
	return events, nil
}

func (p *ICSProvider) fetch(ctx context.Context, calendarID, url string) ([]byte, error) {
	p.mu.Lock()
	cached := p.cache[calendarID]
	p.mu.Unlock()

	req := p.client.R().SetContext(ctx)
	if cached.etag != "" {
		req.SetHeader("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.SetHeader("If-Modified-Since", cached.lastModified)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		body := append([]byte(nil), resp.Body()...)
		p.mu.Lock()
		p.cache[calendarID] = feedCache{
			etag:         resp.Header().Get("ETag"),
			lastModified: resp.Header().Get("Last-Modified"),
			body:         body,
		}
		p.mu.Unlock()
		return body, nil
	case http.StatusNotModified:
		if len(cached.body) == 0 {
			return nil, fmt.Errorf("feed returned 304 with no cached body")
		}
		return cached.body, nil
	default:
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode())
	}
}

// parseAndExpand turns an ICS payload into concrete occurrences within
// [from, to]. Recurring VEVENTs expand to one event per occurrence with a
// stable per-instance identifier; RECURRENCE-ID overrides replace the
// occurrence they name.
func parseAndExpand(body []byte, from, to time.Time) ([]domain.RemoteEvent, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	overridden := make(map[string]map[string]bool) // uid -> instance key
	var out []domain.RemoteEvent

	// First pass: overrides become standalone occurrences and mask the
	// instance they replace.
	for _, ve := range cal.Events() {
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		rid := propValue(ve, "RECURRENCE-ID")
		if uid == "" || rid == "" {
			continue
		}
		start, end, ok := eventTimes(ve)
		if !ok || !overlaps(start, end, from, to) {
			continue
		}
		ridTime, err := parseICSTime(rid)
		if err != nil {
			continue
		}
		key := instanceKey(ridTime)
		if overridden[uid] == nil {
			overridden[uid] = make(map[string]bool)
		}
		overridden[uid][key] = true
		out = append(out, domain.RemoteEvent{
			ExternalID:   uid + "#" + key,
			Title:        propValue(ve, ical.ComponentPropertySummary),
			Start:        start,
			End:          end,
			RecurrenceID: key,
		})
	}

	for _, ve := range cal.Events() {
		uid := propValue(ve, ical.ComponentPropertyUniqueId)
		if uid == "" || propValue(ve, "RECURRENCE-ID") != "" {
			continue
		}
		start, end, ok := eventTimes(ve)
		if !ok {
			continue
		}
		title := propValue(ve, ical.ComponentPropertySummary)
		raw := propValue(ve, ical.ComponentPropertyRrule)
		if raw == "" {
			if overlaps(start, end, from, to) {
				out = append(out, domain.RemoteEvent{
					ExternalID: uid,
					Title:      title,
					Start:      start,
					End:        end,
				})
			}
			continue
		}
		occurrences, err := expandRRule(ve, raw, start, end, from, to)
		if err != nil {
			// A broken RRULE should not sink the rest of the feed.
			continue
		}
		for _, occ := range occurrences {
			key := instanceKey(occ.start)
			if overridden[uid][key] {
				continue
			}
			out = append(out, domain.RemoteEvent{
				ExternalID:   uid + "#" + key,
				Title:        title,
				Start:        occ.start,
				End:          occ.end,
				RecurrenceID: key,
			})
		}
	}
	return out, nil
}

type occurrence struct {
	start, end time.Time
}

func expandRRule(ve *ical.VEvent, raw string, start, end, from, to time.Time) ([]occurrence, error) {
	r, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(start.Location()))
	}

	times := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
	}

	dur := end.Sub(start)
	out := make([]occurrence, 0, len(times))
	for _, s := range times {
		out = append(out, occurrence{start: s, end: s.Add(dur)})
	}
	return out, nil
}

func eventTimes(ve *ical.VEvent) (time.Time, time.Time, bool) {
	start, err := ve.GetStartAt()
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		// All-day or zero-length events span the whole day.
		end = start.Add(24 * time.Hour)
	}
	return start, end, true
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}

func instanceKey(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !bStart.IsZero() && aEnd.Before(bStart) {
		return false
	}
	if !bEnd.IsZero() && aStart.After(bEnd) {
		return false
	}
	return true
}
