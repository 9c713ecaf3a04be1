package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hearthhq/hearth/internal/domain"
)

var ErrFeedUnavailable = errors.New("calendar feed unavailable")

// CalendarProvider is the read-only collaborator the importer pulls from.
// Implementations never write back to the external calendar.
type CalendarProvider interface {
	Name() string
	ListCalendars(ctx context.Context) ([]domain.Calendar, error)
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]domain.RemoteEvent, error)
}

// FeedError wraps a per-feed failure so callers can tell which calendar
// broke while others kept working.
type FeedError struct {
	CalendarID string
	Err        error
}

func (e FeedError) Error() string {
	return fmt.Sprintf("calendar %s: %v", e.CalendarID, e.Err)
}

func (e FeedError) Unwrap() error { return ErrFeedUnavailable }
