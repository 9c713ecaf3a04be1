package app

import (
	"context"
	"fmt"

	"github.com/hearthhq/hearth/internal/auth"
	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/store"
)

// registryResolver serves feed URLs to the ICS provider from the calendar
// source registry. Sources whose URL is stored encrypted are looked up in
// the vault snapshot loaded at startup.
type registryResolver struct {
	store      *store.Store
	vaultFeeds auth.Feeds
}

func newRegistryResolver(st *store.Store, vaultFeeds auth.Feeds) *registryResolver {
	return &registryResolver{store: st, vaultFeeds: vaultFeeds}
}

func (r *registryResolver) Feeds(ctx context.Context) ([]domain.Calendar, error) {
	sources, err := r.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Calendar, 0, len(sources))
	for _, src := range sources {
		out = append(out, domain.Calendar{
			ID:        src.ID,
			Name:      src.Name,
			Color:     src.Color,
			IsPrimary: src.IsPrimary,
		})
	}
	return out, nil
}

func (r *registryResolver) FeedURL(ctx context.Context, calendarID string) (string, error) {
	src, err := r.store.SourceByID(ctx, calendarID)
	if err != nil {
		return "", err
	}
	if src.URL != "" {
		return src.URL, nil
	}
	if url, ok := r.vaultFeeds[src.ID]; ok {
		return url, nil
	}
	return "", fmt.Errorf("%w: no feed url for source %s", domain.ErrNotFound, src.ID)
}
