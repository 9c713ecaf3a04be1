// Package importer pulls events from the external calendar provider into
// the event store. It copies content unchanged; classification is owned by
// the mapping engine's relabel pass, which runs once per synced source.
package importer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/store"
)

// Relabeler recomputes classifications for one calendar source after its
// batch lands. Implemented by the mapping engine.
type Relabeler interface {
	RecomputeSource(ctx context.Context, sourceID string) (int, error)
}

type Importer struct {
	store     *store.Store
	provider  provider.CalendarProvider
	relabeler Relabeler
	log       *slog.Logger
	now       func() time.Time

	// WindowPast / WindowFuture bound the occurrence window requested from
	// the provider around "now".
	WindowPast   time.Duration
	WindowFuture time.Duration
}

func New(st *store.Store, p provider.CalendarProvider, r Relabeler, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:        st,
		provider:     p,
		relabeler:    r,
		log:          logger,
		now:          time.Now,
		WindowPast:   90 * 24 * time.Hour,
		WindowFuture: 180 * 24 * time.Hour,
	}
}

// SourceResult reports one calendar source's sync outcome.
type SourceResult struct {
	CalendarSourceID string `json:"calendar_source_id"`
	Created          int    `json:"created"`
	Updated          int    `json:"updated"`
	Relabeled        int    `json:"relabeled"`
	Error            string `json:"error,omitempty"`
}

// Summary aggregates a sync run. Failed counts sources whose batch was
// aborted; their previously imported events are untouched.
type Summary struct {
	Sources []SourceResult `json:"sources"`
	Failed  int            `json:"failed"`
}

// SyncAll syncs every configured calendar source, or only sourceID when it
// is non-empty. Sources are independent scopes and sync concurrently; one
// broken feed never aborts the others. The returned error is non-nil only
// when nothing could be attempted.
func (i *Importer) SyncAll(ctx context.Context, sourceID string) (Summary, error) {
	var sources []domain.CalendarSource
	var err error
	if sourceID != "" {
		var src domain.CalendarSource
		src, err = i.store.SourceByID(ctx, sourceID)
		sources = []domain.CalendarSource{src}
	} else {
		sources, err = i.store.ListSources(ctx)
	}
	if err != nil {
		return Summary{}, err
	}

	var mu sync.Mutex
	summary := Summary{Sources: make([]SourceResult, 0, len(sources))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			res := i.syncSource(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if res.Error != "" {
				summary.Failed++
			}
			summary.Sources = append(summary.Sources, res)
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

func (i *Importer) syncSource(ctx context.Context, src domain.CalendarSource) SourceResult {
	res := SourceResult{CalendarSourceID: src.ID}

	now := i.now()
	remote, err := i.provider.ListEvents(ctx, src.ID, now.Add(-i.WindowPast), now.Add(i.WindowFuture))
	if err != nil {
		uerr := domain.UpstreamImportError{CalendarSourceID: src.ID, Err: err}
		i.log.Error("calendar sync aborted", "calendar_source_id", src.ID, "error", err)
		res.Error = uerr.Error()
		return res
	}

	// One transaction per source batch: either the whole batch lands or the
	// source stays as it was.
	err = i.store.InTx(ctx, func(tx *store.Tx) error {
		for _, re := range remote {
			ev := domain.CalendarEvent{
				ExternalID:       re.ExternalID,
				CalendarSourceID: src.ID,
				ChildID:          src.ChildID,
				Title:            re.Title,
				StartTime:        re.Start,
				EndTime:          re.End,
			}
			created, err := tx.UpsertEvent(ctx, &ev)
			if err != nil {
				return err
			}
			if created {
				res.Created++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		res.Created, res.Updated = 0, 0
		res.Error = domain.UpstreamImportError{CalendarSourceID: src.ID, Err: err}.Error()
		i.log.Error("calendar batch write failed", "calendar_source_id", src.ID, "error", err)
		return res
	}

	if i.relabeler != nil {
		relabeled, err := i.relabeler.RecomputeSource(ctx, src.ID)
		if err != nil {
			// The batch is in; only the relabel failed. A recompute can be
			// retried at any time.
			res.Error = err.Error()
			i.log.Error("post-import relabel failed", "calendar_source_id", src.ID, "error", err)
			return res
		}
		res.Relabeled = relabeled
	}

	i.log.Info("calendar source synced",
		"calendar_source_id", src.ID,
		"created", res.Created,
		"updated", res.Updated,
		"relabeled", res.Relabeled)
	return res
}
