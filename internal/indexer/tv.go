package indexer

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/metadata"
	"github.com/mfranzen/videoforge/internal/pipeline"
	"github.com/mfranzen/videoforge/internal/watcher"
	"github.com/mfranzen/videoforge/pkg/file"
	"github.com/mfranzen/videoforge/pkg/log"
)

// EpisodeStore is the slice of the catalog store the TV indexer needs.
type EpisodeStore interface {
	Episodes(ctx context.Context) ([]*catalog.Episode, error)
	FindEpisode(ctx context.Context, show string, season, number int) (*catalog.Episode, error)
	UpsertEpisode(ctx context.Context, e *catalog.Episode) error
	UpdateEpisode(ctx context.Context, e *catalog.Episode) error
	SetEpisodeProgress(ctx context.Context, e *catalog.Episode) error
	RemoveEpisode(ctx context.Context, id int64) error
}

type EpisodeMetadata interface {
	Enabled() bool
	GetEpisode(ctx context.Context, show string, season, number int) (*metadata.EpisodeInfo, error)
}

type TVIndexer struct {
	roots []string
	store EpisodeStore
	meta  EpisodeMetadata
	queue *pipeline.Queue
	group singleflight.Group
}

func NewTVIndexer(roots []string, store EpisodeStore, meta EpisodeMetadata, queue *pipeline.Queue) *TVIndexer {
	return &TVIndexer{roots: roots, store: store, meta: meta, queue: queue}
}

func (ix *TVIndexer) Schedule(c *cron.Cron, expr string) error {
	_, err := c.AddFunc(expr, func() {
		_, _, _ = ix.group.Do("run", func() (any, error) {
			return nil, ix.Run(context.Background())
		})
	})
	return err
}

// Run executes a full reconciliation pass over the TV roots.
func (ix *TVIndexer) Run(ctx context.Context) error {
	log.Info("[tv-indexer] Indexing TV shows")

	if err := ix.removeMissing(ctx); err != nil {
		return err
	}

	files := findMediaFiles(ix.roots)
	log.Info("[tv-indexer] Found %d video files", len(files))

	for _, path := range files {
		if err := ix.processFile(ctx, path); err != nil {
			log.Error("[tv-indexer] Error processing %s: %v", path, err)
		}
	}

	log.Info("[tv-indexer] Done. Processed %d TV episodes", len(files))
	return nil
}

func (ix *TVIndexer) HandleEvent(ctx context.Context, ev watcher.Event) {
	switch ev.Kind {
	case watcher.Update:
		if !IsMediaFile(ev.Path) {
			return
		}
		if err := ix.processFile(ctx, ev.Path); err != nil {
			log.Error("[tv-indexer] Error processing %s: %v", ev.Path, err)
		}
	case watcher.Remove:
		ix.handleRemove(ctx, ev.Path)
	}
}

func (ix *TVIndexer) removeMissing(ctx context.Context) error {
	episodes, err := ix.store.Episodes(ctx)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}
	removed := 0
	for _, e := range episodes {
		if file.Exists(e.Path) {
			continue
		}
		if err := ix.store.RemoveEpisode(ctx, e.ID); err != nil {
			log.Error("[tv-indexer] Failed to remove %s s%02de%02d: %v", e.Show, e.Season, e.Number, err)
			continue
		}
		removed++
	}
	log.Info("[tv-indexer] Removed %d missing episodes", removed)
	return nil
}

func (ix *TVIndexer) processFile(ctx context.Context, path string) error {
	show, season, number, err := parseEpisodePath(path)
	if err != nil {
		return err
	}

	e := &catalog.Episode{
		Show:     show,
		Season:   season,
		Number:   number,
		Path:     path,
		Progress: catalog.NewProgress(),
	}
	if err := ix.store.UpsertEpisode(ctx, e); err != nil {
		return fmt.Errorf("upsert %s s%02de%02d: %w", show, season, number, err)
	}

	ix.enrich(ctx, e)

	if e.Progress.Conversion == catalog.StatusUnprocessed {
		e.Progress.Conversion = e.Progress.Conversion.Advance(catalog.StatusQueued)
		e.Progress.Subtitles = e.Progress.Subtitles.Advance(catalog.StatusQueued)
		if err := ix.store.SetEpisodeProgress(ctx, e); err != nil {
			return fmt.Errorf("queue %s s%02de%02d: %w", show, season, number, err)
		}
		log.Info("[tv-indexer] Queued %s s%02de%02d for conversion", show, season, number)
		ix.queue.Send(pipeline.NewEpisodeMessage(e))
	}
	return nil
}

func (ix *TVIndexer) enrich(ctx context.Context, e *catalog.Episode) {
	if ix.meta == nil || !ix.meta.Enabled() || !e.MetadataMissing() {
		return
	}
	info, err := ix.meta.GetEpisode(ctx, e.Show, e.Season, e.Number)
	if err != nil {
		log.Warn("[tv-indexer] No metadata for %s s%02de%02d: %v", e.Show, e.Season, e.Number, err)
		return
	}
	e.Title = info.Title
	e.Overview = info.Overview
	e.AirDate = info.AirDate
	if err := ix.store.UpdateEpisode(ctx, e); err != nil {
		log.Error("[tv-indexer] Failed to save metadata for %s s%02de%02d: %v", e.Show, e.Season, e.Number, err)
	}
}

func (ix *TVIndexer) handleRemove(ctx context.Context, path string) {
	show, season, number, err := parseEpisodePath(path)
	if err != nil {
		return
	}
	e, err := ix.store.FindEpisode(ctx, show, season, number)
	if err != nil || e == nil {
		return
	}
	if file.Exists(e.Path) {
		return
	}
	if err := ix.store.RemoveEpisode(ctx, e.ID); err != nil {
		log.Error("[tv-indexer] Failed to remove %s s%02de%02d: %v", show, season, number, err)
		return
	}
	log.Info("[tv-indexer] Removed %s s%02de%02d, backing file is gone", show, season, number)
}
