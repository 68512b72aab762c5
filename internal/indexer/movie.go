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

// MovieStore is the slice of the catalog store the movie indexer needs.
type MovieStore interface {
	Movies(ctx context.Context) ([]*catalog.Movie, error)
	FindMovie(ctx context.Context, name string, year int) (*catalog.Movie, error)
	UpsertMovie(ctx context.Context, m *catalog.Movie) error
	UpdateMovie(ctx context.Context, m *catalog.Movie) error
	SetMovieProgress(ctx context.Context, m *catalog.Movie) error
	RemoveMovie(ctx context.Context, id int64) error
}

// MovieMetadata enriches a movie identity. Nil-able: enrichment is optional.
type MovieMetadata interface {
	Enabled() bool
	GetMovie(ctx context.Context, name string, year int) (*metadata.MovieInfo, error)
}

type MovieIndexer struct {
	roots []string
	store MovieStore
	meta  MovieMetadata
	queue *pipeline.Queue
	group singleflight.Group
}

func NewMovieIndexer(roots []string, store MovieStore, meta MovieMetadata, queue *pipeline.Queue) *MovieIndexer {
	return &MovieIndexer{roots: roots, store: store, meta: meta, queue: queue}
}

// Schedule registers the full pass on the cron engine. Overlapping triggers
// collapse into the in-flight pass.
func (ix *MovieIndexer) Schedule(c *cron.Cron, expr string) error {
	_, err := c.AddFunc(expr, func() {
		_, _, _ = ix.group.Do("run", func() (any, error) {
			return nil, ix.Run(context.Background())
		})
	})
	return err
}

// Run executes a full reconciliation pass: drop entries whose file is gone,
// then process every media file under the roots. Per-file failures are logged
// and skipped.
func (ix *MovieIndexer) Run(ctx context.Context) error {
	log.Info("[movie-indexer] Indexing movies")

	if err := ix.removeMissing(ctx); err != nil {
		return err
	}

	files := findMediaFiles(ix.roots)
	log.Info("[movie-indexer] Found %d video files", len(files))

	for _, path := range files {
		if err := ix.processFile(ctx, path); err != nil {
			log.Error("[movie-indexer] Error processing %s: %v", path, err)
		}
	}

	log.Info("[movie-indexer] Done. Processed %d movies", len(files))
	return nil
}

// HandleEvent runs the incremental pass for a single watcher event.
func (ix *MovieIndexer) HandleEvent(ctx context.Context, ev watcher.Event) {
	switch ev.Kind {
	case watcher.Update:
		if !IsMediaFile(ev.Path) {
			return
		}
		if err := ix.processFile(ctx, ev.Path); err != nil {
			log.Error("[movie-indexer] Error processing %s: %v", ev.Path, err)
		}
	case watcher.Remove:
		ix.handleRemove(ctx, ev.Path)
	}
}

func (ix *MovieIndexer) removeMissing(ctx context.Context) error {
	movies, err := ix.store.Movies(ctx)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}
	removed := 0
	for _, m := range movies {
		if file.Exists(m.Path) {
			continue
		}
		if err := ix.store.RemoveMovie(ctx, m.ID); err != nil {
			log.Error("[movie-indexer] Failed to remove %s (%d): %v", m.Name, m.Year, err)
			continue
		}
		removed++
	}
	log.Info("[movie-indexer] Removed %d missing movies", removed)
	return nil
}

func (ix *MovieIndexer) processFile(ctx context.Context, path string) error {
	name, year, err := parseMoviePath(path)
	if err != nil {
		return err
	}

	m := &catalog.Movie{
		Name:     name,
		Year:     year,
		Path:     path,
		Progress: catalog.NewProgress(),
	}
	if err := ix.store.UpsertMovie(ctx, m); err != nil {
		return fmt.Errorf("upsert %s (%d): %w", name, year, err)
	}

	ix.enrich(ctx, m)

	if m.Progress.Conversion == catalog.StatusUnprocessed {
		m.Progress.Conversion = m.Progress.Conversion.Advance(catalog.StatusQueued)
		m.Progress.Subtitles = m.Progress.Subtitles.Advance(catalog.StatusQueued)
		if err := ix.store.SetMovieProgress(ctx, m); err != nil {
			return fmt.Errorf("queue %s (%d): %w", name, year, err)
		}
		log.Info("[movie-indexer] Queued %s (%d) for conversion", name, year)
		ix.queue.Send(pipeline.NewMovieMessage(m))
	}
	return nil
}

// enrich fills missing metadata fields. Failures are logged only; indexing
// never blocks on the upstream service.
func (ix *MovieIndexer) enrich(ctx context.Context, m *catalog.Movie) {
	if ix.meta == nil || !ix.meta.Enabled() || !m.MetadataMissing() {
		return
	}
	info, err := ix.meta.GetMovie(ctx, m.Name, m.Year)
	if err != nil {
		log.Warn("[movie-indexer] No metadata for %s (%d): %v", m.Name, m.Year, err)
		return
	}
	m.Overview = info.Overview
	m.Poster = info.Poster
	if err := ix.store.UpdateMovie(ctx, m); err != nil {
		log.Error("[movie-indexer] Failed to save metadata for %s (%d): %v", m.Name, m.Year, err)
	}
}

func (ix *MovieIndexer) handleRemove(ctx context.Context, path string) {
	name, year, err := parseMoviePath(path)
	if err != nil {
		return
	}
	m, err := ix.store.FindMovie(ctx, name, year)
	if err != nil || m == nil {
		return
	}
	if file.Exists(m.Path) {
		return
	}
	if err := ix.store.RemoveMovie(ctx, m.ID); err != nil {
		log.Error("[movie-indexer] Failed to remove %s (%d): %v", name, year, err)
		return
	}
	log.Info("[movie-indexer] Removed %s (%d), backing file is gone", name, year)
}
