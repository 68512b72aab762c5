package pipeline

import (
	"context"
	"fmt"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/media"
	"github.com/mfranzen/videoforge/pkg/file"
	"github.com/mfranzen/videoforge/pkg/log"
)

// Subtitler retries subtitle extraction for entities whose conversion already
// settled. It re-queues the subtitle track first so the retry outcome is a
// legal status step, then runs the extraction-only path of the engine.
type Subtitler struct {
	engine *media.Engine
	store  CatalogStore
}

func NewSubtitler(engine *media.Engine, store CatalogStore) *Subtitler {
	return &Subtitler{engine: engine, store: store}
}

// Handle is the subtitler queue handler.
func (s *Subtitler) Handle(ctx context.Context, msg Message) error {
	log.Info("[subtitler] Retrying subtitles for %s (%s)", msg.Describe(), msg.Path())

	switch msg.Kind {
	case KindMovie:
		return s.handleMovie(ctx, msg.Movie)
	case KindEpisode:
		return s.handleEpisode(ctx, msg.Episode)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (s *Subtitler) handleMovie(ctx context.Context, m *catalog.Movie) error {
	m.Progress.Subtitles = m.Progress.Subtitles.Advance(catalog.StatusQueued)
	if err := s.store.SetMovieProgress(ctx, m); err != nil {
		return fmt.Errorf("queue subtitles for %s (%d): %w", m.Name, m.Year, err)
	}

	f := media.NewFile(m.Path)
	s.applyRetry(ctx, &m.Progress, f)
	if m.Progress.Subtitles == catalog.StatusProcessed {
		m.SubtitlesPath = f.SubtitlesPath()
	}
	if err := s.store.SetMovieProgress(ctx, m); err != nil {
		return fmt.Errorf("record subtitles for %s (%d): %w", m.Name, m.Year, err)
	}
	return nil
}

func (s *Subtitler) handleEpisode(ctx context.Context, e *catalog.Episode) error {
	e.Progress.Subtitles = e.Progress.Subtitles.Advance(catalog.StatusQueued)
	if err := s.store.SetEpisodeProgress(ctx, e); err != nil {
		return fmt.Errorf("queue subtitles for %s s%02de%02d: %w", e.Show, e.Season, e.Number, err)
	}

	f := media.NewFile(e.Path)
	s.applyRetry(ctx, &e.Progress, f)
	if e.Progress.Subtitles == catalog.StatusProcessed {
		e.SubtitlesPath = f.SubtitlesPath()
	}
	if err := s.store.SetEpisodeProgress(ctx, e); err != nil {
		return fmt.Errorf("record subtitles for %s s%02de%02d: %w", e.Show, e.Season, e.Number, err)
	}
	return nil
}

// applyRetry runs extraction and maps the outcome onto the subtitle track. A
// sidecar dropped beside the file by hand satisfies the retry without running
// ffmpeg at all.
func (s *Subtitler) applyRetry(ctx context.Context, p *catalog.Progress, f media.File) {
	if file.Exists(f.SubtitlesPath()) {
		p.Subtitles = p.Subtitles.Advance(catalog.StatusProcessed)
		p.SubtitlesError = ""
		return
	}

	if err := s.engine.Subtitles(ctx, f); err != nil {
		p.Subtitles = p.Subtitles.Advance(catalog.StatusFailed)
		p.SubtitlesError = err.Error()
		return
	}
	p.Subtitles = p.Subtitles.Advance(catalog.StatusProcessed)
	p.SubtitlesError = ""
}
