package pipeline

import (
	"context"
	"fmt"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/media"
	"github.com/mfranzen/videoforge/pkg/file"
	"github.com/mfranzen/videoforge/pkg/log"
)

// CatalogStore persists per-entity processing progress.
type CatalogStore interface {
	SetMovieProgress(ctx context.Context, m *catalog.Movie) error
	SetEpisodeProgress(ctx context.Context, e *catalog.Episode) error
}

// Converter consumes queued entities, runs the encoding engine against their
// backing file and records the outcome. When the subtitle side did not
// succeed, it forwards the entity to the subtitler queue for a retry.
type Converter struct {
	engine    *media.Engine
	store     CatalogStore
	subtitler *Queue
}

func NewConverter(engine *media.Engine, store CatalogStore, subtitler *Queue) *Converter {
	return &Converter{engine: engine, store: store, subtitler: subtitler}
}

// Handle is the converter queue handler. Encoding failures are a normal
// outcome recorded on the entity; only persistence failures bubble up and
// dead-letter the message.
func (c *Converter) Handle(ctx context.Context, msg Message) error {
	log.Info("[converter] Processing %s (%s)", msg.Describe(), msg.Path())

	f := media.NewFile(msg.Path())
	result := c.engine.Run(ctx, f)

	switch msg.Kind {
	case KindMovie:
		return c.finishMovie(ctx, msg.Movie, f, result)
	case KindEpisode:
		return c.finishEpisode(ctx, msg.Episode, f, result)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func (c *Converter) finishMovie(ctx context.Context, m *catalog.Movie, f media.File, result media.EncodingResult) error {
	applyResult(&m.Progress, f, result)
	if m.Progress.Conversion == catalog.StatusProcessed {
		m.Path = f.Output
	}
	if m.Progress.Subtitles == catalog.StatusProcessed {
		m.SubtitlesPath = f.SubtitlesPath()
	}
	if err := c.store.SetMovieProgress(ctx, m); err != nil {
		return fmt.Errorf("record progress for %s (%d): %w", m.Name, m.Year, err)
	}
	if m.Progress.Subtitles == catalog.StatusFailed && c.subtitler != nil {
		log.Info("[converter] Forwarding %s (%d) to subtitler", m.Name, m.Year)
		c.subtitler.Send(NewMovieMessage(m))
	}
	return nil
}

func (c *Converter) finishEpisode(ctx context.Context, e *catalog.Episode, f media.File, result media.EncodingResult) error {
	applyResult(&e.Progress, f, result)
	if e.Progress.Conversion == catalog.StatusProcessed {
		e.Path = f.Output
	}
	if e.Progress.Subtitles == catalog.StatusProcessed {
		e.SubtitlesPath = f.SubtitlesPath()
	}
	if err := c.store.SetEpisodeProgress(ctx, e); err != nil {
		return fmt.Errorf("record progress for %s s%02de%02d: %w", e.Show, e.Season, e.Number, err)
	}
	if e.Progress.Subtitles == catalog.StatusFailed && c.subtitler != nil {
		log.Info("[converter] Forwarding %s s%02de%02d to subtitler", e.Show, e.Season, e.Number)
		c.subtitler.Send(NewEpisodeMessage(e))
	}
	return nil
}

// applyResult maps the engine outcome onto the entity progress. A sidecar
// already present on disk counts as a subtitle success even when extraction
// found nothing to pull from the container.
func applyResult(p *catalog.Progress, f media.File, result media.EncodingResult) {
	if result.ConversionError == nil {
		p.Conversion = p.Conversion.Advance(catalog.StatusProcessed)
		p.ConversionError = ""
	} else {
		p.Conversion = p.Conversion.Advance(catalog.StatusFailed)
		p.ConversionError = result.ConversionError.Error()
	}

	if result.SubtitlesError == nil || file.Exists(f.SubtitlesPath()) {
		p.Subtitles = p.Subtitles.Advance(catalog.StatusProcessed)
		p.SubtitlesError = ""
	} else {
		p.Subtitles = p.Subtitles.Advance(catalog.StatusFailed)
		p.SubtitlesError = result.SubtitlesError.Error()
	}
}
