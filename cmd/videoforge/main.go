package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/config"
	"github.com/mfranzen/videoforge/internal/httpapi"
	"github.com/mfranzen/videoforge/internal/indexer"
	"github.com/mfranzen/videoforge/internal/media"
	"github.com/mfranzen/videoforge/internal/metadata"
	"github.com/mfranzen/videoforge/internal/pipeline"
	"github.com/mfranzen/videoforge/internal/stream"
	"github.com/mfranzen/videoforge/internal/watcher"
	"github.com/mfranzen/videoforge/pkg/log"
)

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	store, err := catalog.NewSQLiteStore(cfg.Library.DatabasePath())
	if err != nil {
		log.Fatal("Failed to open catalog: %v", err)
	}
	defer store.Close()

	// Observation point for downstream consumers (casting protocols, UIs).
	store.Subscribe(func(change catalog.Change) {
		switch change.Kind {
		case catalog.KindMovie:
			log.Info("Status change: %s (%d) conversion=%s subtitles=%s",
				change.Movie.Name, change.Movie.Year,
				change.Movie.Progress.Conversion, change.Movie.Progress.Subtitles)
		case catalog.KindEpisode:
			log.Info("Status change: %s s%02de%02d conversion=%s subtitles=%s",
				change.Episode.Show, change.Episode.Season, change.Episode.Number,
				change.Episode.Progress.Conversion, change.Episode.Progress.Subtitles)
		}
	})

	engine := media.NewEngine(
		cfg.Encoding.FfmpegCmd,
		cfg.Encoding.FfprobeCmd,
		cfg.Encoding.VideoCodec,
		cfg.Encoding.AudioCodec,
		cfg.Encoding.TargetLanguage,
	)

	converterQueue := pipeline.NewQueue("converter", store)
	subtitlerQueue := pipeline.NewQueue("subtitler", store)
	converterQueue.Receive(pipeline.NewConverter(engine, store, subtitlerQueue).Handle)
	subtitlerQueue.Receive(pipeline.NewSubtitler(engine, store).Handle)
	defer converterQueue.Stop()
	defer subtitlerQueue.Stop()
	defer engine.Abort()

	meta := metadata.NewClient(cfg.Metadata.APIKey, metadata.WithBaseURL(cfg.Metadata.APIURL))
	movieIndexer := indexer.NewMovieIndexer(cfg.Library.MovieDirs, store, meta, converterQueue)
	tvIndexer := indexer.NewTVIndexer(cfg.Library.TvDirs, store, meta, converterQueue)

	cronSched := cron.New()
	if err := movieIndexer.Schedule(cronSched, cfg.Pipeline.IndexCron); err != nil {
		log.Fatal("Failed to schedule movie indexer: %v", err)
	}
	if err := tvIndexer.Schedule(cronSched, cfg.Pipeline.IndexCron); err != nil {
		log.Fatal("Failed to schedule TV indexer: %v", err)
	}

	session := stream.NewSession(cfg.Encoding.FfmpegCmd, cfg.HTTP.StreamDelay)
	defer session.Stop()
	srv := httpapi.NewServer(store, session, httpapi.WithQueues(converterQueue, subtitlerQueue))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Full pass on startup, then incremental passes driven by the watcher.
	go func() {
		if err := movieIndexer.Run(ctx); err != nil {
			log.Error("Movie index pass failed: %v", err)
		}
		if err := tvIndexer.Run(ctx); err != nil {
			log.Error("TV index pass failed: %v", err)
		}
	}()

	w, err := watcher.New(cfg.Pipeline.WatchDelay, cfg.Library.Roots()...)
	if err != nil {
		log.Error("Failed to start watcher, continuing without incremental indexing: %v", err)
	} else {
		defer w.Close()
		go dispatchEvents(ctx, w, cfg.Library, movieIndexer, tvIndexer)
	}

	if err := runWithComponents(ctx, cfg, cronSched, srv); err != nil {
		log.Fatal("Server error: %v", err)
	}
}

// runWithComponents runs the cron engine and HTTP server until the context is
// cancelled or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, cronSched cronEngine, srv httpServer) error {
	cronSched.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()
	log.Info("Listening on %s", cfg.HTTP.Addr)

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn("HTTP shutdown: %v", shutdownErr)
		}
		err = <-errCh
	case err = <-errCh:
	}

	<-cronSched.Stop().Done()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func dispatchEvents(ctx context.Context, w *watcher.Watcher, lib config.LibraryConfig, movies *indexer.MovieIndexer, tv *indexer.TVIndexer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if underAny(ev.Path, lib.MovieDirs) {
				movies.HandleEvent(ctx, ev)
			}
			if underAny(ev.Path, lib.TvDirs) {
				tv.HandleEvent(ctx, ev)
			}
		}
	}
}

func underAny(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
