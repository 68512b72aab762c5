// Package httpapi exposes the catalog and playback over HTTP. Route layout
// follows the media paths: listing/detail endpoints per entity kind, play and
// subtitle endpoints keyed by catalog identity, and operator endpoints for
// the dead-letter queue.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/pipeline"
	"github.com/mfranzen/videoforge/internal/stream"
)

// Store is the catalog surface the API reads from.
type Store interface {
	Movies(ctx context.Context) ([]*catalog.Movie, error)
	FindMovie(ctx context.Context, name string, year int) (*catalog.Movie, error)
	SearchMovies(ctx context.Context, name string, year int) ([]*catalog.Movie, error)
	Episodes(ctx context.Context) ([]*catalog.Episode, error)
	FindEpisode(ctx context.Context, show string, season, number int) (*catalog.Episode, error)
	DeadLetters(ctx context.Context) ([]*catalog.DeadLetter, error)
}

type Server struct {
	store   Store
	session *stream.Session
	queues  []*pipeline.Queue

	router *mux.Router
	server *http.Server
}

type Option func(*Server)

// WithQueues registers the pipeline queues eligible for dead-letter replay.
func WithQueues(queues ...*pipeline.Queue) Option {
	return func(s *Server) {
		s.queues = queues
	}
}

func NewServer(store Store, session *stream.Session, opts ...Option) *Server {
	s := &Server{
		store:   store,
		session: session,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/movies", s.handleListMovies).Methods(http.MethodGet)
	s.router.HandleFunc("/api/movies/{year:[0-9]+}/{name}", s.handleGetMovie).Methods(http.MethodGet)
	s.router.HandleFunc("/api/movies/play/{year:[0-9]+}/{name}", s.handlePlayMovie).Methods(http.MethodGet)
	s.router.HandleFunc("/api/movies/subtitles/{year:[0-9]+}/{name}", s.handleMovieSubtitles).Methods(http.MethodGet)

	s.router.HandleFunc("/api/episodes", s.handleListEpisodes).Methods(http.MethodGet)
	s.router.HandleFunc("/api/episodes/{show}/{season:[0-9]+}/{number:[0-9]+}", s.handleGetEpisode).Methods(http.MethodGet)
	s.router.HandleFunc("/api/episodes/play/{show}/{season:[0-9]+}/{number:[0-9]+}", s.handlePlayEpisode).Methods(http.MethodGet)
	s.router.HandleFunc("/api/episodes/subtitles/{show}/{season:[0-9]+}/{number:[0-9]+}", s.handleEpisodeSubtitles).Methods(http.MethodGet)

	s.router.HandleFunc("/api/stream/stop", s.handleStopStream).Methods(http.MethodPost)

	s.router.HandleFunc("/api/deadletters", s.handleListDeadLetters).Methods(http.MethodGet)
	s.router.HandleFunc("/api/deadletters/{id}/replay", s.handleReplayDeadLetter).Methods(http.MethodPost)
}
