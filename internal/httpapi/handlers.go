package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mfranzen/videoforge/internal/catalog"
	"github.com/mfranzen/videoforge/internal/stream"
	"github.com/mfranzen/videoforge/pkg/file"
	"github.com/mfranzen/videoforge/pkg/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMovies(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))

	var (
		movies []*catalog.Movie
		err    error
	)
	if query != "" || year != 0 {
		movies, err = s.store.SearchMovies(r.Context(), query, year)
	} else {
		movies, err = s.store.Movies(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, movies)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	m := s.resolveMovie(w, r)
	if m == nil {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handlePlayMovie serves the normalized file with range support, or falls
// back to a live transcode session when the movie is not yet converted or
// the client asked for a seek offset.
func (s *Server) handlePlayMovie(w http.ResponseWriter, r *http.Request) {
	m := s.resolveMovie(w, r)
	if m == nil {
		return
	}
	s.play(w, r, m.Path, m.Progress.Conversion)
}

func (s *Server) handleMovieSubtitles(w http.ResponseWriter, r *http.Request) {
	m := s.resolveMovie(w, r)
	if m == nil {
		return
	}
	s.serveSubtitles(w, r, m.SubtitlesPath)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.store.Episodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	e := s.resolveEpisode(w, r)
	if e == nil {
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handlePlayEpisode(w http.ResponseWriter, r *http.Request) {
	e := s.resolveEpisode(w, r)
	if e == nil {
		return
	}
	s.play(w, r, e.Path, e.Progress.Conversion)
}

func (s *Server) handleEpisodeSubtitles(w http.ResponseWriter, r *http.Request) {
	e := s.resolveEpisode(w, r)
	if e == nil {
		return
	}
	s.serveSubtitles(w, r, e.SubtitlesPath)
}

func (s *Server) handleStopStream(w http.ResponseWriter, _ *http.Request) {
	s.session.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.store.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, q := range s.queues {
		if err := q.Replay(r.Context(), id); err == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}
	writeError(w, http.StatusNotFound, "dead letter not found")
}

func (s *Server) resolveMovie(w http.ResponseWriter, r *http.Request) *catalog.Movie {
	vars := mux.Vars(r)
	year, _ := strconv.Atoi(vars["year"])
	m, err := s.store.FindMovie(r.Context(), vars["name"], year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "movie not found")
		return nil
	}
	return m
}

func (s *Server) resolveEpisode(w http.ResponseWriter, r *http.Request) *catalog.Episode {
	vars := mux.Vars(r)
	season, _ := strconv.Atoi(vars["season"])
	number, _ := strconv.Atoi(vars["number"])
	e, err := s.store.FindEpisode(r.Context(), vars["show"], season, number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "episode not found")
		return nil
	}
	return e
}

func (s *Server) play(w http.ResponseWriter, r *http.Request, path string, conversion catalog.Status) {
	seekParam := r.URL.Query().Get("seek")
	if conversion == catalog.StatusProcessed && seekParam == "" {
		stream.ServeFile(w, r, path)
		return
	}

	seek, _ := strconv.Atoi(seekParam)
	if err := s.session.Play(w, path, seek); err != nil {
		log.Error("Live playback of %s failed: %v", path, err)
		writeError(w, http.StatusInternalServerError, "playback failed")
	}
}

func (s *Server) serveSubtitles(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" || !file.Exists(path) {
		writeError(w, http.StatusNotFound, "no subtitles available")
		return
	}
	w.Header().Set("Content-Type", "text/vtt")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
