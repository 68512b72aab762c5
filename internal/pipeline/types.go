package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mfranzen/videoforge/internal/catalog"
)

// Kind discriminates the message union. Exactly one of Movie/Episode is set,
// matching Kind, so handling code can switch exhaustively.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// Message is the envelope travelling between the indexer and the encoder
// stage. It is created by the indexer, owned by the queue while in flight,
// and consumed once; on failure it is annotated with Error and parked on the
// dead-letter store instead of being retried.
type Message struct {
	ID      string           `json:"id"`
	Kind    Kind             `json:"kind"`
	Movie   *catalog.Movie   `json:"movie,omitempty"`
	Episode *catalog.Episode `json:"episode,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func NewMovieMessage(m *catalog.Movie) Message {
	return Message{ID: uuid.NewString(), Kind: KindMovie, Movie: m}
}

func NewEpisodeMessage(e *catalog.Episode) Message {
	return Message{ID: uuid.NewString(), Kind: KindEpisode, Episode: e}
}

// Path returns the backing file of the wrapped entity.
func (m Message) Path() string {
	switch m.Kind {
	case KindMovie:
		return m.Movie.Path
	case KindEpisode:
		return m.Episode.Path
	}
	return ""
}

// Describe names the wrapped entity for logs.
func (m Message) Describe() string {
	switch m.Kind {
	case KindMovie:
		return fmt.Sprintf("%s (%d)", m.Movie.Name, m.Movie.Year)
	case KindEpisode:
		return fmt.Sprintf("%s s%02de%02d", m.Episode.Show, m.Episode.Season, m.Episode.Number)
	}
	return "unknown"
}
