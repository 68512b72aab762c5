package catalog

import "time"

// Status tracks processing of one track (video/audio or subtitles) of a
// catalog entity. Transitions move forward only: unprocessed -> queued ->
// processed or failed. Re-queueing a finished entity is the single allowed
// reset.
type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusQueued      Status = "queued"
	StatusProcessed   Status = "processed"
	StatusFailed      Status = "failed"
)

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return false
	}
	switch next {
	case StatusQueued:
		return true
	case StatusProcessed, StatusFailed:
		return s == StatusQueued
	default:
		return false
	}
}

// Advance returns next when the transition is legal, otherwise s unchanged.
// Call sites never need to re-check legality themselves.
func (s Status) Advance(next Status) Status {
	if s.CanTransition(next) {
		return next
	}
	return s
}

// Progress holds the per-track processing state of an entity.
type Progress struct {
	Conversion      Status `json:"conversion"`
	ConversionError string `json:"conversion_error,omitempty"`
	Subtitles       Status `json:"subtitles"`
	SubtitlesError  string `json:"subtitles_error,omitempty"`
}

func NewProgress() Progress {
	return Progress{
		Conversion: StatusUnprocessed,
		Subtitles:  StatusUnprocessed,
	}
}

// Movie is identified by (Name, Year), derived from the file path convention.
type Movie struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Year          int      `json:"year"`
	Path          string   `json:"path"`
	SubtitlesPath string   `json:"subtitles_path,omitempty"`
	Overview      string   `json:"overview,omitempty"`
	Poster        string   `json:"poster,omitempty"`
	Progress      Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetadataMissing reports whether the enrichment collaborator still needs to run.
func (m *Movie) MetadataMissing() bool {
	return m.Overview == "" || m.Poster == ""
}

// Episode is identified by (Show, Season, Number).
type Episode struct {
	ID            int64    `json:"id"`
	Show          string   `json:"show"`
	Season        int      `json:"season"`
	Number        int      `json:"number"`
	Title         string   `json:"title,omitempty"`
	Path          string   `json:"path"`
	SubtitlesPath string   `json:"subtitles_path,omitempty"`
	Overview      string   `json:"overview,omitempty"`
	AirDate       string   `json:"air_date,omitempty"`
	Progress      Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Episode) MetadataMissing() bool {
	return e.Title == "" || e.Overview == ""
}

// EntityKind tags a Change with the entity table it refers to.
type EntityKind string

const (
	KindMovie   EntityKind = "movie"
	KindEpisode EntityKind = "episode"
)

// Change describes a processing-status update, delivered to subscribed
// observers. The transport (casting protocol, sockets) lives outside the core.
type Change struct {
	Kind    EntityKind
	Movie   *Movie
	Episode *Episode
}

// DeadLetter retains a failed pipeline message for inspection and manual
// replay. Payload is the JSON-encoded message as it was in flight.
type DeadLetter struct {
	ID        string
	Queue     string
	Kind      string
	Payload   string
	Error     string
	CreatedAt time.Time
}
