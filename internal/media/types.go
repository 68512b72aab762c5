package media

import (
	"errors"
	"strings"

	"golang.org/x/text/language"

	"github.com/mfranzen/videoforge/pkg/file"
)

// TargetExt is the container extension of normalized output files.
const TargetExt = ".mp4"

// SubtitlesExt is the delivery subtitle sidecar extension.
const SubtitlesExt = ".vtt"

// convertingName is the fixed temp file used during a batch conversion. The
// live streamer never writes to disk, so the two cannot collide.
const convertingName = ".converting.mp4"

var (
	ErrNoVideoStream = errors.New("no appropriate video stream found")
	ErrNoAudioStream = errors.New("no appropriate audio stream found")
	ErrNoSubtitles   = errors.New("no subtitles available")
)

// File pairs a source path with its derived output path: same directory,
// normalized extension. A reprocessing attempt builds a fresh File rather
// than mutating an old one.
type File struct {
	Path   string
	Output string
}

func NewFile(path string) File {
	return File{
		Path:   path,
		Output: file.ReplaceExt(path, TargetExt),
	}
}

// SubtitlesPath is the sidecar path next to the output file.
func (f File) SubtitlesPath() string {
	return file.ReplaceExt(f.Output, SubtitlesExt)
}

type StreamType string

const (
	StreamVideo    StreamType = "video"
	StreamAudio    StreamType = "audio"
	StreamSubtitle StreamType = "subtitle"
)

// Stream is one entry of the probe's stream list.
type Stream struct {
	Index    int
	Type     StreamType
	Codec    string
	Language string
	Forced   bool
}

// Probe is the parsed stream layout of a source file.
type Probe struct {
	Streams []Stream
}

// First returns the first stream of the given type, or nil.
func (p Probe) First(t StreamType) *Stream {
	for i := range p.Streams {
		if p.Streams[i].Type == t {
			return &p.Streams[i]
		}
	}
	return nil
}

// VideoCodec returns the codec of the primary video stream, or "".
func (p Probe) VideoCodec() string {
	if s := p.First(StreamVideo); s != nil {
		return s.Codec
	}
	return ""
}

// AudioCodec returns the codec of the primary audio stream, or "".
func (p Probe) AudioCodec() string {
	if s := p.First(StreamAudio); s != nil {
		return s.Codec
	}
	return ""
}

// AudioStream prefers an audio stream tagged with the target language,
// falling back to the first audio stream.
func (p Probe) AudioStream(target language.Tag) *Stream {
	for i := range p.Streams {
		s := &p.Streams[i]
		if s.Type == StreamAudio && matchesLanguage(s.Language, target) {
			return s
		}
	}
	return p.First(StreamAudio)
}

// SubtitleStream returns the first non-forced subtitle stream tagged with the
// target language. Forced-only tracks are skipped: they carry partial
// translations, not full subtitles.
func (p Probe) SubtitleStream(target language.Tag) *Stream {
	for i := range p.Streams {
		s := &p.Streams[i]
		if s.Type == StreamSubtitle && !s.Forced && matchesLanguage(s.Language, target) {
			return s
		}
	}
	return nil
}

// matchesLanguage compares a container language tag (e.g. "eng") against the
// target by ISO 639 base.
func matchesLanguage(tag string, target language.Tag) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || tag == "und" {
		return false
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return false
	}
	parsedBase, conf := parsed.Base()
	if conf == language.No {
		return false
	}
	targetBase, _ := target.Base()
	return parsedBase == targetBase
}

// EncodingResult reports the two sub-tasks independently. ConversionError is
// set iff the video/audio normalization failed; SubtitlesError iff subtitle
// extraction failed or found nothing.
type EncodingResult struct {
	ConversionError error
	SubtitlesError  error
}
