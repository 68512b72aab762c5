package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/mfranzen/videoforge/internal/subtitle"
	"github.com/mfranzen/videoforge/pkg/log"
)

// Engine wraps ffmpeg/ffprobe for one conversion at a time: probe the stream
// layout, normalize video/audio, and extract a subtitle sidecar. The two
// sub-tasks of Run are independent read-only passes and execute concurrently.
type Engine struct {
	ffmpegCmd  string
	ffprobeCmd string

	videoCodec   string
	audioCodec   string
	videoEncoder string
	audioEncoder string
	lang         language.Tag

	mu          sync.Mutex
	current     *exec.Cmd
	currentIn   io.WriteCloser
	currentTemp string
}

func NewEngine(ffmpegCmd, ffprobeCmd, videoCodec, audioCodec string, lang language.Tag) *Engine {
	return &Engine{
		ffmpegCmd:    ffmpegCmd,
		ffprobeCmd:   ffprobeCmd,
		videoCodec:   videoCodec,
		audioCodec:   audioCodec,
		videoEncoder: encoderFor(videoCodec, map[string]string{"h264": "h264_nvenc"}),
		audioEncoder: encoderFor(audioCodec, map[string]string{"mp3": "libmp3lame"}),
		lang:         lang,
	}
}

func encoderFor(codec string, known map[string]string) string {
	if enc, ok := known[codec]; ok {
		return enc
	}
	return codec
}

// Run probes the file once and executes both sub-tasks concurrently against
// the same source. Both always complete before the result is reported.
func (e *Engine) Run(ctx context.Context, f File) EncodingResult {
	probe, err := e.Probe(ctx, f.Path)
	if err != nil {
		err = fmt.Errorf("probe %s: %w", f.Path, err)
		return EncodingResult{ConversionError: err, SubtitlesError: err}
	}

	var result EncodingResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.ConversionError = e.convert(ctx, f, probe)
	}()
	go func() {
		defer wg.Done()
		result.SubtitlesError = e.extractSubtitles(ctx, f, probe)
	}()
	wg.Wait()

	return result
}

// Subtitles re-runs only the subtitle extraction against the file. Used for
// retries after the conversion side already settled.
func (e *Engine) Subtitles(ctx context.Context, f File) error {
	probe, err := e.Probe(ctx, f.Path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", f.Path, err)
	}
	return e.extractSubtitles(ctx, f, probe)
}

// Probe inspects the stream layout of a media file.
func (e *Engine) Probe(ctx context.Context, path string) (Probe, error) {
	cmd := exec.CommandContext(ctx, e.ffprobeCmd,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return Probe{}, fmt.Errorf("run ffprobe: %w", err)
	}

	var probeResult struct {
		Streams []struct {
			Index     int    `json:"index"`
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Tags      struct {
				Language string `json:"language"`
			} `json:"tags"`
			Disposition struct {
				Forced int `json:"forced"`
			} `json:"disposition"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return Probe{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	probe := Probe{Streams: make([]Stream, 0, len(probeResult.Streams))}
	for _, s := range probeResult.Streams {
		probe.Streams = append(probe.Streams, Stream{
			Index:    s.Index,
			Type:     StreamType(s.CodecType),
			Codec:    s.CodecName,
			Language: s.Tags.Language,
			Forced:   s.Disposition.Forced != 0,
		})
	}
	if len(probe.Streams) == 0 {
		return Probe{}, fmt.Errorf("no analyzable streams in %s", path)
	}
	return probe, nil
}

func (e *Engine) convert(ctx context.Context, f File, probe Probe) error {
	if probe.VideoCodec() == e.videoCodec && probe.AudioCodec() == e.audioCodec {
		log.Info("No encoding necessary for %s", f.Path)
		return os.Rename(f.Path, f.Output)
	}

	video := probe.First(StreamVideo)
	if video == nil {
		return ErrNoVideoStream
	}
	audio := probe.AudioStream(e.lang)
	if audio == nil {
		return ErrNoAudioStream
	}

	temp := filepath.Join(filepath.Dir(f.Output), convertingName)
	log.Info("Encoding %s to %s (video %s -> %s, audio %s -> %s)",
		f.Path, f.Output, video.Codec, e.videoCodec, audio.Codec, e.audioCodec)

	cmd := exec.CommandContext(ctx, e.ffmpegCmd, e.convertArgs(f.Path, temp, video.Index, audio.Index)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	e.track(cmd, stdin, temp)
	err = cmd.Wait()
	e.untrack(cmd)

	if err != nil {
		removeIfExists(temp)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// The original is deleted only after the completed output is in place,
	// so a crash at any point leaves a playable copy on disk.
	if err := os.Rename(temp, f.Output); err != nil {
		removeIfExists(temp)
		return fmt.Errorf("move converted file: %w", err)
	}
	if err := os.Remove(f.Path); err != nil {
		log.Warn("Failed to remove source %s: %v", f.Path, err)
	}

	log.Info("Finished encoding %s", f.Output)
	return nil
}

func (e *Engine) convertArgs(input, output string, videoIndex, audioIndex int) []string {
	return []string{
		"-y",
		"-hwaccel", "nvdec",
		"-i", input,
		"-vsync", "0",
		"-c:v", e.videoEncoder,
		"-acodec", e.audioEncoder,
		"-b:v", "5M",
		"-sn",
		"-map", "0:" + strconv.Itoa(videoIndex),
		"-map", "0:" + strconv.Itoa(audioIndex),
		output,
	}
}

func (e *Engine) extractSubtitles(ctx context.Context, f File, probe Probe) error {
	stream := probe.SubtitleStream(e.lang)
	if stream == nil {
		return ErrNoSubtitles
	}

	log.Info("Extracting subtitles from %s (stream %d)", f.Path, stream.Index)

	cmd := exec.CommandContext(ctx, e.ffmpegCmd, e.extractSubArgs(f.Path, stream.Index)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("extract subtitles: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	parsed, err := subtitle.ParseSRT(bytes.NewReader(output))
	if err != nil {
		return err
	}

	sidecar := f.SubtitlesPath()
	out, err := os.Create(sidecar)
	if err != nil {
		return fmt.Errorf("create sidecar: %w", err)
	}
	defer out.Close()
	if err := subtitle.WriteVTT(out, parsed); err != nil {
		removeIfExists(sidecar)
		return err
	}

	log.Info("Subtitles extracted to %s", sidecar)
	return nil
}

func (e *Engine) extractSubArgs(input string, streamIndex int) []string {
	return []string{
		"-i", input,
		"-map", "0:" + strconv.Itoa(streamIndex),
		"-c:s", "srt",
		"-f", "srt",
		"pipe:1",
	}
}

func (e *Engine) track(cmd *exec.Cmd, stdin io.WriteCloser, temp string) {
	e.mu.Lock()
	e.current = cmd
	e.currentIn = stdin
	e.currentTemp = temp
	e.mu.Unlock()
}

func (e *Engine) untrack(cmd *exec.Cmd) {
	e.mu.Lock()
	if e.current == cmd {
		e.current = nil
		e.currentIn = nil
		e.currentTemp = ""
	}
	e.mu.Unlock()
}

// Abort asks the in-flight conversion to quit gracefully and removes its
// partial output. Cooperative: the process may take a moment to exit.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return
	}
	if e.currentIn != nil {
		// ffmpeg treats 'q' on stdin as a graceful quit request.
		_, _ = io.WriteString(e.currentIn, "q")
	}
	if e.currentTemp != "" {
		removeIfExists(e.currentTemp)
	}
	e.current = nil
	e.currentIn = nil
	e.currentTemp = ""
}

func removeIfExists(path string) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			log.Warn("Failed to remove %s: %v", path, err)
		}
	}
}
