package stream

import (
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mfranzen/videoforge/pkg/log"
)

// Session owns the single live transcode slot. Playing a new file (or seeking
// within the current one) supersedes whatever was running; the old encoder
// process is signalled before the new one starts, so repeated seeks never
// accumulate processes.
type Session struct {
	ffmpegCmd string
	delay     time.Duration

	mu      sync.Mutex
	current *exec.Cmd
}

func NewSession(ffmpegCmd string, delay time.Duration) *Session {
	return &Session{ffmpegCmd: ffmpegCmd, delay: delay}
}

// Play transcodes path from the seek offset (seconds) into a fragmented,
// progressively playable container written straight to the response. Blocks
// until the encoder finishes, the client goes away or the session is
// superseded.
func (s *Session) Play(w http.ResponseWriter, path string, seek int) error {
	cmd := exec.Command(s.ffmpegCmd, s.args(path, seek)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stopLocked()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.current = cmd
	s.mu.Unlock()

	log.Info("Live session started for %s (seek %ds)", path, seek)

	w.Header().Set("Content-Type", "video/mp4")

	// Give the encoder a head start so early reads do not stutter while it
	// fills its first fragments.
	time.Sleep(s.delay)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 64*1024)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				log.Info("Live session client went away: %v", writeErr)
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				log.Warn("Live session read error: %v", readErr)
			}
			break
		}
	}

	err = cmd.Wait()

	s.mu.Lock()
	superseded := s.current != cmd
	if !superseded {
		s.current = nil
	}
	s.mu.Unlock()

	if superseded {
		log.Info("Live session for %s superseded", path)
		return nil
	}
	if err != nil {
		log.Warn("Live session for %s ended: %v", path, err)
	} else {
		log.Info("Live session for %s finished", path)
	}
	return nil
}

// Stop aborts the current session without starting a new one.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.current == nil {
		return
	}
	if err := s.current.Process.Signal(os.Interrupt); err != nil {
		log.Warn("Failed to signal live encoder: %v", err)
	}
	s.current = nil
}

func (s *Session) args(path string, seek int) []string {
	return []string{
		"-hwaccel", "nvdec",
		"-ss", strconv.Itoa(seek),
		"-i", path,
		"-vsync", "0",
		"-c:v", "h264_nvenc",
		"-acodec", "libmp3lame",
		"-b:v", "5M",
		"-sn",
		"-movflags", "frag_keyframe+empty_moov+faststart",
		"-frag_size", "4096",
		"-f", "mp4",
		"pipe:1",
	}
}
