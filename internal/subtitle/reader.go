package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseSRT reads SRT cues from r.
func ParseSRT(r io.Reader) (*File, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)

	currentLine := Line{}
	state := "index" // possible values: "index", "time", "text"
	var textLines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case "index":
			if line == "" {
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue // skip non-index lines
			}
			currentLine.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			startTime, endTime, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			currentLine.StartTime = startTime
			currentLine.EndTime = endTime
			state = "text"
			textLines = []string{}

		case "text":
			if line == "" {
				// cue text ends
				if len(textLines) > 0 {
					currentLine.Text = strings.Join(textLines, "\n")
					lines = append(lines, currentLine)
					currentLine = Line{}
				}
				state = "index"
				textLines = []string{}
			} else {
				textLines = append(textLines, line)
			}
		}
	}

	// handle last cue
	if state == "text" && len(textLines) > 0 {
		currentLine.Text = strings.Join(textLines, "\n")
		lines = append(lines, currentLine)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitles: %w", err)
	}

	return &File{
		Lines:  lines,
		Format: "SRT",
	}, nil
}

var srtTimePattern = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// parseSRTTime parses an SRT time line: 00:02:16,612 --> 00:02:19,376
func parseSRTTime(timeString string) (time.Duration, time.Duration, error) {
	matches := srtTimePattern.FindStringSubmatch(timeString)
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", timeString)
	}

	parseTime := func(hours, minutes, seconds, milliseconds string) time.Duration {
		h, _ := strconv.Atoi(hours)
		m, _ := strconv.Atoi(minutes)
		s, _ := strconv.Atoi(seconds)
		ms, _ := strconv.Atoi(milliseconds)

		return time.Duration(h)*time.Hour +
			time.Duration(m)*time.Minute +
			time.Duration(s)*time.Second +
			time.Duration(ms)*time.Millisecond
	}

	startTime := parseTime(matches[1], matches[2], matches[3], matches[4])
	endTime := parseTime(matches[5], matches[6], matches[7], matches[8])

	return startTime, endTime, nil
}
