package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// WriteVTT serializes the subtitle file as WebVTT, the delivery format.
func WriteVTT(w io.Writer, subtitle *File) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	writer := bufio.NewWriter(w)

	if _, err := fmt.Fprint(writer, "WEBVTT\n\n"); err != nil {
		return err
	}

	for _, line := range subtitle.Lines {
		startTime := formatVTTDuration(line.StartTime)
		endTime := formatVTTDuration(line.EndTime)
		fmt.Fprintf(writer, "%s --> %s\n", startTime, endTime)
		fmt.Fprintf(writer, "%s\n\n", line.Text)
	}

	return writer.Flush()
}

// formatVTTDuration renders a duration as 00:02:16.612 (dot separator, unlike SRT).
func formatVTTDuration(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
