package subtitle

import "time"

// Line represents a single subtitle cue
type Line struct {
	Index     int           // cue index
	StartTime time.Duration // start time
	EndTime   time.Duration // end time
	Text      string        // cue text
}

// File represents a parsed subtitle track
type File struct {
	Lines  []Line
	Format string // e.g. SRT, VTT
}
