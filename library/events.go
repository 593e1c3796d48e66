package library

import (
	"fmt"

	"github.com/bodgit/romlib"
)

// EventType identifies the kind of an Event
type EventType int

// Scan events, in the order a scan produces them
const (
	EventStarted EventType = iota
	EventRecord
	EventSkipped
	EventProgress
	EventFinished
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventRecord:
		return "record"
	case EventSkipped:
		return "skipped"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is a notification from a running scan. Only the fields relevant to
// Type are set
type Event struct {
	Type EventType
	// Record is the identified game for EventRecord
	Record romlib.GameRecord
	// Path is the file an EventRecord, EventSkipped or EventProgress
	// refers to
	Path string
	// Progress is the fraction of queued files processed
	Progress float64
	// Err is why the file of an EventSkipped was rejected
	Err error
	// Stats is a snapshot of the scan counters
	Stats Stats
}

// Stats counts what a scan has done so far
type Stats struct {
	// Files is how many files were queued
	Files int
	// Processed is how many queued files have been handled
	Processed int
	Added     int
	// Skipped counts files that are not games or could not be identified
	Skipped int
	// Duplicates counts games that were already catalogued
	Duplicates int
	Bios       int
	// Failed counts files that could not be read or looked up
	Failed int
	// Conflicts counts files where the header signature and the checksum
	// table disagree on the system
	Conflicts int
	BytesRead uint64
}
