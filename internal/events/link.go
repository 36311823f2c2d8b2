package events

import "time"

// LinkFlushStart is emitted when a link batch is sent to its executor.
type LinkFlushStart struct {
	Link    string
	BatchID uint64
	Query   string
	Fields  int
}

// LinkFlushFinish is emitted when a link batch has been answered.
type LinkFlushFinish struct {
	Link     string
	BatchID  uint64
	Fields   int
	Err      error
	Duration time.Duration
}
