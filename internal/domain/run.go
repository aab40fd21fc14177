package domain

import "time"

// RunRecord summarises one workflow invocation for the run history.
// Source and verdict texts are not kept, only their lengths.
type RunRecord struct {
	ID          string
	ChatID      int64
	UpdateID    int
	SourceLen   int
	VerdictLen  int
	ChunksTotal int
	ChunksSent  int
	Sent        bool
	Error       string
	StartedAt   time.Time
	Duration    time.Duration
}
