package domain

import "time"

// InboundRequest is one chat message waiting to be assessed.
type InboundRequest struct {
	SourceText  string
	ChatID      int64
	IndicatorID int   // processing indicator message ID; 0 when none was posted
	UpdateID    int   // Telegram update ID, for logs and history
	SenderID    int64
	ReceivedAt  time.Time
}

// HasIndicator reports whether a processing indicator was posted for the request.
func (r InboundRequest) HasIndicator() bool { return r.IndicatorID > 0 }

// AssessmentResult pairs a verdict with the chat it must be delivered to.
type AssessmentResult struct {
	VerdictText string
	ChatID      int64
	IndicatorID int
}

// DeliveryOutcome is the terminal result of the delivery pipeline.
// Sent is true only when every chunk was transmitted.
type DeliveryOutcome struct {
	Sent        bool
	ChunksTotal int
	ChunksSent  int
	Err         error
}
