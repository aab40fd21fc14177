package domain

import "context"

// Assessor produces a free-form verdict for a claim.
// Implementations return *AssessmentError on any failure.
type Assessor interface {
	Assess(ctx context.Context, text string) (string, error)
}

// Messenger is the outbound capability of a chat platform.
type Messenger interface {
	// SendMessage transmits one message and returns its platform message ID.
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
