package domain

import "context"

// RequestQueue hands inbound requests from the channel to the worker.
type RequestQueue interface {
	Publish(ctx context.Context, req InboundRequest) error
	Subscribe() <-chan InboundRequest
	Close()
}
