// Package transport connects to the pub/sub broker and delivers raw
// (topic, payload) pairs to a handler.
package transport

import (
	"context"
	"time"
)

// Message is one raw delivery from the broker
type Message struct {
	Topic    string
	Payload  []byte
	Received time.Time
}

// Handler receives messages. Implementations call it sequentially.
type Handler func(Message)

// Subscriber streams messages from a topic hierarchy until ctx is done
type Subscriber interface {
	// Run blocks until ctx is cancelled or the subscription fails
	Run(ctx context.Context, handle Handler) error
}
