// Package fanout provides the cross-process broadcast channel. Gateway
// processes behind a load balancer publish envelopes here so peers can
// deliver to their own connected sockets.
package fanout

import "context"

// Handler consumes one raw envelope from the channel.
type Handler func(data []byte)

// Fanout is a process-to-process publish/subscribe channel.
// Implementations preserve per-publisher FIFO order but give no
// cross-publisher ordering guarantee.
type Fanout interface {
	// Publish sends a payload to every subscribed process, including
	// the publisher itself.
	Publish(ctx context.Context, data []byte) error

	// Subscribe registers a handler and returns immediately; the
	// handler runs until ctx is canceled or the fanout is closed.
	Subscribe(ctx context.Context, handler Handler) error

	// Close tears down the channel.
	Close() error
}
