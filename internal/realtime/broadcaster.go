package realtime

import (
	"context"
	"log/slog"

	"github.com/vitrin-io/vitrin-go/internal/platform/logutil"
	"github.com/vitrin-io/vitrin-go/internal/realtime/fanout"
)

// Broadcaster publishes envelopes to rooms.
type Broadcaster interface {
	Publish(ctx context.Context, envelope *Envelope) error
}

// LocalSink receives envelopes for delivery to locally-connected
// sockets. The gateway hub implements this.
type LocalSink interface {
	Deliver(envelope *Envelope)
}

// Bus is the Broadcaster implementation: it hands every envelope to the
// local sink and, for ScopeAll, forwards it through the fanout channel.
type Bus struct {
	origin string
	sink   LocalSink
	fanout fanout.Fanout
	logger *slog.Logger
}

// NewBus creates a Bus. origin must be unique per process (the fanout
// echo filter relies on it). fanout may be nil for single-process runs.
func NewBus(origin string, sink LocalSink, fo fanout.Fanout, logger *slog.Logger) *Bus {
	return &Bus{
		origin: origin,
		sink:   sink,
		fanout: fo,
		logger: logutil.NoopIfNil(logger),
	}
}

// Start subscribes to the fanout channel and delivers remote envelopes
// to the local sink. It returns immediately; delivery runs until ctx is
// canceled. No-op when the bus has no fanout.
func (b *Bus) Start(ctx context.Context) error {
	if b.fanout == nil {
		return nil
	}
	return b.fanout.Subscribe(ctx, func(data []byte) {
		envelope, err := DecodeEnvelope(data)
		if err != nil {
			b.logger.Warn("dropping undecodable fanout envelope", "error", err)
			return
		}
		if envelope.Origin == b.origin {
			// Already delivered locally when it was published here.
			return
		}
		b.sink.Deliver(envelope)
	})
}

// Publish delivers the envelope locally, then forwards it when the
// scope asks for all processes. Local delivery happens first so the
// originating process observes its own events even if the fanout
// backend is down.
func (b *Bus) Publish(ctx context.Context, envelope *Envelope) error {
	if len(envelope.Rooms) == 0 {
		return nil
	}

	b.sink.Deliver(envelope)

	if envelope.Scope != ScopeAll || b.fanout == nil {
		return nil
	}

	envelope.Origin = b.origin
	data, err := envelope.Encode()
	if err != nil {
		return err
	}
	return b.fanout.Publish(ctx, data)
}

var _ Broadcaster = (*Bus)(nil)
