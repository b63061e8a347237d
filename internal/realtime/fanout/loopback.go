package fanout

import (
	"context"
	"sync"
)

// Loopback is an in-process Fanout for single-process deployments and
// tests. Multiple Loopback instances created from the same Exchange
// simulate multiple gateway processes sharing one channel.
type Loopback struct {
	exchange *Exchange
}

// Exchange is the shared medium behind Loopback instances.
type Exchange struct {
	mu   sync.RWMutex
	subs []*subscription
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

// NewExchange creates a shared in-process exchange.
func NewExchange() *Exchange {
	return &Exchange{}
}

// Attach creates a Loopback bound to this exchange.
func (e *Exchange) Attach() *Loopback {
	return &Loopback{exchange: e}
}

// NewLoopback creates a standalone single-process fanout.
func NewLoopback() *Loopback {
	return NewExchange().Attach()
}

func (l *Loopback) Publish(ctx context.Context, data []byte) error {
	l.exchange.mu.RLock()
	subs := make([]*subscription, len(l.exchange.subs))
	copy(subs, l.exchange.subs)
	l.exchange.mu.RUnlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		sub.handler(data)
	}
	return nil
}

func (l *Loopback) Subscribe(ctx context.Context, handler Handler) error {
	l.exchange.mu.Lock()
	defer l.exchange.mu.Unlock()
	l.exchange.subs = append(l.exchange.subs, &subscription{ctx: ctx, handler: handler})
	return nil
}

func (l *Loopback) Close() error {
	return nil
}

var _ Fanout = (*Loopback)(nil)
