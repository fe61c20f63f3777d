package publisher

import (
	"context"
	"log/slog"
	"sync"

	audit "knomee/pkg/platform/audit"
)

// Sink receives a copy of every published event, typically for export to an
// external pipeline (Kafka). Sinks must not block for long; slow sinks delay
// the async drain, never the emitting request.
type Sink interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Publisher persists audit events to a store, optionally asynchronously, and
// fans out to an export sink when one is configured.
type Publisher struct {
	store  audit.Store
	sink   Sink
	logger *slog.Logger

	inbox chan audit.Event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given buffer.
// Emit never blocks until the buffer fills.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan audit.Event, size)
		}
	}
}

// WithSink attaches an export sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) { p.sink = sink }
}

// WithLogger attaches a logger for drop/error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher creates a publisher writing to store. Synchronous unless
// WithAsyncBuffer is supplied.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. In async mode the event is queued; queue errors are
// logged rather than surfaced so audit never fails a domain operation.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if p.inbox != nil {
		select {
		case p.inbox <- event:
		default:
			p.logWarn("audit inbox full, persisting synchronously", event)
			p.persist(context.WithoutCancel(ctx), event)
		}
		return nil
	}
	p.persist(ctx, event)
	return nil
}

// Close drains queued events and stops the background worker.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		p.persist(context.Background(), event)
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logWarn("audit append failed", event)
	}
	if p.sink != nil {
		if err := p.sink.Emit(ctx, event); err != nil {
			p.logWarn("audit sink emit failed", event)
		}
	}
}

func (p *Publisher) logWarn(msg string, event audit.Event) {
	if p.logger != nil {
		p.logger.Warn(msg, "action", event.Action, "subject", event.Subject)
	}
}
