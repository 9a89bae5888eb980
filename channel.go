package chanq

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
	"github.com/xraph/chanq/store"
)

// Channel is the public producer/consumer surface over one backend.
// It is safe for concurrent use.
type Channel struct {
	backend event.Backend
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	listeners map[string]*Listener
	closed    bool
}

// Option configures a Channel.
type Option func(*Channel) error

// WithConfig sets the channel configuration. Zero-valued fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Channel) error {
		c.cfg = cfg.withDefaults()
		return nil
	}
}

// WithLogger sets the structured logger for the channel and everything
// constructed under it.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) error {
		c.logger = l
		return nil
	}
}

// Open creates a Channel over a database session. The backend is resolved
// once, here: the configured preference is tried against the registry and
// any resolution failure falls back to the table-backed store with a
// warning.
func Open(sess store.Session, opts ...Option) (*Channel, error) {
	c, err := newChannel(opts)
	if err != nil {
		return nil, err
	}

	backend, err := resolveBackend(sess, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.backend = backend

	c.logger.Debug("channel opened",
		slog.String("backend", backend.Name()),
		slog.String("table", c.cfg.Table),
	)
	return c, nil
}

// OpenBackend creates a Channel over an explicit backend, bypassing
// registry resolution. Used for non-relational backends (store/redis,
// store/memory) and tests.
func OpenBackend(backend event.Backend, opts ...Option) (*Channel, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	c, err := newChannel(opts)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	return c, nil
}

func newChannel(opts []Option) (*Channel, error) {
	c := &Channel{
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		listeners: make(map[string]*Listener),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Backend returns the resolved backend.
func (c *Channel) Backend() event.Backend { return c.backend }

// Publish inserts a new event on the named channel and returns its ID.
func (c *Channel) Publish(ctx context.Context, channel string, payload, metadata map[string]any) (id.EventID, error) {
	if err := c.guard(channel); err != nil {
		return id.Nil, err
	}
	return c.backend.Publish(ctx, channel, payload, metadata)
}

// Dequeue claims one event from the named channel, or returns (nil, nil)
// when nothing is claimable right now.
func (c *Channel) Dequeue(ctx context.Context, channel string) (*event.Message, error) {
	if err := c.guard(channel); err != nil {
		return nil, err
	}
	return c.backend.Dequeue(ctx, channel)
}

// Ack acknowledges a consumed event. Idempotent.
func (c *Channel) Ack(ctx context.Context, eventID id.EventID) error {
	if err := c.guardClosed(); err != nil {
		return err
	}
	return c.backend.Ack(ctx, eventID)
}

// Nack returns a leased event to the queue, making it immediately
// claimable again. Idempotent.
func (c *Channel) Nack(ctx context.Context, eventID id.EventID) error {
	if err := c.guardClosed(); err != nil {
		return err
	}
	return c.backend.Nack(ctx, eventID)
}

// Events returns a lazy, infinite pull iterator over the named channel.
// Empty polls suspend for the configured poll interval (or until a backend
// notification, when the backend supports it). The sequence never ends on
// its own: it stops when ctx is done or the consumer breaks out. Every
// blocking point observes ctx, so the iterator is safe to drive from a
// cooperative scheduler.
//
// Events requires a backend with async capability.
func (c *Channel) Events(ctx context.Context, channel string) iter.Seq2[*event.Message, error] {
	return func(yield func(*event.Message, error) bool) {
		if err := c.guard(channel); err != nil {
			yield(nil, err)
			return
		}
		if !c.backend.Capabilities().Async {
			yield(nil, ErrAsyncUnsupported)
			return
		}

		for {
			if ctx.Err() != nil {
				return
			}

			msg, err := c.backend.Dequeue(ctx, channel)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(nil, err) {
					return
				}
				// A persistent backend error must not spin the loop:
				// hold for the poll interval before the next attempt.
				if !sleep(ctx, c.cfg.PollInterval) {
					return
				}
				continue
			}
			if msg == nil {
				if !waitForWork(ctx, c.backend, channel, c.cfg.PollInterval) {
					return
				}
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Listen spawns one background consumption loop bound to the named
// channel and handler. The returned Listener is already running.
//
// Listen requires a backend with blocking capability.
func (c *Channel) Listen(channel string, handler Handler, opts ...ListenOption) (*Listener, error) {
	if err := c.guard(channel); err != nil {
		return nil, err
	}
	if !c.backend.Capabilities().Blocking {
		return nil, ErrBlockingUnsupported
	}
	if handler == nil {
		return nil, ErrNoHandler
	}

	l := newListener(c.backend, channel, handler, c.cfg.PollInterval, c.logger, opts...)
	l.onStop = func() {
		c.mu.Lock()
		delete(c.listeners, l.ID().String())
		c.mu.Unlock()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.listeners[l.ID().String()] = l
	c.mu.Unlock()

	l.start()
	return l, nil
}

// Listeners returns the listeners spawned on this channel that have not
// been stopped.
func (c *Channel) Listeners() []*Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.State() != StateStopped {
			out = append(out, l)
		}
	}
	return out
}

// Shutdown stops every active listener and then closes the backend, so a
// listener that stops in time never observes a closed backend mid-cycle.
// When ctx expires before a listener finishes, that listener is abandoned
// and the backend closes anyway: the straggler's remaining cycle may fail
// against the closed backend, and those failures are logged, not returned.
// Idempotent: a second call is a no-op returning nil.
func (c *Channel) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := make([]*Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error { return l.Stop(gctx) })
	}
	if err := g.Wait(); err != nil {
		// Listeners that missed the deadline are abandoned; the backend
		// still closes so resources are not leaked.
		c.logger.Warn("listener stop timed out during shutdown",
			slog.String("error", err.Error()),
		)
	}

	return c.backend.Close()
}

// guard validates the channel name and the channel lifecycle before an
// operation touches the backend.
func (c *Channel) guard(channel string) error {
	if err := c.guardClosed(); err != nil {
		return err
	}
	if !event.ValidIdent(channel) {
		return ErrInvalidChannel
	}
	return nil
}

func (c *Channel) guardClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	return nil
}

// waitForWork suspends after an empty poll: on a notifying backend it
// blocks until a publish hint or the poll interval, otherwise it just
// sleeps. Returns false when ctx ended the wait.
func waitForWork(ctx context.Context, b event.Backend, channel string, interval time.Duration) bool {
	if n, ok := b.(event.Notifier); ok {
		_ = n.WaitForEvent(ctx, channel, interval)
		return ctx.Err() == nil
	}
	return sleep(ctx, interval)
}

// sleep blocks for the given duration. Returns false when ctx ended the
// wait early.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
