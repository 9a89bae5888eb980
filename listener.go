package chanq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/chanq/backoff"
	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/id"
)

// Handler processes one claimed event. A non-nil error (or a panic) is
// logged and swallowed: the loop continues and the event, still leased,
// becomes redeliverable once its lease expires.
type Handler func(ctx context.Context, msg *event.Message) error

// State is the lifecycle state of a Listener.
type State int32

const (
	// StateRunning means the consumption loop is polling.
	StateRunning State = iota
	// StateStopping means Stop was called; the loop exits at its next
	// polling boundary.
	StateStopping
	// StateStopped is terminal: the loop has returned.
	StateStopped
)

// String returns the state label used in logs.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener is one running consumption loop bound to exactly one channel
// and one handler. Create it with Channel.Listen.
type Listener struct {
	id           id.ListenerID
	channel      string
	handler      Handler
	backend      event.Backend
	logger       *slog.Logger
	pollInterval time.Duration
	autoAck      bool
	limiter      *rate.Limiter
	strategy     backoff.Strategy

	// ctx is cancelled by Stop. Cancellation is cooperative: it cuts the
	// polling boundaries (dequeue, empty-poll wait, limiter wait) but
	// never a handler already running — handlers and their acks get a
	// non-cancellable child context.
	ctx    context.Context
	cancel context.CancelFunc

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}

	// onStop runs once when the loop returns; the owning Channel uses it
	// to drop its reference to the listener.
	onStop func()
}

// ListenOption configures a Listener.
type ListenOption func(*Listener)

// WithPollInterval overrides the channel's poll interval for this
// listener.
func WithPollInterval(d time.Duration) ListenOption {
	return func(l *Listener) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithAutoAck controls whether events are acknowledged automatically after
// the handler returns nil. Defaults to true; with false the handler owns
// ack/nack.
func WithAutoAck(auto bool) ListenOption {
	return func(l *Listener) { l.autoAck = auto }
}

// WithBackoff sets the wait strategy applied after empty polls and dequeue
// errors. The default is a constant wait of the poll interval; an
// exponential strategy makes a long-idle listener progressively cheaper.
func WithBackoff(s backoff.Strategy) ListenOption {
	return func(l *Listener) {
		if s != nil {
			l.strategy = s
		}
	}
}

// WithRateLimit caps sustained dequeues per second for this listener using
// a token bucket. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ListenOption {
	return func(l *Listener) {
		if perSecond <= 0 {
			l.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func newListener(backend event.Backend, channel string, handler Handler, pollInterval time.Duration, logger *slog.Logger, opts ...ListenOption) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		id:           id.NewListenerID(),
		channel:      channel,
		handler:      handler,
		backend:      backend,
		logger:       logger,
		pollInterval: pollInterval,
		autoAck:      true,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.strategy == nil {
		l.strategy = backoff.NewConstant(l.pollInterval)
	}
	return l
}

// ID returns the listener's unique identifier.
func (l *Listener) ID() id.ListenerID { return l.id }

// Channel returns the channel name this listener consumes.
func (l *Listener) Channel() string { return l.channel }

// State returns the listener's lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) start() {
	l.state.Store(int32(StateRunning))
	l.logger.Debug("listener starting",
		slog.String("listener_id", l.id.String()),
		slog.String("channel", l.channel),
	)
	go l.run()
}

// Stop signals the loop to exit at its next polling boundary and waits for
// it to finish, or until ctx expires. Idempotent; an in-flight handler
// always runs to completion.
func (l *Listener) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		l.cancel()
	})

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) run() {
	defer func() {
		l.state.Store(int32(StateStopped))
		if l.onStop != nil {
			l.onStop()
		}
		close(l.done)
		l.logger.Debug("listener stopped",
			slog.String("listener_id", l.id.String()),
			slog.String("channel", l.channel),
		)
	}()

	idle := 0
	for {
		if l.ctx.Err() != nil {
			return
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(l.ctx); err != nil {
				return
			}
		}

		msg, err := l.backend.Dequeue(l.ctx, l.channel)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.logger.Error("dequeue error",
				slog.String("listener_id", l.id.String()),
				slog.String("channel", l.channel),
				slog.String("error", err.Error()),
			)
			idle++
			if !waitForWork(l.ctx, l.backend, l.channel, l.strategy.Delay(idle)) {
				return
			}
			continue
		}

		if msg == nil {
			idle++
			if !waitForWork(l.ctx, l.backend, l.channel, l.strategy.Delay(idle)) {
				return
			}
			continue
		}

		idle = 0
		l.invoke(msg)
	}
}

// invoke runs the handler for one event. Handler errors and panics are
// logged and swallowed; the still-leased event recovers via lease expiry.
// The handler context is detached from Stop's cancellation so a cycle in
// flight when Stop arrives completes, including its ack.
func (l *Listener) invoke(msg *event.Message) {
	ctx := context.WithoutCancel(l.ctx)

	err := l.safeHandle(ctx, msg)
	if err != nil {
		l.logger.Warn("handler failed, event redelivers on lease expiry",
			slog.String("listener_id", l.id.String()),
			slog.String("channel", l.channel),
			slog.String("event_id", msg.ID.String()),
			slog.Int("attempts", msg.Attempts),
			slog.String("error", err.Error()),
		)
		return
	}

	if !l.autoAck {
		return
	}
	if ackErr := l.backend.Ack(ctx, msg.ID); ackErr != nil {
		l.logger.Error("ack failed",
			slog.String("listener_id", l.id.String()),
			slog.String("event_id", msg.ID.String()),
			slog.String("error", ackErr.Error()),
		)
	}
}

func (l *Listener) safeHandle(ctx context.Context, msg *event.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler(ctx, msg)
}
