package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"validator-watch/internal/solana"
)

// Kind identifies an event type.
type Kind string

const (
	EpochChanged        Kind = "epoch-changed"
	SubscriptionChanged Kind = "subscription-changed"
)

// Action describes a subscription change.
type Action string

const (
	Added   Action = "added"
	Removed Action = "removed"
)

// ErrClosed is returned when publishing after the bus stopped.
var ErrClosed = errors.New("events: bus closed")

// Event is a bus message. Subscription fields are only set for SubscriptionChanged.
type Event struct {
	Kind        Kind
	Network     solana.Network
	VoteAddress string
	Action      Action
}

// EpochChange builds an epoch-changed event.
func EpochChange() Event {
	return Event{Kind: EpochChanged}
}

// Subscription builds a subscription-changed event.
func Subscription(network solana.Network, voteAddress string, action Action) Event {
	return Event{Kind: SubscriptionChanged, Network: network, VoteAddress: voteAddress, Action: action}
}

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event) error

// Bus is an in-process publish/subscribe channel. Handlers run one event at a
// time on the goroutine executing Run, in publish order.
type Bus struct {
	logger zerolog.Logger
	queue  chan Event

	mu       sync.RWMutex
	handlers map[Kind][]Handler
	closed   bool
	done     chan struct{}
}

// NewBus constructs a bus with the given queue capacity.
func NewBus(capacity int, logger zerolog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		logger:   logger.With().Str("component", "event_bus").Logger(),
		queue:    make(chan Event, capacity),
		handlers: make(map[Kind][]Handler),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish enqueues ev, blocking while the queue is full.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case b.queue <- ev:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued events until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	defer b.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

// Deliver runs the handlers of ev synchronously on the caller's goroutine.
func (b *Bus) Deliver(ctx context.Context, ev Event) {
	b.deliver(ctx, ev)
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}
}

// invoke runs one handler. A panic is logged and the remaining handlers still run.
func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) {
	logger := b.logger.With().
		Str("kind", string(ev.Kind)).
		Str("network", string(ev.Network)).
		Str("vote_address", ev.VoteAddress).
		Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()
	if err := h(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("event handler failed")
	}
}

func (b *Bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}
