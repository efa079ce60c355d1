// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package bus fans plugin lifecycle transitions out to subscribers.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/plugin"
)

// DefaultDeliveryTimeout bounds a single handler call.
const DefaultDeliveryTimeout = 5 * time.Second

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Handler receives transitions.
type Handler interface {
	HandleTransition(ctx context.Context, t plugin.Transition) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t plugin.Transition) error

// HandleTransition implements Handler.
func (f HandlerFunc) HandleTransition(ctx context.Context, t plugin.Transition) error {
	return f(ctx, t)
}

// subscription tracks which transitions a handler wants.
type subscription struct {
	name    string
	handler Handler
	plugins map[string]bool       // empty = all plugins
	states  map[plugin.State]bool // empty = all target states
}

func (s subscription) matches(t plugin.Transition) bool {
	if len(s.plugins) > 0 && !s.plugins[t.Plugin] {
		return false
	}
	if len(s.states) > 0 && !s.states[t.To] {
		return false
	}
	return true
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscription)

// ForPlugins limits delivery to transitions of the named plugins.
func ForPlugins(names ...string) SubscribeOption {
	return func(s *subscription) {
		for _, n := range names {
			s.plugins[n] = true
		}
	}
}

// ForStates limits delivery to transitions into the given states.
func ForStates(states ...plugin.State) SubscribeOption {
	return func(s *subscription) {
		for _, st := range states {
			s.states[st] = true
		}
	}
}

// Option configures a Bus.
type Option func(*Bus)

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.timeout = d
	}
}

// Bus is an in-process plugin.Publisher that delivers each transition to
// every matching subscriber on its own goroutine.
type Bus struct {
	logger  *slog.Logger
	timeout time.Duration

	mu            sync.RWMutex
	subscriptions []subscription
	closed        bool
	wg            sync.WaitGroup
}

var _ plugin.Publisher = (*Bus)(nil)

// New creates a bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:  logger,
		timeout: DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named handler.
func (b *Bus) Subscribe(name string, h Handler, opts ...SubscribeOption) error {
	if h == nil {
		return oops.Code(plugin.CodeInvalidArgument).With("argument", "handler").Errorf("handler is required")
	}
	sub := subscription{
		name:    name,
		handler: h,
		plugins: make(map[string]bool),
		states:  make(map[plugin.State]bool),
	}
	for _, opt := range opts {
		opt(&sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subscriptions = append(b.subscriptions, sub)
	return nil
}

// Subscribers returns subscription names in registration order.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		names = append(names, s.name)
	}
	return slices.Clip(names)
}

// Publish implements plugin.Publisher. Delivery is asynchronous; handler
// failures are logged and never reported to the publisher.
func (b *Bus) Publish(ctx context.Context, t plugin.Transition) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.subscriptions {
		if sub.matches(t) {
			b.deliverAsync(ctx, sub, t)
		}
	}
	return nil
}

// Close stops accepting transitions and waits for in-flight deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) deliverAsync(ctx context.Context, sub subscription, t plugin.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		if err := sub.handler.HandleTransition(ctx, t); err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				b.logger.Warn("transition delivery timed out",
					"subscriber", sub.name,
					"transition", t,
					"timeout", b.timeout.String())
			default:
				b.logger.Error("failed to deliver transition",
					"subscriber", sub.name,
					"transition", t,
					"error", err)
			}
		}
	}()
}
