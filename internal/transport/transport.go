// Package transport defines the boundary to the live subscription
// layer that delivers BSA value and rate updates. The stream core only
// sees this interface; the real channel-access client and the
// simulator both sit behind it.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an address is unknown to the
	// transport.
	ErrNotFound = errors.New("address not found")
	// ErrNoHistory is returned when a history buffer read fails or the
	// buffer is not yet populated.
	ErrNoHistory = errors.New("history buffer unavailable")
)

// ValueCallback receives one streamed scalar sample. timestampNanos is
// the raw nanoseconds field of the source timestamp; its low 14 bits
// carry the pulse ID.
type ValueCallback func(value float64, timestampNanos uint64)

// RateCallback receives beam rate readback updates in Hz.
type RateCallback func(rate float64)

// Subscription is a handle on an active callback registration.
type Subscription interface {
	// ID identifies the subscription for logging.
	ID() string
	// Cancel detaches the callback. No delivery happens after Cancel
	// returns. Cancel is idempotent.
	Cancel()
}

// History is an initial buffer snapshot: exactly one full buffer of
// values plus the timestamp of the newest element.
type History struct {
	Values     []float64
	NewestNano uint64
}

// Transport delivers live updates and one-shot reads for named
// channels.
type Transport interface {
	// Subscribe starts streaming (value, timestamp) events for a data
	// channel into cb.
	Subscribe(address string, cb ValueCallback) (Subscription, error)
	// SubscribeRate starts streaming rate readback updates into cb.
	SubscribeRate(address string, cb RateCallback) (Subscription, error)
	// ReadRate reads the current rate readback once.
	ReadRate(address string) (float64, error)
	// ReadHistory fetches the initial history buffer for a history
	// channel.
	ReadHistory(ctx context.Context, address string) (History, error)
	// Close cancels all subscriptions.
	Close() error
}
