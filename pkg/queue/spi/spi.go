/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package spi defines the message queue abstraction used by the outbox for
// durable, delayed delivery of activities. At-least-once delivery is
// expected of implementations; the inbox tolerates duplicates via its
// idempotence store, the outbox does not deduplicate.
package spi

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// EnqueueOptions holds options for Queue.Enqueue.
type EnqueueOptions struct {
	// Delay is the minimum time before the message is delivered to a
	// subscriber. Zero means deliver as soon as possible.
	Delay time.Duration
}

// EnqueueOption sets an option on an Enqueue operation.
type EnqueueOption func(*EnqueueOptions)

// WithDelay sets the delivery delay.
// Note: Not all message brokers support this option natively; some emulate
// it with a wait queue.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.Delay = delay
	}
}

// NewEnqueueOptions returns EnqueueOptions populated from the given options.
func NewEnqueueOptions(opts ...EnqueueOption) *EnqueueOptions {
	options := &EnqueueOptions{}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// Queue is a durable message queue with delayed enqueue.
type Queue interface {
	// Enqueue posts the message to the queue.
	Enqueue(msg *message.Message, opts ...EnqueueOption) error
	// Subscribe returns the channel over which queued messages are
	// delivered. Messages must be Acked or Nacked by the consumer.
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
	// Close closes the queue.
	Close() error
}
