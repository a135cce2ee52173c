/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package memqueue provides an in-process message queue using Go channels.
// This implementation works only on a single node. In order to distribute
// delivery across a cluster, a persistent message queue (such as RabbitMQ)
// should instead be used.
package memqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/queue/spi"
)

var logger = log.New("memqueue")

const (
	defaultTimeout    = 30 * time.Second
	defaultBufferSize = 20
)

// ErrClosed is returned when an operation is attempted on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Config holds the configuration for the queue.
type Config struct {
	// Timeout is the time to wait for an Ack or a Nack before the message
	// is redelivered.
	Timeout time.Duration

	// BufferSize is the size of the Go channel buffer for a subscription.
	BufferSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:    defaultTimeout,
		BufferSize: defaultBufferSize,
	}
}

// Queue is an in-process message queue with support for delayed delivery.
type Queue struct {
	*Config

	mutex       sync.Mutex
	subscribers []chan *message.Message
	pending     []*message.Message
	rr          int
	closed      bool
	done        chan struct{}
}

// New returns a new in-process queue.
func New(cfg *Config) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Queue{
		Config: cfg,
		done:   make(chan struct{}),
	}
}

// Enqueue posts the message to the queue. A delayed message is held by a
// timer and delivered when the delay elapses.
func (q *Queue) Enqueue(msg *message.Message, opts ...spi.EnqueueOption) error {
	q.mutex.Lock()
	closed := q.closed
	q.mutex.Unlock()

	if closed {
		return ErrClosed
	}

	options := spi.NewEnqueueOptions(opts...)

	if options.Delay <= 0 {
		q.deliver(msg)

		return nil
	}

	logger.Debug("Delaying message delivery", logfields.WithMessageID(msg.UUID),
		logfields.WithBackoffDelay(options.Delay))

	time.AfterFunc(options.Delay, func() {
		select {
		case <-q.done:
		default:
			q.deliver(msg)
		}
	})

	return nil
}

// Subscribe returns the channel over which queued messages are delivered.
// The returned channel is closed when Close() is called on the queue.
func (q *Queue) Subscribe(_ context.Context) (<-chan *message.Message, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	msgChan := make(chan *message.Message, q.BufferSize)

	q.subscribers = append(q.subscribers, msgChan)

	// Flush messages that were enqueued before the first subscription.
	for _, msg := range q.pending {
		q.post(msgChan, msg)
	}

	q.pending = nil

	return msgChan, nil
}

// Close closes the queue and all subscriber channels.
func (q *Queue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true

	close(q.done)

	for _, msgChan := range q.subscribers {
		close(msgChan)
	}

	q.subscribers = nil

	return nil
}

// deliver hands the message to one subscriber (round-robin) or buffers it
// if there are none yet.
func (q *Queue) deliver(msg *message.Message) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return
	}

	if len(q.subscribers) == 0 {
		q.pending = append(q.pending, msg)

		return
	}

	msgChan := q.subscribers[q.rr%len(q.subscribers)]
	q.rr++

	q.post(msgChan, msg)
}

func (q *Queue) post(msgChan chan *message.Message, m *message.Message) {
	// Copy the message so that the Ack/Nack is specific to this delivery.
	msg := m.Copy()

	msgChan <- msg

	go q.check(msg)
}

// check redelivers the message if it is Nacked or if no Ack arrives within
// the configured timeout (at-least-once delivery).
func (q *Queue) check(msg *message.Message) {
	select {
	case <-msg.Acked():
		logger.Debug("Message was acknowledged", logfields.WithMessageID(msg.UUID))

	case <-msg.Nacked():
		logger.Info("Message was not acknowledged. Redelivering.", logfields.WithMessageID(msg.UUID))

		q.deliver(msg)

	case <-time.After(q.Timeout):
		logger.Warn("Timed out waiting for Ack/Nack. Redelivering.", logfields.WithMessageID(msg.UUID))

		q.deliver(msg)

	case <-q.done:
	}
}
