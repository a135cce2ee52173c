/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package memstore provides an in-memory key-value store. This
// implementation works only on a single node; a persistent store should be
// used to share idempotence records across a cluster.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/store/spi"
)

const defaultSweepInterval = time.Minute

type entry struct {
	value   []byte
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store is an in-memory key-value store with TTL support. Expired entries
// are reaped by a background sweep and are also checked on read.
type Store struct {
	mutex   sync.RWMutex
	entries map[string]*entry
	ticker  *time.Ticker
	done    chan struct{}
	closeOnce sync.Once
}

// Opt sets a Store option.
type Opt func(*options)

type options struct {
	sweepInterval time.Duration
}

// WithSweepInterval sets the interval at which expired entries are reaped.
func WithSweepInterval(interval time.Duration) Opt {
	return func(o *options) {
		o.sweepInterval = interval
	}
}

// New returns a new in-memory store.
func New(opts ...Opt) *Store {
	o := &options{sweepInterval: defaultSweepInterval}

	for _, opt := range opts {
		opt(o)
	}

	s := &Store{
		entries: make(map[string]*entry),
		ticker:  time.NewTicker(o.sweepInterval),
		done:    make(chan struct{}),
	}

	go s.sweep()

	return s
}

// Put stores the value under the given key.
func (s *Store) Put(_ context.Context, key spi.Key, value []byte, opts ...spi.PutOption) error {
	options := spi.NewPutOptions(opts...)

	e := &entry{value: append([]byte(nil), value...)}

	if options.TTL > 0 {
		e.expires = time.Now().Add(options.TTL)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[key.String()] = e

	return nil
}

// Get returns the value stored under the given key.
func (s *Store) Get(_ context.Context, key spi.Key) ([]byte, error) {
	s.mutex.RLock()
	e, ok := s.entries[key.String()]
	s.mutex.RUnlock()

	if !ok || e.expired(time.Now()) {
		return nil, errors.ErrNotFound
	}

	return append([]byte(nil), e.value...), nil
}

// Delete removes the value stored under the given key.
func (s *Store) Delete(_ context.Context, key spi.Key) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, key.String())

	return nil
}

// Close stops the background sweep.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})

	return nil
}

func (s *Store) sweep() {
	for {
		select {
		case <-s.done:
			return
		case now := <-s.ticker.C:
			s.mutex.Lock()

			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}

			s.mutex.Unlock()
		}
	}
}
