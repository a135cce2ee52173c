/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package spi defines the key-value store abstraction used by the
// federation core for idempotence records and cached remote documents.
// The backend must provide its own concurrency safety; the core serializes
// nothing on top.
package spi

import (
	"context"
	"strings"
	"time"
)

// Key is a namespaced key: a sequence of strings. Backends join the
// segments into whatever flat representation they require.
type Key []string

// String returns the flattened form of the key.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// PutOptions holds options for Store.Put.
type PutOptions struct {
	// TTL is the time after which the entry expires. Zero means no expiry.
	TTL time.Duration
}

// PutOption sets an option on a Put operation.
type PutOption func(*PutOptions)

// WithTTL sets the entry's time to live.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) {
		o.TTL = ttl
	}
}

// NewPutOptions returns PutOptions populated from the given options.
func NewPutOptions(opts ...PutOption) *PutOptions {
	options := &PutOptions{}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// Store is a key-value store with optional expiry.
type Store interface {
	// Put stores the value under the given key.
	Put(ctx context.Context, key Key, value []byte, opts ...PutOption) error
	// Get returns the value stored under the given key, or errors.ErrNotFound
	// if there is none (or it has expired).
	Get(ctx context.Context, key Key) ([]byte, error)
	// Delete removes the value stored under the given key. Deleting a
	// missing key is not an error.
	Delete(ctx context.Context, key Key) error
}
