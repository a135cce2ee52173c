/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ariesstore adapts an Aries storage provider to the key-value
// store SPI. Any Aries-compatible backend (in-memory, MongoDB, CouchDB)
// may be plugged in by the embedding application.
package ariesstore

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/store/spi"
)

// Aries storage has no native TTL, so each value is wrapped in an envelope
// carrying its expiry; expired entries are deleted on read.
type envelope struct {
	Value   []byte     `json:"value"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Store is a key-value store backed by an Aries storage provider.
type Store struct {
	store storage.Store
}

// Open opens the named store on the given provider.
func Open(provider storage.Provider, name string) (*Store, error) {
	s, err := provider.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("open store [%s]: %w", name, err)
	}

	return &Store{store: s}, nil
}

// Put stores the value under the given key.
func (s *Store) Put(_ context.Context, key spi.Key, value []byte, opts ...spi.PutOption) error {
	options := spi.NewPutOptions(opts...)

	env := envelope{Value: value}

	if options.TTL > 0 {
		expires := time.Now().Add(options.TTL)
		env.Expires = &expires
	}

	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := s.store.Put(key.String(), envBytes); err != nil {
		return errors.NewTransient(fmt.Errorf("put [%s]: %w", key, err))
	}

	return nil
}

// Get returns the value stored under the given key.
func (s *Store) Get(ctx context.Context, key spi.Key) ([]byte, error) {
	envBytes, err := s.store.Get(key.String())
	if err != nil {
		if stderrors.Is(err, storage.ErrDataNotFound) {
			return nil, errors.ErrNotFound
		}

		return nil, errors.NewTransient(fmt.Errorf("get [%s]: %w", key, err))
	}

	var env envelope

	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope [%s]: %w", key, err)
	}

	if env.Expires != nil && time.Now().After(*env.Expires) {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}

		return nil, errors.ErrNotFound
	}

	return env.Value, nil
}

// Delete removes the value stored under the given key.
func (s *Store) Delete(_ context.Context, key spi.Key) error {
	if err := s.store.Delete(key.String()); err != nil {
		return errors.NewTransient(fmt.Errorf("delete [%s]: %w", key, err))
	}

	return nil
}
