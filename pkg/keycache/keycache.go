/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keycache provides an in-memory cache of remote public keys that are
// used to verify HTTP signatures and object proofs. Keys are fetched with the
// supplied fetcher on a cache miss. A failed fetch is also cached (with a
// shorter expiration) so that an unresolvable key does not result in a remote
// call for every request.
package keycache

import (
	"context"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
)

var logger = log.New("keycache")

const (
	defaultCacheSize          = 100
	defaultCacheExpiration    = time.Hour
	defaultNegativeExpiration = 5 * time.Minute
)

// Fetcher retrieves the public key at the given IRI from the remote server.
type Fetcher func(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error)

// notFoundEntry is cached in place of a key when the fetch fails.
type notFoundEntry struct{}

// Config contains configuration parameters for the cache.
type Config struct {
	CacheSize          int
	CacheExpiration    time.Duration
	NegativeExpiration time.Duration
}

// Cache is a cache of remote public keys.
type Cache struct {
	fetch              Fetcher
	cache              gcache.Cache
	cacheExpiration    time.Duration
	negativeExpiration time.Duration
}

// New returns a new public key cache that uses the given fetcher on a
// cache miss.
func New(cfg Config, fetch Fetcher) *Cache {
	cacheSize := cfg.CacheSize

	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	cacheExpiration := cfg.CacheExpiration

	if cacheExpiration == 0 {
		cacheExpiration = defaultCacheExpiration
	}

	negativeExpiration := cfg.NegativeExpiration

	if negativeExpiration == 0 {
		negativeExpiration = defaultNegativeExpiration
	}

	logger.Debug("Creating public key cache", logfields.WithConfig(cfg))

	return &Cache{
		fetch:              fetch,
		cache:              gcache.New(cacheSize).ARC().Build(),
		cacheExpiration:    cacheExpiration,
		negativeExpiration: negativeExpiration,
	}
}

// Get returns the public key at the given IRI, either from the cache or from
// the remote server. An errors.ErrNotFound error is returned if a previous
// fetch for the key failed and the negative entry has not yet expired.
func (c *Cache) Get(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error) {
	entry, err := c.cache.Get(keyIRI.String())
	if err == nil {
		if _, notFound := entry.(notFoundEntry); notFound {
			logger.Debug("Returning cached key resolution failure", logfields.WithKeyID(keyIRI.String()))

			return nil, errors.ErrNotFound
		}

		return entry.(*keys.PublicKey), nil
	}

	if err != gcache.KeyNotFoundError {
		return nil, err
	}

	publicKey, err := c.fetch(ctx, keyIRI)
	if err != nil {
		logger.Debug("Error fetching public key", logfields.WithKeyID(keyIRI.String()), log.WithError(err))

		// Cache the failure so that an unresolvable key is not repeatedly
		// fetched, but let transient errors be retried.
		if !errors.IsTransient(err) {
			if cacheErr := c.cache.SetWithExpire(keyIRI.String(), notFoundEntry{},
				c.negativeExpiration); cacheErr != nil {
				logger.Warn("Error caching key resolution failure",
					logfields.WithKeyID(keyIRI.String()), log.WithError(cacheErr))
			}
		}

		return nil, err
	}

	if err := c.cache.SetWithExpire(keyIRI.String(), publicKey, c.cacheExpiration); err != nil {
		logger.Warn("Error caching public key", logfields.WithKeyID(keyIRI.String()), log.WithError(err))
	}

	return publicKey, nil
}

// Evict removes the key at the given IRI from the cache. It is called when a
// signature fails to verify with a cached key, since the remote server may
// have rotated its key.
func (c *Cache) Evict(keyIRI *url.URL) {
	if c.cache.Remove(keyIRI.String()) {
		logger.Debug("Evicted public key from cache", logfields.WithKeyID(keyIRI.String()))
	}
}
