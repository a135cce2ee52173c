/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package docloader loads remote JSON-LD documents over HTTP. Loaded
// documents are cached in the key-value store so that repeated
// dereferences of the same IRI (actors, keys, contexts) do not hit the
// network.
package docloader

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/piprate/json-gold/ld"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/errors"
	storespi "github.com/dahlia/fedify-sub001/pkg/store/spi"
	"github.com/dahlia/fedify-sub001/pkg/transport"
)

var logger = log.New("docloader")

const (
	// ContentTypeActivityJSON is the plain ActivityStreams media type.
	ContentTypeActivityJSON = "application/activity+json"

	// ContentTypeLDJSON is the JSON-LD media type with the ActivityStreams
	// profile.
	ContentTypeLDJSON = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

	acceptHeader = "Accept"

	defaultCacheTTL    = time.Hour
	defaultMaxBodySize = 10 * 1024 * 1024
)

type httpTransport interface {
	Get(ctx context.Context, req *transport.Request) (*http.Response, error)
}

// DefaultStorePrefix namespaces cached remote documents in the key-value
// store.
var DefaultStorePrefix = storespi.Key{"_fedify", "remoteDocument"} //nolint:gochecknoglobals

// Config contains configuration parameters for the loader.
type Config struct {
	// CacheTTL is how long a loaded document stays in the key-value store.
	CacheTTL time.Duration

	// StorePrefix namespaces the cached documents in the key-value store.
	StorePrefix storespi.Key

	// AllowPrivateAddresses permits requests to loopback and private network
	// addresses. It should only be set in tests.
	AllowPrivateAddresses bool
}

// Loader loads remote JSON-LD documents. It implements the json-gold
// ld.DocumentLoader interface so that it may also be used for @context
// resolution during canonicalization.
type Loader struct {
	Config

	transport httpTransport
	store     storespi.Store
}

// New returns a new document loader that fetches documents with the given
// transport and caches them in the given store.
func New(cfg Config, t httpTransport, store storespi.Store) *Loader {
	l := &Loader{
		Config:    cfg,
		transport: t,
		store:     store,
	}

	if l.CacheTTL == 0 {
		l.CacheTTL = defaultCacheTTL
	}

	if l.StorePrefix == nil {
		l.StorePrefix = DefaultStorePrefix
	}

	return l
}

// LoadDocument implements ld.DocumentLoader. The json-gold interface carries
// no context, so the background context is used.
func (l *Loader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return l.Load(context.Background(), u)
}

// Load loads the document at the given URL, either from the cache or from
// the remote server. Failures are returned as a FetchError carrying the URL.
func (l *Loader) Load(ctx context.Context, u string) (*ld.RemoteDocument, error) {
	docURL, err := url.Parse(u)
	if err != nil {
		return nil, errors.NewBadRequestf("parse document URL [%s]: %s", u, err)
	}

	if err := l.checkURL(docURL); err != nil {
		return nil, err
	}

	if doc, ok := l.fromCache(ctx, u); ok {
		return doc, nil
	}

	doc, err := l.fetch(ctx, docURL)
	if err != nil {
		return nil, err
	}

	l.toCache(ctx, u, doc)

	return doc, nil
}

// checkURL rejects non-HTTP(S) URLs and, unless explicitly permitted,
// loopback and private network addresses. This prevents a remote server from
// steering the loader at internal services (SSRF).
func (l *Loader) checkURL(docURL *url.URL) error {
	if docURL.Scheme != "https" && docURL.Scheme != "http" {
		return errors.NewBadRequestf("unsupported URL scheme [%s]", docURL.Scheme)
	}

	if l.AllowPrivateAddresses {
		return nil
	}

	host := docURL.Hostname()

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return errors.NewBadRequestf("requests to [%s] are not permitted", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return errors.NewBadRequestf("requests to [%s] are not permitted", host)
		}
	}

	return nil
}

func (l *Loader) fromCache(ctx context.Context, u string) (*ld.RemoteDocument, bool) {
	value, err := l.store.Get(ctx, l.cacheKey(u))
	if err != nil {
		if !stderrors.Is(err, errors.ErrNotFound) {
			logger.Warn("Error reading document from cache", logfields.WithTarget(u), log.WithError(err))
		}

		return nil, false
	}

	var document interface{}

	if err := json.Unmarshal(value, &document); err != nil {
		logger.Warn("Error unmarshalling cached document", logfields.WithTarget(u), log.WithError(err))

		return nil, false
	}

	return &ld.RemoteDocument{DocumentURL: u, Document: document}, true
}

func (l *Loader) toCache(ctx context.Context, u string, doc *ld.RemoteDocument) {
	value, err := json.Marshal(doc.Document)
	if err != nil {
		logger.Warn("Error marshalling document for cache", logfields.WithTarget(u), log.WithError(err))

		return
	}

	if err := l.store.Put(ctx, l.cacheKey(u), value,
		storespi.WithTTL(l.CacheTTL)); err != nil {
		logger.Warn("Error caching document", logfields.WithTarget(u), log.WithError(err))
	}
}

func (l *Loader) cacheKey(u string) storespi.Key {
	return append(append(storespi.Key{}, l.StorePrefix...), u)
}

func (l *Loader) fetch(ctx context.Context, docURL *url.URL) (*ld.RemoteDocument, error) {
	req := transport.NewRequest(docURL)
	req.Header.Set(acceptHeader, ContentTypeLDJSON+", "+ContentTypeActivityJSON)

	resp, err := l.transport.Get(ctx, req)
	if err != nil {
		return nil, errors.NewFetchError(docURL, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Error closing response body", log.WithError(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		logger.Debug("Error response fetching document", logfields.WithRequestURL(docURL),
			logfields.WithHTTPStatus(resp.StatusCode))

		err := fmt.Errorf("status code %d", resp.StatusCode)

		if resp.StatusCode >= http.StatusInternalServerError {
			err = errors.NewTransient(err)
		}

		return nil, errors.NewFetchError(docURL, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBodySize))
	if err != nil {
		return nil, errors.NewFetchError(docURL, err)
	}

	var document interface{}

	if err := json.Unmarshal(body, &document); err != nil {
		return nil, errors.NewFetchError(docURL, err)
	}

	// The final URL after redirects is the document URL.
	finalURL := docURL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &ld.RemoteDocument{DocumentURL: finalURL, Document: document}, nil
}
