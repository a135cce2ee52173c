/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package federation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/dahlia/fedify-sub001/pkg/docloader"
	"github.com/dahlia/fedify-sub001/pkg/federation/outbox"
	"github.com/dahlia/fedify-sub001/pkg/federation/router"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// Context carries the request-scoped state of one federation operation: the
// canonical base URL, URI construction, document loaders and the send
// pipeline. A Context borrows from its Federation and must not outlive it.
type Context struct {
	federation *Federation
	request    *http.Request

	base *url.URL

	signKeyOnce sync.Once
	signedKey   *keys.PublicKey
}

// NewContext returns a Context rooted at the given base URL for operations
// performed outside of a request, such as sending activities from a job.
func (f *Federation) NewContext(base *url.URL) *Context {
	return &Context{
		federation: f,
		base:       &url.URL{Scheme: base.Scheme, Host: base.Host},
	}
}

// contextForRequest derives the canonical base URL from the request,
// honoring X-Forwarded-Proto and X-Forwarded-Host from a fronting proxy.
func (f *Federation) contextForRequest(req *http.Request) *Context {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}

	if forwarded := req.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}

	host := req.Host
	if forwarded := req.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	return &Context{
		federation: f,
		request:    req,
		base:       &url.URL{Scheme: scheme, Host: host},
	}
}

// Host returns the canonical host of this context.
func (c *Context) Host() string {
	return c.base.Host
}

// ActorURI returns the actor URL for the given handle, or nil if no actor
// endpoint is registered.
func (c *Context) ActorURI(handle string) *url.URL {
	return c.buildURI(router.RouteActor, map[string]string{c.federation.registry.actorVariable: handle})
}

// ObjectURI returns the object URL for the given type and route variables,
// or nil if no object endpoint is registered for the type.
func (c *Context) ObjectURI(typeTag string, values map[string]string) *url.URL {
	return c.buildURI(router.ObjectRoutePrefix+vocab.ExpandType(typeTag), values)
}

// InboxURI returns the inbox URL for the given handle, or nil if no inbox
// endpoint is registered.
func (c *Context) InboxURI(handle string) *url.URL {
	return c.buildURI(router.RouteInbox, map[string]string{c.federation.registry.inboxVariable: handle})
}

// SharedInboxURI returns the shared inbox URL, or nil if none is registered.
func (c *Context) SharedInboxURI() *url.URL {
	return c.buildURI(router.RouteSharedInbox, nil)
}

// OutboxURI returns the outbox URL for the given handle, or nil if no outbox
// endpoint is registered.
func (c *Context) OutboxURI(handle string) *url.URL {
	return c.collectionURI(router.RouteOutbox, handle)
}

// FollowingURI returns the following collection URL for the given handle,
// or nil if none is registered.
func (c *Context) FollowingURI(handle string) *url.URL {
	return c.collectionURI(router.RouteFollowing, handle)
}

// FollowersURI returns the followers collection URL for the given handle,
// or nil if none is registered.
func (c *Context) FollowersURI(handle string) *url.URL {
	return c.collectionURI(router.RouteFollowers, handle)
}

// NodeInfoURI returns the NodeInfo document URL, or nil if no NodeInfo
// endpoint is registered.
func (c *Context) NodeInfoURI() *url.URL {
	return c.buildURI(router.RouteNodeInfo, nil)
}

// DocumentLoader returns the anonymous document loader.
func (c *Context) DocumentLoader() *docloader.Loader {
	return c.federation.loaderFactory.Anonymous()
}

// AuthenticatedDocumentLoader returns a document loader whose fetches are
// signed with the given key.
func (c *Context) AuthenticatedDocumentLoader(senderKey *keys.SenderKey) *docloader.Loader {
	return c.federation.loaderFactory.Authenticated(senderKey)
}

// SendActivity delivers the activity to the recipients on behalf of the
// handle, whose keys are resolved through the actor key-pairs dispatcher.
// The sender's own origin is always excluded from delivery.
func (c *Context) SendActivity(ctx context.Context, handle string, recipients []*vocab.Recipient,
	activity vocab.Document, opts ...outbox.SendOption) (vocab.Document, error) {
	if c.federation.registry.keyPairs == nil {
		return nil, fmt.Errorf("no actor key-pairs dispatcher is set")
	}

	senderKeys, err := c.federation.registry.keyPairs(c, handle)
	if err != nil {
		return nil, fmt.Errorf("resolve key pairs for [%s]: %w", handle, err)
	}

	return c.SendActivityWithKeys(ctx, senderKeys, recipients, activity, opts...)
}

// SendActivityWithKeys delivers the activity to the recipients using the
// given sender keys.
func (c *Context) SendActivityWithKeys(ctx context.Context, senderKeys []keys.SenderKey,
	recipients []*vocab.Recipient, activity vocab.Document,
	opts ...outbox.SendOption) (vocab.Document, error) {
	opts = append(opts, outbox.WithExcludeBaseURIs(c.base))

	return c.federation.outbox.Post(ctx, senderKeys, recipients, activity, opts...)
}

// SignedKey returns the key that signed the current request, verifying the
// signature at most once per context. It returns nil if the context has no
// request or the request is not verifiably signed.
func (c *Context) SignedKey() *keys.PublicKey {
	c.signKeyOnce.Do(func() {
		if c.request == nil {
			return
		}

		// GET requests carry no body, so the digest requirement does not
		// apply.
		key, err := c.federation.sigVerifier.VerifyRequest(c.request, nil)
		if err != nil {
			logger.Debug("Error verifying request signature", log.WithError(err))

			return
		}

		c.signedKey = key
	})

	return c.signedKey
}

func (c *Context) buildURI(name string, values map[string]string) *url.URL {
	path, ok := c.federation.router.Build(name, values)
	if !ok {
		return nil
	}

	return &url.URL{Scheme: c.base.Scheme, Host: c.base.Host, Path: path}
}

func (c *Context) collectionURI(name, handle string) *url.URL {
	reg, ok := c.federation.registry.collections[name]
	if !ok {
		return nil
	}

	return c.buildURI(name, map[string]string{reg.variable: handle})
}

// InboxContext is the context of an inbox dispatch. Handle is the recipient
// actor's handle, empty for shared-inbox deliveries. Key is the verified key
// of the sender, nil when verification is skipped.
type InboxContext struct {
	*Context

	Handle string
	Key    *keys.PublicKey
}
