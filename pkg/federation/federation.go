/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package federation ties the federation core together: the route table,
// the application's dispatchers, the inbox pipeline and the delivery
// outbox, exposed behind a single http.Handler.
package federation

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/piprate/json-gold/ld"
	"github.com/rs/cors"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/docloader"
	"github.com/dahlia/fedify-sub001/pkg/federation/inbox"
	"github.com/dahlia/fedify-sub001/pkg/federation/outbox"
	"github.com/dahlia/fedify-sub001/pkg/federation/resthandler"
	"github.com/dahlia/fedify-sub001/pkg/federation/router"
	"github.com/dahlia/fedify-sub001/pkg/httpsig"
	"github.com/dahlia/fedify-sub001/pkg/keycache"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/metrics"
	"github.com/dahlia/fedify-sub001/pkg/metrics/noop"
	"github.com/dahlia/fedify-sub001/pkg/proof"
	queuespi "github.com/dahlia/fedify-sub001/pkg/queue/spi"
	storespi "github.com/dahlia/fedify-sub001/pkg/store/spi"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

var logger = log.New("federation")

const (
	webfingerPath   = "/.well-known/webfinger"
	nodeInfoJrdPath = "/.well-known/nodeinfo"

	baseURLParam = "base-url"
)

// Options configures a Federation instance. Store is required; everything
// else has a usable zero value.
type Options struct {
	// Store is the KV backend for idempotence records and cached documents.
	Store storespi.Store

	// IdempotencePrefix namespaces the inbox idempotence records.
	// Default: ["_fedify", "activityIdempotence"].
	IdempotencePrefix storespi.Key

	// RemoteDocumentPrefix namespaces the cached remote documents.
	// Default: ["_fedify", "remoteDocument"].
	RemoteDocumentPrefix storespi.Key

	// IdempotenceTTL is how long a processed activity ID is remembered.
	// Default: one week.
	IdempotenceTTL time.Duration

	// Queue is the MQ backend for outbox deliveries. Without one, all
	// deliveries are immediate.
	Queue queuespi.Queue

	// HTTPClient is used for outbound requests. Default: http.DefaultClient.
	HTTPClient *http.Client

	// LoaderFactory overrides the default KV-cached document loader factory.
	LoaderFactory *docloader.Factory

	// DocumentCacheTTL is how long fetched remote documents are cached.
	DocumentCacheTTL time.Duration

	// AllowPrivateAddresses permits document fetches from private and
	// loopback addresses. For tests only.
	AllowPrivateAddresses bool

	// ContextLoader resolves JSON-LD contexts during legacy proof
	// verification. Default: the anonymous document loader.
	ContextLoader ld.DocumentLoader

	// OnOutboxError is invoked when an outbox delivery fails.
	OnOutboxError outbox.ErrorHandler

	// SignatureTimeWindow is the clock-skew tolerance for inbound
	// signatures. Default: one minute.
	SignatureTimeWindow time.Duration

	// DisableSignatureTimeWindow disables the Date check entirely.
	DisableSignatureTimeWindow bool

	// SkipSignatureVerification accepts unauthenticated inbox deliveries.
	// For tests only.
	SkipSignatureVerification bool

	// BackoffSchedule is the list of delays between delivery retries.
	// Default: [3s, 15s, 60s, 15m, 60m].
	BackoffSchedule []time.Duration

	// Metrics records the instrumented values. Default: no-op.
	Metrics metrics.Metrics
}

// Federation is an ActivityPub federation instance. Dispatchers are
// registered during setup; afterwards the instance serves requests as an
// http.Handler. Instances are independent; there is no global state.
type Federation struct {
	opts     Options
	router   *router.Router
	registry *registry

	loaderFactory *keyedLoaders
	outbox        *outbox.Outbox
	sigVerifier   *httpsig.Verifier
	proofVerifier *proof.Verifier
	cors          *cors.Cors
}

// keyedLoaders wraps the loader factory with a cache of verifiers built for
// authenticated identities (used by the shared inbox).
type keyedLoaders struct {
	*docloader.Factory

	mutex     sync.Mutex
	verifiers map[string]*verifierPair
}

type verifierPair struct {
	sig   *httpsig.Verifier
	proof *proof.Verifier
}

// New returns a new Federation instance.
func New(opts Options) (*Federation, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("a KV store is required")
	}

	if opts.IdempotencePrefix == nil {
		opts.IdempotencePrefix = storespi.Key{"_fedify", "activityIdempotence"}
	}

	if opts.IdempotenceTTL == 0 {
		opts.IdempotenceTTL = inbox.DefaultIdempotenceTTL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	if opts.Metrics == nil {
		opts.Metrics = noop.NewMetrics()
	}

	factory := opts.LoaderFactory
	if factory == nil {
		factory = docloader.NewFactory(docloader.Config{
			CacheTTL:              opts.DocumentCacheTTL,
			StorePrefix:           opts.RemoteDocumentPrefix,
			AllowPrivateAddresses: opts.AllowPrivateAddresses,
		}, opts.Store, opts.HTTPClient)
	}

	f := &Federation{
		opts:     opts,
		router:   router.New(),
		registry: newRegistry(),
		loaderFactory: &keyedLoaders{
			Factory:   factory,
			verifiers: make(map[string]*verifierPair),
		},
		cors: cors.AllowAll(),
	}

	contextLoader := opts.ContextLoader
	if contextLoader == nil {
		contextLoader = factory.Anonymous()
	}

	keyCache := keycache.New(keycache.Config{}, docloader.NewKeyFetcher(factory.Anonymous()))

	f.sigVerifier = httpsig.NewVerifier(httpsig.VerifierConfig{
		TimeWindow:        opts.SignatureTimeWindow,
		DisableTimeWindow: opts.DisableSignatureTimeWindow,
	}, keyCache)

	f.proofVerifier = proof.NewVerifier(keyCache, contextLoader)

	ob, err := outbox.New(outbox.Config{BackoffSchedule: opts.BackoffSchedule},
		opts.Queue, opts.HTTPClient, opts.OnOutboxError, opts.Metrics)
	if err != nil {
		return nil, err
	}

	f.outbox = ob

	return f, nil
}

// Close releases the federation's resources.
func (f *Federation) Close() {
	f.outbox.Stop()
}

// ServeHTTP routes the request to the responsible responder. Unregistered
// paths yield 404.
func (f *Federation) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	match, ok := f.router.Route(req.URL.Path)
	if !ok {
		resthandler.WriteNotFound(w)

		return
	}

	logger.Debug("Routing request", logfields.WithRequestURL(req.URL),
		logfields.WithRouteName(match.Name))

	ctx := f.contextForRequest(req)

	switch match.Name {
	case router.RouteWebfinger:
		f.requireGet(w, req, func() {
			f.serveCORS(w, req, f.webfingerHandler(ctx).Handle)
		})
	case router.RouteNodeInfoJrd:
		f.requireGet(w, req, func() {
			f.serveCORS(w, req, (&resthandler.NodeInfoJRDHandler{NodeInfoURL: ctx.NodeInfoURI}).Handle)
		})
	case router.RouteNodeInfo:
		f.requireGet(w, req, func() {
			f.serveCORS(w, req, (&resthandler.NodeInfoHandler{
				Dispatch: func() (*resthandler.NodeInfo, error) {
					return f.registry.nodeInfo(ctx)
				},
			}).Handle)
		})
	case router.RouteActor:
		f.requireGet(w, req, func() {
			f.serveActor(w, req, ctx, match.Values[f.registry.actorVariable])
		})
	case router.RouteInbox:
		if req.Method == http.MethodPost {
			f.serveInboxPost(w, req, ctx, match.Values[f.registry.inboxVariable], false)
		} else {
			f.requireGet(w, req, func() {
				f.serveCollection(w, req, ctx, router.RouteInbox, match.Values[f.registry.inboxVariable])
			})
		}
	case router.RouteSharedInbox:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		f.serveInboxPost(w, req, ctx, "", true)
	case router.RouteOutbox, router.RouteFollowing, router.RouteFollowers:
		f.requireGet(w, req, func() {
			reg := f.registry.collections[match.Name]
			f.serveCollection(w, req, ctx, match.Name, match.Values[reg.variable])
		})
	default:
		if strings.HasPrefix(match.Name, router.ObjectRoutePrefix) {
			f.requireGet(w, req, func() {
				f.serveObject(w, req, ctx, match.Name, match.Values)
			})

			return
		}

		resthandler.WriteNotFound(w)
	}
}

func (f *Federation) requireGet(w http.ResponseWriter, req *http.Request, serve func()) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	serve()
}

func (f *Federation) serveCORS(w http.ResponseWriter, req *http.Request,
	handle func(http.ResponseWriter, *http.Request)) {
	f.cors.Handler(http.HandlerFunc(handle)).ServeHTTP(w, req)
}

func (f *Federation) serveActor(w http.ResponseWriter, req *http.Request, ctx *Context, handle string) {
	if !resthandler.Acceptable(req) {
		resthandler.WriteNotAcceptable(w)

		return
	}

	actor, err := f.registry.actorDispatcher(ctx, handle)
	if err != nil {
		logger.Error("Error dispatching actor request", logfields.WithHandle(handle),
			log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if actor == nil {
		resthandler.WriteNotFound(w)

		return
	}

	f.checkActorDocument(ctx, handle, actor)

	resthandler.WriteDocument(w, actor)
}

// checkActorDocument warns about actor documents that are inconsistent with
// the registered endpoints. Inconsistencies are never failures: the
// application may be serving a document it does not control.
func (f *Federation) checkActorDocument(ctx *Context, handle string, actor vocab.Document) {
	expected := map[string]*url.URL{
		"inbox":     ctx.InboxURI(handle),
		"outbox":    ctx.OutboxURI(handle),
		"following": ctx.FollowingURI(handle),
		"followers": ctx.FollowersURI(handle),
	}

	for property, expectedURI := range expected {
		if expectedURI == nil {
			continue
		}

		actual, ok := actor[property].(string)
		if !ok {
			logger.Warn("Actor document is missing a property for a registered endpoint",
				logfields.WithHandle(handle), logfields.WithParameter(property))

			continue
		}

		if actual != expectedURI.String() {
			logger.Warn("Actor document property does not match the registered endpoint",
				logfields.WithHandle(handle), logfields.WithParameter(property),
				logfields.WithTarget(expectedURI.String()))
		}
	}
}

func (f *Federation) serveObject(w http.ResponseWriter, req *http.Request, ctx *Context,
	name string, values map[string]string) {
	if !resthandler.Acceptable(req) {
		resthandler.WriteNotAcceptable(w)

		return
	}

	reg := f.registry.objects[name]

	object, err := reg.dispatcher(ctx, values)
	if err != nil {
		logger.Error("Error dispatching object request", logfields.WithRouteName(name),
			log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if object == nil {
		resthandler.WriteNotFound(w)

		return
	}

	resthandler.WriteDocument(w, object)
}

func (f *Federation) serveCollection(w http.ResponseWriter, req *http.Request, ctx *Context,
	name, handle string) {
	reg, ok := f.registry.collections[name]
	if !ok {
		resthandler.WriteNotFound(w)

		return
	}

	var filter *url.URL

	if name == router.RouteFollowers {
		if baseURL := req.URL.Query().Get(baseURLParam); baseURL != "" {
			parsed, err := url.Parse(baseURL)
			if err != nil {
				resthandler.WriteBadRequest(w)

				return
			}

			filter = parsed
		}
	}

	callbacks := reg.callbacks

	collection := &resthandler.Collection{
		ID: ctx.collectionURI(name, handle),
		Dispatch: func(cursor *string) (*resthandler.Page, error) {
			page, err := callbacks.Dispatcher(ctx, handle, cursor, filter)
			if err != nil || page == nil {
				return page, err
			}

			if filter != nil {
				page.Items = filterByOrigin(page.Items, filter)
			}

			return page, nil
		},
	}

	if callbacks.Counter != nil {
		collection.Count = func() (int, error) { return callbacks.Counter(ctx, handle) }
	}

	if callbacks.FirstCursor != nil {
		collection.FirstCursor = func() (*string, error) { return callbacks.FirstCursor(ctx, handle) }
	}

	if callbacks.LastCursor != nil {
		collection.LastCursor = func() (*string, error) { return callbacks.LastCursor(ctx, handle) }
	}

	if callbacks.Authorize != nil {
		collection.Authorize = func() (bool, error) {
			return callbacks.Authorize(ctx, handle, ctx.SignedKey())
		}
	}

	collection.Handle(w, req)
}

// filterByOrigin keeps the items whose identifier is under the given origin
// (FEP-8fcf partial-followers responses).
func filterByOrigin(items []interface{}, origin *url.URL) []interface{} {
	prefix := origin.Scheme + "://" + origin.Host

	var filtered []interface{}

	for _, item := range items {
		var id string

		switch v := item.(type) {
		case string:
			id = v
		case map[string]interface{}:
			id, _ = v["id"].(string)
		case vocab.Document:
			id, _ = v["id"].(string)
		}

		if u, err := url.Parse(id); err == nil && u.Scheme+"://"+u.Host == prefix {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

func (f *Federation) serveInboxPost(w http.ResponseWriter, req *http.Request, ctx *Context,
	handle string, shared bool) {
	sigVerifier, proofVerifier := f.sigVerifier, f.proofVerifier

	if shared && f.registry.sharedInboxKey != nil {
		senderKey, err := f.registry.sharedInboxKey(ctx)
		if err != nil {
			logger.Warn("Error dispatching shared inbox key", log.WithError(err))
		} else if senderKey != nil {
			sigVerifier, proofVerifier = f.loaderFactory.verifiersFor(senderKey, f.opts)
		}
	}

	handler := &inbox.Handler{
		Verifier:         sigVerifier,
		ProofVerifier:    proofVerifier,
		SkipVerification: f.opts.SkipSignatureVerification,
		Store:            f.opts.Store,
		Prefix:           f.opts.IdempotencePrefix,
		TTL:              f.opts.IdempotenceTTL,
		Dispatch: func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
			return f.dispatchActivity(ctx, handle, activity, key)
		},
	}

	handler.HandlePost(w, req)
}

// dispatchActivity routes the activity to the listener registered for its
// most specific type. Listener errors go to the inbox error handler and are
// never propagated.
func (f *Federation) dispatchActivity(ctx *Context, handle string, activity vocab.Document,
	key *keys.PublicKey) bool {
	listener, typeIRI, ok := f.resolveListener(activity)
	if !ok {
		return false
	}

	ictx := &InboxContext{Context: ctx, Handle: handle, Key: key}

	startTime := time.Now()

	if err := invokeListener(listener, ictx, activity); err != nil {
		logger.Debug("Inbox listener returned an error", logfields.WithTypeIRI(typeIRI),
			log.WithError(err))

		if f.registry.inboxErrorHandler != nil {
			invokeErrorHandler(f.registry.inboxErrorHandler, ictx, err)
		}
	}

	f.opts.Metrics.InboxHandlerTime(typeIRI, time.Since(startTime))

	return true
}

func invokeListener(listener InboxListener, ictx *InboxContext, activity vocab.Document) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	return listener(ictx, activity)
}

func invokeErrorHandler(handler InboxErrorHandler, ictx *InboxContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Inbox error handler panicked",
				logfields.WithParameter(fmt.Sprintf("%v", r)))
		}
	}()

	handler(ictx, err)
}

// webfingerHandler binds the WebFinger responder to this instance's router
// and actor dispatcher.
func (f *Federation) webfingerHandler(ctx *Context) *resthandler.WebFinger {
	return &resthandler.WebFinger{
		ResolveResource: func(resource string) (string, bool) {
			return f.resolveResource(ctx, resource)
		},
		Actor: func(handle string) (vocab.Document, error) {
			return f.registry.actorDispatcher(ctx, handle)
		},
		ActorURL: ctx.ActorURI,
	}
}

// resolveResource maps a WebFinger resource to a local actor handle. It
// accepts acct:handle@host for the canonical host, and actor URLs that
// route to the actor endpoint.
func (f *Federation) resolveResource(ctx *Context, resource string) (string, bool) {
	if acct, ok := strings.CutPrefix(resource, "acct:"); ok {
		handle, host, found := strings.Cut(acct, "@")
		if !found || host != ctx.Host() {
			return "", false
		}

		return handle, true
	}

	u, err := url.Parse(resource)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host != ctx.Host() {
		return "", false
	}

	match, ok := f.router.Route(u.Path)
	if !ok || match.Name != router.RouteActor {
		return "", false
	}

	return match.Values[f.registry.actorVariable], true
}

// verifiersFor returns signature and proof verifiers whose key fetches are
// signed with the given identity, building them on first use.
func (l *keyedLoaders) verifiersFor(senderKey *keys.SenderKey,
	opts Options) (*httpsig.Verifier, *proof.Verifier) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	id := senderKey.ID.String()

	if pair, ok := l.verifiers[id]; ok {
		return pair.sig, pair.proof
	}

	loader := l.Authenticated(senderKey)

	keyCache := keycache.New(keycache.Config{}, docloader.NewKeyFetcher(loader))

	pair := &verifierPair{
		sig: httpsig.NewVerifier(httpsig.VerifierConfig{
			TimeWindow:        opts.SignatureTimeWindow,
			DisableTimeWindow: opts.DisableSignatureTimeWindow,
		}, keyCache),
		proof: proof.NewVerifier(keyCache, loader),
	}

	l.verifiers[id] = pair

	return pair.sig, pair.proof
}
