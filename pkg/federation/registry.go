/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package federation

import (
	"fmt"
	"net/url"

	"github.com/dahlia/fedify-sub001/pkg/federation/resthandler"
	"github.com/dahlia/fedify-sub001/pkg/federation/router"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// ActorDispatcher resolves a handle to the actor's document, or nil if the
// handle is unknown.
type ActorDispatcher func(ctx *Context, handle string) (vocab.Document, error)

// KeyPairsDispatcher resolves a handle to the actor's signing key pairs.
type KeyPairsDispatcher func(ctx *Context, handle string) ([]keys.SenderKey, error)

// ObjectDispatcher resolves the route variables of an object URL to the
// object's document, or nil if there is none.
type ObjectDispatcher func(ctx *Context, values map[string]string) (vocab.Document, error)

// CollectionDispatcher returns one page of a collection. A nil cursor
// requests the whole collection; filter, when non-nil, restricts the result
// to items under that origin.
type CollectionDispatcher func(ctx *Context, handle string, cursor *string,
	filter *url.URL) (*resthandler.Page, error)

// CollectionCounter returns the total number of items in a collection.
type CollectionCounter func(ctx *Context, handle string) (int, error)

// CursorDispatcher returns the first or last cursor of a collection, or nil
// if the collection is empty.
type CursorDispatcher func(ctx *Context, handle string) (*string, error)

// AuthorizePredicate decides whether the holder of the verified key may read
// a collection. A nil key means the request was not signed.
type AuthorizePredicate func(ctx *Context, handle string, key *keys.PublicKey) (bool, error)

// InboxListener handles an activity delivered to an inbox.
type InboxListener func(ctx *InboxContext, activity vocab.Document) error

// InboxErrorHandler is invoked when an inbox listener returns an error.
type InboxErrorHandler func(ctx *InboxContext, err error)

// NodeInfoDispatcher returns the instance's NodeInfo document.
type NodeInfoDispatcher func(ctx *Context) (*resthandler.NodeInfo, error)

// SharedInboxKeyDispatcher picks the identity whose key signs document
// fetches made while verifying shared-inbox deliveries.
type SharedInboxKeyDispatcher func(ctx *Context) (*keys.SenderKey, error)

// CollectionCallbacks holds the callbacks of one collection endpoint.
// Dispatcher is required. Counter, FirstCursor and LastCursor together
// enable the index response; Authorize gates reads on the verified signer.
type CollectionCallbacks struct {
	Dispatcher  CollectionDispatcher
	Counter     CollectionCounter
	FirstCursor CursorDispatcher
	LastCursor  CursorDispatcher
	Authorize   AuthorizePredicate
}

type objectRegistration struct {
	dispatcher ObjectDispatcher
	variables  []string
}

type collectionRegistration struct {
	callbacks CollectionCallbacks
	variable  string
}

// registry holds the application's dispatchers. It is populated during
// setup and read-only once requests are served.
type registry struct {
	actorDispatcher ActorDispatcher
	actorVariable   string
	keyPairs        KeyPairsDispatcher

	objects map[string]*objectRegistration

	collections map[string]*collectionRegistration

	inboxVariable     string
	listeners         map[string]InboxListener
	inboxErrorHandler InboxErrorHandler

	nodeInfo NodeInfoDispatcher

	sharedInboxKey SharedInboxKeyDispatcher
}

func newRegistry() *registry {
	return &registry{
		objects:     make(map[string]*objectRegistration),
		collections: make(map[string]*collectionRegistration),
		listeners:   make(map[string]InboxListener),
	}
}

// SetActorDispatcher registers the actor endpoint under the given URI
// template, which must declare exactly one variable (the handle). The
// WebFinger endpoint is registered along with it.
func (f *Federation) SetActorDispatcher(template string, dispatcher ActorDispatcher) error {
	if f.registry.actorDispatcher != nil {
		return fmt.Errorf("actor dispatcher is already set")
	}

	variable, err := f.addSingleVariableRoute(template, router.RouteActor)
	if err != nil {
		return err
	}

	if _, err := f.router.Add(webfingerPath, router.RouteWebfinger); err != nil {
		return err
	}

	f.registry.actorDispatcher = dispatcher
	f.registry.actorVariable = variable

	return nil
}

// SetActorKeyPairsDispatcher registers the dispatcher that resolves a handle
// to its signing key pairs. It is required for Context.SendActivity.
func (f *Federation) SetActorKeyPairsDispatcher(dispatcher KeyPairsDispatcher) error {
	if f.registry.keyPairs != nil {
		return fmt.Errorf("actor key-pairs dispatcher is already set")
	}

	f.registry.keyPairs = dispatcher

	return nil
}

// SetObjectDispatcher registers an object endpoint for the given activity
// type under the given URI template.
func (f *Federation) SetObjectDispatcher(typeTag, template string, dispatcher ObjectDispatcher) error {
	name := router.ObjectRoutePrefix + vocab.ExpandType(typeTag)

	if _, ok := f.registry.objects[name]; ok {
		return fmt.Errorf("object dispatcher for type [%s] is already set", typeTag)
	}

	variables, err := f.router.Add(template, name)
	if err != nil {
		return err
	}

	f.registry.objects[name] = &objectRegistration{
		dispatcher: dispatcher,
		variables:  variables,
	}

	return nil
}

// SetInboxListeners registers the inbox endpoints. The inbox template must
// declare exactly one variable (the handle); the shared-inbox template, when
// not empty, must declare none. Listeners are attached with OnInboxActivity.
func (f *Federation) SetInboxListeners(template, sharedTemplate string) error {
	if f.router.Has(router.RouteInbox) {
		return fmt.Errorf("inbox listeners are already set")
	}

	variable, err := f.addSingleVariableRoute(template, router.RouteInbox)
	if err != nil {
		return err
	}

	if sharedTemplate != "" {
		variables, err := f.router.Add(sharedTemplate, router.RouteSharedInbox)
		if err != nil {
			return err
		}

		if len(variables) > 0 {
			return fmt.Errorf("shared inbox template [%s] must not declare variables", sharedTemplate)
		}
	}

	f.registry.inboxVariable = variable

	return nil
}

// OnInboxActivity registers a listener for the given activity type. An
// incoming activity is dispatched to the listener registered for its most
// specific type. SetInboxListeners must be called first.
func (f *Federation) OnInboxActivity(typeTag string, listener InboxListener) error {
	if !f.router.Has(router.RouteInbox) {
		return fmt.Errorf("no inbox endpoint: call SetInboxListeners first")
	}

	typeIRI := vocab.ExpandType(typeTag)

	if _, ok := f.registry.listeners[typeIRI]; ok {
		return fmt.Errorf("listener for type [%s] is already set", typeTag)
	}

	f.registry.listeners[typeIRI] = listener

	return nil
}

// SetInboxErrorHandler registers the handler invoked when an inbox listener
// returns an error.
func (f *Federation) SetInboxErrorHandler(handler InboxErrorHandler) error {
	if f.registry.inboxErrorHandler != nil {
		return fmt.Errorf("inbox error handler is already set")
	}

	f.registry.inboxErrorHandler = handler

	return nil
}

// SetOutboxDispatcher registers the outbox collection endpoint.
func (f *Federation) SetOutboxDispatcher(template string, callbacks CollectionCallbacks) error {
	return f.setCollectionDispatcher(router.RouteOutbox, template, callbacks)
}

// SetFollowingDispatcher registers the following collection endpoint.
func (f *Federation) SetFollowingDispatcher(template string, callbacks CollectionCallbacks) error {
	return f.setCollectionDispatcher(router.RouteFollowing, template, callbacks)
}

// SetFollowersDispatcher registers the followers collection endpoint.
func (f *Federation) SetFollowersDispatcher(template string, callbacks CollectionCallbacks) error {
	return f.setCollectionDispatcher(router.RouteFollowers, template, callbacks)
}

// SetInboxDispatcher registers a collection dispatcher for GETs on the inbox
// endpoint. SetInboxListeners must be called first.
func (f *Federation) SetInboxDispatcher(callbacks CollectionCallbacks) error {
	if !f.router.Has(router.RouteInbox) {
		return fmt.Errorf("no inbox endpoint: call SetInboxListeners first")
	}

	if _, ok := f.registry.collections[router.RouteInbox]; ok {
		return fmt.Errorf("inbox dispatcher is already set")
	}

	if callbacks.Dispatcher == nil {
		return fmt.Errorf("collection dispatcher is required")
	}

	f.registry.collections[router.RouteInbox] = &collectionRegistration{
		callbacks: callbacks,
		variable:  f.registry.inboxVariable,
	}

	return nil
}

// SetNodeInfoDispatcher registers the NodeInfo endpoint under the given
// path. The /.well-known/nodeinfo discovery document is registered along
// with it.
func (f *Federation) SetNodeInfoDispatcher(template string, dispatcher NodeInfoDispatcher) error {
	if f.registry.nodeInfo != nil {
		return fmt.Errorf("NodeInfo dispatcher is already set")
	}

	variables, err := f.router.Add(template, router.RouteNodeInfo)
	if err != nil {
		return err
	}

	if len(variables) > 0 {
		return fmt.Errorf("NodeInfo template [%s] must not declare variables", template)
	}

	if _, err := f.router.Add(nodeInfoJrdPath, router.RouteNodeInfoJrd); err != nil {
		return err
	}

	f.registry.nodeInfo = dispatcher

	return nil
}

// SetSharedInboxKeyDispatcher registers the dispatcher that picks the
// identity used for authenticated document fetches while verifying
// shared-inbox deliveries.
func (f *Federation) SetSharedInboxKeyDispatcher(dispatcher SharedInboxKeyDispatcher) error {
	if f.registry.sharedInboxKey != nil {
		return fmt.Errorf("shared inbox key dispatcher is already set")
	}

	f.registry.sharedInboxKey = dispatcher

	return nil
}

func (f *Federation) setCollectionDispatcher(name, template string, callbacks CollectionCallbacks) error {
	if _, ok := f.registry.collections[name]; ok {
		return fmt.Errorf("%s dispatcher is already set", name)
	}

	if callbacks.Dispatcher == nil {
		return fmt.Errorf("collection dispatcher is required")
	}

	variable, err := f.addSingleVariableRoute(template, name)
	if err != nil {
		return err
	}

	f.registry.collections[name] = &collectionRegistration{
		callbacks: callbacks,
		variable:  variable,
	}

	return nil
}

func (f *Federation) addSingleVariableRoute(template, name string) (string, error) {
	variables, err := f.router.Add(template, name)
	if err != nil {
		return "", err
	}

	if len(variables) != 1 {
		return "", fmt.Errorf("template [%s] must declare exactly one variable", template)
	}

	return variables[0], nil
}

// resolveListener returns the listener registered for the most specific type
// of the activity, along with the type IRI it was registered under.
func (f *Federation) resolveListener(activity vocab.Document) (InboxListener, string, bool) {
	for _, t := range activity.Types() {
		for _, typeIRI := range vocab.TypeChain(t) {
			if listener, ok := f.registry.listeners[typeIRI]; ok {
				return listener, typeIRI, true
			}
		}
	}

	return nil, "", false
}
