/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package federation

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dahlia/fedify-sub001/pkg/federation/resthandler"
	"github.com/dahlia/fedify-sub001/pkg/httpsig"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/store/memstore"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

func TestFederation_WebFinger(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetActorDispatcher("/users/{handle}", aliceDispatcher))

	t.Run("acct resource", func(t *testing.T) {
		w := httptest.NewRecorder()

		req := httptest.NewRequest(http.MethodGet,
			"http://example.com/.well-known/webfinger?resource=acct:alice@example.com", nil)
		req.Header.Set("Origin", "https://client.example")

		f.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/jrd+json", w.Header().Get("Content-Type"))
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

		var jrd resthandler.JRD

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jrd))
		require.Equal(t, "acct:alice@example.com", jrd.Subject)
		require.Contains(t, jrd.Aliases, "http://example.com/users/alice")
		require.NotEmpty(t, jrd.Links)
		require.Equal(t, "self", jrd.Links[0].Rel)
		require.Equal(t, "http://example.com/users/alice", jrd.Links[0].Href)
	})

	t.Run("actor URL resource", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/.well-known/webfinger?resource=http://example.com/users/alice", nil))

		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown handle", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/.well-known/webfinger?resource=acct:bob@example.com", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("foreign host", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/.well-known/webfinger?resource=acct:alice@other.example", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFederation_Actor(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetActorDispatcher("/users/{handle}", aliceDispatcher))

	t.Run("success", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/users/alice", nil)
		req.Header.Set("Accept", "application/activity+json")

		w := httptest.NewRecorder()

		f.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, resthandler.ContentTypeActivityJSON, w.Header().Get("Content-Type"))
		require.Contains(t, w.Body.String(), `"Person"`)
	})

	t.Run("not acceptable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://example.com/users/alice", nil)
		req.Header.Set("Accept", "text/html")

		w := httptest.NewRecorder()

		f.ServeHTTP(w, req)

		require.Equal(t, http.StatusNotAcceptable, w.Code)
		require.Equal(t, "Accept, Signature", w.Header().Get("Vary"))
	})

	t.Run("unknown handle", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/users/bob", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example.com/users/alice", nil))

		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("unregistered path", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/nothing/here", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFederation_ForwardedHeaders(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetActorDispatcher("/users/{handle}", aliceDispatcher))

	req := httptest.NewRequest(http.MethodGet,
		"http://internal:8080/.well-known/webfinger?resource=acct:alice@fedi.example", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "fedi.example")

	w := httptest.NewRecorder()

	f.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var jrd resthandler.JRD

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jrd))
	// URIs are built against the forwarded base, not the internal listener.
	require.Contains(t, jrd.Aliases, "https://fedi.example/users/alice")
}

func TestFederation_OutboxCollection(t *testing.T) {
	f := newFederation(t)

	items := []interface{}{
		"http://example.com/notes/0",
		"http://example.com/notes/1",
		"http://example.com/notes/2",
	}

	first, last := "0", "2"

	require.NoError(t, f.SetOutboxDispatcher("/users/{handle}/outbox", CollectionCallbacks{
		Dispatcher: func(ctx *Context, handle string, cursor *string, filter *url.URL) (*resthandler.Page, error) {
			if cursor == nil {
				return &resthandler.Page{Items: items}, nil
			}

			i := int((*cursor)[0] - '0')

			page := &resthandler.Page{Items: items[i : i+1]}

			if i < len(items)-1 {
				next := fmt.Sprintf("%d", i+1)
				page.NextCursor = &next
			}

			if i > 0 {
				prev := fmt.Sprintf("%d", i-1)
				page.PrevCursor = &prev
			}

			return page, nil
		},
		Counter:     func(ctx *Context, handle string) (int, error) { return len(items), nil },
		FirstCursor: func(ctx *Context, handle string) (*string, error) { return &first, nil },
		LastCursor:  func(ctx *Context, handle string) (*string, error) { return &last, nil },
	}))

	t.Run("index", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/users/alice/outbox", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		require.Equal(t, "OrderedCollection", doc["type"])
		require.Equal(t, float64(3), doc["totalItems"])
		require.Equal(t, "http://example.com/users/alice/outbox?cursor=0", doc["first"])
		require.Equal(t, "http://example.com/users/alice/outbox?cursor=2", doc["last"])
	})

	t.Run("first page", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/users/alice/outbox?cursor=0", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		require.Equal(t, "OrderedCollectionPage", doc["type"])
		require.Len(t, doc["orderedItems"], 1)
		require.Equal(t, "http://example.com/users/alice/outbox?cursor=1", doc["next"])
		require.NotContains(t, doc, "prev")
	})
}

func TestFederation_FollowersBaseURLFilter(t *testing.T) {
	f := newFederation(t)

	var gotFilter *url.URL

	require.NoError(t, f.SetFollowersDispatcher("/users/{handle}/followers", CollectionCallbacks{
		Dispatcher: func(ctx *Context, handle string, cursor *string, filter *url.URL) (*resthandler.Page, error) {
			gotFilter = filter

			return &resthandler.Page{Items: []interface{}{
				"https://remote.example/users/bob",
				"https://elsewhere.example/users/carol",
				map[string]interface{}{"id": "https://remote.example/users/dave"},
			}}, nil
		},
	}))

	t.Run("filtered", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/users/alice/followers?base-url=https%3A%2F%2Fremote.example%2F", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, gotFilter)
		require.Equal(t, "remote.example", gotFilter.Host)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		require.Len(t, doc["orderedItems"], 2)
		require.NotContains(t, w.Body.String(), "elsewhere.example")
	})

	t.Run("unfiltered", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"http://example.com/users/alice/followers", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var doc map[string]interface{}

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
		require.Len(t, doc["orderedItems"], 3)
	})
}

func TestFederation_Inbox(t *testing.T) {
	remoteKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var remoteServer *httptest.Server

	remoteServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		pemBytes, err := keys.EncodePublicKeyPEM(remoteKey.Public())
		require.NoError(t, err)

		actorID := remoteServer.URL + "/users/bob"

		w.Header().Set("Content-Type", "application/activity+json")

		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"@context": []string{vocab.ContextActivityStreams, "https://w3id.org/security/v1"},
			"id":       actorID,
			"type":     "Person",
			"publicKey": map[string]interface{}{
				"id":           actorID + "#main-key",
				"owner":        actorID,
				"publicKeyPem": string(pemBytes),
			},
		}))
	}))
	defer remoteServer.Close()

	f := newFederation(t)

	var (
		mutex    sync.Mutex
		received []vocab.Document
		handles  []string
		keyIDs   []string
	)

	require.NoError(t, f.SetInboxListeners("/users/{handle}/inbox", "/inbox"))
	require.NoError(t, f.OnInboxActivity("Follow", func(ctx *InboxContext, activity vocab.Document) error {
		mutex.Lock()
		defer mutex.Unlock()

		received = append(received, activity)
		handles = append(handles, ctx.Handle)

		if ctx.Key != nil {
			keyIDs = append(keyIDs, ctx.Key.ID.String())
		}

		return nil
	}))

	senderKey := &keys.SenderKey{
		ID:         mustParseURL(t, remoteServer.URL+"/users/bob#main-key"),
		PrivateKey: remoteKey,
	}

	signer := httpsig.NewSigner(httpsig.DefaultPostSignerConfig())

	activity := []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + remoteServer.URL + `/activities/follow-1",
		"type": "Follow",
		"actor": "` + remoteServer.URL + `/users/bob",
		"object": "http://example.com/users/alice"
	}`)

	t.Run("unsigned is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(activity)))

		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Empty(t, received)
	})

	t.Run("signed is dispatched", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(activity))
		require.NoError(t, signer.SignRequest(senderKey, req, activity))

		w := httptest.NewRecorder()

		f.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, received, 1)
		require.Equal(t, []string{"alice"}, handles)
		require.Equal(t, []string{senderKey.ID.String()}, keyIDs)
	})

	t.Run("replay is suppressed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(activity))
		require.NoError(t, signer.SignRequest(senderKey, req, activity))

		w := httptest.NewRecorder()

		f.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, received, 1)
	})

	t.Run("no listener for type", func(t *testing.T) {
		accept := []byte(`{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id": "` + remoteServer.URL + `/activities/accept-1",
			"type": "Accept",
			"actor": "` + remoteServer.URL + `/users/bob"
		}`)

		req := httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(accept))
		require.NoError(t, signer.SignRequest(senderKey, req, accept))

		w := httptest.NewRecorder()

		f.ServeHTTP(w, req)

		// Unhandled types are still accepted.
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, received, 1)
	})
}

func TestFederation_SharedInbox(t *testing.T) {
	f := newFederation(t, func(opts *Options) { opts.SkipSignatureVerification = true })

	var handles []string

	require.NoError(t, f.SetInboxListeners("/users/{handle}/inbox", "/inbox"))
	require.NoError(t, f.OnInboxActivity("Create", func(ctx *InboxContext, activity vocab.Document) error {
		handles = append(handles, ctx.Handle)

		return nil
	}))

	activity := []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/activities/1",
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"object": {"type": "Note", "content": "hi"}
	}`)

	w := httptest.NewRecorder()

	f.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "http://example.com/inbox",
		bytes.NewReader(activity)))

	require.Equal(t, http.StatusAccepted, w.Code)
	// Shared-inbox deliveries carry no recipient handle.
	require.Equal(t, []string{""}, handles)

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/inbox", nil))

		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestFederation_ListenerIsolation(t *testing.T) {
	f := newFederation(t, func(opts *Options) { opts.SkipSignatureVerification = true })

	var handlerErrs []error

	require.NoError(t, f.SetInboxListeners("/users/{handle}/inbox", ""))
	require.NoError(t, f.OnInboxActivity("Create", func(ctx *InboxContext, activity vocab.Document) error {
		return errors.New("listener failure")
	}))
	require.NoError(t, f.OnInboxActivity("Follow", func(ctx *InboxContext, activity vocab.Document) error {
		panic("listener panic")
	}))
	require.NoError(t, f.SetInboxErrorHandler(func(ctx *InboxContext, err error) {
		handlerErrs = append(handlerErrs, err)
	}))

	post := func(id, activityType string) int {
		activity := []byte(`{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id": "https://remote.example/activities/` + id + `",
			"type": "` + activityType + `",
			"actor": "https://remote.example/users/bob"
		}`)

		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(activity)))

		return w.Code
	}

	// A failing listener never surfaces to the remote server.
	require.Equal(t, http.StatusAccepted, post("1", "Create"))
	require.Len(t, handlerErrs, 1)
	require.Contains(t, handlerErrs[0].Error(), "listener failure")

	// A panicking listener is recovered and reported as an error.
	require.Equal(t, http.StatusAccepted, post("2", "Follow"))
	require.Len(t, handlerErrs, 2)
	require.Contains(t, handlerErrs[1].Error(), "listener panic")
}

func TestFederation_MostSpecificListener(t *testing.T) {
	f := newFederation(t, func(opts *Options) { opts.SkipSignatureVerification = true })

	var dispatched []string

	require.NoError(t, f.SetInboxListeners("/users/{handle}/inbox", ""))
	require.NoError(t, f.OnInboxActivity("Activity", func(ctx *InboxContext, activity vocab.Document) error {
		dispatched = append(dispatched, "Activity")

		return nil
	}))
	require.NoError(t, f.OnInboxActivity("Follow", func(ctx *InboxContext, activity vocab.Document) error {
		dispatched = append(dispatched, "Follow")

		return nil
	}))

	post := func(id, activityType string) {
		activity := []byte(`{
			"@context": "https://www.w3.org/ns/activitystreams",
			"id": "https://remote.example/activities/` + id + `",
			"type": "` + activityType + `",
			"actor": "https://remote.example/users/bob"
		}`)

		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodPost,
			"http://example.com/users/alice/inbox", bytes.NewReader(activity)))

		require.Equal(t, http.StatusAccepted, w.Code)
	}

	// Follow has its own listener; Accept falls back to the Activity listener.
	post("1", "Follow")
	post("2", "Accept")

	require.Equal(t, []string{"Follow", "Activity"}, dispatched)
}

func TestFederation_NodeInfo(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetNodeInfoDispatcher("/nodeinfo/2.1", func(ctx *Context) (*resthandler.NodeInfo, error) {
		return &resthandler.NodeInfo{
			Software: resthandler.Software{Name: "testapp", Version: "0.1.0"},
			Usage: resthandler.Usage{
				Users: resthandler.Users{Total: 10, ActiveHalfyear: -3},
			},
		}, nil
	}))

	t.Run("document", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/nodeinfo/2.1", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var nodeInfo resthandler.NodeInfo

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nodeInfo))
		require.Equal(t, "2.1", nodeInfo.Version)
		require.Equal(t, 10, nodeInfo.Usage.Users.Total)
		require.Equal(t, 0, nodeInfo.Usage.Users.ActiveHalfyear)
	})

	t.Run("discovery", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/.well-known/nodeinfo", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var jrd resthandler.JRD

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &jrd))
		require.Len(t, jrd.Links, 1)
		require.Equal(t, "http://example.com/nodeinfo/2.1", jrd.Links[0].Href)
	})
}

func TestFederation_ObjectDispatcher(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetObjectDispatcher("Note", "/users/{handle}/notes/{id}",
		func(ctx *Context, values map[string]string) (vocab.Document, error) {
			if values["id"] != "1" {
				return nil, nil
			}

			return vocab.Document{
				"id":      "http://example.com/users/" + values["handle"] + "/notes/1",
				"type":    "Note",
				"content": "hello",
			}, nil
		}))

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/users/alice/notes/1", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"hello"`)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()

		f.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com/users/alice/notes/2", nil))

		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFederation_SendActivity(t *testing.T) {
	var (
		mutex      sync.Mutex
		deliveries []*http.Request
	)

	remoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mutex.Lock()
		deliveries = append(deliveries, req.Clone(context.Background()))
		mutex.Unlock()

		w.WriteHeader(http.StatusAccepted)
	}))
	defer remoteServer.Close()

	f := newFederation(t)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	require.NoError(t, f.SetActorKeyPairsDispatcher(
		func(ctx *Context, handle string) ([]keys.SenderKey, error) {
			return []keys.SenderKey{{
				ID:         mustParseURL(t, "http://example.com/users/"+handle+"#main-key"),
				PrivateKey: privateKey,
			}}, nil
		}))

	ctx := f.NewContext(mustParseURL(t, "http://example.com"))

	activity := vocab.Document{
		"@context": vocab.ContextActivityStreams,
		"type":     "Create",
		"actor":    "http://example.com/users/alice",
		"object":   map[string]interface{}{"type": "Note", "content": "hi"},
	}

	recipients := []*vocab.Recipient{
		{
			ID:    mustParseURL(t, remoteServer.URL+"/users/bob"),
			Inbox: mustParseURL(t, remoteServer.URL+"/users/bob/inbox"),
		},
		// The sender's own origin is never delivered to.
		{
			ID:    mustParseURL(t, "http://example.com/users/carol"),
			Inbox: mustParseURL(t, "http://example.com/users/carol/inbox"),
		},
	}

	sent, err := ctx.SendActivity(context.Background(), "alice", recipients, activity)
	require.NoError(t, err)
	require.NotNil(t, sent.ID())
	require.Equal(t, "urn", sent.ID().Scheme)

	mutex.Lock()
	defer mutex.Unlock()

	require.Len(t, deliveries, 1)
	require.Equal(t, "/users/bob/inbox", deliveries[0].URL.Path)
	require.NotEmpty(t, deliveries[0].Header.Get("Signature"))

	t.Run("no key pairs dispatcher", func(t *testing.T) {
		f2 := newFederation(t)

		_, err := f2.NewContext(mustParseURL(t, "http://example.com")).
			SendActivity(context.Background(), "alice", recipients, activity)
		require.Error(t, err)
		require.Contains(t, err.Error(), "key-pairs dispatcher")
	})
}

func TestFederation_RegistrationErrors(t *testing.T) {
	f := newFederation(t)

	require.NoError(t, f.SetActorDispatcher("/users/{handle}", aliceDispatcher))

	t.Run("double set", func(t *testing.T) {
		require.Error(t, f.SetActorDispatcher("/actors/{handle}", aliceDispatcher))
	})

	t.Run("no variable", func(t *testing.T) {
		f2 := newFederation(t)

		require.Error(t, f2.SetActorDispatcher("/actor", aliceDispatcher))
	})

	t.Run("listener before inbox route", func(t *testing.T) {
		f2 := newFederation(t)

		require.Error(t, f2.OnInboxActivity("Follow",
			func(ctx *InboxContext, activity vocab.Document) error { return nil }))
	})

	t.Run("duplicate listener type", func(t *testing.T) {
		f2 := newFederation(t)

		require.NoError(t, f2.SetInboxListeners("/users/{handle}/inbox", ""))

		listener := func(ctx *InboxContext, activity vocab.Document) error { return nil }

		require.NoError(t, f2.OnInboxActivity("Follow", listener))
		require.Error(t, f2.OnInboxActivity("Follow", listener))
	})

	t.Run("shared inbox with variable", func(t *testing.T) {
		f2 := newFederation(t)

		require.Error(t, f2.SetInboxListeners("/users/{handle}/inbox", "/inbox/{x}"))
	})

	t.Run("collection without dispatcher", func(t *testing.T) {
		f2 := newFederation(t)

		require.Error(t, f2.SetOutboxDispatcher("/users/{handle}/outbox", CollectionCallbacks{}))
	})

	t.Run("store is required", func(t *testing.T) {
		_, err := New(Options{})
		require.Error(t, err)
	})
}

func newFederation(t *testing.T, opts ...func(*Options)) *Federation {
	t.Helper()

	store := memstore.New()
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	options := Options{
		Store:                 store,
		AllowPrivateAddresses: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	f, err := New(options)
	require.NoError(t, err)

	t.Cleanup(f.Close)

	return f
}

func aliceDispatcher(ctx *Context, handle string) (vocab.Document, error) {
	if handle != "alice" {
		return nil, nil
	}

	return vocab.Document{
		"@context":          vocab.ContextActivityStreams,
		"id":                ctx.ActorURI(handle).String(),
		"type":              "Person",
		"preferredUsername": handle,
	}, nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}
