/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbox

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/store/memstore"
	storespi "github.com/dahlia/fedify-sub001/pkg/store/spi"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

func TestHandler_BadRequest(t *testing.T) {
	handler, _ := newHandler(t, &mockVerifier{}, &mockProofVerifier{})

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, []byte("not json")))

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Unauthenticated(t *testing.T) {
	var dispatched bool

	handler, _ := newHandler(t, &mockVerifier{}, &mockProofVerifier{})
	handler.Dispatch = func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
		dispatched = true

		return true
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Accept, Signature", w.Header().Get("Vary"))
	require.False(t, dispatched)
}

func TestHandler_OwnerMismatch(t *testing.T) {
	key := &keys.PublicKey{
		ID:    mustParseURL(t, "https://other.example/users/mallory#main-key"),
		Owner: mustParseURL(t, "https://other.example/users/mallory"),
	}

	var dispatched bool

	handler, _ := newHandler(t, &mockVerifier{key: key}, &mockProofVerifier{})
	handler.Dispatch = func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
		dispatched = true

		return true
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.False(t, dispatched)
}

func TestHandler_Signed(t *testing.T) {
	key := &keys.PublicKey{
		ID:    mustParseURL(t, "https://remote.example/users/bob#main-key"),
		Owner: mustParseURL(t, "https://remote.example/users/bob"),
	}

	var dispatchedKey *keys.PublicKey

	handler, _ := newHandler(t, &mockVerifier{key: key}, &mockProofVerifier{})
	handler.Dispatch = func(req *http.Request, activity vocab.Document, k *keys.PublicKey) bool {
		dispatchedKey = k

		return true
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, key, dispatchedKey)
}

func TestHandler_ProofFallback(t *testing.T) {
	key := &keys.PublicKey{
		ID:    mustParseURL(t, "https://remote.example/users/bob#key-ed25519"),
		Owner: mustParseURL(t, "https://remote.example/users/bob"),
	}

	var dispatchedKey *keys.PublicKey

	handler, _ := newHandler(t, &mockVerifier{}, &mockProofVerifier{keys: []*keys.PublicKey{key}})
	handler.Dispatch = func(req *http.Request, activity vocab.Document, k *keys.PublicKey) bool {
		dispatchedKey = k

		return true
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, key, dispatchedKey)
}

func TestHandler_VerifierError(t *testing.T) {
	handler, _ := newHandler(t, &mockVerifier{err: errors.New("injected error")}, &mockProofVerifier{})

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_DuplicateSuppressed(t *testing.T) {
	var dispatchCount int

	handler, _ := newHandler(t, nil, nil)
	handler.SkipVerification = true
	handler.Dispatch = func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
		dispatchCount++

		return true
	}

	body := activityJSON("https://remote.example/activities/1")

	w := httptest.NewRecorder()
	handler.HandlePost(w, newPostRequest(t, body))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, dispatchCount)

	// The same activity ID is redelivered (e.g. a remote retry).
	w = httptest.NewRecorder()
	handler.HandlePost(w, newPostRequest(t, body))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 1, dispatchCount)

	// A different activity is processed normally.
	w = httptest.NewRecorder()
	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/2")))
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, 2, dispatchCount)
}

func TestHandler_MarkedBeforeDispatch(t *testing.T) {
	handler, store := newHandler(t, nil, nil)
	handler.SkipVerification = true
	handler.Dispatch = func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
		// The idempotence record must already exist when the listener runs.
		_, err := store.Get(req.Context(),
			handler.idempotenceKey(mustParseURL(t, "https://remote.example/activities/1")))
		require.NoError(t, err)

		return true
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestHandler_NoListener(t *testing.T) {
	handler, store := newHandler(t, nil, nil)
	handler.SkipVerification = true
	handler.Dispatch = func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
		return false
	}

	w := httptest.NewRecorder()

	handler.HandlePost(w, newPostRequest(t, activityJSON("https://remote.example/activities/1")))

	// No listener is still accepted; the remote server must not retry.
	require.Equal(t, http.StatusAccepted, w.Code)

	_, err := store.Get(context.Background(),
		handler.idempotenceKey(mustParseURL(t, "https://remote.example/activities/1")))
	require.NoError(t, err)
}

func newHandler(t *testing.T, verifier *mockVerifier, proofVerifier *mockProofVerifier) (*Handler, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	handler := &Handler{
		Verifier:      verifier,
		ProofVerifier: proofVerifier,
		Store:         store,
		Prefix:        storespi.Key{"_fedify", "activityIdempotence"},
		Dispatch: func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool {
			return true
		},
	}

	return handler, store
}

func newPostRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/users/alice/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")

	return req
}

func activityJSON(id string) []byte {
	return []byte(`{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + id + `",
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"object": {"type": "Note", "content": "hi"}
	}`)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}

type mockVerifier struct {
	key *keys.PublicKey
	err error
}

func (m *mockVerifier) VerifyRequest(req *http.Request, body []byte) (*keys.PublicKey, error) {
	return m.key, m.err
}

type mockProofVerifier struct {
	keys []*keys.PublicKey
	err  error
}

func (m *mockProofVerifier) VerifyObject(ctx context.Context, doc vocab.Document) ([]*keys.PublicKey, error) {
	return m.keys, m.err
}
