/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package docloader

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/store/memstore"
	"github.com/dahlia/fedify-sub001/pkg/transport"
)

func TestLoader(t *testing.T) {
	requestCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestCount++

		w.Header().Set("Content-Type", ContentTypeActivityJSON)
		_, err := w.Write([]byte(`{"id":"https://example.com/users/alice","type":"Person"}`))
		require.NoError(t, err)
	}))
	defer server.Close()

	store := memstore.New()
	defer func() {
		require.NoError(t, store.Close())
	}()

	l := New(Config{AllowPrivateAddresses: true}, transport.Default(), store)

	doc, err := l.Load(context.Background(), server.URL+"/users/alice")
	require.NoError(t, err)

	document, ok := doc.Document.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "Person", document["type"])

	// The second load should be served from the cache.
	_, err = l.Load(context.Background(), server.URL+"/users/alice")
	require.NoError(t, err)
	require.Equal(t, 1, requestCount)
}

func TestLoader_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := memstore.New()
	defer func() {
		require.NoError(t, store.Close())
	}()

	l := New(Config{AllowPrivateAddresses: true}, transport.Default(), store)

	_, err := l.Load(context.Background(), server.URL+"/users/nobody")
	require.True(t, errors.IsFetchError(err))
	require.False(t, errors.IsTransient(err))
}

func TestLoader_TransientFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := memstore.New()
	defer func() {
		require.NoError(t, store.Close())
	}()

	l := New(Config{AllowPrivateAddresses: true}, transport.Default(), store)

	_, err := l.Load(context.Background(), server.URL+"/users/alice")
	require.True(t, errors.IsFetchError(err))
	require.True(t, errors.IsTransient(err))
}

func TestLoader_RejectedURLs(t *testing.T) {
	store := memstore.New()
	defer func() {
		require.NoError(t, store.Close())
	}()

	l := New(Config{}, transport.Default(), store)

	for _, u := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://localhost/admin",
		"http://127.0.0.1/admin",
		"https://10.0.0.1/internal",
		"https://192.168.1.1/router",
		"https://[::1]/admin",
	} {
		_, err := l.Load(context.Background(), u)
		require.True(t, errors.IsBadRequest(err), "expected %s to be rejected", u)
	}
}

func TestKeyFetcher(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes, err := keys.EncodePublicKeyPEM(&privateKey.PublicKey)
	require.NoError(t, err)

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		actor := map[string]interface{}{
			"id":   server.URL + "/users/alice",
			"type": "Person",
			"publicKey": map[string]interface{}{
				"id":           server.URL + "/users/alice#main-key",
				"owner":        server.URL + "/users/alice",
				"publicKeyPem": string(pemBytes),
			},
		}

		w.Header().Set("Content-Type", ContentTypeActivityJSON)
		require.NoError(t, json.NewEncoder(w).Encode(actor))
	}))
	defer server.Close()

	store := memstore.New()
	defer func() {
		require.NoError(t, store.Close())
	}()

	fetch := NewKeyFetcher(New(Config{AllowPrivateAddresses: true}, transport.Default(), store))

	keyIRI, err := url.Parse(server.URL + "/users/alice#main-key")
	require.NoError(t, err)

	publicKey, err := fetch(context.Background(), keyIRI)
	require.NoError(t, err)
	require.Equal(t, keyIRI.String(), publicKey.ID.String())
	require.Equal(t, server.URL+"/users/alice", publicKey.Owner.String())
	require.Equal(t, keys.AlgorithmRSA, publicKey.Algorithm())

	t.Run("unknown key", func(t *testing.T) {
		unknownIRI, err := url.Parse(server.URL + "/users/alice#other-key")
		require.NoError(t, err)

		_, err = fetch(context.Background(), unknownIRI)
		require.ErrorIs(t, err, errors.ErrNotFound)
	})
}
