/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/piprate/json-gold/ld"
	"github.com/stretchr/testify/require"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

func TestSignAndVerifyObject(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	actorIRI := "https://alice.example.com/users/alice"
	keyIRI := mustParseURL(t, actorIRI+"#ed25519-key")

	doc := vocab.Document{
		"type":         "Note",
		"attributedTo": actorIRI,
		"content":      "Hello, fediverse!",
	}

	signed, err := SignObject(doc, &keys.SenderKey{ID: keyIRI, PrivateKey: privateKey})
	require.NoError(t, err)
	require.Contains(t, signed, "proof")

	// The input document must not be modified.
	require.NotContains(t, doc, "proof")

	cache := &mockKeyCache{
		keys: map[string]*keys.PublicKey{
			keyIRI.String(): {ID: keyIRI, Owner: mustParseURL(t, actorIRI), Key: publicKey},
		},
	}

	v := NewVerifier(cache, nil)

	verifiedKeys, err := v.VerifyObject(context.Background(), signed)
	require.NoError(t, err)
	require.Len(t, verifiedKeys, 1)
	require.Equal(t, keyIRI.String(), verifiedKeys[0].ID.String())
}

func TestVerifyObject_Tampered(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	actorIRI := "https://alice.example.com/users/alice"
	keyIRI := mustParseURL(t, actorIRI+"#ed25519-key")

	doc := vocab.Document{
		"type":         "Note",
		"attributedTo": actorIRI,
		"content":      "Hello, fediverse!",
	}

	signed, err := SignObject(doc, &keys.SenderKey{ID: keyIRI, PrivateKey: privateKey})
	require.NoError(t, err)

	signed["content"] = "Hello, fediverse?"

	cache := &mockKeyCache{
		keys: map[string]*keys.PublicKey{
			keyIRI.String(): {ID: keyIRI, Owner: mustParseURL(t, actorIRI), Key: publicKey},
		},
	}

	v := NewVerifier(cache, nil)

	verifiedKeys, err := v.VerifyObject(context.Background(), signed)
	require.NoError(t, err)
	require.Nil(t, verifiedKeys)
}

func TestVerifyObject_UncoveredAttribution(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	keyIRI := mustParseURL(t, "https://mallory.example.com/users/mallory#ed25519-key")

	// The proof verifies, but the key owner is not the attributed actor.
	doc := vocab.Document{
		"type":         "Note",
		"attributedTo": "https://alice.example.com/users/alice",
		"content":      "Hello, fediverse!",
	}

	signed, err := SignObject(doc, &keys.SenderKey{ID: keyIRI, PrivateKey: privateKey})
	require.NoError(t, err)

	cache := &mockKeyCache{
		keys: map[string]*keys.PublicKey{
			keyIRI.String(): {
				ID:    keyIRI,
				Owner: mustParseURL(t, "https://mallory.example.com/users/mallory"),
				Key:   publicKey,
			},
		},
	}

	v := NewVerifier(cache, nil)

	verifiedKeys, err := v.VerifyObject(context.Background(), signed)
	require.NoError(t, err)
	require.Nil(t, verifiedKeys)
}

func TestVerifyObject_NoProof(t *testing.T) {
	v := NewVerifier(&mockKeyCache{}, nil)

	verifiedKeys, err := v.VerifyObject(context.Background(), vocab.Document{"type": "Note"})
	require.NoError(t, err)
	require.Nil(t, verifiedKeys)
}

func TestVerifyObject_LegacySignature(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	actorIRI := "https://alice.example.com/users/alice"
	keyIRI := mustParseURL(t, actorIRI+"#main-key")

	doc := vocab.Document{
		"@context": map[string]interface{}{
			"content": "http://schema.org/text",
		},
		"content": "Hello, fediverse!",
	}

	cache := &mockKeyCache{
		keys: map[string]*keys.PublicKey{
			keyIRI.String(): {ID: keyIRI, Owner: mustParseURL(t, actorIRI), Key: &privateKey.PublicKey},
		},
	}

	v := NewVerifier(cache, &mockDocumentLoader{})

	sig := &legacySignature{
		Type:    TypeRsaSignature2017,
		Creator: keyIRI.String(),
		Created: "2024-01-15T10:00:00Z",
	}

	sig.SignatureValue = legacySign(t, v, doc, sig, privateKey)

	doc["signature"] = map[string]interface{}{
		"type":           sig.Type,
		"creator":        sig.Creator,
		"created":        sig.Created,
		"signatureValue": sig.SignatureValue,
	}

	verifiedKeys, err := v.VerifyObject(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, verifiedKeys, 1)

	t.Run("tampered", func(t *testing.T) {
		tampered := doc.Clone()
		tampered["content"] = "Something else"

		verifiedKeys, err := v.VerifyObject(context.Background(), tampered)
		require.NoError(t, err)
		require.Nil(t, verifiedKeys)
	})
}

// legacySign produces an RsaSignature2017 signature value using the same
// canonicalization pipeline that verification uses.
func legacySign(t *testing.T, v *Verifier, doc vocab.Document, sig *legacySignature,
	privateKey *rsa.PrivateKey) string {
	t.Helper()

	options := map[string]interface{}{
		"@context": contextIdentity,
		"creator":  sig.Creator,
		"created":  sig.Created,
	}

	optionsDigest, err := v.urdnaDigest(options)
	require.NoError(t, err)

	docDigest, err := v.urdnaDigest(map[string]interface{}(doc))
	require.NoError(t, err)

	toSign := []byte(hex.EncodeToString(optionsDigest) + hex.EncodeToString(docDigest))

	digest := sha256.Sum256(toSign)

	rawSignature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(rawSignature)
}

type mockKeyCache struct {
	keys map[string]*keys.PublicKey
}

func (m *mockKeyCache) Get(_ context.Context, keyIRI *url.URL) (*keys.PublicKey, error) {
	if publicKey, ok := m.keys[keyIRI.String()]; ok {
		return publicKey, nil
	}

	return nil, errors.ErrNotFound
}

// mockDocumentLoader resolves the identity context without network access.
type mockDocumentLoader struct{}

func (l *mockDocumentLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	if u == contextIdentity {
		return &ld.RemoteDocument{
			DocumentURL: u,
			Document: map[string]interface{}{
				"@context": map[string]interface{}{
					"creator": map[string]interface{}{
						"@id":   "http://purl.org/dc/terms/creator",
						"@type": "@id",
					},
					"created": map[string]interface{}{
						"@id":   "http://purl.org/dc/terms/created",
						"@type": "http://www.w3.org/2001/XMLSchema#dateTime",
					},
				},
			},
		}, nil
	}

	return nil, errors.NewFetchError(&url.URL{Path: u}, errors.ErrNotFound)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	return u
}
