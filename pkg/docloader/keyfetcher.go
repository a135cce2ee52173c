/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package docloader

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// NewKeyFetcher returns a function that dereferences a public key IRI and
// parses the resulting key document. The returned function has the shape
// expected by the key cache.
//
// A key IRI commonly carries a fragment (…/users/alice#main-key) and
// dereferencing it returns the actor document; in that case the matching
// entry is picked from the actor's publicKey or assertionMethod properties.
func NewKeyFetcher(l *Loader) func(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error) {
	return func(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error) {
		remoteDoc, err := l.Load(ctx, keyIRI.String())
		if err != nil {
			return nil, err
		}

		doc, err := asDocument(remoteDoc.Document)
		if err != nil {
			return nil, err
		}

		keyDoc := findKeyDocument(doc, keyIRI)
		if keyDoc == nil {
			return nil, errors.ErrNotFound
		}

		publicKey, err := keys.ParseKeyDocument(keyDoc)
		if err != nil {
			return nil, err
		}

		// A key document embedded in an actor inherits the actor as owner.
		if publicKey.Owner == nil {
			publicKey.Owner = doc.ID()
		}

		return publicKey, nil
	}
}

// findKeyDocument locates the key document with the given ID, either the
// document itself or an entry under its publicKey or assertionMethod
// properties.
func findKeyDocument(doc vocab.Document, keyIRI *url.URL) vocab.Document {
	if id := doc.ID(); id != nil && id.String() == keyIRI.String() {
		if _, ok := doc["publicKeyPem"]; ok {
			return doc
		}

		if _, ok := doc["publicKeyMultibase"]; ok {
			return doc
		}
	}

	for _, property := range []string{"publicKey", "assertionMethod"} {
		entries, ok := doc[property].([]interface{})
		if !ok {
			if entry, ok := doc[property]; ok {
				entries = []interface{}{entry}
			}
		}

		for _, entry := range entries {
			keyDoc, err := asDocument(entry)
			if err != nil {
				continue
			}

			if id := keyDoc.ID(); id != nil && id.String() == keyIRI.String() {
				return keyDoc
			}
		}
	}

	return nil
}

func asDocument(v interface{}) (vocab.Document, error) {
	if doc, ok := v.(map[string]interface{}); ok {
		return vocab.Document(doc), nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return vocab.UnmarshalDocument(raw)
}
