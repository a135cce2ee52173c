/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keys

import (
	"fmt"
	"net/url"

	jose "github.com/square/go-jose/v3"
)

// MarshalJSON serializes the sender key as a JWK with the key ID in 'kid'.
// Queued outbox messages carry their signing keys in this form.
func (k SenderKey) MarshalJSON() ([]byte, error) {
	jwk := jose.JSONWebKey{
		Key:   k.PrivateKey,
		KeyID: k.ID.String(),
	}

	return jwk.MarshalJSON()
}

// UnmarshalJSON parses a JWK-serialized sender key.
func (k *SenderKey) UnmarshalJSON(data []byte) error {
	var jwk jose.JSONWebKey

	if err := jwk.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("unmarshal JWK: %w", err)
	}

	id, err := url.Parse(jwk.KeyID)
	if err != nil {
		return fmt.Errorf("parse key ID [%s]: %w", jwk.KeyID, err)
	}

	key := SenderKey{ID: id, PrivateKey: jwk.Key}

	if err := key.Validate(); err != nil {
		return err
	}

	*k = key

	return nil
}
