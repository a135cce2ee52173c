/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package keys

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/dahlia/fedify-sub001/pkg/errors"
)

// Multicodec prefixes (unsigned varint) for the supported key types.
var (
	multicodecEd25519 = []byte{0xed, 0x01} //nolint:gochecknoglobals
	multicodecRSA     = []byte{0x85, 0x24} //nolint:gochecknoglobals
)

// EncodeMultikey encodes the given public key as a base58btc multibase
// string with a multicodec prefix, per FEP-521a.
func EncodeMultikey(pub crypto.PublicKey) (string, error) {
	var raw []byte

	switch k := pub.(type) {
	case ed25519.PublicKey:
		raw = append(multicodecEd25519, k...)
	case *rsa.PublicKey:
		raw = append(multicodecRSA, x509.MarshalPKCS1PublicKey(k)...)
	default:
		return "", fmt.Errorf("%w: %T", errors.ErrInvalidKey, pub)
	}

	encoded, err := multibase.Encode(multibase.Base58BTC, raw)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}

	return encoded, nil
}

// DecodeMultikey decodes a multibase/multicodec public key string.
func DecodeMultikey(encoded string) (crypto.PublicKey, error) {
	_, raw, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidKey, err)
	}

	switch {
	case bytes.HasPrefix(raw, multicodecEd25519):
		key := raw[len(multicodecEd25519):]
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: invalid Ed25519 key size %d", errors.ErrInvalidKey, len(key))
		}

		return ed25519.PublicKey(key), nil
	case bytes.HasPrefix(raw, multicodecRSA):
		pub, err := x509.ParsePKCS1PublicKey(raw[len(multicodecRSA):])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidKey, err)
		}

		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unsupported multicodec", errors.ErrInvalidKey)
	}
}
