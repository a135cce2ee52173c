/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package keys models the cryptographic keys exchanged between federated
// servers: PEM-encoded verification keys (the classic ActivityPub
// 'publicKey' shape) and FEP-521a Multikeys.
package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// KeyType indicates the representation a public key was parsed from.
type KeyType string

const (
	// TypeVerificationKey is a PEM-encoded key with an 'owner' property.
	TypeVerificationKey KeyType = "Key"
	// TypeMultikey is a multibase-encoded key with a 'controller' property.
	TypeMultikey KeyType = "Multikey"
)

// Algorithm identifies a supported signature algorithm.
type Algorithm string

const (
	// AlgorithmRSA is RSASSA-PKCS1-v1_5 with SHA-256.
	AlgorithmRSA Algorithm = "rsa-sha256"
	// AlgorithmEd25519 is Ed25519.
	AlgorithmEd25519 Algorithm = "ed25519"
)

// PublicKey is a remote actor's public key.
type PublicKey struct {
	// ID is the key's identifier.
	ID *url.URL
	// Owner is the actor that owns the key. For Multikeys this is the
	// 'controller'.
	Owner *url.URL
	// Key is the parsed public key (*rsa.PublicKey or ed25519.PublicKey).
	Key crypto.PublicKey
	// Type indicates which representation the key was parsed from.
	Type KeyType
}

// Algorithm returns the signature algorithm of the key.
func (k *PublicKey) Algorithm() Algorithm {
	if _, ok := k.Key.(ed25519.PublicKey); ok {
		return AlgorithmEd25519
	}

	return AlgorithmRSA
}

// SenderKey is a private key presented by the local application for signing
// outgoing requests and objects.
type SenderKey struct {
	// ID is the URL under which the matching public key is published.
	ID *url.URL
	// PrivateKey is the private key (*rsa.PrivateKey or ed25519.PrivateKey).
	PrivateKey crypto.PrivateKey
}

// Validate returns an error if the private key is nil or uses an
// unsupported algorithm.
func (k *SenderKey) Validate() error {
	switch k.PrivateKey.(type) {
	case *rsa.PrivateKey, ed25519.PrivateKey:
		return nil
	default:
		return fmt.Errorf("%w: %T", errors.ErrInvalidKey, k.PrivateKey)
	}
}

// SelectRSA returns the first RSA key from the given sender keys, or an
// error if there is none. HTTP signatures require an RSA key.
func SelectRSA(senderKeys []SenderKey) (*SenderKey, error) {
	for i := range senderKeys {
		if _, ok := senderKeys[i].PrivateKey.(*rsa.PrivateKey); ok {
			return &senderKeys[i], nil
		}
	}

	return nil, fmt.Errorf("%w: no RSA key", errors.ErrInvalidKey)
}

// SelectEd25519 returns the first Ed25519 key from the given sender keys,
// or nil if there is none. Object proofs are optional, so a missing key is
// not an error.
func SelectEd25519(senderKeys []SenderKey) *SenderKey {
	for i := range senderKeys {
		if _, ok := senderKeys[i].PrivateKey.(ed25519.PrivateKey); ok {
			return &senderKeys[i]
		}
	}

	return nil
}

// ParseKeyDocument parses a public key from its JSON-LD document. Both the
// PEM 'publicKey' shape and the FEP-521a Multikey shape are supported.
func ParseKeyDocument(doc vocab.Document) (*PublicKey, error) {
	id := doc.ID()
	if id == nil {
		return nil, fmt.Errorf("%w: key document has no id", errors.ErrInvalidKey)
	}

	for _, t := range doc.Types() {
		if t == string(TypeMultikey) {
			return parseMultikeyDocument(doc, id)
		}
	}

	return parseVerificationKeyDocument(doc, id)
}

func parseVerificationKeyDocument(doc vocab.Document, id *url.URL) (*PublicKey, error) {
	owner := ownerIRI(doc, "owner")
	if owner == nil {
		return nil, fmt.Errorf("%w: key [%s] has no owner", errors.ErrInvalidKey, id)
	}

	pemStr, ok := doc["publicKeyPem"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: key [%s] has no publicKeyPem", errors.ErrInvalidKey, id)
	}

	pub, err := ParsePublicKeyPEM([]byte(pemStr))
	if err != nil {
		return nil, fmt.Errorf("key [%s]: %w", id, err)
	}

	return &PublicKey{ID: id, Owner: owner, Key: pub, Type: TypeVerificationKey}, nil
}

func parseMultikeyDocument(doc vocab.Document, id *url.URL) (*PublicKey, error) {
	controller := ownerIRI(doc, "controller")
	if controller == nil {
		return nil, fmt.Errorf("%w: Multikey [%s] has no controller", errors.ErrInvalidKey, id)
	}

	encoded, ok := doc["publicKeyMultibase"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: Multikey [%s] has no publicKeyMultibase", errors.ErrInvalidKey, id)
	}

	pub, err := DecodeMultikey(encoded)
	if err != nil {
		return nil, fmt.Errorf("Multikey [%s]: %w", id, err)
	}

	return &PublicKey{ID: id, Owner: controller, Key: pub, Type: TypeMultikey}, nil
}

func ownerIRI(doc vocab.Document, property string) *url.URL {
	s, ok := doc[property].(string)
	if !ok {
		return nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil
	}

	return u
}

// ParsePublicKeyPEM parses a PEM-encoded PKIX public key and validates its
// algorithm.
func ParsePublicKeyPEM(pemBytes []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", errors.ErrInvalidKey)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some legacy implementations publish PKCS#1 keys.
		rsaPub, rsaErr := x509.ParsePKCS1PublicKey(block.Bytes)
		if rsaErr != nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidKey, err)
		}

		return rsaPub, nil
	}

	switch pub.(type) {
	case *rsa.PublicKey, ed25519.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrInvalidKey, pub)
	}
}

// EncodePublicKeyPEM encodes the given public key in PKIX PEM form.
func EncodePublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
