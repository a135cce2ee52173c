/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package proof creates and verifies object-level integrity proofs
// (FEP-8b32). An integrity proof authenticates an activity independently of
// the HTTP request that carried it, which allows activities to be forwarded
// through shared inboxes.
//
// The eddsa-jcs-2022 cryptosuite is supported for both creating and
// verifying proofs. The legacy RsaSignature2017 scheme (still emitted by
// Mastodon) is supported for verification only.
package proof

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/gowebpki/jcs"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	federrors "github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

var logger = log.New("proof")

const (
	// TypeDataIntegrityProof is the proof type of FEP-8b32 integrity proofs.
	TypeDataIntegrityProof = "DataIntegrityProof"

	// TypeRsaSignature2017 is the type of legacy linked-data signatures.
	TypeRsaSignature2017 = "RsaSignature2017"

	// CryptosuiteEddsaJcs2022 is the only supported cryptosuite for
	// DataIntegrityProof.
	CryptosuiteEddsaJcs2022 = "eddsa-jcs-2022"

	purposeAssertionMethod = "assertionMethod"

	contextDataIntegrity = "https://w3id.org/security/data-integrity/v1"
)

// Proof is an FEP-8b32 integrity proof, embedded in an object under the
// 'proof' property.
type Proof struct {
	Context            interface{} `json:"@context,omitempty"`
	Type               string      `json:"type"`
	Cryptosuite        string      `json:"cryptosuite,omitempty"`
	VerificationMethod string      `json:"verificationMethod"`
	ProofPurpose       string      `json:"proofPurpose"`
	Created            string      `json:"created,omitempty"`
	ProofValue         string      `json:"proofValue,omitempty"`
}

// SignObject adds an eddsa-jcs-2022 integrity proof to the given document
// using the Ed25519 key pair from the given sender keys. Any existing proofs
// are preserved: the new proof is appended.
func SignObject(doc vocab.Document, senderKey *keys.SenderKey) (vocab.Document, error) {
	edKey, ok := senderKey.PrivateKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: eddsa-jcs-2022 requires an Ed25519 key, got %T",
			federrors.ErrInvalidKey, senderKey.PrivateKey)
	}

	doc = doc.Clone()

	existingProofs := doc["proof"]

	delete(doc, "proof")

	if _, ok := doc["@context"]; !ok {
		doc["@context"] = []interface{}{vocab.ContextActivityStreams, contextDataIntegrity}
	}

	p := Proof{
		Context:            []interface{}{vocab.ContextActivityStreams, contextDataIntegrity},
		Type:               TypeDataIntegrityProof,
		Cryptosuite:        CryptosuiteEddsaJcs2022,
		VerificationMethod: senderKey.ID.String(),
		ProofPurpose:       purposeAssertionMethod,
		Created:            time.Now().UTC().Format(time.RFC3339),
	}

	docDigest, err := canonicalDigest(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}

	configDigest, err := proofConfigDigest(p)
	if err != nil {
		return nil, fmt.Errorf("canonicalize proof config: %w", err)
	}

	sig := ed25519.Sign(edKey, append(configDigest, docDigest...))

	p.ProofValue = "z" + base58.Encode(sig)

	if existingProofs != nil {
		doc["proof"] = appendProof(existingProofs, p)
	} else {
		doc["proof"] = p
	}

	return doc, nil
}

// VerifyObject verifies all integrity proofs and legacy signatures attached
// to the given document and checks that every attribution (and, for
// activities, every actor) is covered by at least one verifying key.
//
// Returns:
// - The verifying keys if the object was fully authenticated, otherwise nil.
// - An error if verification could not be performed due to a server error.
//
// Partial authentication is not authentication: a single failing proof, or a
// single attribution with no matching key, yields a nil result.
func (v *Verifier) VerifyObject(ctx context.Context, doc vocab.Document) ([]*keys.PublicKey, error) {
	proofs, legacySignature, err := attachedProofs(doc)
	if err != nil {
		logger.Debug("Invalid proofs on object", logfields.WithTypeIRI(firstType(doc)), log.WithError(err))

		return nil, nil
	}

	if len(proofs) == 0 && legacySignature == nil {
		return nil, nil
	}

	var verifiedKeys []*keys.PublicKey

	for i := range proofs {
		publicKey, err := v.VerifyProof(ctx, doc, &proofs[i])
		if err != nil {
			return nil, err
		}

		if publicKey == nil {
			return nil, nil
		}

		verifiedKeys = append(verifiedKeys, publicKey)
	}

	if legacySignature != nil {
		publicKey, err := v.verifyLegacySignature(ctx, doc, legacySignature)
		if err != nil {
			return nil, err
		}

		if publicKey == nil {
			return nil, nil
		}

		verifiedKeys = append(verifiedKeys, publicKey)
	}

	if !coversAttributions(doc, verifiedKeys) {
		logger.Debug("Object proofs do not cover all attributions", logfields.WithTypeIRI(firstType(doc)))

		return nil, nil
	}

	return verifiedKeys, nil
}

// VerifyProof verifies a single eddsa-jcs-2022 integrity proof against the
// given document. A proof that does not verify returns a nil key; an error is
// returned only when verification could not be performed.
func (v *Verifier) VerifyProof(ctx context.Context, doc vocab.Document, p *Proof) (*keys.PublicKey, error) {
	if p.Type != TypeDataIntegrityProof {
		logger.Debug("Unsupported proof type", logfields.WithTypeIRI(p.Type))

		return nil, nil
	}

	if p.Cryptosuite != CryptosuiteEddsaJcs2022 {
		logger.Debug("Unsupported cryptosuite", logfields.WithParameter(p.Cryptosuite))

		return nil, nil
	}

	if p.ProofPurpose != purposeAssertionMethod {
		logger.Debug("Unsupported proof purpose", logfields.WithParameter(p.ProofPurpose))

		return nil, nil
	}

	if len(p.ProofValue) <= 1 || p.ProofValue[0] != 'z' {
		logger.Debug("Proof value is not base58btc-multibase encoded")

		return nil, nil
	}

	publicKey, err := v.resolveKey(ctx, p.VerificationMethod)
	if err != nil || publicKey == nil {
		return nil, err
	}

	edKey, ok := publicKey.Key.(ed25519.PublicKey)
	if !ok {
		logger.Debug("Proof verification key is not an Ed25519 key", logfields.WithKeyID(p.VerificationMethod))

		return nil, nil
	}

	unproofed := doc.Clone()

	delete(unproofed, "proof")

	docDigest, err := canonicalDigest(unproofed)
	if err != nil {
		logger.Debug("Error canonicalizing document", log.WithError(err))

		return nil, nil
	}

	sig := base58.Decode(p.ProofValue[1:])

	if verifyProofConfig(edKey, *p, docDigest, sig) {
		return publicKey, nil
	}

	// Some servers (notably Hubzilla) drop the @context from the proof
	// configuration. Retry without it.
	if p.Context != nil {
		stripped := *p
		stripped.Context = nil

		if verifyProofConfig(edKey, stripped, docDigest, sig) {
			return publicKey, nil
		}
	}

	logger.Debug("Proof verification failed", logfields.WithKeyID(p.VerificationMethod))

	return nil, nil
}

func verifyProofConfig(edKey ed25519.PublicKey, p Proof, docDigest, sig []byte) bool {
	configDigest, err := proofConfigDigest(p)
	if err != nil {
		return false
	}

	return ed25519.Verify(edKey, append(configDigest, docDigest...), sig)
}

func (v *Verifier) resolveKey(ctx context.Context, verificationMethod string) (*keys.PublicKey, error) {
	keyIRI, err := url.Parse(verificationMethod)
	if err != nil {
		logger.Debug("Invalid verification method", logfields.WithKeyID(verificationMethod), log.WithError(err))

		return nil, nil
	}

	publicKey, err := v.keyCache.Get(ctx, keyIRI)
	if err != nil {
		if federrors.IsTransient(err) {
			return nil, fmt.Errorf("get public key [%s]: %w", keyIRI, err)
		}

		logger.Debug("Error resolving verification key", logfields.WithKeyID(verificationMethod),
			log.WithError(err))

		return nil, nil
	}

	return publicKey, nil
}

// canonicalDigest JCS-serializes the given document and returns its SHA-256
// digest.
func canonicalDigest(doc vocab.Document) ([]byte, error) {
	raw, err := json.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(canonical)

	return digest[:], nil
}

// proofConfigDigest JCS-serializes the proof configuration (the proof minus
// its proofValue) and returns its SHA-256 digest.
func proofConfigDigest(p Proof) ([]byte, error) {
	config := map[string]interface{}{
		"type":               p.Type,
		"cryptosuite":        p.Cryptosuite,
		"verificationMethod": p.VerificationMethod,
		"proofPurpose":       p.ProofPurpose,
	}

	if p.Context != nil {
		config["@context"] = p.Context
	}

	if p.Created != "" {
		config["created"] = p.Created
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(canonical)

	return digest[:], nil
}

// attachedProofs extracts the 'proof' property (an object or an array of
// objects) and the legacy 'signature' property from the document.
func attachedProofs(doc vocab.Document) ([]Proof, *legacySignature, error) {
	var proofs []Proof

	if rawProof, ok := doc["proof"]; ok {
		entries, ok := rawProof.([]interface{})
		if !ok {
			entries = []interface{}{rawProof}
		}

		for _, entry := range entries {
			p, err := unmarshalAs[Proof](entry)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid proof: %w", err)
			}

			proofs = append(proofs, p)
		}
	}

	var legacy *legacySignature

	if rawSignature, ok := doc["signature"]; ok {
		s, err := unmarshalAs[legacySignature](rawSignature)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid signature: %w", err)
		}

		legacy = &s
	}

	return proofs, legacy, nil
}

func unmarshalAs[T any](v interface{}) (T, error) {
	var target T

	raw, err := json.Marshal(v)
	if err != nil {
		return target, err
	}

	if err := json.Unmarshal(raw, &target); err != nil {
		return target, err
	}

	return target, nil
}

func appendProof(existing interface{}, p Proof) interface{} {
	if entries, ok := existing.([]interface{}); ok {
		return append(entries, p)
	}

	return []interface{}{existing, p}
}

// coversAttributions checks that every attribution id of the document (and,
// for activities, every actor id) equals the owner of at least one verifying
// key.
func coversAttributions(doc vocab.Document, verifiedKeys []*keys.PublicKey) bool {
	owners := make(map[string]struct{}, len(verifiedKeys))

	for _, publicKey := range verifiedKeys {
		if publicKey.Owner != nil {
			owners[publicKey.Owner.String()] = struct{}{}
		}
	}

	var required []*url.URL

	required = append(required, doc.AttributedTo()...)

	if isActivity(doc) {
		required = append(required, doc.ActorIRIs()...)
	}

	for _, iri := range required {
		if _, ok := owners[iri.String()]; !ok {
			return false
		}
	}

	return true
}

func isActivity(doc vocab.Document) bool {
	for _, t := range doc.Types() {
		for _, super := range vocab.TypeChain(vocab.ExpandType(t)) {
			if super == vocab.TypeActivity || super == vocab.TypeIntransitiveActivity {
				return true
			}
		}
	}

	return false
}

func firstType(doc vocab.Document) string {
	if types := doc.Types(); len(types) > 0 {
		return types[0]
	}

	return ""
}

func verifyRSA(publicKey *keys.PublicKey, digest, sig []byte) error {
	rsaKey, ok := publicKey.Key.(*rsa.PublicKey)
	if !ok {
		return federrors.ErrInvalidKey
	}

	return rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, digest, sig)
}

func decodeBase64(value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err == nil {
		return raw, nil
	}

	return base64.RawStdEncoding.DecodeString(value)
}
