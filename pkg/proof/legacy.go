/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/piprate/json-gold/ld"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// contextIdentity is the @context under which RsaSignature2017 signature
// options are canonicalized.
const contextIdentity = "https://w3id.org/identity/v1"

type keyCache interface {
	Get(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error)
}

// Verifier verifies integrity proofs and legacy linked-data signatures.
// Verification keys are resolved through the key cache.
type Verifier struct {
	keyCache       keyCache
	documentLoader ld.DocumentLoader
}

// NewVerifier returns a new proof verifier. The document loader is used to
// resolve JSON-LD contexts during URDNA2015 canonicalization of legacy
// RsaSignature2017 signatures.
func NewVerifier(keyCache keyCache, documentLoader ld.DocumentLoader) *Verifier {
	return &Verifier{
		keyCache:       keyCache,
		documentLoader: documentLoader,
	}
}

// legacySignature is a legacy RsaSignature2017 linked-data signature,
// embedded in an object under the 'signature' property.
type legacySignature struct {
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	Created        string `json:"created,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
	SignatureValue string `json:"signatureValue"`
}

// verifyLegacySignature verifies an RsaSignature2017 signature: the
// signature options and the document are separately URDNA2015-canonicalized
// and SHA-256-hashed, the hex digests are concatenated, and the RSA
// signature is verified over the concatenation.
func (v *Verifier) verifyLegacySignature(ctx context.Context, doc vocab.Document,
	sig *legacySignature) (*keys.PublicKey, error) {
	if sig.Type != TypeRsaSignature2017 {
		logger.Debug("Unsupported signature type", logfields.WithTypeIRI(sig.Type))

		return nil, nil
	}

	publicKey, err := v.resolveKey(ctx, sig.Creator)
	if err != nil || publicKey == nil {
		return nil, err
	}

	options := map[string]interface{}{
		"@context": contextIdentity,
		"creator":  sig.Creator,
	}

	if sig.Created != "" {
		options["created"] = sig.Created
	}

	if sig.Nonce != "" {
		options["nonce"] = sig.Nonce
	}

	optionsDigest, err := v.urdnaDigest(options)
	if err != nil {
		logger.Debug("Error canonicalizing signature options", log.WithError(err))

		return nil, nil
	}

	unsigned := doc.Clone()

	delete(unsigned, "signature")

	docDigest, err := v.urdnaDigest(map[string]interface{}(unsigned))
	if err != nil {
		logger.Debug("Error canonicalizing document", log.WithError(err))

		return nil, nil
	}

	toVerify := []byte(hex.EncodeToString(optionsDigest) + hex.EncodeToString(docDigest))

	rawSignature, err := decodeBase64(sig.SignatureValue)
	if err != nil {
		logger.Debug("Error decoding signature value", log.WithError(err))

		return nil, nil
	}

	digest := sha256.Sum256(toVerify)

	if err := verifyRSA(publicKey, digest[:], rawSignature); err != nil {
		logger.Debug("Legacy signature verification failed", logfields.WithKeyID(sig.Creator),
			log.WithError(err))

		return nil, nil
	}

	return publicKey, nil
}

// urdnaDigest canonicalizes the given JSON-LD document with URDNA2015 and
// returns the SHA-256 digest of the resulting N-Quads.
func (v *Verifier) urdnaDigest(doc map[string]interface{}) ([]byte, error) {
	options := ld.NewJsonLdOptions("")
	options.Format = "application/n-quads"
	options.Algorithm = ld.AlgorithmURDNA2015
	options.ProduceGeneralizedRdf = true

	if v.documentLoader != nil {
		options.DocumentLoader = v.documentLoader
	}

	normalized, err := ld.NewJsonLdProcessor().Normalize(doc, options)
	if err != nil {
		return nil, fmt.Errorf("URDNA2015 normalize: %w", err)
	}

	nquads, ok := normalized.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected normalization result type: %T", normalized)
	}

	digest := sha256.Sum256([]byte(nquads))

	return digest[:], nil
}
