/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsig

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // legacy 'sha' digest entries are SHA-1
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	federrors "github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/keys"
)

const (
	signatureHeader = "Signature"

	defaultTimeWindow = time.Minute
)

var signatureAttrRegex = regexp.MustCompile(`\b([^"=\s,]+)="([^"]*)"`)

type keyCache interface {
	Get(ctx context.Context, keyIRI *url.URL) (*keys.PublicKey, error)
	Evict(keyIRI *url.URL)
}

// VerifierConfig contains the configuration for verifying HTTP signatures.
type VerifierConfig struct {
	// TimeWindow is the clock-skew tolerance for the Date header. The Date
	// must be within [now - TimeWindow, now + TimeWindow]. Zero means the
	// default of one minute.
	TimeWindow time.Duration

	// DisableTimeWindow disables the Date check altogether.
	DisableTimeWindow bool
}

// Verifier verifies 'draft-cavage' HTTP signatures on incoming requests.
// Public keys are resolved through the key cache; if verification fails with
// a cached key then the cache entry is evicted and verification is retried
// once with a freshly fetched key, since the remote server may have rotated
// its key.
type Verifier struct {
	VerifierConfig

	keyCache keyCache
}

// NewVerifier returns a new HTTP signature verifier.
func NewVerifier(cfg VerifierConfig, keyCache keyCache) *Verifier {
	v := &Verifier{
		VerifierConfig: cfg,
		keyCache:       keyCache,
	}

	if v.TimeWindow == 0 {
		v.TimeWindow = defaultTimeWindow
	}

	return v
}

// VerifyRequest verifies the HTTP signature on the given request. The body
// must be the full request body (or nil if the request has none).
//
// Returns:
// - The signing key if the signature was successfully verified, otherwise nil.
// - An error if the signature could not be verified due to a server error.
//
// A request that does not verify is not an error: all "does not verify" paths
// return a nil key with a debug log stating the reason.
func (v *Verifier) VerifyRequest(req *http.Request, body []byte) (*keys.PublicKey, error) {
	sig, err := v.parseRequest(req, body)
	if err != nil {
		logger.Debug("Request signature does not verify", logfields.WithRequestURL(req.URL),
			log.WithError(err))

		return nil, nil
	}

	keyIRI, err := url.Parse(sig.keyID)
	if err != nil {
		logger.Debug("Invalid public key ID in request", logfields.WithKeyID(sig.keyID),
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return nil, nil
	}

	publicKey, err := v.keyCache.Get(req.Context(), keyIRI)
	if err != nil {
		if federrors.IsTransient(err) {
			return nil, fmt.Errorf("get public key [%s]: %w", keyIRI, err)
		}

		logger.Debug("Error resolving public key for request", logfields.WithKeyID(sig.keyID),
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return nil, nil
	}

	if err := verifySignature(publicKey, sig); err == nil {
		return publicKey, nil
	}

	// The signature did not verify with the (possibly cached) key. The
	// remote server may have rotated its key, so evict the cache entry and
	// retry once with a freshly fetched key.
	v.keyCache.Evict(keyIRI)

	publicKey, err = v.keyCache.Get(req.Context(), keyIRI)
	if err != nil {
		if federrors.IsTransient(err) {
			return nil, fmt.Errorf("get public key [%s]: %w", keyIRI, err)
		}

		logger.Debug("Error resolving public key for request", logfields.WithKeyID(sig.keyID),
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return nil, nil
	}

	if err := verifySignature(publicKey, sig); err != nil {
		logger.Debug("Signature verification failed for request", logfields.WithKeyID(sig.keyID),
			logfields.WithRequestURL(req.URL), log.WithError(err))

		return nil, nil
	}

	return publicKey, nil
}

// signature holds the parsed Signature header along with the signing string
// that was rebuilt from the request.
type signature struct {
	keyID         string
	signingString string
	signature     []byte
}

func (v *Verifier) parseRequest(req *http.Request, body []byte) (*signature, error) {
	if req.Header.Get(dateHeader) == "" {
		return nil, errors.New("date is unspecified")
	}

	if req.Header.Get(signatureHeader) == "" {
		return nil, errors.New("signature is unspecified")
	}

	if len(body) > 0 {
		if req.Header.Get(digestHeader) == "" {
			return nil, errors.New("digest is unspecified")
		}

		if err := verifyDigest(req.Header.Get(digestHeader), body); err != nil {
			return nil, err
		}
	}

	if err := v.verifyDate(req.Header.Get(dateHeader)); err != nil {
		return nil, err
	}

	keyID, headers, sigValue, err := parseSignatureHeader(req.Header.Values(signatureHeader))
	if err != nil {
		return nil, err
	}

	signedHeaders := strings.Fields(strings.ToLower(headers))

	if !contains(signedHeaders, "(request-target)") {
		return nil, errors.New("(request-target) is not signed")
	}

	if !contains(signedHeaders, "date") {
		return nil, errors.New("date is not signed")
	}

	if len(body) > 0 && !contains(signedHeaders, "digest") {
		return nil, errors.New("digest is not signed")
	}

	rawSignature, err := base64.StdEncoding.DecodeString(sigValue)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	signingString, err := buildSigningString(req, signedHeaders)
	if err != nil {
		return nil, err
	}

	return &signature{
		keyID:         keyID,
		signingString: signingString,
		signature:     rawSignature,
	}, nil
}

func (v *Verifier) verifyDate(date string) error {
	if v.DisableTimeWindow {
		return nil
	}

	t, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}

	if skew := time.Since(t); skew > v.TimeWindow || skew < -v.TimeWindow {
		return fmt.Errorf("date is outside of the allowed time window: %s", date)
	}

	return nil
}

// verifyDigest verifies the Digest header against the request body. The
// header may contain multiple comma-separated entries; at least one entry
// with a supported algorithm must match. A mismatch on any entry fails.
func verifyDigest(header string, body []byte) error {
	matched := false

	for _, entry := range strings.Split(header, ",") {
		algorithm, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found {
			return fmt.Errorf("invalid digest entry: %s", entry)
		}

		var digest []byte

		switch strings.ToLower(algorithm) {
		case "sha":
			d := sha1.Sum(body) //nolint:gosec // legacy digest algorithm
			digest = d[:]
		case "sha-256":
			d := sha256.Sum256(body)
			digest = d[:]
		case "sha-512":
			d := sha512.Sum512(body)
			digest = d[:]
		default:
			// Unsupported algorithms are ignored as long as one supported
			// entry matches.
			continue
		}

		expected, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return fmt.Errorf("decode digest entry [%s]: %w", algorithm, err)
		}

		if subtle.ConstantTimeCompare(digest, expected) != 1 {
			return fmt.Errorf("digest mismatch for algorithm [%s]", algorithm)
		}

		matched = true
	}

	if !matched {
		return errors.New("no supported digest algorithm in Digest header")
	}

	return nil
}

func parseSignatureHeader(values []string) (keyID, headers, sigValue string, err error) {
	for _, value := range values {
		for _, m := range signatureAttrRegex.FindAllStringSubmatch(value, -1) {
			switch m[1] {
			case "keyId":
				keyID = m[2]
			case "headers":
				headers = m[2]
			case "signature":
				sigValue = m[2]
			}
		}
	}

	if keyID == "" || headers == "" || sigValue == "" {
		return "", "", "", errors.New("missing keyId, headers, or signature in Signature header")
	}

	return keyID, headers, sigValue, nil
}

// buildSigningString rebuilds the string that the sender signed: the
// (request-target) pseudo-header followed by each signed header as
// 'name: value' on its own line, in the order given by the Signature header.
func buildSigningString(req *http.Request, headers []string) (string, error) {
	var b strings.Builder

	for i, h := range headers {
		if i > 0 {
			b.WriteByte('\n')
		}

		if h == "(request-target)" {
			b.WriteString("(request-target): ")
			b.WriteString(strings.ToLower(req.Method))
			b.WriteByte(' ')
			b.WriteString(req.URL.RequestURI())

			continue
		}

		if strings.HasPrefix(h, "(") {
			return "", fmt.Errorf("unsupported pseudo-header: %s", h)
		}

		b.WriteString(h)
		b.WriteString(": ")

		if h == "host" {
			host := req.Header.Get(hostHeader)
			if host == "" {
				host = req.Host
			}

			b.WriteString(host)

			continue
		}

		values, ok := req.Header[textproto.CanonicalMIMEHeaderKey(h)]
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("signed header not present in request: %s", h)
		}

		for j, value := range values {
			if j > 0 {
				b.WriteString(", ")
			}

			b.WriteString(strings.TrimSpace(value))
		}
	}

	return b.String(), nil
}

func verifySignature(publicKey *keys.PublicKey, sig *signature) error {
	switch pk := publicKey.Key.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256([]byte(sig.signingString))

		return rsa.VerifyPKCS1v15(pk, crypto.SHA256, digest[:], sig.signature)
	case ed25519.PublicKey:
		if !ed25519.Verify(pk, []byte(sig.signingString), sig.signature) {
			return errors.New("invalid ed25519 signature")
		}

		return nil
	default:
		return federrors.ErrInvalidKey
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}
