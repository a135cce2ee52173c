/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httpsig signs and verifies HTTP requests using 'draft-cavage' HTTP
// signatures.
package httpsig

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/keys"
)

var logger = log.New("httpsig")

const (
	dateHeader   = "Date"
	hostHeader   = "Host"
	digestHeader = "Digest"
)

// DefaultGetSignerConfig returns the default configuration for signing HTTP
// GET requests.
func DefaultGetSignerConfig() SignerConfig {
	return SignerConfig{
		Headers: []string{httpsig.RequestTarget, "host", "date"},
	}
}

// DefaultPostSignerConfig returns the default configuration for signing HTTP
// POST requests.
func DefaultPostSignerConfig() SignerConfig {
	return SignerConfig{
		DigestAlgorithm: httpsig.DigestSha256,
		Headers:         []string{httpsig.RequestTarget, "host", "date", "digest"},
	}
}

// SignerConfig contains the configuration for signing HTTP requests.
type SignerConfig struct {
	DigestAlgorithm httpsig.DigestAlgorithm
	Headers         []string
}

// Signer signs HTTP requests with an RSA key. RSASSA-PKCS1-v1_5 with SHA-256
// is the only algorithm supported for signing, since it is the one scheme
// that all fediverse servers accept.
type Signer struct {
	SignerConfig
}

// NewSigner returns a new signer.
func NewSigner(cfg SignerConfig) *Signer {
	return &Signer{SignerConfig: cfg}
}

// SignRequest signs the given HTTP request with the given key pair, adding
// Host, Date, Digest (if a body is given), and Signature headers.
func (s *Signer) SignRequest(senderKey *keys.SenderKey, req *http.Request, body []byte) error {
	if err := senderKey.Validate(); err != nil {
		return err
	}

	logger.Debug("Signing request", logfields.WithRequestURL(req.URL),
		logfields.WithKeyID(senderKey.ID.String()))

	signer, _, err := httpsig.NewSigner([]httpsig.Algorithm{httpsig.RSA_SHA256},
		s.DigestAlgorithm, s.Headers, httpsig.Signature, 0)
	if err != nil {
		return fmt.Errorf("new signer: %w", err)
	}

	if req.Header.Get(hostHeader) == "" {
		req.Header.Set(hostHeader, req.URL.Host)
	}

	if req.Header.Get(dateHeader) == "" {
		req.Header.Set(dateHeader, date())
	}

	if err := signer.SignRequest(senderKey.PrivateKey, senderKey.ID.String(), req, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	return nil
}

func date() string {
	return fmt.Sprintf("%s GMT", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05"))
}
