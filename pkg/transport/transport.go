/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport implements a client-side transport that Gets and Posts
// requests using HTTP signatures.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/keys"
)

var logger = log.New("transport")

// Signer signs an HTTP request and adds the signature to the header of the
// request.
type Signer interface {
	SignRequest(senderKey *keys.SenderKey, req *http.Request, body []byte) error
}

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport sends HTTP requests signed with the sender's key pair.
type Transport struct {
	client     httpClient
	getSigner  Signer
	postSigner Signer
	senderKey  *keys.SenderKey
}

// New returns a new transport.
func New(client httpClient, senderKey *keys.SenderKey, getSigner, postSigner Signer) *Transport {
	return &Transport{
		client:     client,
		senderKey:  senderKey,
		getSigner:  getSigner,
		postSigner: postSigner,
	}
}

// Default returns a transport that uses the default HTTP client and no HTTP
// signatures. It is used for anonymous fetches of public documents.
func Default() *Transport {
	return &Transport{
		client:     http.DefaultClient,
		getSigner:  &NoOpSigner{},
		postSigner: &NoOpSigner{},
	}
}

// Request contains the destination URL and headers.
type Request struct {
	URL    *url.URL
	Header http.Header
}

// NewRequest returns a new request.
func NewRequest(toURL *url.URL) *Request {
	return &Request{
		URL:    toURL,
		Header: make(http.Header),
	}
}

// Post posts an HTTP request. The request is first signed and the signature
// is added to the request header.
func (t *Transport) Post(ctx context.Context, r *Request, payload []byte) (*http.Response, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("new request to %s: %w", r.URL, err)
	}

	req.Header = r.Header

	if err := t.postSigner.SignRequest(t.senderKey, req, payload); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Signed HTTP POST", logfields.WithRequestURL(r.URL),
		logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

// Get sends an HTTP GET. The request is first signed and the signature is
// added to the request header.
func (t *Transport) Get(ctx context.Context, r *Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", r.URL, err)
	}

	req.Header = r.Header

	if err := t.getSigner.SignRequest(t.senderKey, req, nil); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	logger.Debug("Signed HTTP GET", logfields.WithRequestURL(r.URL),
		logfields.WithRequestHeaders(req.Header))

	return t.client.Do(req)
}

// NoOpSigner is a signer that does nothing. It is used for requests that do
// not need to be authenticated.
type NoOpSigner struct{}

// NewNoOpSigner returns a new no-op signer.
func NewNoOpSigner() *NoOpSigner {
	return &NoOpSigner{}
}

// SignRequest does nothing.
func (s *NoOpSigner) SignRequest(*keys.SenderKey, *http.Request, []byte) error {
	return nil
}
