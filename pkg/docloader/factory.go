/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package docloader

import (
	"net/http"

	"github.com/dahlia/fedify-sub001/pkg/httpsig"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	storespi "github.com/dahlia/fedify-sub001/pkg/store/spi"
	"github.com/dahlia/fedify-sub001/pkg/transport"
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Factory builds document loaders, either anonymous or bound to a sender
// identity. Some servers (those in 'authorized fetch' mode) refuse to serve
// actor documents to unsigned requests, so dereferencing during inbox
// processing uses a loader authenticated as the receiving actor.
type Factory struct {
	cfg    Config
	store  storespi.Store
	client httpClient
}

// NewFactory returns a new document loader factory.
func NewFactory(cfg Config, store storespi.Store, client httpClient) *Factory {
	if client == nil {
		client = http.DefaultClient
	}

	return &Factory{
		cfg:    cfg,
		store:  store,
		client: client,
	}
}

// Anonymous returns a loader that sends unsigned requests.
func (f *Factory) Anonymous() *Loader {
	return New(f.cfg, transport.New(f.client, nil,
		transport.NewNoOpSigner(), transport.NewNoOpSigner()), f.store)
}

// Authenticated returns a loader whose requests are signed with the given
// sender key.
func (f *Factory) Authenticated(senderKey *keys.SenderKey) *Loader {
	t := transport.New(f.client, senderKey,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig()),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig()))

	return New(f.cfg, t, f.store)
}
