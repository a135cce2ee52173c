/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

const cursorParam = "cursor"

// Page is one page of a collection as returned by a dispatcher.
type Page struct {
	Items      []interface{}
	NextCursor *string
	PrevCursor *string
}

// Collection responds to a GET on a collection endpoint. ID is the canonical
// collection URL without a cursor. Dispatch is required; Count, FirstCursor
// and LastCursor together enable the index response; Authorize, when set,
// gates the response on the verified signer.
type Collection struct {
	ID          *url.URL
	Dispatch    func(cursor *string) (*Page, error)
	Count       func() (int, error)
	FirstCursor func() (*string, error)
	LastCursor  func() (*string, error)
	Authorize   func() (bool, error)
}

// Handle responds to a GET on the collection.
func (c *Collection) Handle(w http.ResponseWriter, req *http.Request) {
	if !Acceptable(req) {
		WriteNotAcceptable(w)

		return
	}

	if c.Authorize != nil {
		ok, err := c.Authorize()
		if err != nil {
			logger.Error("Error authorizing collection request",
				logfields.WithRequestURL(c.ID), log.WithError(err))

			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		if !ok {
			WriteUnauthorized(w)

			return
		}
	}

	if query := req.URL.Query(); query.Has(cursorParam) {
		c.handlePage(w, query.Get(cursorParam))

		return
	}

	if c.Count != nil && c.FirstCursor != nil && c.LastCursor != nil {
		c.handleIndex(w)

		return
	}

	page, err := c.Dispatch(nil)
	if err != nil {
		logger.Error("Error dispatching collection request",
			logfields.WithRequestURL(c.ID), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if page == nil {
		WriteNotFound(w)

		return
	}

	WriteDocument(w, vocab.NewOrderedCollection(c.ID,
		vocab.WithTotalItems(len(page.Items)),
		vocab.WithOrderedItems(page.Items)))
}

func (c *Collection) handlePage(w http.ResponseWriter, cursor string) {
	page, err := c.Dispatch(&cursor)
	if err != nil {
		logger.Error("Error dispatching collection page request",
			logfields.WithRequestURL(c.ID), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if page == nil {
		WriteNotFound(w)

		return
	}

	opts := []vocab.Opt{
		vocab.WithPartOf(c.ID),
		vocab.WithOrderedItems(page.Items),
	}

	if page.NextCursor != nil {
		opts = append(opts, vocab.WithNext(c.cursorURL(*page.NextCursor)))
	}

	if page.PrevCursor != nil {
		opts = append(opts, vocab.WithPrev(c.cursorURL(*page.PrevCursor)))
	}

	WriteDocument(w, vocab.NewOrderedCollectionPage(c.cursorURL(cursor), opts...))
}

func (c *Collection) handleIndex(w http.ResponseWriter) {
	total, err := c.Count()
	if err != nil {
		logger.Error("Error resolving collection count",
			logfields.WithRequestURL(c.ID), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	opts := []vocab.Opt{vocab.WithTotalItems(total)}

	first, err := c.FirstCursor()
	if err != nil {
		logger.Error("Error resolving first cursor",
			logfields.WithRequestURL(c.ID), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if first != nil {
		opts = append(opts, vocab.WithFirst(c.cursorURL(*first)))
	}

	last, err := c.LastCursor()
	if err != nil {
		logger.Error("Error resolving last cursor",
			logfields.WithRequestURL(c.ID), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if last != nil {
		opts = append(opts, vocab.WithLast(c.cursorURL(*last)))
	}

	WriteDocument(w, vocab.NewOrderedCollection(c.ID, opts...))
}

// cursorURL returns the collection URL with the cursor query parameter set,
// replacing any existing one.
func (c *Collection) cursorURL(cursor string) *url.URL {
	u := *c.ID

	query := u.Query()
	query.Set(cursorParam, cursor)
	u.RawQuery = query.Encode()

	return &u
}
