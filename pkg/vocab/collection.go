/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import "net/url"

// Opt sets an option on a collection document.
type Opt func(doc Document)

// WithTotalItems sets the totalItems property.
func WithTotalItems(total int) Opt {
	return func(doc Document) {
		doc["totalItems"] = total
	}
}

// WithFirst sets the first property.
func WithFirst(first *url.URL) Opt {
	return func(doc Document) {
		doc["first"] = first.String()
	}
}

// WithLast sets the last property.
func WithLast(last *url.URL) Opt {
	return func(doc Document) {
		doc["last"] = last.String()
	}
}

// WithPartOf sets the partOf property.
func WithPartOf(partOf *url.URL) Opt {
	return func(doc Document) {
		doc["partOf"] = partOf.String()
	}
}

// WithNext sets the next property.
func WithNext(next *url.URL) Opt {
	return func(doc Document) {
		doc["next"] = next.String()
	}
}

// WithPrev sets the prev property.
func WithPrev(prev *url.URL) Opt {
	return func(doc Document) {
		doc["prev"] = prev.String()
	}
}

// WithOrderedItems sets the orderedItems property.
func WithOrderedItems(items []interface{}) Opt {
	return func(doc Document) {
		doc["orderedItems"] = items
	}
}

// NewOrderedCollection returns a new OrderedCollection document.
func NewOrderedCollection(id *url.URL, opts ...Opt) Document {
	return newCollection("OrderedCollection", id, opts...)
}

// NewOrderedCollectionPage returns a new OrderedCollectionPage document.
func NewOrderedCollectionPage(id *url.URL, opts ...Opt) Document {
	return newCollection("OrderedCollectionPage", id, opts...)
}

func newCollection(collType string, id *url.URL, opts ...Opt) Document {
	doc := Document{
		"@context": ContextActivityStreams,
		"type":     collType,
	}

	if id != nil {
		doc.SetID(id)
	}

	for _, opt := range opts {
		opt(doc)
	}

	return doc
}
