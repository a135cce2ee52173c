/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package vocab provides a minimal, schema-agnostic view of JSON-LD
// documents. The federation core never interprets an activity beyond its
// identifier, actor, attribution and type tags; everything else is carried
// opaquely and returned to the application untouched.
package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ContextActivityStreams is the ActivityStreams JSON-LD context.
const ContextActivityStreams = "https://www.w3.org/ns/activitystreams"

// Document is an opaque JSON-LD document.
type Document map[string]interface{}

// UnmarshalDocument parses the given JSON into a Document.
func UnmarshalDocument(data []byte) (Document, error) {
	doc := Document{}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}

	return doc, nil
}

// Marshal serializes the document to JSON.
func (d Document) Marshal() ([]byte, error) {
	return json.Marshal(map[string]interface{}(d))
}

// ID returns the document's identifier, or nil if it has none or the
// identifier is not a valid URL.
func (d Document) ID() *url.URL {
	return parseIRI(d["id"])
}

// SetID sets the document's identifier in place.
func (d Document) SetID(id *url.URL) {
	d["id"] = id.String()
}

// WithID returns a copy of the document with the given identifier. The
// receiver is not modified.
func (d Document) WithID(id *url.URL) Document {
	doc := d.Clone()
	doc.SetID(id)

	return doc
}

// Actor returns the first actor identifier, or nil if the document has none.
func (d Document) Actor() *url.URL {
	actors := d.ActorIRIs()
	if len(actors) == 0 {
		return nil
	}

	return actors[0]
}

// ActorIRIs returns all actor identifiers of the document.
func (d Document) ActorIRIs() []*url.URL {
	return parseIRIs(d["actor"])
}

// AttributedTo returns all attribution identifiers of the document.
func (d Document) AttributedTo() []*url.URL {
	return parseIRIs(d["attributedTo"])
}

// Types returns the document's type tags. A single type is returned as a
// one-element slice.
func (d Document) Types() []string {
	switch t := d["type"].(type) {
	case string:
		return []string{t}
	case []interface{}:
		var types []string

		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}

		return types
	default:
		return nil
	}
}

// Object returns the "object" property as a Document if it is embedded,
// or nil otherwise.
func (d Document) Object() Document {
	if obj, ok := d["object"].(map[string]interface{}); ok {
		return Document(obj)
	}

	return nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document(cloneValue(map[string]interface{}(d)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))

		for k, e := range val {
			m[k] = cloneValue(e)
		}

		return m
	case []interface{}:
		s := make([]interface{}, len(val))

		for i, e := range val {
			s[i] = cloneValue(e)
		}

		return s
	default:
		return val
	}
}

// parseIRI extracts a URL from a JSON-LD value which may be a string, an
// embedded object with an "id", or neither.
func parseIRI(v interface{}) *url.URL {
	switch val := v.(type) {
	case string:
		u, err := url.Parse(val)
		if err != nil {
			return nil
		}

		return u
	case map[string]interface{}:
		return parseIRI(val["id"])
	default:
		return nil
	}
}

func parseIRIs(v interface{}) []*url.URL {
	if arr, ok := v.([]interface{}); ok {
		var iris []*url.URL

		for _, e := range arr {
			if iri := parseIRI(e); iri != nil {
				iris = append(iris, iri)
			}
		}

		return iris
	}

	if iri := parseIRI(v); iri != nil {
		return []*url.URL{iri}
	}

	return nil
}

// Recipient is a delivery target for an activity.
type Recipient struct {
	// ID is the recipient's actor identifier.
	ID *url.URL
	// Inbox is the recipient's individual inbox URL.
	Inbox *url.URL
	// SharedInbox is the recipient's shared inbox URL, if any.
	SharedInbox *url.URL
}
