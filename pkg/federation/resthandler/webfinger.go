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

// ContentTypeJRD is the media type of WebFinger responses.
const ContentTypeJRD = "application/jrd+json"

const resourceParam = "resource"

// JRD is a JSON Resource Descriptor (RFC 7033).
type JRD struct {
	Subject    string                 `json:"subject,omitempty"`
	Aliases    []string               `json:"aliases,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Links      []Link                 `json:"links,omitempty"`
}

// Link is a link in a JRD.
type Link struct {
	Rel      string `json:"rel,omitempty"`
	Type     string `json:"type,omitempty"`
	Href     string `json:"href,omitempty"`
	Template string `json:"template,omitempty"`
}

// WebFinger responds to WebFinger queries. ResolveResource maps a raw
// resource value to a local actor handle, or reports that the resource is
// not local. Actor invokes the application's actor dispatcher and ActorURL
// builds the actor's canonical URL.
type WebFinger struct {
	ResolveResource func(resource string) (string, bool)
	Actor           func(handle string) (vocab.Document, error)
	ActorURL        func(handle string) *url.URL
}

// Handle responds to a GET on the WebFinger endpoint.
func (h *WebFinger) Handle(w http.ResponseWriter, req *http.Request) {
	resource := req.URL.Query().Get(resourceParam)
	if resource == "" {
		WriteBadRequest(w)

		return
	}

	handle, ok := h.ResolveResource(resource)
	if !ok {
		logger.Debug("WebFinger resource not found", logfields.WithParameter(resource))

		WriteNotFound(w)

		return
	}

	actor, err := h.Actor(handle)
	if err != nil {
		logger.Error("Error dispatching actor for WebFinger resource",
			logfields.WithParameter(resource), log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if actor == nil {
		WriteNotFound(w)

		return
	}

	actorURL := h.ActorURL(handle)

	jrd := &JRD{
		Subject: resource,
		Aliases: []string{actorURL.String()},
		Links: []Link{
			{
				Rel:  "self",
				Type: ContentTypeActivityJSON,
				Href: actorURL.String(),
			},
		},
	}

	for _, profile := range profileURLs(actor) {
		jrd.Links = append(jrd.Links, Link{
			Rel:  "http://webfinger.net/rel/profile-page",
			Type: "text/html",
			Href: profile,
		})
	}

	writeJSON(w, ContentTypeJRD, jrd)
}

// profileURLs extracts the actor's profile page URLs from its "url"
// property, which may be a string or an array of strings.
func profileURLs(actor vocab.Document) []string {
	var urls []string

	switch v := actor["url"].(type) {
	case string:
		urls = append(urls, v)
	case []interface{}:
		for _, e := range v {
			if s, ok := e.(string); ok {
				urls = append(urls, s)
			}
		}
	}

	return urls
}
