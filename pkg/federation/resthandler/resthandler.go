/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package resthandler implements the HTTP responders of a federation
// instance: actors, objects, collections, WebFinger and NodeInfo. The
// handlers are parameterized with callbacks so that the facade can bind them
// to the application's dispatchers per request.
package resthandler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

var logger = log.New("resthandler")

// ContentTypeActivityJSON is the media type of ActivityPub responses.
const ContentTypeActivityJSON = "application/activity+json"

const (
	contentTypeHeader = "Content-Type"
	varyHeader        = "Vary"

	// varyValue is emitted on negotiated error responses so that caches keyed
	// on the request distinguish signed and unsigned, HTML and JSON clients.
	varyValue = "Accept, Signature"
)

// jsonLDTypes are the media types accepted for ActivityPub requests.
var jsonLDTypes = map[string]bool{ //nolint:gochecknoglobals
	"application/activity+json": true,
	"application/ld+json":       true,
	"application/json":          true,
}

// Acceptable returns true if the request's Accept header admits a JSON-LD
// response. A JSON-LD type must be present and must not be outranked by a
// higher-q text/html alternative.
func Acceptable(req *http.Request) bool {
	accept := req.Header.Get("Accept")
	if accept == "" {
		return true
	}

	jsonQ, htmlQ := -1.0, -1.0

	for _, entry := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(entry))
		if err != nil {
			continue
		}

		q := 1.0

		if qStr, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(qStr, 64); err == nil {
				q = parsed
			}
		}

		switch {
		case jsonLDTypes[mediaType] || mediaType == "*/*":
			if q > jsonQ {
				jsonQ = q
			}
		case mediaType == "text/html" || mediaType == "application/xhtml+xml":
			if q > htmlQ {
				htmlQ = q
			}
		}
	}

	return jsonQ >= 0 && jsonQ >= htmlQ
}

// WriteDocument writes the document as a 200 ActivityPub response.
func WriteDocument(w http.ResponseWriter, doc vocab.Document) {
	body, err := doc.Marshal()
	if err != nil {
		logger.Error("Error marshalling response document", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set(contentTypeHeader, ContentTypeActivityJSON)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(body); err != nil {
		logger.Warn("Unable to write response", log.WithError(err))
	}
}

// WriteNotAcceptable writes a 406 response.
func WriteNotAcceptable(w http.ResponseWriter) {
	w.Header().Set(varyHeader, varyValue)
	w.WriteHeader(http.StatusNotAcceptable)
}

// WriteUnauthorized writes a 401 response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set(varyHeader, varyValue)
	w.WriteHeader(http.StatusUnauthorized)
}

// WriteNotFound writes a 404 response.
func WriteNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
}

// WriteBadRequest writes a 400 response.
func WriteBadRequest(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
}

// WriteAccepted writes a 202 response.
func WriteAccepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, contentType string, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Error("Error marshalling response", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set(contentTypeHeader, contentType)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(body); err != nil {
		logger.Warn("Unable to write response", log.WithError(err))
	}
}
