/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inbox implements the server side of ActivityPub delivery: it
// authenticates a POSTed activity, suppresses duplicates, and hands the
// activity off for dispatch. The response is 202 for everything past
// authentication; listener failures never surface to the remote server.
package inbox

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/federation/resthandler"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	storespi "github.com/dahlia/fedify-sub001/pkg/store/spi"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

var logger = log.New("inbox")

// DefaultIdempotenceTTL is how long a processed activity ID is remembered.
const DefaultIdempotenceTTL = 7 * 24 * time.Hour

const maxBodySize = 1 << 20

type requestVerifier interface {
	VerifyRequest(req *http.Request, body []byte) (*keys.PublicKey, error)
}

type objectVerifier interface {
	VerifyObject(ctx context.Context, doc vocab.Document) ([]*keys.PublicKey, error)
}

// Dispatcher dispatches a verified activity to the application's listener.
// It reports whether a listener was registered for the activity's type;
// listener errors are handled by the dispatcher and never returned here.
type Dispatcher func(req *http.Request, activity vocab.Document, key *keys.PublicKey) bool

// Handler processes a POST to an actor inbox or the shared inbox.
type Handler struct {
	// Verifier verifies the HTTP signature of the request.
	Verifier requestVerifier
	// ProofVerifier verifies Data-Integrity proofs attached to the activity.
	ProofVerifier objectVerifier
	// SkipVerification accepts unauthenticated activities. For tests only.
	SkipVerification bool

	// Store and Prefix locate the idempotence records; TTL bounds how long a
	// processed activity ID is remembered.
	Store  storespi.Store
	Prefix storespi.Key
	TTL    time.Duration

	// Dispatch hands the activity to the application's listener.
	Dispatch Dispatcher
}

// HandlePost processes the request per the inbox pipeline: parse (400),
// authenticate (401), deduplicate, mark processed, dispatch, 202.
func (h *Handler) HandlePost(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		logger.Debug("Error reading inbox request body", log.WithError(err))

		resthandler.WriteBadRequest(w)

		return
	}

	activity, err := vocab.UnmarshalDocument(body)
	if err != nil {
		logger.Debug("Error parsing inbox activity", log.WithError(err))

		resthandler.WriteBadRequest(w)

		return
	}

	var key *keys.PublicKey

	if !h.SkipVerification {
		var ok bool

		key, ok = h.authenticate(w, req, body, activity)
		if !ok {
			return
		}
	}

	activityID := activity.ID()
	if activityID != nil && h.alreadyProcessed(req.Context(), activityID) {
		logger.Debug("Ignoring duplicate activity", logfields.WithActivityID(activityID))

		resthandler.WriteAccepted(w)

		return
	}

	// The idempotence record is written before dispatch: a listener crash
	// must not cause the remote server's retry to run it twice.
	if activityID != nil {
		h.markProcessed(req.Context(), activityID)
	}

	if !h.Dispatch(req, activity, key) {
		logger.Debug("No listener for activity", logfields.WithActivityType(typeTag(activity)))
	}

	resthandler.WriteAccepted(w)
}

// authenticate verifies the request signature or, failing that, the
// activity's object proofs, and checks that the verified key belongs to the
// activity's actor. It writes the error response and returns false when the
// request is rejected.
func (h *Handler) authenticate(w http.ResponseWriter, req *http.Request, body []byte,
	activity vocab.Document) (*keys.PublicKey, bool) {
	actor := activity.Actor()

	key, err := h.Verifier.VerifyRequest(req, body)
	if err != nil {
		logger.Error("Error verifying inbox request signature", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return nil, false
	}

	if key != nil {
		if actor == nil || key.Owner.String() != actor.String() {
			logger.Debug("Signature key owner does not match the activity actor",
				logfields.WithKeyID(key.ID.String()), logfields.WithKeyOwnerIRI(key.Owner))

			resthandler.WriteUnauthorized(w)

			return nil, false
		}

		return key, true
	}

	// The request signature did not verify. An object proof covering the
	// actor still authenticates the activity (relays re-deliver activities
	// they cannot re-sign).
	proofKeys, err := h.ProofVerifier.VerifyObject(req.Context(), activity)
	if err != nil {
		logger.Error("Error verifying activity proof", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return nil, false
	}

	if len(proofKeys) == 0 {
		logger.Debug("Inbox request could not be authenticated",
			logfields.WithActivityType(typeTag(activity)))

		resthandler.WriteUnauthorized(w)

		return nil, false
	}

	return proofKeys[0], true
}

func (h *Handler) alreadyProcessed(ctx context.Context, activityID *url.URL) bool {
	_, err := h.Store.Get(ctx, h.idempotenceKey(activityID))

	return err == nil
}

func (h *Handler) markProcessed(ctx context.Context, activityID *url.URL) {
	ttl := h.TTL
	if ttl == 0 {
		ttl = DefaultIdempotenceTTL
	}

	err := h.Store.Put(ctx, h.idempotenceKey(activityID), []byte("1"), storespi.WithTTL(ttl))
	if err != nil {
		// Failing to record idempotence degrades to at-least-once for this
		// activity; processing continues.
		logger.Warn("Error storing idempotence record",
			logfields.WithActivityID(activityID), log.WithError(err))
	}
}

func (h *Handler) idempotenceKey(activityID *url.URL) storespi.Key {
	return append(append(storespi.Key{}, h.Prefix...), activityID.String())
}

func typeTag(activity vocab.Document) string {
	types := activity.Types()
	if len(types) == 0 {
		return ""
	}

	return types[0]
}
