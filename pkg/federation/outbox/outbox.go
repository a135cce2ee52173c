/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package outbox delivers activities to remote inboxes. Deliveries go
// through the message queue when one is configured, with bounded retries on
// a backoff schedule; without a queue, deliveries are immediate and any
// failure surfaces to the caller.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	logfields "github.com/dahlia/fedify-sub001/internal/pkg/log"
	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/httpsig"
	"github.com/dahlia/fedify-sub001/pkg/keys"
	"github.com/dahlia/fedify-sub001/pkg/lifecycle"
	"github.com/dahlia/fedify-sub001/pkg/queue/spi"
	"github.com/dahlia/fedify-sub001/pkg/transport"
	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

var logger = log.New("outbox")

const (
	contentTypeHeader = "Content-Type"

	// ContentTypeActivityJSON is the media type of delivered activities.
	ContentTypeActivityJSON = "application/activity+json"

	maxBackoffDelay   = 30 * 24 * time.Hour
	maxResponseExcerpt = 256
)

// DefaultBackoffSchedule is the default retry schedule for failed
// deliveries. The attempt counter indexes into it, so the schedule length
// bounds the number of retries.
func DefaultBackoffSchedule() []time.Duration {
	return []time.Duration{3 * time.Second, 15 * time.Second, time.Minute, 15 * time.Minute, time.Hour}
}

// ErrorHandler is invoked when a queued delivery fails. Errors raised by the
// handler itself are swallowed.
type ErrorHandler func(err error, activity vocab.Document)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type metricsProvider interface {
	OutboxPostTime(value time.Duration)
	OutboxResolveInboxesTime(value time.Duration)
	OutboxIncrementRetryCount()
}

// Config holds the configuration for the outbox.
type Config struct {
	// BackoffSchedule is the list of delays between delivery retries. Each
	// delay must be at most 30 days.
	BackoffSchedule []time.Duration
}

// Outbox delivers activities to remote inboxes.
type Outbox struct {
	*lifecycle.Lifecycle
	Config

	queue      spi.Queue
	client     httpClient
	onError    ErrorHandler
	metrics    metricsProvider
	listenOnce sync.Once
}

// New returns a new outbox. A nil queue means all deliveries are immediate.
func New(cfg Config, queue spi.Queue, client httpClient, onError ErrorHandler,
	metrics metricsProvider) (*Outbox, error) {
	if cfg.BackoffSchedule == nil {
		cfg.BackoffSchedule = DefaultBackoffSchedule()
	}

	for _, delay := range cfg.BackoffSchedule {
		if delay > maxBackoffDelay {
			return nil, fmt.Errorf("backoff delay [%s] exceeds the maximum of 30 days", delay)
		}
	}

	if client == nil {
		client = http.DefaultClient
	}

	if onError == nil {
		onError = func(error, vocab.Document) {}
	}

	o := &Outbox{
		Config:  cfg,
		queue:   queue,
		client:  client,
		onError: onError,
		metrics: metrics,
	}

	o.Lifecycle = lifecycle.New("outbox")

	o.Start()

	return o, nil
}

// SendOptions holds the options for Post.
type SendOptions struct {
	// Immediate bypasses the queue and delivers synchronously.
	Immediate bool

	// PreferSharedInbox collapses recipients into their shared inboxes.
	PreferSharedInbox bool

	// ExcludeBaseURIs skips recipients whose inbox origin matches one of
	// these URIs.
	ExcludeBaseURIs []*url.URL

	// Headers are added to each delivery request.
	Headers http.Header

	// SyncCollection, when set, adds a Collection-Synchronization header
	// (FEP-8fcf) computed per inbox from this followers collection URL.
	SyncCollection *url.URL
}

// SendOption sets an option on Post.
type SendOption func(*SendOptions)

// WithImmediate bypasses the queue and delivers synchronously.
func WithImmediate() SendOption {
	return func(o *SendOptions) { o.Immediate = true }
}

// WithPreferSharedInbox collapses recipients into their shared inboxes.
func WithPreferSharedInbox() SendOption {
	return func(o *SendOptions) { o.PreferSharedInbox = true }
}

// WithExcludeBaseURIs skips recipients whose inbox origin matches one of the
// given URIs.
func WithExcludeBaseURIs(uris ...*url.URL) SendOption {
	return func(o *SendOptions) { o.ExcludeBaseURIs = uris }
}

// WithHeaders adds the given headers to each delivery request.
func WithHeaders(headers http.Header) SendOption {
	return func(o *SendOptions) { o.Headers = headers }
}

// WithCollectionSynchronization adds a Collection-Synchronization header
// computed from the given followers collection URL.
func WithCollectionSynchronization(followers *url.URL) SendOption {
	return func(o *SendOptions) { o.SyncCollection = followers }
}

// Post fans the activity out to the inboxes of the given recipients. With a
// queue configured (and Immediate not set) one message per inbox is
// enqueued; otherwise all deliveries run in parallel and the first error is
// returned.
func (o *Outbox) Post(ctx context.Context, senderKeys []keys.SenderKey, recipients []*vocab.Recipient,
	activity vocab.Document, opts ...SendOption) (vocab.Document, error) {
	if o.State() != lifecycle.StateStarted {
		return nil, lifecycle.ErrNotStarted
	}

	options := &SendOptions{}

	for _, opt := range opts {
		opt(options)
	}

	if err := validateSenderKeys(senderKeys); err != nil {
		return nil, err
	}

	if activity.Actor() == nil {
		return nil, errors.ErrMissingActor
	}

	if activity.ID() == nil {
		activity = activity.WithID(&url.URL{Scheme: "urn", Opaque: "uuid:" + uuid.NewString()})
	}

	startTime := time.Now()

	inboxes := ExtractInboxes(recipients, options.PreferSharedInbox, options.ExcludeBaseURIs)

	if o.metrics != nil {
		o.metrics.OutboxResolveInboxesTime(time.Since(startTime))
	}

	logger.Debug("Posting activity", logfields.WithActivityID(activity.ID()),
		logfields.WithParameter(fmt.Sprintf("%d inboxes", len(inboxes))))

	if options.Immediate || o.queue == nil {
		return activity, o.deliverAll(ctx, senderKeys, activity, inboxes, options)
	}

	o.listenOnce.Do(func() {
		go o.listen()
	})

	for inbox, recipientIDs := range inboxes {
		inboxURL, err := url.Parse(inbox)
		if err != nil {
			return nil, fmt.Errorf("parse inbox URL [%s]: %w", inbox, err)
		}

		msg, err := newQueuedMessage(senderKeys, activity, inboxURL, 0,
			deliveryHeaders(options, inboxURL, recipientIDs), time.Now())
		if err != nil {
			return nil, err
		}

		if err := o.queue.Enqueue(msg); err != nil {
			return nil, fmt.Errorf("enqueue delivery to [%s]: %w", inbox, err)
		}
	}

	return activity, nil
}

// SendActivity delivers the activity to a single inbox. A 2xx response is a
// success; a 5xx response or a network failure is a transient error; any
// other response is a persistent error carrying the status and a response
// body excerpt.
func (o *Outbox) SendActivity(ctx context.Context, senderKeys []keys.SenderKey,
	activity vocab.Document, inbox *url.URL, headers http.Header) error {
	if activity.Actor() == nil {
		return errors.ErrMissingActor
	}

	rsaKey, err := keys.SelectRSA(senderKeys)
	if err != nil {
		return err
	}

	payload, err := activity.Marshal()
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	req := transport.NewRequest(inbox)
	req.Header.Set(contentTypeHeader, ContentTypeActivityJSON)

	for name, values := range headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	t := transport.New(o.client, rsaKey,
		httpsig.NewSigner(httpsig.DefaultGetSignerConfig()),
		httpsig.NewSigner(httpsig.DefaultPostSignerConfig()))

	startTime := time.Now()

	resp, err := t.Post(ctx, req, payload)
	if err != nil {
		return errors.NewTransient(fmt.Errorf("post to [%s]: %w", inbox, err))
	}

	if o.metrics != nil {
		o.metrics.OutboxPostTime(time.Since(startTime))
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Error closing response body", log.WithError(err))
		}
	}()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		logger.Debug("Successfully delivered activity", logfields.WithActivityID(activity.ID()),
			logfields.WithInboxIRI(inbox), logfields.WithHTTPStatus(resp.StatusCode))

		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseExcerpt))

	err = fmt.Errorf("deliver to [%s]: status code %d: %s", inbox, resp.StatusCode, excerpt)

	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.NewTransient(err)
	}

	return err
}

func (o *Outbox) deliverAll(ctx context.Context, senderKeys []keys.SenderKey,
	activity vocab.Document, inboxes Inboxes, options *SendOptions) error {
	var wg sync.WaitGroup

	errChan := make(chan error, len(inboxes))

	for inbox, recipientIDs := range inboxes {
		inboxURL, err := url.Parse(inbox)
		if err != nil {
			return fmt.Errorf("parse inbox URL [%s]: %w", inbox, err)
		}

		wg.Add(1)

		go func(inboxURL *url.URL, recipientIDs []*url.URL) {
			defer wg.Done()

			if err := o.SendActivity(ctx, senderKeys, activity, inboxURL,
				deliveryHeaders(options, inboxURL, recipientIDs)); err != nil {
				errChan <- err
			}
		}(inboxURL, recipientIDs)
	}

	wg.Wait()
	close(errChan)

	return <-errChan
}

func deliveryHeaders(options *SendOptions, inbox *url.URL, recipientIDs []*url.URL) http.Header {
	headers := make(http.Header)

	for name, values := range options.Headers {
		headers[name] = values
	}

	if options.SyncCollection != nil {
		headers.Set("Collection-Synchronization",
			CollectionSynchronizationHeader(options.SyncCollection, inbox, recipientIDs))
	}

	return headers
}

// queuedMessage is the wire form of a pending delivery. It is immutable once
// enqueued; a retry produces a new message with the attempt incremented.
type queuedMessage struct {
	Keys     []keys.SenderKey  `json:"keys"`
	Activity vocab.Document    `json:"activity"`
	Inbox    string            `json:"inbox"`
	Attempt  int               `json:"attempt"`
	Headers  map[string]string `json:"headers,omitempty"`
	Started  time.Time         `json:"started"`
}

func newQueuedMessage(senderKeys []keys.SenderKey, activity vocab.Document, inbox *url.URL,
	attempt int, headers http.Header, started time.Time) (*message.Message, error) {
	qm := queuedMessage{
		Keys:     senderKeys,
		Activity: activity,
		Inbox:    inbox.String(),
		Attempt:  attempt,
		Started:  started,
	}

	if len(headers) > 0 {
		qm.Headers = make(map[string]string, len(headers))

		for name := range headers {
			qm.Headers[name] = headers.Get(name)
		}
	}

	payload, err := json.Marshal(qm)
	if err != nil {
		return nil, fmt.Errorf("marshal queued message: %w", err)
	}

	return message.NewMessage(watermill.NewUUID(), payload), nil
}

// listen consumes queued deliveries. A failed delivery is reported to the
// error handler and re-enqueued with the next delay from the backoff
// schedule until the schedule is exhausted.
func (o *Outbox) listen() {
	msgChan, err := o.queue.Subscribe(context.Background())
	if err != nil {
		logger.Error("Error subscribing to outbox queue", log.WithError(err))

		return
	}

	logger.Info("Starting outbox delivery listener")

	for msg := range msgChan {
		o.handleMessage(msg)
	}

	logger.Info("Outbox delivery listener stopped")
}

func (o *Outbox) handleMessage(msg *message.Message) {
	var qm queuedMessage

	if err := json.Unmarshal(msg.Payload, &qm); err != nil {
		logger.Error("Error unmarshalling queued delivery. Message will be discarded.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Ack()

		return
	}

	inbox, err := url.Parse(qm.Inbox)
	if err != nil {
		logger.Error("Invalid inbox URL in queued delivery. Message will be discarded.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Ack()

		return
	}

	headers := make(http.Header, len(qm.Headers))

	for name, value := range qm.Headers {
		headers.Set(name, value)
	}

	err = o.SendActivity(context.Background(), qm.Keys, qm.Activity, inbox, headers)
	if err == nil {
		logger.Debug("Delivered queued activity", logfields.WithActivityID(qm.Activity.ID()),
			logfields.WithInboxIRI(inbox), logfields.WithAttempt(qm.Attempt))

		msg.Ack()

		return
	}

	o.invokeErrorHandler(err, qm.Activity)

	if qm.Attempt >= len(o.BackoffSchedule) {
		logger.Warn("Giving up delivery after retries were exhausted",
			logfields.WithActivityID(qm.Activity.ID()), logfields.WithInboxIRI(inbox),
			logfields.WithAttempt(qm.Attempt), log.WithError(err))

		msg.Ack()

		return
	}

	delay := o.BackoffSchedule[qm.Attempt]

	logger.Info("Delivery failed. Retrying.", logfields.WithActivityID(qm.Activity.ID()),
		logfields.WithInboxIRI(inbox), logfields.WithAttempt(qm.Attempt),
		logfields.WithBackoffDelay(delay), log.WithError(err))

	if o.metrics != nil {
		o.metrics.OutboxIncrementRetryCount()
	}

	retry, err := newQueuedMessage(qm.Keys, qm.Activity, inbox, qm.Attempt+1, headers, qm.Started)
	if err != nil {
		logger.Error("Error building retry message", log.WithError(err))

		msg.Nack()

		return
	}

	if err := o.queue.Enqueue(retry, spi.WithDelay(delay)); err != nil {
		logger.Error("Error re-enqueueing delivery. Message will be nacked and redelivered.",
			logfields.WithMessageID(msg.UUID), log.WithError(err))

		msg.Nack()

		return
	}

	msg.Ack()
}

func (o *Outbox) invokeErrorHandler(err error, activity vocab.Document) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Outbox error handler panicked",
				logfields.WithParameter(fmt.Sprintf("%v", r)))
		}
	}()

	o.onError(err, activity)
}

func validateSenderKeys(senderKeys []keys.SenderKey) error {
	if len(senderKeys) == 0 {
		return fmt.Errorf("%w: at least one sender key is required", errors.ErrInvalidKey)
	}

	for i := range senderKeys {
		if err := senderKeys[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}
