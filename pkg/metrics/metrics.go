/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package metrics defines the metrics recorded by the federation core.
package metrics

import "time"

// Namespace is the metric namespace.
const Namespace = "fedify"

// Metric subsystems.
const (
	Outbox = "outbox"
	Inbox  = "inbox"
)

// Metric names.
const (
	PostTimeMetric           = "post_seconds"
	ResolveInboxesTimeMetric = "resolve_inboxes_seconds"
	RetryCountMetric         = "retry_count"
	HandlerTimeMetric        = "handler_seconds"
)

// Metrics records the instrumented values of the federation core.
type Metrics interface {
	// OutboxPostTime records the time it takes to deliver an activity to an
	// inbox.
	OutboxPostTime(value time.Duration)

	// OutboxResolveInboxesTime records the time it takes to expand the
	// recipient set into inboxes.
	OutboxResolveInboxesTime(value time.Duration)

	// OutboxIncrementRetryCount increments the number of delivery retries.
	OutboxIncrementRetryCount()

	// InboxHandlerTime records the time an inbox listener takes to handle an
	// activity of the given type.
	InboxHandlerTime(activityType string, value time.Duration)
}
