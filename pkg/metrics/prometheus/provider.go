/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package prometheus records the federation metrics with Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dahlia/fedify-sub001/pkg/metrics"
)

// Metrics records the federation metrics with Prometheus collectors.
type Metrics struct {
	outboxPostTime           prometheus.Histogram
	outboxResolveInboxesTime prometheus.Histogram
	outboxRetryCount         prometheus.Counter
	inboxHandlerTimes        *prometheus.HistogramVec
}

// NewMetrics returns a metrics recorder whose collectors are registered with
// the given registerer. A nil registerer uses the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		outboxPostTime: newHistogram(
			metrics.Outbox, metrics.PostTimeMetric,
			"The time (in seconds) that it takes to deliver an activity to an inbox.",
		),
		outboxResolveInboxesTime: newHistogram(
			metrics.Outbox, metrics.ResolveInboxesTimeMetric,
			"The time (in seconds) that it takes to expand the recipient set into inboxes.",
		),
		outboxRetryCount: newCounter(
			metrics.Outbox, metrics.RetryCountMetric,
			"The number of delivery retries.",
		),
		inboxHandlerTimes: newHistogramVec(
			metrics.Inbox, metrics.HandlerTimeMetric,
			"The time (in seconds) that it takes an inbox listener to handle an activity.",
			"type",
		),
	}

	registerer.MustRegister(m.outboxPostTime, m.outboxResolveInboxesTime,
		m.outboxRetryCount, m.inboxHandlerTimes)

	return m
}

// OutboxPostTime records the time it takes to deliver an activity to an
// inbox.
func (m *Metrics) OutboxPostTime(value time.Duration) {
	m.outboxPostTime.Observe(value.Seconds())
}

// OutboxResolveInboxesTime records the time it takes to expand the recipient
// set into inboxes.
func (m *Metrics) OutboxResolveInboxesTime(value time.Duration) {
	m.outboxResolveInboxesTime.Observe(value.Seconds())
}

// OutboxIncrementRetryCount increments the number of delivery retries.
func (m *Metrics) OutboxIncrementRetryCount() {
	m.outboxRetryCount.Inc()
}

// InboxHandlerTime records the time an inbox listener takes to handle an
// activity of the given type.
func (m *Metrics) InboxHandlerTime(activityType string, value time.Duration) {
	m.inboxHandlerTimes.WithLabelValues(activityType).Observe(value.Seconds())
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newHistogram(subsystem, name, help string) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newHistogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}
