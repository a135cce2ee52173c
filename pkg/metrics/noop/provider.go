/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package noop

import "time"

// Metrics is a no-op implementation of the Metrics interface.
type Metrics struct{}

// NewMetrics returns a no-op metrics recorder.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// OutboxPostTime does nothing.
func (m *Metrics) OutboxPostTime(value time.Duration) {}

// OutboxResolveInboxesTime does nothing.
func (m *Metrics) OutboxResolveInboxesTime(value time.Duration) {}

// OutboxIncrementRetryCount does nothing.
func (m *Metrics) OutboxIncrementRetryCount() {}

// InboxHandlerTime does nothing.
func (m *Metrics) InboxHandlerTime(activityType string, value time.Duration) {}
