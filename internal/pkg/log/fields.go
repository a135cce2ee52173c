/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Log fields.
const (
	FieldActivityID     = "activity-id"
	FieldActivityType   = "activity-type"
	FieldActorIRI       = "actor-iri"
	FieldAttempt        = "attempt"
	FieldBackoffDelay   = "backoff-delay"
	FieldConfig         = "config"
	FieldHandle         = "handle"
	FieldHTTPStatus     = "http-status"
	FieldInboxIRI       = "inbox-iri"
	FieldKeyID          = "key-id"
	FieldKeyOwnerIRI    = "key-owner-iri"
	FieldMessageID      = "message-id"
	FieldParameter      = "parameter"
	FieldPayload        = "payload"
	FieldRequestHeaders = "request-headers"
	FieldRequestURL     = "request-url"
	FieldResource       = "resource"
	FieldRouteName      = "route-name"
	FieldServiceName    = "service"
	FieldTarget         = "target"
	FieldTopic          = "topic"
	FieldTypeIRI        = "type-iri"
)

// WithActivityID sets the activity-id field.
func WithActivityID(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActivityID, value)
}

// WithActivityType sets the activity-type field.
func WithActivityType(value string) zap.Field {
	return zap.String(FieldActivityType, value)
}

// WithActorIRI sets the actor-iri field.
func WithActorIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActorIRI, value)
}

// WithAttempt sets the attempt field.
func WithAttempt(value int) zap.Field {
	return zap.Int(FieldAttempt, value)
}

// WithBackoffDelay sets the backoff-delay field.
func WithBackoffDelay(value time.Duration) zap.Field {
	return zap.Duration(FieldBackoffDelay, value)
}

// WithConfig sets the config field.
func WithConfig(value interface{}) zap.Field {
	return zap.Any(FieldConfig, value)
}

// WithHandle sets the handle field.
func WithHandle(value string) zap.Field {
	return zap.String(FieldHandle, value)
}

// WithHTTPStatus sets the http-status field.
func WithHTTPStatus(value int) zap.Field {
	return zap.Int(FieldHTTPStatus, value)
}

// WithInboxIRI sets the inbox-iri field.
func WithInboxIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldInboxIRI, value)
}

// WithKeyID sets the key-id field.
func WithKeyID(value string) zap.Field {
	return zap.String(FieldKeyID, value)
}

// WithKeyOwnerIRI sets the key-owner-iri field.
func WithKeyOwnerIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldKeyOwnerIRI, value)
}

// WithMessageID sets the message-id field.
func WithMessageID(value string) zap.Field {
	return zap.String(FieldMessageID, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

// WithPayload sets the payload field.
func WithPayload(value []byte) zap.Field {
	return zap.String(FieldPayload, string(value))
}

// WithRequestHeaders sets the request-headers field.
func WithRequestHeaders(value http.Header) zap.Field {
	return zap.Any(FieldRequestHeaders, value)
}

// WithRequestURL sets the request-url field.
func WithRequestURL(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldRequestURL, value)
}

// WithResource sets the resource field.
func WithResource(value string) zap.Field {
	return zap.String(FieldResource, value)
}

// WithRouteName sets the route-name field.
func WithRouteName(value string) zap.Field {
	return zap.String(FieldRouteName, value)
}

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithTarget sets the target field.
func WithTarget(value string) zap.Field {
	return zap.String(FieldTarget, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithTypeIRI sets the type-iri field.
func WithTypeIRI(value string) zap.Field {
	return zap.String(FieldTypeIRI, value)
}
