/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package errors classifies the errors produced by the federation core.
// A 'transient' error indicates to the caller that a retry may resolve the
// problem, whereas a persistent error will always fail with the same outcome.
package errors

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	transientType  = &transient{}  //nolint:gochecknoglobals
	badRequestType = &badRequest{} //nolint:gochecknoglobals
	fetchErrType   = &FetchError{} //nolint:gochecknoglobals

	// ErrNotFound is returned when a requested object is not found.
	ErrNotFound = errors.New("not found")

	// ErrMissingActor is returned when an activity presented to the send
	// pipeline has no actor.
	ErrMissingActor = errors.New("activity has no actor")

	// ErrInvalidKey is returned when a cryptographic key has an unsupported
	// algorithm or an invalid encoding.
	ErrInvalidKey = errors.New("invalid or unsupported cryptographic key")
)

// NewTransient returns a transient error that wraps the given error.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error with the given formatted message.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error.
func IsTransient(err error) bool {
	return errors.As(err, &transientType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error with the given formatted message.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &badRequestType)
}

// FetchError indicates that a remote document could not be loaded.
// It carries the URL that failed so that callers may log or retry it.
type FetchError struct {
	URL *url.URL
	err error
}

// NewFetchError returns a new FetchError for the given URL.
func NewFetchError(u *url.URL, err error) error {
	return &FetchError{URL: u, err: err}
}

// IsFetchError returns true if the given error is a FetchError.
func IsFetchError(err error) bool {
	return errors.As(err, &fetchErrType)
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch [%s]: %s", e.URL, e.err)
}

// Unwrap returns the wrapped error.
func (e *FetchError) Unwrap() error {
	return e.err
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}
