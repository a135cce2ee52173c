/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransient(t *testing.T) {
	errT := NewTransient(errors.New("transient error"))
	require.True(t, IsTransient(errT))
	require.True(t, IsTransient(fmt.Errorf("wrapped: %w", errT)))

	errP := errors.New("persistent error")
	require.False(t, IsTransient(errP))

	require.True(t, IsTransient(NewTransientf("some error [%d]", 10)))
}

func TestBadRequest(t *testing.T) {
	errB := NewBadRequest(errors.New("bad request"))
	require.True(t, IsBadRequest(errB))
	require.True(t, IsBadRequest(fmt.Errorf("wrapped: %w", errB)))
	require.False(t, IsBadRequest(errors.New("some error")))

	require.True(t, IsBadRequest(NewBadRequestf("some error [%d]", 10)))
}

func TestFetchError(t *testing.T) {
	u, err := url.Parse("https://remote.example/keys/1")
	require.NoError(t, err)

	cause := errors.New("connection refused")

	errF := NewFetchError(u, cause)
	require.True(t, IsFetchError(errF))
	require.True(t, IsFetchError(fmt.Errorf("load key: %w", errF)))
	require.ErrorIs(t, errF, cause)
	require.Contains(t, errF.Error(), "https://remote.example/keys/1")

	require.False(t, IsFetchError(errors.New("some error")))
}
