/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ariesstore

import (
	"context"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/dahlia/fedify-sub001/pkg/errors"
	"github.com/dahlia/fedify-sub001/pkg/store/spi"
)

func TestStore(t *testing.T) {
	s, err := Open(mem.NewProvider(), "federation")
	require.NoError(t, err)

	ctx := context.Background()
	key := spi.Key{"_fedify", "remotedocument", "https://example.com/users/alice"}

	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, errors.ErrNotFound)

	require.NoError(t, s.Put(ctx, key, []byte(`{"type":"Person"}`)))

	value, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"type":"Person"}`), value)

	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStore_TTL(t *testing.T) {
	s, err := Open(mem.NewProvider(), "federation")
	require.NoError(t, err)

	ctx := context.Background()
	key := spi.Key{"ns", "k1"}

	require.NoError(t, s.Put(ctx, key, []byte("value1"), spi.WithTTL(time.Nanosecond)))

	time.Sleep(time.Millisecond)

	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, errors.ErrNotFound)
}
