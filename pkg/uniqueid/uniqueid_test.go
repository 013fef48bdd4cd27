// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package uniqueid_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/blobstore/memblob"
	"github.com/sealbox/sealbox/pkg/uniqueid"
)

func TestNextIDIsContiguousWithinRange(t *testing.T) {
	backend := memblob.New()
	counterLoc := blobstore.NewLocation("c", "counter")
	gen := uniqueid.New(nil, backend, counterLoc, uniqueid.WithRangeSize(3))

	ctx := context.Background()
	ids := make([]int64, 6)
	for i := range ids {
		id, err := gen.NextID(ctx)
		require.NoError(t, err)
		ids[i] = id
	}

	for i := 1; i < len(ids); i++ {
		require.Equal(t, ids[i-1]+1, ids[i])
	}
}

func TestNextIDCounterBlobNeverCompressedOrEncrypted(t *testing.T) {
	backend := memblob.New()
	counterLoc := blobstore.NewLocation("c", "counter")
	gen := uniqueid.New(nil, backend, counterLoc)

	_, err := gen.NextID(context.Background())
	require.NoError(t, err)

	meta, ok, err := backend.GetMetadata(context.Background(), counterLoc, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, meta.Compression())
	require.Empty(t, meta.Encryption())
}

func TestNextIDAcrossGeneratorsSharesCounter(t *testing.T) {
	backend := memblob.New()
	counterLoc := blobstore.NewLocation("c", "counter")
	gen1 := uniqueid.New(nil, backend, counterLoc, uniqueid.WithRangeSize(2))
	gen2 := uniqueid.New(nil, backend, counterLoc, uniqueid.WithRangeSize(2))

	ctx := context.Background()
	seen := map[int64]bool{}
	for i := 0; i < 8; i++ {
		var id int64
		var err error
		if i%2 == 0 {
			id, err = gen1.NextID(ctx)
		} else {
			id, err = gen2.NextID(ctx)
		}
		require.NoError(t, err)
		require.False(t, seen[id], "id %d claimed twice across generators sharing a counter", id)
		seen[id] = true
	}
}

func TestNextIDConcurrentCallsAreUnique(t *testing.T) {
	backend := memblob.New()
	counterLoc := blobstore.NewLocation("c", "counter")
	gen := uniqueid.New(nil, backend, counterLoc, uniqueid.WithRangeSize(5))

	const n = 50
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := gen.NextID(context.Background())
			require.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, id := range ids {
		require.False(t, seen[id])
		seen[id] = true
	}
}
