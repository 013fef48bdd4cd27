// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package blobtest is a shared blobstore.Backend conformance suite: one
// RunTests entry point that every concrete Backend's own _test.go calls
// with its own constructed instance, so the same behavioral contract is
// checked identically across backends.
package blobtest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/blobstore"
)

// RunTests exercises backend against the full blobstore.Backend contract.
func RunTests(t *testing.T, backend blobstore.Backend) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, backend) })
	t.Run("SnapshotOnOverwrite", func(t *testing.T) { testSnapshotOnOverwrite(t, backend) })
	t.Run("OptimisticWrite", func(t *testing.T) { testOptimisticWrite(t, backend) })
	t.Run("SoftDelete", func(t *testing.T) { testSoftDelete(t, backend) })
	t.Run("PermanentDelete", func(t *testing.T) { testPermanentDelete(t, backend) })
	t.Run("FindFiles", func(t *testing.T) { testFindFiles(t, backend) })
	t.Run("Lock", func(t *testing.T) { testLock(t, backend) })
}

func testSaveAndLoad(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c1", "a/b")

	stored, err := b.Save(ctx, loc, strings.NewReader("hello"), blobstore.NewMetadata())
	require.NoError(t, err)
	require.NotEmpty(t, stored.ETag())

	data, ok, err := b.Load(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	defer data.Close()

	body, err := io.ReadAll(data.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.Equal(t, stored.ETag(), data.Meta.ETag())

	_, ok, err = b.Load(ctx, blobstore.NewLocation("c1", "missing"), "")
	require.NoError(t, err)
	require.False(t, ok)
}

func testSnapshotOnOverwrite(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c2", "versioned")

	first, err := b.Save(ctx, loc, strings.NewReader("v1"), blobstore.NewMetadata())
	require.NoError(t, err)

	_, err = b.Save(ctx, loc, strings.NewReader("v2"), blobstore.NewMetadata())
	require.NoError(t, err)

	snaps, err := b.FindSnapshots(ctx, loc)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snapData, ok, err := b.Load(ctx, loc, snaps[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	defer snapData.Close()

	body, err := io.ReadAll(snapData.Body)
	require.NoError(t, err)
	require.Equal(t, "v1", string(body))
	require.Equal(t, first.ETag(), snapData.Meta.ETag())

	current, ok, err := b.Load(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	defer current.Close()
	body, err = io.ReadAll(current.Body)
	require.NoError(t, err)
	require.Equal(t, "v2", string(body))
}

func testOptimisticWrite(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c3", "etagged")

	result, err := b.TryOptimisticWrite(ctx, loc, strings.NewReader("v1"), blobstore.NewMetadata())
	require.NoError(t, err)
	require.True(t, result.OK)

	result, err = b.TryOptimisticWrite(ctx, loc, strings.NewReader("conflict"), blobstore.NewMetadata())
	require.NoError(t, err)
	require.False(t, result.OK, "a second first-write attempt with no etag must lose")

	staleMeta := blobstore.NewMetadata().WithETag("not-the-real-etag")
	result, err = b.TryOptimisticWrite(ctx, loc, strings.NewReader("conflict"), staleMeta)
	require.NoError(t, err)
	require.False(t, result.OK)

	current, ok, err := b.GetMetadata(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	correctMeta := blobstore.NewMetadata().WithETag(current.ETag())

	result, err = b.TryOptimisticWrite(ctx, loc, strings.NewReader("v2"), correctMeta)
	require.NoError(t, err)
	require.True(t, result.OK)
}

func testSoftDelete(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c4", "soft")

	_, err := b.Save(ctx, loc, strings.NewReader("data"), blobstore.NewMetadata())
	require.NoError(t, err)

	require.NoError(t, b.SoftDelete(ctx, loc))

	meta, ok, err := b.GetMetadata(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok, "soft-deleted objects remain visible to the backend; tombstone filtering is the caller's job")
	require.True(t, meta.Tombstoned())
}

func testPermanentDelete(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c5", "gone")

	_, err := b.Save(ctx, loc, strings.NewReader("data"), blobstore.NewMetadata())
	require.NoError(t, err)
	require.NoError(t, b.PermanentDelete(ctx, loc))

	_, ok, err := b.GetMetadata(ctx, loc, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func testFindFiles(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	container := "c6"

	for _, p := range []string{"a/1", "a/2", "b/1"} {
		_, err := b.Save(ctx, blobstore.NewLocation(container, p), strings.NewReader(p), blobstore.NewMetadata())
		require.NoError(t, err)
	}

	files, err := b.FindFiles(ctx, container, "a/")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		require.True(t, strings.HasPrefix(f.Location.BasePath, "a/"))
	}

	all, err := b.FindFiles(ctx, container, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func testLock(t *testing.T, b blobstore.Backend) {
	ctx := context.Background()
	loc := blobstore.NewLocation("c7", "locked")

	lease, err := b.Lock(ctx, loc)
	require.NoError(t, err)

	_, err = b.Lock(ctx, loc)
	require.Error(t, err, "a second lock on the same location must fail fast, not block")

	require.NoError(t, lease.Release(ctx))

	lease2, err := b.Lock(ctx, loc)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}
