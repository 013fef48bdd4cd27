// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package objstore_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/blobstore/memblob"
	"github.com/sealbox/sealbox/pkg/codec/compress"
	"github.com/sealbox/sealbox/pkg/codec/encrypt"
	"github.com/sealbox/sealbox/pkg/objstore"
	"github.com/sealbox/sealbox/pkg/queue/chanqueue"
	"github.com/sealbox/sealbox/pkg/sealerr"
	"github.com/sealbox/sealbox/pkg/uniqueid"
)

func testKey() encrypt.Key {
	var k encrypt.Key
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func newTestStore(t *testing.T, backend blobstore.Backend) *objstore.Store {
	zstd := compress.NewZstd()
	sb := encrypt.NewSecretbox(testKey())
	gen := uniqueid.New(nil, backend, blobstore.NewLocation("ids", "counter"))
	return objstore.New(nil, backend,
		objstore.WithCompressor(zstd, zstd),
		objstore.WithEncryptor(sb, sb),
		objstore.WithIDGenerator(gen),
	)
}

// Scenario 1: compressed + encrypted round-trip.
func TestCompressedEncryptedRoundTrip(t *testing.T) {
	backend := memblob.New()
	store := newTestStore(t, backend)
	ctx := context.Background()

	plaintext := make([]byte, 1<<20)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	loc := blobstore.NewLocation("c", "obj")
	_, stored, err := store.SaveData(ctx, loc, bytes.NewReader(plaintext), blobstore.NewMetadata(), objstore.OptCompress|objstore.OptEncrypt)
	require.NoError(t, err)
	require.Equal(t, "zstd", stored.Compression())
	require.Equal(t, "secretbox", stored.Encryption())

	raw, ok, err := backend.Load(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	rawBytes, err := bytesReadAll(raw)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, rawBytes)

	data, ok, err := store.LoadData(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	defer data.Close()
	got, err := bytesReadAll(data)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// Scenario 2: ID generator sequencing.
func TestIDGeneratorSequencing(t *testing.T) {
	backend := memblob.New()
	counterLoc := blobstore.NewLocation("ids", "counter")
	gen := uniqueid.New(nil, backend, counterLoc, uniqueid.WithRangeSize(10))

	ctx := context.Background()
	for want := int64(1); want <= 25; want++ {
		got, err := gen.NextID(ctx)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	data, ok, err := backend.Load(ctx, counterLoc, "")
	require.NoError(t, err)
	require.True(t, ok)
	body, err := bytesReadAll(data)
	require.NoError(t, err)
	require.Equal(t, "30", string(body))
}

// Scenario 3: optimistic conflict.
func TestOptimisticConflict(t *testing.T) {
	backend := memblob.New()
	store := objstore.New(nil, backend)
	ctx := context.Background()
	loc := blobstore.NewLocation("c", "obj")

	etag := blobstore.NewMetadata().WithETag("")
	_, first, err := store.SaveWithETag(ctx, loc, bytes.NewReader([]byte("payload-A")), etag, 0)
	require.NoError(t, err)
	require.True(t, first.OK)

	meta := blobstore.NewMetadata().WithETag(first.Meta.ETag())
	_, second, err := store.SaveWithETag(ctx, loc, bytes.NewReader([]byte("payload-B")), meta, 0)
	require.NoError(t, err)
	require.True(t, second.OK)
	require.NotEqual(t, first.Meta.ETag(), second.Meta.ETag())

	_, third, err := store.SaveWithETag(ctx, loc, bytes.NewReader([]byte("payload-C")), meta, 0)
	require.NoError(t, err)
	require.False(t, third.OK)

	data, ok, err := store.LoadData(ctx, loc, "")
	require.NoError(t, err)
	require.True(t, ok)
	defer data.Close()
	got, err := bytesReadAll(data)
	require.NoError(t, err)
	require.Equal(t, "payload-B", string(got))
}

// Scenario 4: soft delete preserves snapshot.
func TestSoftDeletePreservesSnapshot(t *testing.T) {
	backend := memblob.New()
	store := objstore.New(nil, backend)
	ctx := context.Background()
	loc := blobstore.NewLocation("c", "obj")

	_, _, err := store.SaveData(ctx, loc, bytes.NewReader([]byte("A")), blobstore.NewMetadata(), 0)
	require.NoError(t, err)

	snaps, err := backend.FindSnapshots(ctx, loc)
	require.NoError(t, err)
	require.Len(t, snaps, 0, "the only version so far is current, not yet a snapshot")

	_, _, err = store.SaveData(ctx, loc, bytes.NewReader([]byte("B")), blobstore.NewMetadata(), 0)
	require.NoError(t, err)
	snaps, err = backend.FindSnapshots(ctx, loc)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	snapshotID := snaps[0].ID

	require.NoError(t, store.Delete(ctx, loc, objstore.OptKeepDeletes))

	_, ok, err := store.LoadData(ctx, loc, "")
	require.NoError(t, err)
	require.False(t, ok)

	data, ok, err := store.LoadData(ctx, loc, snapshotID)
	require.NoError(t, err)
	require.True(t, ok)
	defer data.Close()
	got, err := bytesReadAll(data)
	require.NoError(t, err)
	require.Equal(t, "A", string(got))
}

// Scenario 5: metadata stripping.
func TestMetadataStripping(t *testing.T) {
	backend := memblob.New()
	store := newTestStore(t, backend)
	ctx := context.Background()
	loc := blobstore.NewLocation("c", "obj")

	_, stored, err := store.SaveData(ctx, loc, bytes.NewReader([]byte("data")), blobstore.NewMetadata(), objstore.OptCompress|objstore.OptEncrypt)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Compression())
	require.NotEmpty(t, stored.Encryption())

	_, stored, err = store.SaveData(ctx, loc, bytes.NewReader([]byte("data")), blobstore.NewMetadata(), 0)
	require.NoError(t, err)
	require.Empty(t, stored.Compression())
	require.Empty(t, stored.Encryption())
}

// Scenario 6: lock excludes writers.
func TestLockExcludesWriters(t *testing.T) {
	backend := memblob.New()
	store := objstore.New(nil, backend)
	ctx := context.Background()
	loc := blobstore.NewLocation("c", "obj")

	held, err := store.Lock(ctx, loc)
	require.NoError(t, err)

	_, err = backend.Save(ctx, loc, bytes.NewReader([]byte("blocked")), blobstore.NewMetadata())
	require.Error(t, err, "a writer that is not the lease holder must be rejected")
	require.True(t, sealerr.Locked.Has(err))

	require.NoError(t, held.Release(ctx))

	_, _, err = store.SaveData(ctx, loc, bytes.NewReader([]byte("ok")), blobstore.NewMetadata(), 0)
	require.NoError(t, err, "once released, writes must succeed again")

	second, err := store.Lock(ctx, loc)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestSaveObjectLoadObjectRoundTrip(t *testing.T) {
	backend := memblob.New()
	store := objstore.New(nil, backend)
	ctx := context.Background()
	loc := blobstore.NewLocation("c", "widget")

	type widget struct {
		Name  string
		Count int
	}
	in := widget{Name: "bolt", Count: 7}

	_, _, err := store.SaveObject(ctx, loc, "widget", in, blobstore.NewMetadata(), 0)
	require.NoError(t, err)

	var out widget
	ok, err := store.LoadObject(ctx, loc, "", "widget", &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)

	ok, err = store.LoadObject(ctx, loc, "", "gadget", &out)
	require.Error(t, err)
	require.False(t, ok)
}

func TestReIndexAllDispatchesOnePerFile(t *testing.T) {
	backend := memblob.New()
	indexQ := chanqueue.New(nil, 16)
	store := objstore.New(nil, backend, objstore.WithIndexQueue(indexQ))
	ctx := context.Background()

	for _, p := range []string{"a/1", "a/2", "a/3"} {
		_, _, err := store.SaveData(ctx, blobstore.NewLocation("c", p), bytes.NewReader([]byte(p)), blobstore.NewMetadata(), 0)
		require.NoError(t, err)
	}

	require.NoError(t, store.ReIndexAll(ctx, "c", "a/"))

	count := 0
	for count < 3 {
		<-indexQ.C()
		count++
	}
}

func bytesReadAll(d blobstore.Data) ([]byte, error) {
	defer d.Close()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(d.Body)
	return buf.Bytes(), err
}
