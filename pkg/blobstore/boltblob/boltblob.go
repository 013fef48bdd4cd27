// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package boltblob is a durable, single-file blobstore.Backend backed by
// go.etcd.io/bbolt. It persists to disk instead of memory so it survives
// a process restart — useful for a single-node deployment of the secure
// object store that wants crash-safety without standing up a database.
package boltblob

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

var (
	bucketContainers = []byte("containers")
	bucketObjects    = []byte("objects")
	bucketSnapshots  = []byte("snapshots")
)

// Backend is a bbolt-backed blobstore.Backend. Locks are advisory and
// process-local, same as memblob; cross-process exclusion needs the
// Redis-backed lease in pkg/lease instead.
type Backend struct {
	db *bbolt.DB

	mu    sync.Mutex
	locks map[string]struct{}
}

// Open opens (creating if absent) a bbolt database at path and returns a
// Backend over it.
func Open(path string) (*Backend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, sealerr.BackendFailure.Wrap(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketContainers, bucketObjects, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, sealerr.BackendFailure.Wrap(err)
	}
	return &Backend{db: db, locks: make(map[string]struct{})}, nil
}

// Close releases the underlying bbolt file.
func (b *Backend) Close() error {
	return b.db.Close()
}

func objectKey(loc blobstore.Location) []byte {
	return []byte(loc.Container + "\x00" + loc.Key())
}

func snapshotPrefix(loc blobstore.Location) []byte {
	return []byte(loc.Container + "\x00" + loc.Key() + "\x00")
}

func snapshotKey(loc blobstore.Location, snapshotID string) []byte {
	return append(snapshotPrefix(loc), []byte(snapshotID)...)
}

// record is the on-disk envelope for one object version: a fixed 16-byte
// header carrying the modification time and the lengths of the snapshot
// id and the JSON metadata, followed by the snapshot id bytes, the JSON
// metadata, and the raw body.
type record struct {
	modifiedAt time.Time
	snapshotID string
	meta       blobstore.Metadata
	body       []byte
}

type wireMeta struct {
	ETag     string            `json:"etag,omitempty"`
	Snapshot string            `json:"snapshot,omitempty"`
	Keys     []string          `json:"keys,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
}

func encodeRecord(r record) ([]byte, error) {
	wm := wireMeta{ETag: r.meta.ETag(), Snapshot: r.meta.Snapshot(), Keys: r.meta.Keys(), Values: map[string]string{}}
	for _, k := range wm.Keys {
		v, _ := r.meta.Get(k)
		wm.Values[k] = v
	}
	metaJSON, err := json.Marshal(wm)
	if err != nil {
		return nil, err
	}

	idBytes := []byte(r.snapshotID)
	var buf bytes.Buffer
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(r.modifiedAt.UnixNano()))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(idBytes)))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(metaJSON)))
	buf.Write(hdr[:])
	buf.Write(idBytes)
	buf.Write(metaJSON)
	buf.Write(r.body)
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	if len(data) < 16 {
		return record{}, fmt.Errorf("boltblob: truncated record header")
	}
	modifiedAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[0:8]))).UTC()
	idLen := binary.BigEndian.Uint32(data[8:12])
	metaLen := binary.BigEndian.Uint32(data[12:16])
	off := 16
	if len(data) < off+int(idLen)+int(metaLen) {
		return record{}, fmt.Errorf("boltblob: truncated record body")
	}
	id := string(data[off : off+int(idLen)])
	off += int(idLen)
	var wm wireMeta
	if err := json.Unmarshal(data[off:off+int(metaLen)], &wm); err != nil {
		return record{}, err
	}
	off += int(metaLen)
	body := append([]byte(nil), data[off:]...)

	meta := blobstore.NewMetadata()
	for _, k := range wm.Keys {
		meta = meta.Set(k, wm.Values[k])
	}
	if wm.ETag != "" {
		meta = meta.WithETag(wm.ETag)
	}
	if wm.Snapshot != "" {
		meta = meta.WithSnapshot(wm.Snapshot)
	}
	return record{modifiedAt: modifiedAt, snapshotID: id, meta: meta, body: body}, nil
}

func newVersionID() string {
	return uuid.NewString()
}

// locked reports whether loc is currently leased, so a writer that is
// not the lease holder can be rejected before it touches the record.
func (b *Backend) locked(loc blobstore.Location) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, held := b.locks[string(objectKey(loc))]
	return held
}

func stampBackendFields(meta blobstore.Metadata, modified time.Time, size int) blobstore.Metadata {
	return meta.
		Set(blobstore.KeyModified, modified.UTC().Format(time.RFC3339Nano)).
		Set(blobstore.KeySize, strconv.Itoa(size)).
		Set(blobstore.KeyContentLength, strconv.Itoa(size))
}

func (b *Backend) Save(ctx context.Context, loc blobstore.Location, body io.Reader, meta blobstore.Metadata) (blobstore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Metadata{}, sealerr.Cancelled.Wrap(err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blobstore.Metadata{}, sealerr.BackendFailure.Wrap(err)
	}

	if b.locked(loc) {
		return blobstore.Metadata{}, sealerr.Locked.New("%s is leased, write rejected", loc)
	}

	var stored blobstore.Metadata
	err = b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketContainers).Put([]byte(loc.Container), []byte{1}); err != nil {
			return err
		}
		objects := tx.Bucket(bucketObjects)
		key := objectKey(loc)
		if prev := objects.Get(key); prev != nil {
			prevRec, err := decodeRecord(prev)
			if err != nil {
				return err
			}
			snapBytes, err := encodeRecord(prevRec)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketSnapshots).Put(snapshotKey(loc, prevRec.snapshotID), snapBytes); err != nil {
				return err
			}
		}

		now := time.Now()
		stored = stampBackendFields(meta, now, len(data)).WithETag(newVersionID())
		rec := record{modifiedAt: now, snapshotID: newVersionID(), meta: stored, body: data}
		enc, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return objects.Put(key, enc)
	})
	if err != nil {
		return blobstore.Metadata{}, sealerr.BackendFailure.Wrap(err)
	}
	return stored, nil
}

func (b *Backend) TryOptimisticWrite(ctx context.Context, loc blobstore.Location, body io.Reader, meta blobstore.Metadata) (blobstore.OptimisticResult, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.OptimisticResult{}, sealerr.Cancelled.Wrap(err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blobstore.OptimisticResult{}, sealerr.BackendFailure.Wrap(err)
	}

	if b.locked(loc) {
		return blobstore.OptimisticResult{}, sealerr.Locked.New("%s is leased, write rejected", loc)
	}

	var result blobstore.OptimisticResult
	err = b.db.Update(func(tx *bbolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		key := objectKey(loc)
		prevBytes := objects.Get(key)

		var prevRec record
		hasPrev := prevBytes != nil
		if hasPrev {
			var err error
			prevRec, err = decodeRecord(prevBytes)
			if err != nil {
				return err
			}
		}

		switch {
		case !hasPrev && meta.ETag() != "":
			result = blobstore.OptimisticResult{OK: false}
			return nil
		case hasPrev && meta.ETag() != prevRec.meta.ETag():
			result = blobstore.OptimisticResult{OK: false}
			return nil
		case hasPrev && meta.ETag() == "":
			result = blobstore.OptimisticResult{OK: false}
			return nil
		}

		if err := tx.Bucket(bucketContainers).Put([]byte(loc.Container), []byte{1}); err != nil {
			return err
		}
		if hasPrev {
			snapBytes, err := encodeRecord(prevRec)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketSnapshots).Put(snapshotKey(loc, prevRec.snapshotID), snapBytes); err != nil {
				return err
			}
		}

		now := time.Now()
		stored := stampBackendFields(meta, now, len(data)).WithETag(newVersionID())
		rec := record{modifiedAt: now, snapshotID: newVersionID(), meta: stored, body: data}
		enc, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := objects.Put(key, enc); err != nil {
			return err
		}
		result = blobstore.OptimisticResult{OK: true, Meta: stored}
		return nil
	})
	if err != nil {
		return blobstore.OptimisticResult{}, sealerr.BackendFailure.Wrap(err)
	}
	return result, nil
}

func (b *Backend) Load(ctx context.Context, loc blobstore.Location, snapshot string) (blobstore.Data, bool, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Data{}, false, sealerr.Cancelled.Wrap(err)
	}
	rec, ok, err := b.lookup(loc, snapshot)
	if err != nil || !ok {
		return blobstore.Data{}, ok, err
	}
	return blobstore.Data{Body: io.NopCloser(bytes.NewReader(rec.body)), Meta: rec.meta}, true, nil
}

func (b *Backend) GetMetadata(ctx context.Context, loc blobstore.Location, snapshot string) (blobstore.Metadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Metadata{}, false, sealerr.Cancelled.Wrap(err)
	}
	rec, ok, err := b.lookup(loc, snapshot)
	if err != nil || !ok {
		return blobstore.Metadata{}, ok, err
	}
	return rec.meta, true, nil
}

func (b *Backend) lookup(loc blobstore.Location, snapshot string) (record, bool, error) {
	var rec record
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		var raw []byte
		if snapshot == "" {
			raw = tx.Bucket(bucketObjects).Get(objectKey(loc))
		} else {
			raw = tx.Bucket(bucketSnapshots).Get(snapshotKey(loc, snapshot))
		}
		if raw == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(raw)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return record{}, false, sealerr.BackendFailure.Wrap(err)
	}
	return rec, found, nil
}

func (b *Backend) FindSnapshots(ctx context.Context, loc blobstore.Location) ([]blobstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	var out []blobstore.Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		prefix := snapshotPrefix(loc)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, blobstore.Snapshot{ID: rec.snapshotID, ModifiedAt: rec.modifiedAt})
		}
		return nil
	})
	if err != nil {
		return nil, sealerr.BackendFailure.Wrap(err)
	}
	return out, nil
}

func (b *Backend) FindFiles(ctx context.Context, container, prefix string) ([]blobstore.LocationWithMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	var out []blobstore.LocationWithMetadata
	containerPrefix := []byte(container + "\x00" + prefix)
	scanPrefix := []byte(container + "\x00")
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		for k, v := c.Seek(scanPrefix); k != nil && bytes.HasPrefix(k, scanPrefix); k, v = c.Next() {
			if !bytes.HasPrefix(k, containerPrefix) {
				continue
			}
			basePath := string(k[len(scanPrefix):])
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, blobstore.LocationWithMetadata{
				Location: blobstore.Location{Container: container, BasePath: basePath},
				Meta:     rec.meta,
			})
		}
		return nil
	})
	if err != nil {
		return nil, sealerr.BackendFailure.Wrap(err)
	}
	return out, nil
}

func (b *Backend) SoftDelete(ctx context.Context, loc blobstore.Location) error {
	if err := ctx.Err(); err != nil {
		return sealerr.Cancelled.Wrap(err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		objects := tx.Bucket(bucketObjects)
		key := objectKey(loc)
		raw := objects.Get(key)
		if raw == nil {
			return nil
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec.meta = rec.meta.Set(blobstore.KeyTombstone, strconv.FormatInt(time.Now().Unix(), 10))
		enc, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return objects.Put(key, enc)
	})
}

func (b *Backend) PermanentDelete(ctx context.Context, loc blobstore.Location) error {
	if err := ctx.Err(); err != nil {
		return sealerr.Cancelled.Wrap(err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketObjects).Delete(objectKey(loc)); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket(bucketSnapshots), snapshotPrefix(loc))
	})
}

func deletePrefix(bucket *bbolt.Bucket, prefix []byte) error {
	c := bucket.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

type lease struct {
	b   *Backend
	key string
	loc blobstore.Location
}

func (l *lease) Location() blobstore.Location { return l.loc }

func (l *lease) Release(ctx context.Context) error {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	delete(l.b.locks, l.key)
	return nil
}

// Lock is an advisory, process-local lease: bbolt has no built-in
// distributed lock primitive, so cross-process exclusion needs the
// Redis-backed lease (pkg/lease) layered on top instead.
func (b *Backend) Lock(ctx context.Context, loc blobstore.Location) (blobstore.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(objectKey(loc))
	if _, held := b.locks[key]; held {
		return nil, sealerr.Locked.New("%s is already leased", loc)
	}
	b.locks[key] = struct{}{}
	return &lease{b: b, key: key, loc: loc}, nil
}

func (b *Backend) CreateContainer(ctx context.Context, name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketContainers).Put([]byte(name), []byte{1})
	})
}

func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketContainers).Delete([]byte(name)); err != nil {
			return err
		}
		prefix := []byte(name + "\x00")
		if err := deletePrefix(tx.Bucket(bucketObjects), prefix); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket(bucketSnapshots), prefix)
	})
}

var _ blobstore.Backend = (*Backend)(nil)
