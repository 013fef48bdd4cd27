// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package memblob is an in-memory blobstore.Backend used by the secure
// object store's own test suite and by callers that want a zero-setup
// Backend for local development: the same Put/Get/Delete shape as a
// durable backend, generalized to carry metadata, ETags, and snapshots.
package memblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

type version struct {
	id         string
	modifiedAt time.Time
	body       []byte
	meta       blobstore.Metadata
}

type object struct {
	current   version
	snapshots []version
}

// Backend is an in-memory blobstore.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	mu         sync.Mutex
	containers map[string]bool
	objects    map[string]*object
	locks      map[string]struct{}
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{
		containers: make(map[string]bool),
		objects:    make(map[string]*object),
		locks:      make(map[string]struct{}),
	}
}

func objectKey(loc blobstore.Location) string {
	return loc.Container + "\x00" + loc.Key()
}

func (b *Backend) Save(ctx context.Context, loc blobstore.Location, body io.Reader, meta blobstore.Metadata) (blobstore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Metadata{}, sealerr.Cancelled.Wrap(err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blobstore.Metadata{}, sealerr.BackendFailure.Wrap(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := objectKey(loc)
	if _, locked := b.locks[key]; locked {
		return blobstore.Metadata{}, sealerr.Locked.New("%s is leased, write rejected", loc)
	}
	b.containers[loc.Container] = true

	obj := b.objects[key]
	if obj == nil {
		obj = &object{}
		b.objects[key] = obj
	} else {
		obj.snapshots = append(obj.snapshots, obj.current)
	}

	now := time.Now()
	stored := stampBackendFields(meta, now, len(data)).WithETag(uuid.NewString())
	obj.current = version{id: uuid.NewString(), modifiedAt: now, body: data, meta: stored}
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

	b.mu.Lock()
	defer b.mu.Unlock()

	key := objectKey(loc)
	if _, locked := b.locks[key]; locked {
		return blobstore.OptimisticResult{}, sealerr.Locked.New("%s is leased, write rejected", loc)
	}
	obj := b.objects[key]
	switch {
	case obj == nil && meta.ETag() != "":
		return blobstore.OptimisticResult{OK: false}, nil
	case obj != nil && meta.ETag() != obj.current.meta.ETag():
		return blobstore.OptimisticResult{OK: false}, nil
	case obj != nil && meta.ETag() == "":
		return blobstore.OptimisticResult{OK: false}, nil
	}

	b.containers[loc.Container] = true
	if obj == nil {
		obj = &object{}
		b.objects[key] = obj
	} else {
		obj.snapshots = append(obj.snapshots, obj.current)
	}

	now := time.Now()
	stored := stampBackendFields(meta, now, len(data)).WithETag(uuid.NewString())
	obj.current = version{id: uuid.NewString(), modifiedAt: now, body: data, meta: stored}
	return blobstore.OptimisticResult{OK: true, Meta: stored}, nil
}

func (b *Backend) Load(ctx context.Context, loc blobstore.Location, snapshot string) (blobstore.Data, bool, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Data{}, false, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	v, ok := b.lookupLocked(loc, snapshot)
	b.mu.Unlock()
	if !ok {
		return blobstore.Data{}, false, nil
	}
	return blobstore.Data{
		Body: io.NopCloser(bytes.NewReader(v.body)),
		Meta: v.meta,
	}, true, nil
}

func (b *Backend) GetMetadata(ctx context.Context, loc blobstore.Location, snapshot string) (blobstore.Metadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return blobstore.Metadata{}, false, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.lookupLocked(loc, snapshot)
	if !ok {
		return blobstore.Metadata{}, false, nil
	}
	return v.meta, true, nil
}

// lookupLocked must be called with b.mu held.
func (b *Backend) lookupLocked(loc blobstore.Location, snapshot string) (version, bool) {
	obj := b.objects[objectKey(loc)]
	if obj == nil {
		return version{}, false
	}
	if snapshot == "" {
		return obj.current, true
	}
	for _, s := range obj.snapshots {
		if s.id == snapshot {
			return s, true
		}
	}
	return version{}, false
}

func (b *Backend) FindSnapshots(ctx context.Context, loc blobstore.Location) ([]blobstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	obj := b.objects[objectKey(loc)]
	if obj == nil {
		return nil, nil
	}
	out := make([]blobstore.Snapshot, 0, len(obj.snapshots))
	for _, s := range obj.snapshots {
		out = append(out, blobstore.Snapshot{ID: s.id, ModifiedAt: s.modifiedAt})
	}
	return out, nil
}

func (b *Backend) FindFiles(ctx context.Context, container, prefix string) ([]blobstore.LocationWithMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []blobstore.LocationWithMetadata
	for key, obj := range b.objects {
		parts := strings.SplitN(key, "\x00", 2)
		if len(parts) != 2 || parts[0] != container {
			continue
		}
		basePath := parts[1]
		if prefix != "" && !strings.HasPrefix(basePath, prefix) {
			continue
		}
		out = append(out, blobstore.LocationWithMetadata{
			Location: blobstore.Location{Container: container, BasePath: basePath},
			Meta:     obj.current.meta,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location.BasePath < out[j].Location.BasePath })
	return out, nil
}

func (b *Backend) SoftDelete(ctx context.Context, loc blobstore.Location) error {
	if err := ctx.Err(); err != nil {
		return sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	obj := b.objects[objectKey(loc)]
	if obj == nil {
		return nil
	}
	obj.current.meta = obj.current.meta.Set(blobstore.KeyTombstone, strconv.FormatInt(time.Now().Unix(), 10))
	return nil
}

func (b *Backend) PermanentDelete(ctx context.Context, loc blobstore.Location) error {
	if err := ctx.Err(); err != nil {
		return sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey(loc))
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

func (b *Backend) Lock(ctx context.Context, loc blobstore.Location) (blobstore.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, sealerr.Cancelled.Wrap(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := objectKey(loc)
	if _, held := b.locks[key]; held {
		return nil, sealerr.Locked.New("%s is already leased", loc)
	}
	b.locks[key] = struct{}{}
	return &lease{b: b, key: key, loc: loc}, nil
}

func (b *Backend) CreateContainer(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.containers[name] = true
	return nil
}

func (b *Backend) DeleteContainer(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.containers, name)
	for key := range b.objects {
		if strings.HasPrefix(key, name+"\x00") {
			delete(b.objects, key)
		}
	}
	return nil
}

func stampBackendFields(meta blobstore.Metadata, modified time.Time, size int) blobstore.Metadata {
	return meta.
		Set(blobstore.KeyModified, modified.UTC().Format(time.RFC3339Nano)).
		Set(blobstore.KeySize, fmt.Sprintf("%d", size)).
		Set(blobstore.KeyContentLength, fmt.Sprintf("%d", size))
}

var _ blobstore.Backend = (*Backend)(nil)
