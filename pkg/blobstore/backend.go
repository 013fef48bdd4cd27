// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package blobstore defines the abstract blob primitive the secure object
// store core is built on: conditional (ETag-based) writes, snapshots,
// soft/permanent deletion, and per-object metadata. Concrete bindings to
// a real cloud object store are out of scope for this module; memblob
// and boltblob ship as in-scope reference/test doubles.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Snapshot identifies a backend-managed immutable version of a location.
type Snapshot struct {
	ID         string
	ModifiedAt time.Time
}

// Data pairs a chunked byte stream with its metadata. Release is invoked
// once the caller is done with Body, regardless of how much of it was
// read; Backend implementations use it to return pooled buffers or close
// underlying connections.
type Data struct {
	Body    io.ReadCloser
	Meta    Metadata
	Release func()
}

// Close drains the release hook and closes the body. Callers that only
// care about metadata (e.g. GetMetadata-style use of Load) should still
// call Close to avoid leaking the underlying connection.
func (d Data) Close() error {
	if d.Release != nil {
		defer d.Release()
	}
	if d.Body == nil {
		return nil
	}
	return d.Body.Close()
}

// LocationWithMetadata is one entry produced by Backend.FindFiles.
type LocationWithMetadata struct {
	Location Location
	Meta     Metadata
}

// OptimisticResult is the value-not-error outcome of a conditional write:
// a conflict is surfaced as a value, never as a raised error.
type OptimisticResult struct {
	OK   bool
	Meta Metadata
}

// Lease is an advisory, exclusive, time-bounded hold on a Location
// acquired via Backend.Lock. Release must be idempotent.
type Lease interface {
	Location() Location
	Release(ctx context.Context) error
}

// Backend is the contract the secure store core requires from any blob
// storage primitive.
type Backend interface {
	// Save idempotently overwrites loc, creating a snapshot of any prior
	// version per backend policy, and returns the metadata the backend
	// now has stored (including the new ETag).
	Save(ctx context.Context, loc Location, body io.Reader, meta Metadata) (Metadata, error)

	// TryOptimisticWrite succeeds only if the stored etag equals the one
	// carried by meta, or — when meta carries no etag — only if no
	// object exists yet at loc (first-write semantics).
	TryOptimisticWrite(ctx context.Context, loc Location, body io.Reader, meta Metadata) (OptimisticResult, error)

	// Load returns the object at loc, or at a specific snapshot if
	// snapshot != "". It returns (Data{}, false, nil) when the location
	// does not exist; tombstone filtering is the caller's (pkg/objstore)
	// responsibility, not the backend's.
	Load(ctx context.Context, loc Location, snapshot string) (Data, bool, error)

	// GetMetadata is Load without the body.
	GetMetadata(ctx context.Context, loc Location, snapshot string) (Metadata, bool, error)

	// FindSnapshots lists the snapshots of loc in unspecified order.
	FindSnapshots(ctx context.Context, loc Location) ([]Snapshot, error)

	// FindFiles lists locations under container with the given prefix.
	// Implementations are not required to exclude soft-deleted entries;
	// the core does not depend on them being excluded.
	FindFiles(ctx context.Context, container, prefix string) ([]LocationWithMetadata, error)

	SoftDelete(ctx context.Context, loc Location) error
	PermanentDelete(ctx context.Context, loc Location) error

	// Lock acquires an advisory exclusive lease on loc. It fails fast
	// (returns an error, never blocks) if loc is already leased.
	Lock(ctx context.Context, loc Location) (Lease, error)

	CreateContainer(ctx context.Context, name string) error
	DeleteContainer(ctx context.Context, name string) error
}
