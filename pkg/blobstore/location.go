// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package blobstore

import "strconv"

// Location identifies an object on a Backend: a container, a base path
// within that container, and an optional numeric id appended to the key.
// Locations are opaque to the backend; no forward-slash path convention
// is assumed beyond what a given Backend implementation chooses.
type Location struct {
	Container string
	BasePath  string

	// HasID reports whether ID is meaningful. A zero Location has no id,
	// which the secure store protocol (pkg/objstore) uses as the signal
	// to request one from the unique-id generator when generate_id is set.
	HasID bool
	ID    int64
}

// NewLocation builds a Location without an id.
func NewLocation(container, basePath string) Location {
	return Location{Container: container, BasePath: basePath}
}

// WithID returns a copy of loc addressing the same container/base path
// but with the given id.
func (loc Location) WithID(id int64) Location {
	loc.HasID = true
	loc.ID = id
	return loc
}

// Key renders the location as the single opaque string a Backend
// implementation may choose to use as its storage key. Backends are free
// to ignore it and derive their own key from the Location fields instead.
func (loc Location) Key() string {
	if !loc.HasID {
		return loc.BasePath
	}
	return loc.BasePath + "/" + strconv.FormatInt(loc.ID, 10)
}

func (loc Location) String() string {
	return loc.Container + ":" + loc.Key()
}
