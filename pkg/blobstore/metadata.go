// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package blobstore

// Reserved metadata keys, stable on the wire.
const (
	KeyCompression   = "compression"
	KeyEncryption    = "encryption"
	KeyType          = "type"
	KeyContentLength = "content-length"
	KeyModified      = "modified"
	KeySize          = "size"
	KeyTombstone     = "leodeleted"
)

// Metadata is an ordered, copy-on-write string-to-string map plus the two
// reserved fields every Backend exposes as first-class: ETag and Snapshot.
// Insertion order is preserved so two Metadata values built from the same
// sequence of Set calls serialize identically.
type Metadata struct {
	etag     string
	snapshot string
	keys     []string
	values   map[string]string
}

// NewMetadata returns an empty Metadata.
func NewMetadata() Metadata {
	return Metadata{}
}

// Clone returns a deep copy of m. The write path clones the caller's
// metadata before mutating it so repeated save calls never observe each
// other's in-flight edits.
func (m Metadata) Clone() Metadata {
	out := Metadata{etag: m.etag, snapshot: m.snapshot}
	if len(m.keys) == 0 {
		return out
	}
	out.keys = append([]string(nil), m.keys...)
	out.values = make(map[string]string, len(m.values))
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// ETag returns the opaque version token, or "" if unset.
func (m Metadata) ETag() string { return m.etag }

// WithETag returns a copy of m with the etag set.
func (m Metadata) WithETag(etag string) Metadata {
	m = m.Clone()
	m.etag = etag
	return m
}

// Snapshot returns the opaque point-in-time identifier, or "" if unset.
func (m Metadata) Snapshot() string { return m.snapshot }

// WithSnapshot returns a copy of m with the snapshot id set.
func (m Metadata) WithSnapshot(snapshot string) Metadata {
	m = m.Clone()
	m.snapshot = snapshot
	return m
}

// Get returns the raw value for an arbitrary key and whether it was set.
func (m Metadata) Get(key string) (string, bool) {
	if m.values == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set returns a copy of m with key=value. It never mutates m.
func (m Metadata) Set(key, value string) Metadata {
	m = m.Clone()
	if m.values == nil {
		m.values = make(map[string]string, 1)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return m
}

// Delete returns a copy of m with key removed. It is a no-op if the key
// was not present, matching the invariant that reserved keys MUST be
// removed (not left stale) when the corresponding write option is off.
func (m Metadata) Delete(key string) Metadata {
	if _, ok := m.Get(key); !ok {
		return m.Clone()
	}
	m = m.Clone()
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return m
}

// Keys returns the set keys in insertion order.
func (m Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys set (not counting ETag/Snapshot).
func (m Metadata) Len() int { return len(m.keys) }

// Equal reports whether m and other have the same key set and values,
// and the same ETag/Snapshot. Order is not significant for equality.
func (m Metadata) Equal(other Metadata) bool {
	if m.etag != other.etag || m.snapshot != other.snapshot {
		return false
	}
	if len(m.keys) != len(other.keys) {
		return false
	}
	for _, k := range m.keys {
		mv, _ := m.Get(k)
		ov, ok := other.Get(k)
		if !ok || mv != ov {
			return false
		}
	}
	return true
}

// Compression returns the compression algorithm tag, or "" if the
// payload is not compressed.
func (m Metadata) Compression() string {
	v, _ := m.Get(KeyCompression)
	return v
}

// Encryption returns the encryption algorithm tag, or "" if the payload
// is not encrypted.
func (m Metadata) Encryption() string {
	v, _ := m.Get(KeyEncryption)
	return v
}

// Type returns the fully-qualified logical type name for a typed object
// payload, or "" if this is not a typed object.
func (m Metadata) Type() string {
	v, _ := m.Get(KeyType)
	return v
}

// Tombstoned reports whether m carries the soft-delete marker. Load
// operations must treat an object carrying it as not found.
func (m Metadata) Tombstoned() bool {
	_, ok := m.Get(KeyTombstone)
	return ok
}
