// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package compress_test

import (
	"bytes"
	"testing"

	"github.com/sealbox/sealbox/pkg/codec/codectest"
	"github.com/sealbox/sealbox/pkg/codec/compress"
)

func TestZstdRoundTrip(t *testing.T) {
	zstd := compress.NewZstd()
	codectest.RoundTrip(t, zstd, zstd, []byte(""))
	codectest.RoundTrip(t, zstd, zstd, []byte("hello, sealbox"))
	codectest.RoundTripChunked(t, zstd, zstd, bytes.Repeat([]byte("x"), 1<<20), 17)
}

func TestS2RoundTrip(t *testing.T) {
	var s2 compress.S2
	codectest.RoundTrip(t, s2, s2, []byte(""))
	codectest.RoundTrip(t, s2, s2, []byte("hello, sealbox"))
	codectest.RoundTripChunked(t, s2, s2, bytes.Repeat([]byte("y"), 1<<20), 23)
}

func TestAlgorithmTags(t *testing.T) {
	if compress.NewZstd().Algorithm() != compress.AlgorithmZstd {
		t.Fatal("zstd algorithm tag mismatch")
	}
	var s2 compress.S2
	if s2.Algorithm() != compress.AlgorithmS2 {
		t.Fatal("s2 algorithm tag mismatch")
	}
}
