// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package codectest is a shared round-trip harness for codec.Encoder/
// codec.Decoder pairs, following a table-driven transform check style.
package codectest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/codec"
)

// RoundTrip encodes plaintext through enc and decodes it back through
// dec, asserting the result matches exactly.
func RoundTrip(t *testing.T, enc codec.Encoder, dec codec.Decoder, plaintext []byte) {
	ctx := context.Background()

	var encoded bytes.Buffer
	w, err := enc.NewEncodeWriter(ctx, &encoded)
	require.NoError(t, err)
	_, err = w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := dec.NewDecodeReader(ctx, &encoded)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

// RoundTripChunked is RoundTrip but writes plaintext in small pieces, to
// exercise codecs (like a BlockCodec adapter) whose internal framing
// depends on how Write calls are split.
func RoundTripChunked(t *testing.T, enc codec.Encoder, dec codec.Decoder, plaintext []byte, chunkSize int) {
	ctx := context.Background()
	remaining := plaintext

	var encoded bytes.Buffer
	w, err := enc.NewEncodeWriter(ctx, &encoded)
	require.NoError(t, err)
	for len(remaining) > 0 {
		n := chunkSize
		if n > len(remaining) {
			n = len(remaining)
		}
		_, err := w.Write(remaining[:n])
		require.NoError(t, err)
		remaining = remaining[n:]
	}
	require.NoError(t, w.Close())

	r, err := dec.NewDecodeReader(ctx, &encoded)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}
