// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package compress

import (
	"context"
	"io"

	"github.com/klauspost/compress/s2"

	"github.com/sealbox/sealbox/pkg/codec"
)

// AlgorithmS2 is the metadata.compression tag for the s2 codec, a faster
// but lower-ratio alternative to zstd from the same klauspost/compress
// family.
const AlgorithmS2 = "s2"

// S2 is a codec.Encoder and codec.Decoder backed by klauspost/compress/s2.
type S2 struct{}

func (S2) Algorithm() string { return AlgorithmS2 }

func (S2) NewEncodeWriter(ctx context.Context, dst io.Writer) (io.WriteCloser, error) {
	return codec.CtxWriteCloser(ctx, s2.NewWriter(dst)), nil
}

func (S2) NewDecodeReader(ctx context.Context, src io.Reader) (io.ReadCloser, error) {
	return codec.CtxReadCloser(ctx, io.NopCloser(s2.NewReader(src))), nil
}

var (
	_ codec.Encoder = S2{}
	_ codec.Decoder = S2{}
)
