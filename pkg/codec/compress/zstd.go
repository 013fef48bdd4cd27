// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package compress implements the compression side of the streaming
// transform pipeline using github.com/klauspost/compress (zstd and s2).
package compress

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/sealbox/sealbox/pkg/codec"
)

// AlgorithmZstd is the metadata.compression tag for the zstd codec.
const AlgorithmZstd = "zstd"

// Zstd is a codec.Encoder and codec.Decoder backed by klauspost/compress's
// streaming zstd implementation.
type Zstd struct {
	Level zstd.EncoderLevel
}

// NewZstd returns a Zstd encoder/decoder at the default compression
// level.
func NewZstd() Zstd {
	return Zstd{Level: zstd.SpeedDefault}
}

func (Zstd) Algorithm() string { return AlgorithmZstd }

func (z Zstd) NewEncodeWriter(ctx context.Context, dst io.Writer) (io.WriteCloser, error) {
	level := z.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	return codec.CtxWriteCloser(ctx, zw), nil
}

func (Zstd) NewDecodeReader(ctx context.Context, src io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return codec.CtxReadCloser(ctx, zr.IOReadCloser()), nil
}

var (
	_ codec.Encoder = Zstd{}
	_ codec.Decoder = Zstd{}
)
