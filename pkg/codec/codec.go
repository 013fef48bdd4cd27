// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package codec implements a streaming transform pipeline: a layered
// reader/writer that composes compression and encryption over a chunked
// byte stream without buffering the whole payload, generalized from
// fixed-size block ciphers to arbitrary incremental transforms behind one
// push/flush contract.
package codec

import (
	"context"
	"io"
)

// ChunkSize bounds how much plaintext is pushed through a BlockCodec per
// pipeline step, so the pipeline never needs the full payload in memory.
const ChunkSize = 8 << 10

// Encoder is what objstore.Store holds to layer a write stream with
// compression or encryption, a write-over-write adapter. Algorithm is
// the on-disk contract recorded in metadata.compression / metadata.encryption.
type Encoder interface {
	Algorithm() string
	NewEncodeWriter(ctx context.Context, dst io.Writer) (io.WriteCloser, error)
}

// Decoder mirrors Encoder for the read path ("read-over-read" adapter).
// It is split from Encoder so a write-only caller never needs one.
type Decoder interface {
	Algorithm() string
	NewDecodeReader(ctx context.Context, src io.Reader) (io.ReadCloser, error)
}

// BlockCodec is the push-based transform contract for a codec that has no
// native streaming io.Writer/io.Reader of its own — namely this module's
// hand-rolled secretbox encryptor, which must chunk input itself and
// attach a fresh nonce per block, mirroring eestream.Transformer. Codecs
// built on a library that already streams (zstd, sio) implement Encoder/
// Decoder directly instead of going through BlockCodec.
type BlockCodec interface {
	// Push transforms one chunk (at most ChunkSize bytes) of input,
	// appending the produced bytes to dst and returning the extended
	// slice. Implementations may buffer internally and produce no
	// output for a given call.
	Push(dst, chunk []byte) ([]byte, error)

	// Flush emits any buffered tail bytes once input is exhausted (on
	// encode) or the stream is fully consumed (on decode).
	Flush(dst []byte) ([]byte, error)

	// Close releases codec state. It must be idempotent: disposal before
	// completion still tears down intermediate state.
	Close() error
}

type blockEncodeWriter struct {
	ctx   context.Context
	dst   io.Writer
	codec BlockCodec
	done  bool
}

// NewBlockEncodeWriter adapts a BlockCodec into the io.WriteCloser shape
// an Encoder.NewEncodeWriter implementation returns: each Write call
// pushes bytes through the codec in ChunkSize pieces and flushes the
// codec's output to dst. Cancellation is checked before every downstream
// write.
func NewBlockEncodeWriter(ctx context.Context, dst io.Writer, c BlockCodec) io.WriteCloser {
	return &blockEncodeWriter{ctx: ctx, dst: dst, codec: c}
}

func (w *blockEncodeWriter) Write(p []byte) (int, error) {
	written := 0
	var out []byte
	for len(p) > 0 {
		if err := w.ctx.Err(); err != nil {
			return written, err
		}
		n := len(p)
		if n > ChunkSize {
			n = ChunkSize
		}
		chunk := p[:n]

		var err error
		out, err = w.codec.Push(out[:0], chunk)
		if err != nil {
			return written, err
		}
		if len(out) > 0 {
			if err := w.ctx.Err(); err != nil {
				return written, err
			}
			if _, err := w.dst.Write(out); err != nil {
				return written, err
			}
		}

		written += n
		p = p[n:]
	}
	return written, nil
}

// Close flushes the codec's tail bytes to dst and then closes the codec.
// Calling it more than once is a no-op, so both a normal finish and an
// early teardown may call it safely; there is no teardown path that skips
// the flush.
func (w *blockEncodeWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer w.codec.Close()

	tail, err := w.codec.Flush(nil)
	if err != nil {
		return err
	}
	if len(tail) > 0 {
		if err := w.ctx.Err(); err != nil {
			return err
		}
		if _, err := w.dst.Write(tail); err != nil {
			return err
		}
	}
	return nil
}

type blockDecodeReader struct {
	ctx     context.Context
	src     io.Reader
	codec   BlockCodec
	buf     []byte
	srcDone bool
	flushed bool
}

// NewBlockDecodeReader adapts a BlockCodec into the io.ReadCloser shape a
// Decoder.NewDecodeReader implementation returns: each Read call pulls one
// chunk from src once the internal buffer drains, pushes it through the
// codec, and serves bytes from the codec's output. When src is exhausted,
// the codec is flushed for its final tail bytes before EOF is surfaced.
func NewBlockDecodeReader(ctx context.Context, src io.Reader, c BlockCodec) io.ReadCloser {
	return &blockDecodeReader{ctx: ctx, src: src, codec: c}
}

func (r *blockDecodeReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.srcDone {
			if r.flushed {
				return 0, io.EOF
			}
			r.flushed = true
			tail, err := r.codec.Flush(nil)
			if err != nil {
				return 0, err
			}
			r.buf = tail
			if len(r.buf) == 0 {
				return 0, io.EOF
			}
			continue
		}

		chunk := make([]byte, ChunkSize)
		n, err := r.src.Read(chunk)
		if n > 0 {
			out, perr := r.codec.Push(nil, chunk[:n])
			if perr != nil {
				return 0, perr
			}
			r.buf = out
		}
		if err == io.EOF {
			r.srcDone = true
		} else if err != nil {
			return 0, err
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *blockDecodeReader) Close() error {
	return r.codec.Close()
}

// CtxWriteCloser wraps w so every Write checks ctx first. Codec packages
// built on a library that streams natively (klauspost/compress, minio/sio)
// use this instead of BlockCodec to check cancellation before every
// downstream write without reimplementing the library's own buffering.
func CtxWriteCloser(ctx context.Context, w io.WriteCloser) io.WriteCloser {
	return &ctxWriteCloser{ctx: ctx, w: w}
}

type ctxWriteCloser struct {
	ctx context.Context
	w   io.WriteCloser
}

func (c *ctxWriteCloser) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}

func (c *ctxWriteCloser) Close() error { return c.w.Close() }

// CtxReadCloser wraps r so every Read checks ctx first.
func CtxReadCloser(ctx context.Context, r io.ReadCloser) io.ReadCloser {
	return &ctxReadCloser{ctx: ctx, r: r}
}

type ctxReadCloser struct {
	ctx context.Context
	r   io.ReadCloser
}

func (c *ctxReadCloser) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (c *ctxReadCloser) Close() error { return c.r.Close() }
