// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package objstore

import (
	"context"
	"io"

	"github.com/sealbox/sealbox/pkg/codec"
)

// chainEncodeWriter composes a sequence of codec.Encoder writers into one
// io.WriteCloser: the first encoder in encoders wraps the innermost
// plaintext, the last wraps dst, so writes flow compress -> encrypt ->
// backend. Close tears the chain down outermost-first so each layer's
// tail bytes flow into the next before it, in turn, closes.
func chainEncodeWriter(ctx context.Context, dst io.Writer, encoders ...codec.Encoder) (io.WriteCloser, error) {
	w := dst
	var closers []io.Closer
	for i := len(encoders) - 1; i >= 0; i-- {
		nw, err := encoders[i].NewEncodeWriter(ctx, w)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		w = nw
		closers = append(closers, nw)
	}
	return &chainWriteCloser{w: w, closers: closers}, nil
}

type chainWriteCloser struct {
	w       io.Writer
	closers []io.Closer
}

func (c *chainWriteCloser) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *chainWriteCloser) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// chainDecodeReader composes a sequence of codec.Decoder readers over
// src: decoders are applied in on-disk order (decrypt before decompress,
// mirroring the encode chain), each wrapping the previous. Closing the
// chain closes every layer plus src, innermost-to-outermost reversed
// (outermost decoder first, src last).
func chainDecodeReader(ctx context.Context, src io.ReadCloser, decoders ...codec.Decoder) (io.ReadCloser, error) {
	r := io.Reader(src)
	closers := []io.Closer{src}
	for _, d := range decoders {
		nr, err := d.NewDecodeReader(ctx, r)
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		r = nr
		closers = append(closers, nr)
	}
	return &chainReadCloser{r: r, closers: closers}, nil
}

type chainReadCloser struct {
	r       io.Reader
	closers []io.Closer
}

func (c *chainReadCloser) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *chainReadCloser) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i].Close()
	}
}

// pipeToReader copies src through the encoder chain on a goroutine,
// writing into a pipe whose read end it returns for the caller to
// consume, so the write side of the codec chain (an io.WriteCloser) can
// feed the io.Reader body Backend.Save expects without buffering the
// whole payload in memory. The goroutine's final error is sent on the
// returned channel.
func pipeToReader(ctx context.Context, src io.Reader, encoders ...codec.Encoder) (*io.PipeReader, <-chan error) {
	pr, pw := io.Pipe()
	errc := make(chan error, 1)

	go func() {
		w, err := chainEncodeWriter(ctx, pw, encoders...)
		if err != nil {
			pw.CloseWithError(err)
			errc <- err
			return
		}
		_, copyErr := io.Copy(w, src)
		closeErr := w.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
		errc <- copyErr
	}()

	return pr, errc
}
