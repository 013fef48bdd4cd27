// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package encrypt

import (
	"context"
	"io"

	"github.com/minio/sio"

	"github.com/sealbox/sealbox/pkg/codec"
)

// AlgorithmSio is the metadata.encryption tag for the sio codec, an
// AES-GCM/ChaCha20-Poly1305 AEAD stream cipher from minio/sio. It is the
// library-backed alternative to Secretbox: minio/sio already streams
// natively, so unlike Secretbox it implements Encoder/Decoder directly
// instead of going through a BlockCodec.
const AlgorithmSio = "sio"

// Sio is a codec.Encoder and codec.Decoder backed by github.com/minio/sio.
type Sio struct {
	key Key
}

// NewSio returns a Sio codec bound to key.
func NewSio(key Key) Sio {
	return Sio{key: key}
}

func (Sio) Algorithm() string { return AlgorithmSio }

func (s Sio) config() sio.Config {
	k := make([]byte, KeySize)
	copy(k, s.key[:])
	return sio.Config{Key: k}
}

func (s Sio) NewEncodeWriter(ctx context.Context, dst io.Writer) (io.WriteCloser, error) {
	w, err := sio.EncryptWriter(dst, s.config())
	if err != nil {
		return nil, err
	}
	return codec.CtxWriteCloser(ctx, w), nil
}

func (s Sio) NewDecodeReader(ctx context.Context, src io.Reader) (io.ReadCloser, error) {
	r, err := sio.DecryptReader(src, s.config())
	if err != nil {
		return nil, err
	}
	return codec.CtxReadCloser(ctx, io.NopCloser(r)), nil
}

var (
	_ codec.Encoder = Sio{}
	_ codec.Decoder = Sio{}
)
