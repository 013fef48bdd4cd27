// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package encrypt implements the encryption side of the streaming
// transform pipeline. Secretbox is a from-scratch chunked NaCl secretbox
// codec: each pushed chunk (up to codec.ChunkSize bytes, so blocks vary
// in length) is sealed as its own length-prefixed block with a per-block
// nonce, following this module's push/flush BlockCodec contract instead
// of a fixed InBlockSize/OutBlockSize transformer.
package encrypt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/sealbox/sealbox/pkg/codec"
)

// AlgorithmSecretbox is the metadata.encryption tag for this codec.
const AlgorithmSecretbox = "secretbox"

// KeySize is the NaCl secretbox key size in bytes.
const KeySize = 32

const nonceSize = 24
const lengthPrefixSize = 4

var errAuthFailed = errors.New("sealbox/encrypt: secretbox: message authentication failed")
var errTruncated = errors.New("sealbox/encrypt: secretbox: truncated stream")

// Key is a shared symmetric key. Key rotation and derivation (e.g. via a
// certificate-backed wrapping service) is a non-goal of this module; keys
// are supplied by the caller.
type Key [KeySize]byte

// Secretbox is a codec.Encoder and codec.Decoder using NaCl secretbox,
// chunked so the pipeline never holds the full payload in memory.
type Secretbox struct {
	key Key
}

// NewSecretbox returns a Secretbox codec bound to key.
func NewSecretbox(key Key) Secretbox {
	return Secretbox{key: key}
}

func (Secretbox) Algorithm() string { return AlgorithmSecretbox }

func (s Secretbox) NewEncodeWriter(ctx context.Context, dst io.Writer) (io.WriteCloser, error) {
	var base [nonceSize]byte
	if _, err := rand.Read(base[:]); err != nil {
		return nil, err
	}
	return codec.NewBlockEncodeWriter(ctx, dst, &encodeCodec{key: s.key, baseNonce: base}), nil
}

func (s Secretbox) NewDecodeReader(ctx context.Context, src io.Reader) (io.ReadCloser, error) {
	return codec.NewBlockDecodeReader(ctx, src, &decodeCodec{key: s.key}), nil
}

type encodeCodec struct {
	key        Key
	baseNonce  [nonceSize]byte
	blockNum   uint64
	headerSent bool
}

func (c *encodeCodec) Push(dst, chunk []byte) ([]byte, error) {
	if !c.headerSent {
		dst = append(dst, c.baseNonce[:]...)
		c.headerSent = true
	}

	nonce := nonceForBlock(c.baseNonce, c.blockNum)
	sealed := secretbox.Seal(nil, chunk, &nonce, (*[KeySize]byte)(&c.key))
	c.blockNum++

	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, sealed...)
	return dst, nil
}

func (c *encodeCodec) Flush(dst []byte) ([]byte, error) {
	if !c.headerSent {
		// An empty stream still emits the nonce header so the decoder's
		// header read succeeds on a zero-length object.
		dst = append(dst, c.baseNonce[:]...)
		c.headerSent = true
	}
	return dst, nil
}

func (c *encodeCodec) Close() error { return nil }

type decodeCodec struct {
	key        Key
	baseNonce  [nonceSize]byte
	haveHeader bool
	blockNum   uint64
	pending    []byte
}

func (c *decodeCodec) Push(dst, chunk []byte) ([]byte, error) {
	c.pending = append(c.pending, chunk...)

	if !c.haveHeader {
		if len(c.pending) < nonceSize {
			return dst, nil
		}
		copy(c.baseNonce[:], c.pending[:nonceSize])
		c.pending = c.pending[nonceSize:]
		c.haveHeader = true
	}

	for {
		if len(c.pending) < lengthPrefixSize {
			break
		}
		frameLen := binary.BigEndian.Uint32(c.pending[:lengthPrefixSize])
		if uint32(len(c.pending)-lengthPrefixSize) < frameLen {
			break
		}
		sealed := c.pending[lengthPrefixSize : lengthPrefixSize+frameLen]

		nonce := nonceForBlock(c.baseNonce, c.blockNum)
		opened, ok := secretbox.Open(dst, sealed, &nonce, (*[KeySize]byte)(&c.key))
		if !ok {
			return dst, errAuthFailed
		}
		dst = opened
		c.blockNum++
		c.pending = c.pending[lengthPrefixSize+frameLen:]
	}
	return dst, nil
}

func (c *decodeCodec) Flush(dst []byte) ([]byte, error) {
	if !c.haveHeader && len(c.pending) == 0 {
		// Zero-length ciphertext with no header: treat as empty plaintext.
		return dst, nil
	}
	if len(c.pending) != 0 {
		return dst, errTruncated
	}
	return dst, nil
}

func (c *decodeCodec) Close() error { return nil }

func nonceForBlock(base [nonceSize]byte, blockNum uint64) [nonceSize]byte {
	nonce := base
	counter := binary.BigEndian.Uint64(nonce[nonceSize-8:]) + blockNum
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], counter)
	return nonce
}

var (
	_ codec.Encoder = Secretbox{}
	_ codec.Decoder = Secretbox{}
)
