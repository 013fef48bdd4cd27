// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package encrypt_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/codec/codectest"
	"github.com/sealbox/sealbox/pkg/codec/encrypt"
)

func testKey(b byte) encrypt.Key {
	var k encrypt.Key
	for i := range k {
		k[i] = b
	}
	return k
}

func TestSecretboxRoundTrip(t *testing.T) {
	sb := encrypt.NewSecretbox(testKey(0x42))
	codectest.RoundTrip(t, sb, sb, []byte(""))
	codectest.RoundTrip(t, sb, sb, []byte("hello, sealbox"))
	codectest.RoundTripChunked(t, sb, sb, bytes.Repeat([]byte("z"), 1<<16), 11)
}

func TestSecretboxWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	sender := encrypt.NewSecretbox(testKey(1))
	receiver := encrypt.NewSecretbox(testKey(2))

	var encoded bytes.Buffer
	w, err := sender.NewEncodeWriter(ctx, &encoded)
	require.NoError(t, err)
	_, err = w.Write([]byte("secret"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := receiver.NewDecodeReader(ctx, &encoded)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 16)
	_, err = r.Read(buf)
	require.Error(t, err, "decrypting with the wrong key must fail authentication, not silently return garbage")
}

func TestSioRoundTrip(t *testing.T) {
	sio := encrypt.NewSio(testKey(0x99))
	codectest.RoundTrip(t, sio, sio, []byte(""))
	codectest.RoundTrip(t, sio, sio, []byte("hello, sealbox"))
	codectest.RoundTripChunked(t, sio, sio, bytes.Repeat([]byte("w"), 1<<16), 13)
}

func TestAlgorithmTags(t *testing.T) {
	if encrypt.NewSecretbox(testKey(1)).Algorithm() != encrypt.AlgorithmSecretbox {
		t.Fatal("secretbox algorithm tag mismatch")
	}
	if encrypt.NewSio(testKey(1)).Algorithm() != encrypt.AlgorithmSio {
		t.Fatal("sio algorithm tag mismatch")
	}
}
