// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package chanqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/queue"
	"github.com/sealbox/sealbox/pkg/queue/chanqueue"
)

func TestSendAndReceive(t *testing.T) {
	q := chanqueue.New(nil, 1)
	msg := queue.Message{Container: "c", BasePath: "p", Metadata: map[string]string{}}

	require.NoError(t, q.Send(context.Background(), msg))

	select {
	case got := <-q.C():
		require.Equal(t, msg, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendBlocksUntilCancelled(t *testing.T) {
	q := chanqueue.New(nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Send(ctx, queue.Message{Container: "c", BasePath: "p"})
	require.Error(t, err, "an unbuffered queue with no reader must block until the context is cancelled")
}
