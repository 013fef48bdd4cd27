// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package chanqueue is an in-process queue.Queue backed by a buffered Go
// channel. It is the zero-dependency reference implementation used by
// the secure store's own tests and by single-process deployments that
// have no external broker.
package chanqueue

import (
	"context"

	"go.uber.org/zap"

	"github.com/sealbox/sealbox/pkg/queue"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

// Queue is a buffered, in-process queue.Queue. The zero value is not
// usable; construct with New.
type Queue struct {
	log *zap.Logger
	ch  chan queue.Message
}

// New returns a Queue with the given buffer capacity. Send blocks once
// the buffer is full until a consumer drains C or ctx is cancelled.
func New(log *zap.Logger, capacity int) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{log: log, ch: make(chan queue.Message, capacity)}
}

// C exposes the delivery channel for a consumer goroutine to range over.
func (q *Queue) C() <-chan queue.Message { return q.ch }

func (q *Queue) Send(ctx context.Context, msg queue.Message) error {
	select {
	case q.ch <- msg:
		q.log.Debug("enqueued notification", zap.String("container", msg.Container), zap.String("base_path", msg.BasePath))
		return nil
	case <-ctx.Done():
		return sealerr.Cancelled.Wrap(ctx.Err())
	}
}

// Close closes the delivery channel. Callers must stop sending before
// calling Close.
func (q *Queue) Close() error {
	close(q.ch)
	return nil
}

var _ queue.Queue = (*Queue)(nil)
