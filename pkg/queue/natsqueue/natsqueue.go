// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package natsqueue is a queue.Queue backed by NATS JetStream, the
// message-broker binding named in the domain dependency set alongside
// this module's other pluggable backends.
package natsqueue

import (
	"go.uber.org/zap"

	"github.com/nats-io/nats.go"

	"context"

	"github.com/sealbox/sealbox/pkg/queue"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

// Queue publishes queue.Message notifications to a fixed JetStream
// subject. Delivery is at-least-once, matching JetStream's own
// guarantee.
type Queue struct {
	log     *zap.Logger
	js      nats.JetStreamContext
	subject string
}

// New wraps an already-connected JetStream context. The caller owns the
// underlying *nats.Conn and is responsible for closing it.
func New(log *zap.Logger, js nats.JetStreamContext, subject string) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{log: log, js: js, subject: subject}
}

func (q *Queue) Send(ctx context.Context, msg queue.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return sealerr.BackendFailure.Wrap(err)
	}

	ack, err := q.js.Publish(q.subject, payload, nats.Context(ctx))
	if err != nil {
		return sealerr.BackendFailure.Wrap(err)
	}
	q.log.Debug("published notification",
		zap.String("subject", q.subject),
		zap.String("container", msg.Container),
		zap.Uint64("stream_seq", ack.Sequence))
	return nil
}

var _ queue.Queue = (*Queue)(nil)
