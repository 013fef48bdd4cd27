// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package queue defines the post-write fan-out contract: a canonical
// JSON notification sent to a backup or index queue after a successful
// save or delete. The consumer side is out of scope; this package only
// covers producing and delivering the message.
package queue

import (
	"context"
	"encoding/json"
)

// Message is the canonical, stable wire payload for a post-save/delete
// notification:
//
//	{"Container": str, "BasePath": str, "Id": int64|null, "Metadata": {str: str}}
type Message struct {
	Container string            `json:"Container"`
	BasePath  string            `json:"BasePath"`
	Id        *int64            `json:"Id"`
	Metadata  map[string]string `json:"Metadata"`
}

// Marshal renders m as the canonical JSON payload.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Queue is the post-write fan-out target the secure store dispatches to.
// Delivery is at-least-once; dispatch uses whatever concurrency the
// concrete queue natively offers.
type Queue interface {
	Send(ctx context.Context, msg Message) error
}

// Named pairs a Queue with the logical role it serves (backup, index).
// Store's dispatch does not use it: it takes the backup and index queues
// as plain Queue values.
type Named struct {
	Name  string
	Queue Queue
}
