// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package queue_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/queue"
)

func TestMessageMarshalShape(t *testing.T) {
	id := int64(42)
	msg := queue.Message{
		Container: "c1",
		BasePath:  "a/b",
		Id:        &id,
		Metadata:  map[string]string{"type": "widget"},
	}

	raw, err := msg.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "c1", decoded["Container"])
	require.Equal(t, "a/b", decoded["BasePath"])
	require.Equal(t, float64(42), decoded["Id"])
	require.Equal(t, map[string]interface{}{"type": "widget"}, decoded["Metadata"])
}

func TestMessageMarshalNilID(t *testing.T) {
	msg := queue.Message{Container: "c1", BasePath: "a/b", Metadata: map[string]string{}}

	raw, err := msg.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Nil(t, decoded["Id"])
}
