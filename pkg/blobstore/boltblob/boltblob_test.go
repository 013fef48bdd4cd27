// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package boltblob_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sealbox/sealbox/pkg/blobstore/blobtest"
	"github.com/sealbox/sealbox/pkg/blobstore/boltblob"
)

func TestSuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealbox.db")

	backend, err := boltblob.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, backend.Close()) }()

	blobtest.RunTests(t, backend)
}
