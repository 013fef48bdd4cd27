// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package memblob_test

import (
	"testing"

	"github.com/sealbox/sealbox/pkg/blobstore/blobtest"
	"github.com/sealbox/sealbox/pkg/blobstore/memblob"
)

func TestSuite(t *testing.T) {
	blobtest.RunTests(t, memblob.New())
}
