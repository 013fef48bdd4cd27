// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package uniqueid implements a range-claim unique ID generator: a
// local allocator that hands out contiguous IDs from an in-memory
// range, refilling the range via a conditional write against a shared
// counter blob when it runs out.
package uniqueid

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

var mon = monkit.Package()

// DefaultRangeSize is the number of IDs claimed per round-trip to the
// counter blob when range_size is not overridden.
const DefaultRangeSize = 10

// DefaultMaxAttempts bounds how many times NextID retries a lost ETag
// race on the counter blob before giving up.
const DefaultMaxAttempts = 25

// Generator is a range-claim allocator over a single counter blob.
// Instances are safe for concurrent use; concurrent callers serialize on
// the local mutex before any one of them talks to the backend.
type Generator struct {
	backend     blobstore.Backend
	counterLoc  blobstore.Location
	rangeSize   int64
	maxAttempts int
	log         *zap.Logger

	mu   sync.Mutex
	next int64
	last int64
}

// Option configures a Generator at construction.
type Option func(*Generator)

// WithRangeSize overrides DefaultRangeSize.
func WithRangeSize(n int64) Option {
	return func(g *Generator) { g.rangeSize = n }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) { g.maxAttempts = n }
}

// New returns a Generator claiming ranges from the counter blob at loc.
// The blob is always read and written without compression or
// encryption: callers must not route counterLoc through a Store option
// set that would wrap it in a codec.
func New(log *zap.Logger, backend blobstore.Backend, counterLoc blobstore.Location, opts ...Option) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Generator{
		backend:     backend,
		counterLoc:  counterLoc,
		rangeSize:   DefaultRangeSize,
		maxAttempts: DefaultMaxAttempts,
		log:         log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NextID returns the next unique, strictly positive ID. Within one
// Generator, returned IDs are contiguous and monotonically increasing;
// across Generators sharing a counter blob, IDs are monotonic modulo
// range boundaries but not globally contiguous.
func (g *Generator) NextID(ctx context.Context) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.next <= g.last && g.last != 0 {
		id = g.next
		g.next++
		return id, nil
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, sealerr.Cancelled.Wrap(err)
		}

		current, meta, err := g.readCounter(ctx)
		if err != nil {
			return 0, err
		}
		newMax := current + g.rangeSize

		ok, err := g.tryClaim(ctx, meta, newMax)
		if err != nil {
			return 0, err
		}
		if !ok {
			g.log.Debug("unique id range claim lost etag race, retrying",
				zap.Int("attempt", attempt), zap.Int64("observed", current))
			continue
		}

		g.next = current + 1
		g.last = newMax
		mon.IntVal("uniqueid_range_claimed").Observe(g.rangeSize)
		g.log.Debug("claimed id range", zap.Int64("first", g.next), zap.Int64("last", g.last))

		id = g.next
		g.next++
		return id, nil
	}

	return 0, sealerr.RangeAllocationFailed.New("exceeded %d attempts claiming a range at %s", g.maxAttempts, g.counterLoc)
}

func (g *Generator) readCounter(ctx context.Context) (int64, blobstore.Metadata, error) {
	data, ok, err := g.backend.Load(ctx, g.counterLoc, "")
	if err != nil {
		return 0, blobstore.Metadata{}, sealerr.BackendFailure.Wrap(err)
	}
	if !ok {
		return 0, blobstore.NewMetadata(), nil
	}
	defer data.Close()

	body, err := io.ReadAll(data.Body)
	if err != nil {
		return 0, blobstore.Metadata{}, sealerr.BackendFailure.Wrap(err)
	}
	if len(body) == 0 {
		return 0, data.Meta, nil
	}
	current, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, blobstore.Metadata{}, sealerr.InvariantViolation.New("counter blob at %s is not a decimal integer: %q", g.counterLoc, body)
	}
	return current, data.Meta, nil
}

func (g *Generator) tryClaim(ctx context.Context, meta blobstore.Metadata, newMax int64) (bool, error) {
	// The counter blob is shared by every allocator and must be legible
	// without a decryptor; it is never compressed or encrypted.
	meta = meta.Delete(blobstore.KeyCompression).Delete(blobstore.KeyEncryption)
	body := []byte(strconv.FormatInt(newMax, 10))

	result, err := g.backend.TryOptimisticWrite(ctx, g.counterLoc, bytes.NewReader(body), meta)
	if err != nil {
		return false, sealerr.BackendFailure.Wrap(err)
	}
	return result.OK, nil
}
