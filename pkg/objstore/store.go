// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

// Package objstore implements the secure store protocol: the write path
// that composes metadata tagging, pipeline composition, id allocation,
// the backend's conditional write, and queue fan-out; the inverse read
// path; and delete/lock/snapshot semantics.
package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/codec"
	"github.com/sealbox/sealbox/pkg/queue"
	"github.com/sealbox/sealbox/pkg/sealerr"
)

var mon = monkit.Package()

// IDGenerator is what Store asks for the next id when OptGenerateID is
// set and the caller's Location has none. pkg/uniqueid.Generator
// satisfies this.
type IDGenerator interface {
	NextID(ctx context.Context) (int64, error)
}

// Store orchestrates the stream pipeline and a blobstore.Backend,
// enforcing the stored object's metadata invariants and routing
// post-write notifications to the configured queues.
type Store struct {
	log     *zap.Logger
	backend blobstore.Backend

	compressor codec.Encoder
	encryptor  codec.Encoder
	decoders   map[string]codec.Decoder

	ids IDGenerator

	backupQueue queue.Queue
	indexQueue  queue.Queue
}

// StoreOption configures a Store at construction.
type StoreOption func(*Store)

// WithCompressor registers enc as the compressor used when OptCompress
// is set, and dec (if non-nil) as the decoder for enc.Algorithm() on the
// read path.
func WithCompressor(enc codec.Encoder, dec codec.Decoder) StoreOption {
	return func(s *Store) {
		s.compressor = enc
		if dec != nil {
			s.decoders[dec.Algorithm()] = dec
		}
	}
}

// WithEncryptor registers enc as the encryptor used when OptEncrypt is
// set, and dec (if non-nil) as the decoder for enc.Algorithm().
func WithEncryptor(enc codec.Encoder, dec codec.Decoder) StoreOption {
	return func(s *Store) {
		s.encryptor = enc
		if dec != nil {
			s.decoders[dec.Algorithm()] = dec
		}
	}
}

// WithDecoder registers an additional decoder without making it the
// active encoder, for reading objects a previous configuration wrote
// with a different algorithm.
func WithDecoder(dec codec.Decoder) StoreOption {
	return func(s *Store) { s.decoders[dec.Algorithm()] = dec }
}

// WithIDGenerator wires the unique-id generator used by OptGenerateID.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) { s.ids = g }
}

// WithBackupQueue wires the queue OptBackup enqueues to.
func WithBackupQueue(q queue.Queue) StoreOption {
	return func(s *Store) { s.backupQueue = q }
}

// WithIndexQueue wires the queue OptIndex enqueues to.
func WithIndexQueue(q queue.Queue) StoreOption {
	return func(s *Store) { s.indexQueue = q }
}

// New returns a Store over backend. Compression, encryption, id
// generation, and queues are all optional collaborators wired via
// options; requesting an Options flag whose collaborator is absent
// fails with sealerr.NotConfigured.
func New(log *zap.Logger, backend blobstore.Backend, opts ...StoreOption) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		log:      log,
		backend:  backend,
		decoders: make(map[string]codec.Decoder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveData is the write path: tag metadata, layer the compress/encrypt
// pipeline, assign an id if requested, write through the backend, then
// dispatch post-write notifications.
func (s *Store) SaveData(ctx context.Context, loc blobstore.Location, data io.Reader, meta blobstore.Metadata, opts Options) (_ blobstore.Location, _ blobstore.Metadata, err error) {
	defer mon.Task()(&ctx)(&err)

	meta = meta.Clone()
	encoders, err := s.resolveEncoders(opts, &meta)
	if err != nil {
		return loc, blobstore.Metadata{}, err
	}

	loc, err = s.assignID(ctx, loc, opts)
	if err != nil {
		return loc, blobstore.Metadata{}, err
	}

	body, pr, pipeErrc := wrapEncode(ctx, data, encoders)

	stored, err := s.backend.Save(ctx, loc, body, meta)
	if perr := waitPipe(pr, pipeErrc, err); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return loc, blobstore.Metadata{}, err
	}

	s.log.Debug("saved object", zap.Stringer("location", loc), zap.String("etag", stored.ETag()))

	if err := s.dispatch(ctx, loc, stored, opts); err != nil {
		return loc, stored, err
	}
	return loc, stored, nil
}

// SaveWithETag is the optimistic write path: identical to SaveData, but
// a conflict is returned as a value, never an error, and no notification
// is enqueued on conflict.
func (s *Store) SaveWithETag(ctx context.Context, loc blobstore.Location, data io.Reader, meta blobstore.Metadata, opts Options) (_ blobstore.Location, result blobstore.OptimisticResult, err error) {
	defer mon.Task()(&ctx)(&err)

	meta = meta.Clone()
	encoders, err := s.resolveEncoders(opts, &meta)
	if err != nil {
		return loc, blobstore.OptimisticResult{}, err
	}

	loc, err = s.assignID(ctx, loc, opts)
	if err != nil {
		return loc, blobstore.OptimisticResult{}, err
	}

	body, pr, pipeErrc := wrapEncode(ctx, data, encoders)

	result, err = s.backend.TryOptimisticWrite(ctx, loc, body, meta)
	if perr := waitPipe(pr, pipeErrc, err); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return loc, blobstore.OptimisticResult{}, err
	}
	if !result.OK {
		mon.Counter("save_with_etag_conflict").Inc(1)
		return loc, result, nil
	}

	if err := s.dispatch(ctx, loc, result.Meta, opts); err != nil {
		return loc, result, err
	}
	return loc, result, nil
}

// SaveObject serializes v as JSON, tags meta.type, and delegates to
// SaveData.
func (s *Store) SaveObject(ctx context.Context, loc blobstore.Location, typeName string, v interface{}, meta blobstore.Metadata, opts Options) (blobstore.Location, blobstore.Metadata, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return loc, blobstore.Metadata{}, sealerr.InvariantViolation.Wrap(err)
	}
	meta = meta.Set(blobstore.KeyType, typeName)
	return s.SaveData(ctx, loc, bytes.NewReader(payload), meta, opts)
}

// LoadData is the read path: it inverts whatever codec chain the stored
// metadata declares, gated on matching decoders being configured.
func (s *Store) LoadData(ctx context.Context, loc blobstore.Location, snapshot string) (_ blobstore.Data, found bool, err error) {
	defer mon.Task()(&ctx)(&err)

	data, ok, err := s.backend.Load(ctx, loc, snapshot)
	if err != nil {
		return blobstore.Data{}, false, err
	}
	if !ok {
		return blobstore.Data{}, false, nil
	}

	if snapshot == "" && data.Meta.Tombstoned() {
		_ = data.Close()
		return blobstore.Data{}, false, nil
	}

	decoders, err := s.resolveDecoders(data.Meta)
	if err != nil {
		_ = data.Close()
		return blobstore.Data{}, false, err
	}
	if len(decoders) == 0 {
		return data, true, nil
	}

	body, err := chainDecodeReader(ctx, data.Body, decoders...)
	if err != nil {
		_ = data.Close()
		return blobstore.Data{}, false, err
	}
	return blobstore.Data{Body: body, Meta: data.Meta, Release: data.Release}, true, nil
}

// LoadObject is the typed read path: it verifies meta.type before
// deserializing.
func (s *Store) LoadObject(ctx context.Context, loc blobstore.Location, snapshot, typeName string, v interface{}) (found bool, err error) {
	data, ok, err := s.LoadData(ctx, loc, snapshot)
	if err != nil || !ok {
		return ok, err
	}
	defer data.Close()

	if data.Meta.Type() != typeName {
		return false, sealerr.InvariantViolation.New("object %s has type %q, want %q", loc, data.Meta.Type(), typeName)
	}

	body, err := io.ReadAll(data.Body)
	if err != nil {
		return false, sealerr.BackendFailure.Wrap(err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, sealerr.InvariantViolation.Wrap(err)
	}
	return true, nil
}

// Delete removes the object at loc (soft if OptKeepDeletes, permanent
// otherwise) and dispatches the same post-write notifications a save
// would. It is a no-op if loc does not currently exist.
func (s *Store) Delete(ctx context.Context, loc blobstore.Location, opts Options) (err error) {
	defer mon.Task()(&ctx)(&err)

	meta, ok, err := s.backend.GetMetadata(ctx, loc, "")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if opts.Has(OptKeepDeletes) {
		err = s.backend.SoftDelete(ctx, loc)
	} else {
		err = s.backend.PermanentDelete(ctx, loc)
	}
	if err != nil {
		return err
	}

	return s.dispatch(ctx, loc, meta, opts)
}

// Lock delegates to the backend's advisory lease. It fails fast rather
// than blocking if loc is already leased.
func (s *Store) Lock(ctx context.Context, loc blobstore.Location) (blobstore.Lease, error) {
	return s.backend.Lock(ctx, loc)
}

// ReIndexAll walks container/prefix and enqueues one index notification
// per entry FindFiles returns, tombstoned entries included — bulk
// operations do not filter these out.
func (s *Store) ReIndexAll(ctx context.Context, container, prefix string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if s.indexQueue == nil {
		return sealerr.NotConfigured.New("re-index requested but no index queue configured")
	}
	return s.bulkDispatch(ctx, container, prefix, s.indexQueue)
}

// BackupAll is ReIndexAll's counterpart for the backup queue.
func (s *Store) BackupAll(ctx context.Context, container, prefix string) (err error) {
	defer mon.Task()(&ctx)(&err)
	if s.backupQueue == nil {
		return sealerr.NotConfigured.New("backup-all requested but no backup queue configured")
	}
	return s.bulkDispatch(ctx, container, prefix, s.backupQueue)
}

// bulkDispatch sends one notification per file, and only reports failure
// once every send has been attempted: unlike the first-error-wins
// errgroup.Group.Wait(), every failed send's error is collected and
// combined so a single bad entry doesn't hide the rest.
func (s *Store) bulkDispatch(ctx context.Context, container, prefix string, q queue.Queue) error {
	files, err := s.backend.FindFiles(ctx, container, prefix)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var errList []error

	var g errgroup.Group
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := q.Send(ctx, notificationFor(f.Location, f.Meta)); err != nil {
				mu.Lock()
				errList = append(errList, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errs.Combine(errList...)
}

func (s *Store) assignID(ctx context.Context, loc blobstore.Location, opts Options) (blobstore.Location, error) {
	if !opts.Has(OptGenerateID) || loc.HasID {
		return loc, nil
	}
	if s.ids == nil {
		return loc, sealerr.NotConfigured.New("generate_id requested but no id generator configured")
	}
	id, err := s.ids.NextID(ctx)
	if err != nil {
		return loc, err
	}
	return loc.WithID(id), nil
}

func (s *Store) resolveEncoders(opts Options, meta *blobstore.Metadata) ([]codec.Encoder, error) {
	var chain []codec.Encoder

	if opts.Has(OptCompress) {
		if s.compressor == nil {
			return nil, sealerr.NotConfigured.New("compress requested but no compressor configured")
		}
		chain = append(chain, s.compressor)
		*meta = meta.Set(blobstore.KeyCompression, s.compressor.Algorithm())
	} else {
		*meta = meta.Delete(blobstore.KeyCompression)
	}

	if opts.Has(OptEncrypt) {
		if s.encryptor == nil {
			return nil, sealerr.NotConfigured.New("encrypt requested but no encryptor configured")
		}
		chain = append(chain, s.encryptor)
		*meta = meta.Set(blobstore.KeyEncryption, s.encryptor.Algorithm())
	} else {
		*meta = meta.Delete(blobstore.KeyEncryption)
	}

	return chain, nil
}

func (s *Store) resolveDecoders(stored blobstore.Metadata) ([]codec.Decoder, error) {
	var chain []codec.Decoder

	if alg := stored.Encryption(); alg != "" {
		dec, ok := s.decoders[alg]
		if !ok {
			return nil, sealerr.InvariantViolation.New("no decryptor configured for algorithm %q", alg)
		}
		chain = append(chain, dec)
	}
	if alg := stored.Compression(); alg != "" {
		dec, ok := s.decoders[alg]
		if !ok {
			return nil, sealerr.InvariantViolation.New("no decompressor configured for algorithm %q", alg)
		}
		chain = append(chain, dec)
	}

	return chain, nil
}

func (s *Store) dispatch(ctx context.Context, loc blobstore.Location, meta blobstore.Metadata, opts Options) error {
	var targets []queue.Queue
	if opts.Has(OptBackup) {
		if s.backupQueue == nil {
			return sealerr.NotConfigured.New("backup requested but no backup queue configured")
		}
		targets = append(targets, s.backupQueue)
	}
	if opts.Has(OptIndex) {
		if s.indexQueue == nil {
			return sealerr.NotConfigured.New("index requested but no index queue configured")
		}
		targets = append(targets, s.indexQueue)
	}
	if len(targets) == 0 {
		return nil
	}

	msg := notificationFor(loc, meta)
	var g errgroup.Group
	for _, q := range targets {
		q := q
		g.Go(func() error { return q.Send(ctx, msg) })
	}
	return g.Wait()
}

func notificationFor(loc blobstore.Location, meta blobstore.Metadata) queue.Message {
	var id *int64
	if loc.HasID {
		v := loc.ID
		id = &v
	}
	values := make(map[string]string, meta.Len())
	for _, k := range meta.Keys() {
		v, _ := meta.Get(k)
		values[k] = v
	}
	return queue.Message{Container: loc.Container, BasePath: loc.BasePath, Id: id, Metadata: values}
}

func wrapEncode(ctx context.Context, data io.Reader, encoders []codec.Encoder) (io.Reader, *io.PipeReader, <-chan error) {
	if len(encoders) == 0 {
		return data, nil, nil
	}
	pr, errc := pipeToReader(ctx, data, encoders...)
	return pr, pr, errc
}

// waitPipe waits for the encode goroutine started by wrapEncode to
// finish. If the backend call that consumed pr already failed (saveErr
// != nil) without necessarily draining pr to EOF, pr is closed with that
// error first so a writer blocked on a pipe Write is released instead of
// leaking forever.
func waitPipe(pr *io.PipeReader, errc <-chan error, saveErr error) error {
	if errc == nil {
		return nil
	}
	if saveErr != nil && pr != nil {
		_ = pr.CloseWithError(saveErr)
	}
	if err := <-errc; err != nil {
		return errs.Wrap(err)
	}
	return nil
}
