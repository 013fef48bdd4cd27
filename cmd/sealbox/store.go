// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.uber.org/zap"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/blobstore/boltblob"
	"github.com/sealbox/sealbox/pkg/blobstore/memblob"
	"github.com/sealbox/sealbox/pkg/codec/compress"
	"github.com/sealbox/sealbox/pkg/codec/encrypt"
	"github.com/sealbox/sealbox/pkg/objstore"
	"github.com/sealbox/sealbox/pkg/queue/chanqueue"
	"github.com/sealbox/sealbox/pkg/uniqueid"
)

// buildBackend opens the blob backend named by --backend. The returned
// closer releases the file handle of the bolt backend; for the memory
// backend it is a no-op.
func buildBackend(cmd *cobra.Command) (blobstore.Backend, func() error, error) {
	switch kind := viper.GetString("backend"); kind {
	case "memory", "":
		return memblob.New(), func() error { return nil }, nil
	case "bolt":
		b, err := boltblob.Open(viper.GetString("bolt-path"))
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt backend: %w", err)
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown --backend %q, want memory or bolt", kind)
	}
}

// buildStore wires a Store over the configured backend with whatever
// compressor/encryptor/id-generator the persistent flags ask for.
func buildStore(cmd *cobra.Command) (*objstore.Store, func() error, error) {
	backend, closer, err := buildBackend(cmd)
	if err != nil {
		return nil, nil, err
	}

	var opts []objstore.StoreOption

	if viper.GetBool("compress") {
		zstd := compress.NewZstd()
		opts = append(opts, objstore.WithCompressor(zstd, zstd))
	}

	if viper.GetBool("encrypt") {
		key, err := parseKeyHex(viper.GetString("key-hex"))
		if err != nil {
			return nil, nil, err
		}
		sb := encrypt.NewSecretbox(key)
		opts = append(opts, objstore.WithEncryptor(sb, sb))
	}

	counterLoc := blobstore.NewLocation(viper.GetString("container"), ".counters/ids")
	gen := uniqueid.New(log, backend, counterLoc, uniqueid.WithRangeSize(viper.GetInt64("range-size")))
	opts = append(opts, objstore.WithIDGenerator(gen))

	backupQ := chanqueue.New(log, 16)
	indexQ := chanqueue.New(log, 16)
	go drainQueue(backupQ, "backup")
	go drainQueue(indexQ, "index")
	opts = append(opts, objstore.WithBackupQueue(backupQ), objstore.WithIndexQueue(indexQ))

	return objstore.New(log, backend, opts...), closer, nil
}

// drainQueue logs every notification a command's --backup/--index flag
// sends, standing in for the real backup/indexing consumers that live
// outside this module.
func drainQueue(q *chanqueue.Queue, name string) {
	for msg := range q.C() {
		log.Info("queue notification",
			zap.String("queue", name),
			zap.String("container", msg.Container),
			zap.String("path", msg.BasePath))
	}
}

func parseKeyHex(s string) (encrypt.Key, error) {
	var key encrypt.Key
	if s == "" {
		return key, fmt.Errorf("--encrypt requires --key-hex")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("--key-hex: %w", err)
	}
	if len(raw) != encrypt.KeySize {
		return key, fmt.Errorf("--key-hex must decode to %d bytes, got %d", encrypt.KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func saveOptions(cmd *cobra.Command) objstore.Options {
	var opts objstore.Options
	if viper.GetBool("compress") {
		opts |= objstore.OptCompress
	}
	if viper.GetBool("encrypt") {
		opts |= objstore.OptEncrypt
	}
	if b, _ := cmd.Flags().GetBool("generate-id"); b {
		opts |= objstore.OptGenerateID
	}
	if b, _ := cmd.Flags().GetBool("keep-deletes"); b {
		opts |= objstore.OptKeepDeletes
	}
	return opts
}
