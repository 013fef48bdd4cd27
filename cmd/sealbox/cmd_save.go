// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/objstore"
)

var saveCmd = &cobra.Command{
	Use:   "save <path> [file]",
	Short: "save data at path, reading from file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runSave,
}

func init() {
	saveCmd.Flags().Bool("generate-id", false, "append a generated id to the location")
	saveCmd.Flags().Bool("keep-deletes", false, "soft-delete instead of permanent-delete (irrelevant to save, kept for flag symmetry with delete)")
	saveCmd.Flags().Bool("backup", false, "enqueue a backup notification")
	saveCmd.Flags().Bool("index", false, "enqueue an index notification")
	saveCmd.Flags().String("etag", "", "require this etag for an optimistic write (conflict exits non-zero)")
}

func runSave(cmd *cobra.Command, args []string) error {
	store, closer, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer closer()

	var body io.Reader = os.Stdin
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[1], err)
		}
		defer f.Close()
		body = f
	}

	loc := blobstore.NewLocation(viper.GetString("container"), args[0])
	meta := blobstore.NewMetadata()

	opts := saveOptions(cmd)
	if backup, _ := cmd.Flags().GetBool("backup"); backup {
		opts |= objstore.OptBackup
	}
	if index, _ := cmd.Flags().GetBool("index"); index {
		opts |= objstore.OptIndex
	}

	ctx := cmd.Context()

	if etag, _ := cmd.Flags().GetString("etag"); etag != "" {
		meta = meta.WithETag(etag)
		resultLoc, result, err := store.SaveWithETag(ctx, loc, body, meta, opts)
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("conflict: %s has since been modified", resultLoc)
		}
		fmt.Printf("saved %s etag=%s\n", resultLoc, result.Meta.ETag())
		return nil
	}

	resultLoc, stored, err := store.SaveData(ctx, loc, body, meta, opts)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s etag=%s\n", resultLoc, stored.ETag())
	return nil
}
