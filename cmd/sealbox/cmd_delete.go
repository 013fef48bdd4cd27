// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/objstore"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "delete the object at path",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().Bool("keep-deletes", false, "soft-delete (tombstone) instead of permanently removing the object")
	deleteCmd.Flags().Bool("backup", false, "enqueue a backup notification")
	deleteCmd.Flags().Bool("index", false, "enqueue an index notification")
}

func runDelete(cmd *cobra.Command, args []string) error {
	store, closer, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer closer()

	loc := blobstore.NewLocation(viper.GetString("container"), args[0])

	var opts objstore.Options
	if b, _ := cmd.Flags().GetBool("keep-deletes"); b {
		opts |= objstore.OptKeepDeletes
	}
	if b, _ := cmd.Flags().GetBool("backup"); b {
		opts |= objstore.OptBackup
	}
	if b, _ := cmd.Flags().GetBool("index"); b {
		opts |= objstore.OptIndex
	}

	if err := store.Delete(cmd.Context(), loc, opts); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", loc)
	return nil
}
