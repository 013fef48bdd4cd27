// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex <prefix>",
	Short: "enqueue an index notification for every object under prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runReIndexAll,
}

var backupAllCmd = &cobra.Command{
	Use:   "backup-all <prefix>",
	Short: "enqueue a backup notification for every object under prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupAll,
}

func runReIndexAll(cmd *cobra.Command, args []string) error {
	store, closer, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if err := store.ReIndexAll(cmd.Context(), viper.GetString("container"), args[0]); err != nil {
		return err
	}
	// the drain goroutines log asynchronously; give the last few sends a
	// moment to land before the process exits.
	time.Sleep(50 * time.Millisecond)
	fmt.Println("re-index dispatch complete")
	return nil
}

func runBackupAll(cmd *cobra.Command, args []string) error {
	store, closer, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if err := store.BackupAll(cmd.Context(), viper.GetString("container"), args[0]); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	fmt.Println("backup dispatch complete")
	return nil
}
