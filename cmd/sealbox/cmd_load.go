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
)

var loadCmd = &cobra.Command{
	Use:   "load <path> [file]",
	Short: "load data at path, writing to file or stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runLoad,
}

func init() {
	loadCmd.Flags().String("snapshot", "", "load a specific snapshot instead of the current version")
}

func runLoad(cmd *cobra.Command, args []string) error {
	store, closer, err := buildStore(cmd)
	if err != nil {
		return err
	}
	defer closer()

	loc := blobstore.NewLocation(viper.GetString("container"), args[0])
	snapshot, _ := cmd.Flags().GetString("snapshot")

	data, ok, err := store.LoadData(cmd.Context(), loc, snapshot)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not found: %s", loc)
	}
	defer data.Close()

	var out io.Writer = os.Stdout
	if len(args) == 2 {
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("create %s: %w", args[1], err)
		}
		defer f.Close()
		out = f
	}

	if _, err := io.Copy(out, data.Body); err != nil {
		return fmt.Errorf("copy body: %w", err)
	}
	return nil
}
