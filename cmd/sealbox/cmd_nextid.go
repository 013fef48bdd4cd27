// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sealbox/sealbox/pkg/blobstore"
	"github.com/sealbox/sealbox/pkg/uniqueid"
)

var nextIDCmd = &cobra.Command{
	Use:   "next-id",
	Short: "claim and print the next id from the unique-id allocator",
	Args:  cobra.NoArgs,
	RunE:  runNextID,
}

func runNextID(cmd *cobra.Command, args []string) error {
	backend, closer, err := buildBackend(cmd)
	if err != nil {
		return err
	}
	defer closer()

	counterLoc := blobstore.NewLocation(viper.GetString("container"), ".counters/ids")
	gen := uniqueid.New(log, backend, counterLoc, uniqueid.WithRangeSize(viper.GetInt64("range-size")))

	id, err := gen.NextID(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
