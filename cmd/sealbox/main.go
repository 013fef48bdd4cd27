// Copyright (C) 2024 Sealbox, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var log *zap.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sealbox",
	Short: "sealbox is the CLI front end for the secure object store",
	Long: `sealbox exercises the secure object store directly against a
configured blob backend: compressed/encrypted saves, optimistic writes,
loads, deletes, and bulk re-index/backup notifications.`,
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().String("config", "", "config file (default: $HOME/.sealbox.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.PersistentFlags().String("backend", "memory", "blob backend: memory or bolt")
	rootCmd.PersistentFlags().String("bolt-path", "sealbox.db", "bbolt database file, when --backend=bolt")
	rootCmd.PersistentFlags().String("container", "default", "container name")

	rootCmd.PersistentFlags().Bool("compress", false, "layer zstd compression")
	rootCmd.PersistentFlags().Bool("encrypt", false, "layer secretbox encryption")
	rootCmd.PersistentFlags().String("key-hex", "", "32-byte hex-encoded symmetric key, required with --encrypt")

	rootCmd.PersistentFlags().Int64("range-size", 10, "unique-id allocator range size")

	viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(backupAllCmd)
	rootCmd.AddCommand(nextIDCmd)
}

func initConfig() {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".sealbox")
	}
	viper.SetEnvPrefix("SEALBOX")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func initLogging() {
	level := zap.InfoLevel
	_ = level.UnmarshalText([]byte(viper.GetString("log-level")))

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	built, err := cfg.Build()
	if err != nil {
		built = zap.NewNop()
	}
	log = built
	zap.ReplaceGlobals(log)
}
