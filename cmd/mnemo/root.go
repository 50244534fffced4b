// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root mnemo command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemo",
		Short:         "Mnemo — fault-tolerance control plane for code intelligence",
		Long:          "Mnemo shields the code-intelligence backend from cache, embedding, store and worker failures with circuit breakers, timeout guards and a cascading cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	// Register subcommands
	root.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}
