// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show control plane health",
		Long:  "Query the running control plane's health endpoint and display breaker and worker state.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18600", "control plane address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	client := newControlClient(addr)
	var report health.Report
	if err := client.getJSON("/health", &report); err != nil {
		if errors.Is(err, ErrControlPlaneNotRunning) {
			_, _ = fmt.Fprintf(out, "Control plane at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Control plane at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Control plane at %s: %s\n", addr, report.Status)
	for _, b := range report.Breakers {
		marker := ""
		if b.Critical {
			marker = " (critical)"
		}
		_, _ = fmt.Fprintf(out, "  breaker %-20s %s  failures=%d successes=%d%s\n",
			b.Name, b.State, b.FailureCount, b.SuccessCount, marker)
	}
	for _, w := range report.Workers {
		state := "stopped"
		if w.Alive {
			state = fmt.Sprintf("alive pid=%d", w.PID)
		}
		_, _ = fmt.Fprintf(out, "  worker  %-20s %s\n", w.Kind, state)
	}
	return nil
}
