// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and controlling one instrument",
	Long: `Watch an instrument in an interactive terminal UI.

The operating state, the instrument clock and a list of parameters are polled
periodically. Parameters come from logged_parameters in the config file or,
for the binary protocol, from the instrument's logging configuration.

Keys:
  n / z / s   switch to normal, zero check or span check
  a           add a parameter to the watch list
  r           reset exchange statistics
  q           quit

Session logging is written to the log file only, so it does not disturb the
display; set log.file in the config to keep it.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Polling interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if appConfig.Log.File == "" {
		appLog.SetOutput(io.Discard)
	}

	stats := acoem.NewStatistics()
	name, inst, err := resolveInstrument()
	if err != nil {
		return err
	}
	session, info, err := newSession(name, inst, stats)
	if err != nil {
		return err
	}
	defer session.Close()

	params := make([]acoem.ParameterID, len(inst.LoggedParameters))
	for i, id := range inst.LoggedParameters {
		params[i] = acoem.ParameterID(id)
	}
	timeout := inst.Socket.Timeout
	if timeout <= 0 {
		timeout = acoem.DefaultTimeout
	}

	p := tea.NewProgram(initialMonitorModel(session, stats, name, info, params, monitorInterval, timeout))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	fmt.Print(stats.String())
	return nil
}
