// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkndaq/nephostat/internal/config"
	"github.com/mkndaq/nephostat/internal/logging"
)

var (
	cfgFile        string
	instrumentName string
	verbose        bool

	// TCP connection flags
	tcpHost string
	tcpPort int

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Protocol flags
	protocolName string
	stationID    int
	timeout      time.Duration
)

var (
	appConfig *config.Config
	appLog    *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nephostat",
	Short: "ACOEM nephelometer data acquisition",
	Long: `Nephostat - A CLI tool for talking to ACOEM Aurora and NE-series
integrating nephelometers.

Queries identity, parameters, operating state and the instrument clock,
downloads logged data, and runs a polling loop that writes daily data files,
stages them, uploads them over SFTP and publishes records to Redis.

Connection modes:
  TCP:       --host 192.168.1.50 [--tcp-port 32783]
  Serial:    --port /dev/ttyUSB0 [--baud 38400]
  WebSocket: --url ws://host/path [--username user]

Connection settings can also come from an instrument entry in the config
file (--config nephostat.yaml --instrument ne300); flags given on the command
line override the file.

For WebSocket authentication, the password is read from the NEPHOSTAT_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if cfgFile != "" {
			var err error
			cfg, err = config.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		log, err := logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		appConfig = cfg
		appLog = log
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appLog != nil {
			return appLog.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&instrumentName, "instrument", "i", "", "Instrument name from the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	// TCP connection flags
	rootCmd.PersistentFlags().StringVar(&tcpHost, "host", "", "Instrument host (TCP)")
	rootCmd.PersistentFlags().IntVar(&tcpPort, "tcp-port", 32783, "Instrument TCP port")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 38400, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Protocol flags
	rootCmd.PersistentFlags().StringVar(&protocolName, "protocol", "acoem", "Protocol dialect: acoem or legacy")
	rootCmd.PersistentFlags().IntVarP(&stationID, "station", "s", 0, "Station (serial) ID, 0-255")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "Response timeout (default from config or 5s)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// flagChanged reports whether a persistent flag was set on the command line
func flagChanged(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}

func requireConfig(what string) error {
	if cfgFile == "" {
		return fmt.Errorf("%s needs a configuration file (--config)", what)
	}
	return nil
}
