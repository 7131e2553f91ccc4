// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mkndaq/nephostat/internal/config"
	"github.com/mkndaq/nephostat/internal/datafile"
	"github.com/mkndaq/nephostat/internal/monitor"
	"github.com/mkndaq/nephostat/internal/poller"
	"github.com/mkndaq/nephostat/internal/publish"
	"github.com/mkndaq/nephostat/internal/staging"
	"github.com/mkndaq/nephostat/internal/transfer"
	"github.com/mkndaq/nephostat/pkg/acoem"
)

var (
	pollInterval time.Duration
	pollBackfill time.Duration
	pollOnce     bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the acquisition loop",
	Long: `Poll instruments periodically and archive their data.

Each cycle fetches the logged data recorded since the previous cycle (binary
protocol) or the new data lines (legacy protocol), appends them to the daily
data files under the data directory and stages the files that changed. When
configured, staged files are uploaded over SFTP, records are published to
Redis and Prometheus metrics are served.

Without --instrument or connection flags, every instrument in the config file
is polled concurrently.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Cycle interval (default reporting_interval from config)")
	pollCmd.Flags().DurationVar(&pollBackfill, "backfill", 24*time.Hour, "How far back the first cycle requests logged data")
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "Run a single cycle and exit")
}

type pollTarget struct {
	name string
	inst config.InstrumentConfig
}

// pollTargets returns the instruments selected by the flags, or every
// configured instrument
func pollTargets() ([]pollTarget, error) {
	if instrumentName != "" || tcpHost != "" || portName != "" || wsURL != "" {
		name, inst, err := resolveInstrument()
		if err != nil {
			return nil, err
		}
		return []pollTarget{{name, inst}}, nil
	}

	names := make([]string, 0, len(appConfig.Instruments))
	for name := range appConfig.Instruments {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	sort.Strings(names)

	targets := make([]pollTarget, 0, len(names))
	for _, name := range names {
		targets = append(targets, pollTarget{name, appConfig.Instruments[name]})
	}
	return targets, nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	targets, err := pollTargets()
	if err != nil {
		return err
	}

	interval := pollInterval
	if interval <= 0 {
		interval = appConfig.ReportingInterval
	}
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var mon *monitor.Monitor
	if appConfig.Metrics.Enabled {
		mon = monitor.NewMonitor(appLog)
		if !pollOnce {
			g.Go(func() error { return mon.Serve(gctx, appConfig.Metrics.Addr) })
		}
	}

	var pub *publish.Publisher
	if appConfig.Redis.Enabled() {
		pub, err = publish.NewPublisher(ctx, appConfig.Redis, appLog)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	since := time.Now().UTC().Add(-pollBackfill)
	var pollers []*poller.Poller
	for _, t := range targets {
		log := appLog.ForInstrument(t.name)

		var observers []acoem.Observer
		if mon != nil {
			observers = append(observers, mon.Observer(t.name))
		}
		session, info, err := newSession(t.name, t.inst, observers...)
		if err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		defer session.Close()
		log.WithField("connection", info).Info("polling")

		columns := make([]acoem.ParameterID, len(t.inst.LoggedParameters))
		for i, id := range t.inst.LoggedParameters {
			columns[i] = acoem.ParameterID(id)
		}

		p := poller.New(t.name, session, datafile.NewWriter(appConfig.Data, t.name, columns, log), since, log)
		p.Stager = staging.New(appConfig.Staging.Path, t.inst.StagingZip, log)
		if pub != nil {
			p.Publisher = pub
		}
		pollers = append(pollers, p)
	}

	var uploader *transfer.SFTPUploader
	if appConfig.SFTP.Enabled() {
		uploader, err = newUploader()
		if err != nil {
			return err
		}
		defer uploader.Close()
	}

	if pollOnce {
		for _, p := range pollers {
			res, err := p.Cycle(ctx, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			fmt.Printf("%s: %d records, %d files written, %d staged, state %s\n",
				p.Name, res.Records, len(res.Written), len(res.Staged), res.State)
		}
		if uploader != nil {
			return runTransfer(ctx, uploader, appLog)
		}
		return nil
	}

	for _, p := range pollers {
		p := p
		g.Go(func() error { return p.Run(gctx, interval) })
	}
	if uploader != nil {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				if err := runTransfer(gctx, uploader, appLog); err != nil && gctx.Err() == nil {
					appLog.Errorf("transfer: %v", err)
				}
			}
		})
	}

	return g.Wait()
}

func newUploader() (*transfer.SFTPUploader, error) {
	passphrase := func() (string, error) {
		return GetPassword("NEPHOSTAT_KEY_PASSPHRASE", "Key passphrase: ")
	}
	return transfer.NewSFTPUploader(appConfig.SFTP, passphrase, appLog.WithField("component", "sftp"))
}

// runTransfer uploads the staging tree and records the outcome
func runTransfer(ctx context.Context, up transfer.Uploader, log logrus.FieldLogger) error {
	res, err := transfer.Transfer(ctx, up, appConfig.Staging.Path, appConfig.SFTP.Remote, appConfig.SFTP.RemoveOnSuccess, log)
	monitor.Uploads.WithLabelValues("ok").Add(float64(len(res.Uploaded)))
	monitor.Uploads.WithLabelValues("error").Add(float64(len(res.Failed)))
	return err
}
