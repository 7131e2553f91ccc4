// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkndaq/nephostat/internal/datafile"
	"github.com/mkndaq/nephostat/internal/staging"
)

var transferCompleted bool

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Upload staged files once",
	Long: `Upload every file in the staging directory to the SFTP archive.

With --completed, the data files of finished days are staged first for every
configured instrument.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfig("transfer"); err != nil {
			return err
		}
		if !appConfig.SFTP.Enabled() {
			return fmt.Errorf("sftp.host is not configured")
		}

		if transferCompleted {
			names := make([]string, 0, len(appConfig.Instruments))
			for name := range appConfig.Instruments {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				log := appLog.ForInstrument(name)
				files, err := datafile.NewWriter(appConfig.Data, name, nil, log).Completed(time.Now())
				if err != nil {
					return err
				}
				stager := staging.New(appConfig.Staging.Path, appConfig.Instruments[name].StagingZip, log)
				staged, err := stager.StageAll(name, files)
				if err != nil {
					log.Warnf("staging: %v", err)
				}
				fmt.Printf("%s: %d files staged\n", name, len(staged))
			}
		}

		uploader, err := newUploader()
		if err != nil {
			return err
		}
		defer uploader.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()
		return runTransfer(ctx, uploader, appLog)
	},
}

func init() {
	rootCmd.AddCommand(transferCmd)
	transferCmd.Flags().BoolVar(&transferCompleted, "completed", false, "Stage data files of finished days before uploading")
}
