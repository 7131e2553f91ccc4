// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkndaq/nephostat/internal/datafile"
	"github.com/mkndaq/nephostat/pkg/acoem"
)

// Time layouts accepted on the command line, tried in order
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	if s == "now" {
		return time.Now().UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (use YYYY-MM-DD[ HH:MM[:SS]] or RFC 3339)", s)
}

func parseParameterID(s string) (acoem.ParameterID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(s), "P"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter ID %q", s)
	}
	return acoem.ParameterID(v), nil
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Show instrument type and firmware version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, name, info, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		id, err := session.Identify(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", name, info)
		if id.Fields == nil {
			fmt.Printf("  %s\n", id.ID)
			return nil
		}
		for _, field := range acoem.IdentityFields {
			if v, ok := id.Fields[field]; ok {
				fmt.Printf("  %-9s %d\n", field+":", v)
			}
		}
		return nil
	},
}

var valuesCmd = &cobra.Command{
	Use:   "values",
	Short: "Read or write instrument parameters",
}

var valuesGetCmd = &cobra.Command{
	Use:   "get <id> [id...]",
	Short: "Read parameter values",
	Long: `Read one or more parameters in a single request.

Parameter IDs are decimal (1001 or P1001). Measurement parameters above 1000
are shown as floats. The legacy protocol only answers IDs below 100.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]acoem.ParameterID, 0, len(args))
		for _, a := range args {
			id, err := parseParameterID(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		values, err := session.GetParameterValues(ctx, ids)
		if err != nil {
			return err
		}
		fmt.Print(acoem.FormatValues(values))
		return nil
	},
}

var valuesSetFloat bool

var valuesSetCmd = &cobra.Command{
	Use:   "set <id> <value>",
	Short: "Write one parameter value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseParameterID(args[0])
		if err != nil {
			return err
		}
		var word uint32
		if valuesSetFloat {
			f, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return fmt.Errorf("invalid float value %q", args[1])
			}
			word = math.Float32bits(float32(f))
		} else {
			v, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("invalid value %q", args[1])
			}
			word = uint32(v)
		}

		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		answer, err := session.SetParameterValue(ctx, id, word)
		if err != nil {
			return err
		}
		fmt.Printf("%s set to 0x%08X\n", acoem.FormatParameter(id), word)
		for i, w := range answer {
			fmt.Printf("  [%d] 0x%08X (%d)\n", i, w, w)
		}
		return nil
	},
}

var loggingConfigCmd = &cobra.Command{
	Use:   "logging-config",
	Short: "Show the parameters the instrument logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		ids, err := session.GetLoggingConfiguration(ctx)
		if err != nil {
			return err
		}
		for i, id := range ids {
			fmt.Printf("  [%d] %-22s (%d)\n", i, acoem.FormatParameter(id), uint32(id))
		}
		return nil
	},
}

var (
	loggedStart string
	loggedEnd   string
	loggedWrite bool
)

var loggedCmd = &cobra.Command{
	Use:   "logged",
	Short: "Download logged data records",
	Long: `Download logged records between --start and --end (UTC).

Without --end the instrument returns everything from --start onwards. With
--write the records are appended to the daily data files of the instrument
instead of being printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseTime(loggedStart)
		if err != nil {
			return err
		}
		var end time.Time
		if loggedEnd != "" {
			if end, err = parseTime(loggedEnd); err != nil {
				return err
			}
		}

		session, name, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		records, err := session.GetLoggedData(ctx, start, end)
		if err != nil {
			return err
		}

		if loggedWrite {
			w := datafile.NewWriter(appConfig.Data, name, nil, appLog.ForInstrument(name))
			paths, err := w.AppendRecords(records)
			if err != nil {
				return err
			}
			fmt.Printf("%d records written\n", len(records))
			for _, p := range paths {
				fmt.Printf("  %s\n", p)
			}
			return nil
		}

		for _, r := range records {
			fmt.Print(acoem.FormatRecord(r))
		}
		fmt.Printf("%d records\n", len(records))
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read or change the operating state",
}

var stateGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current operating state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		state, err := session.GetOperatingState(ctx)
		if err != nil {
			return err
		}
		fmt.Println(state)
		return nil
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set <normal|zero|span>",
	Short: "Switch to ambient measurement, zero check or span check",
	Long: `Request an operating state and wait until the instrument reports it.

The instrument is polled until it reports the requested state or the
convergence timeout (30s) expires.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := acoem.ParseOperatingState(args[0])
		if err != nil {
			return err
		}

		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		start := time.Now()
		if err := session.SetOperatingState(ctx, state); err != nil {
			return err
		}
		fmt.Printf("%s (after %s)\n", state, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var datetimeCmd = &cobra.Command{
	Use:   "datetime",
	Short: "Read or set the instrument clock",
}

var datetimeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the instrument clock and its offset from this host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		t, err := session.GetDateTime(ctx)
		if err != nil {
			return err
		}
		offset := t.Sub(time.Now().UTC()).Round(time.Second)
		fmt.Printf("%s (offset %s)\n", t.Format(time.DateTime), offset)
		return nil
	},
}

var datetimeSetCmd = &cobra.Command{
	Use:   "set [time|now]",
	Short: "Set the instrument clock (default: now, UTC)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := "now"
		if len(args) == 1 {
			value = args[0]
		}
		t, err := parseTime(value)
		if err != nil {
			return err
		}

		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		if err := session.SetDateTime(ctx, t); err != nil {
			return err
		}
		fmt.Printf("clock set to %s\n", t.Format(time.DateTime))
		return nil
	},
}

var dataSeparator string

var dataCmd = &cobra.Command{
	Use:   "data <current|new|all>",
	Short: "Read data lines over the legacy protocol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _, _, err := openSession()
		if err != nil {
			return err
		}
		defer session.Close()

		ctx, cancel := commandContext(cmd.Context())
		defer cancel()

		var out string
		switch args[0] {
		case "current":
			out, err = session.GetCurrentData(ctx, dataSeparator)
		case "new":
			out, err = session.GetNewData(ctx, dataSeparator)
		case "all":
			out, err = session.GetAllData(ctx)
		default:
			return fmt.Errorf("unknown data selector %q (use current, new or all)", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	valuesSetCmd.Flags().BoolVar(&valuesSetFloat, "float", false, "Encode the value as an IEEE-754 float")
	valuesCmd.AddCommand(valuesGetCmd, valuesSetCmd)
	rootCmd.AddCommand(valuesCmd)

	rootCmd.AddCommand(loggingConfigCmd)

	loggedCmd.Flags().StringVar(&loggedStart, "start", time.Now().UTC().Add(-24*time.Hour).Format("2006-01-02 15:04"), "Start of the range (UTC)")
	loggedCmd.Flags().StringVar(&loggedEnd, "end", "", "End of the range (UTC, default open)")
	loggedCmd.Flags().BoolVarP(&loggedWrite, "write", "w", false, "Append records to the data files instead of printing")
	rootCmd.AddCommand(loggedCmd)

	stateCmd.AddCommand(stateGetCmd, stateSetCmd)
	rootCmd.AddCommand(stateCmd)

	datetimeCmd.AddCommand(datetimeGetCmd, datetimeSetCmd)
	rootCmd.AddCommand(datetimeCmd)

	dataCmd.Flags().StringVar(&dataSeparator, "sep", ",", "Field separator for current and new data")
	rootCmd.AddCommand(dataCmd)
}
