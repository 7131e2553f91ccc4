// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

var (
	rawHex    bool
	rawRepeat int
	rawEvery  time.Duration
)

var rawCmd = &cobra.Command{
	Use:   "raw <command> [parameter] [word...]",
	Short: "Send one request and dump the response frame",
	Long: `Send a single request and display the response in human-readable form.

Binary protocol: the arguments are the command code, the parameter ID and
optional 32-bit payload words, e.g. "raw 4 4035" reads the current operation.

Legacy protocol: the arguments are joined and sent as one line terminated by
CR, e.g. "raw VI099".

With --hex the single argument is sent as-is, e.g. "raw --hex 0201010300000004".

Useful for testing connectivity and exploring undocumented parameters.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRaw,
}

func init() {
	rootCmd.AddCommand(rawCmd)
	rawCmd.Flags().BoolVar(&rawHex, "hex", false, "Send the argument as raw hex bytes")
	rawCmd.Flags().IntVarP(&rawRepeat, "repeat", "n", 1, "Number of times to send the request")
	rawCmd.Flags().DurationVar(&rawEvery, "every", time.Second, "Spacing between repeated requests")
}

// buildRawRequest turns the command line into request bytes
func buildRawRequest(d acoem.Dialect, station byte, args []string, asHex bool) ([]byte, error) {
	if asHex {
		b, err := hex.DecodeString(strings.ReplaceAll(strings.Join(args, ""), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return b, nil
	}

	if d == acoem.DialectLegacy {
		return []byte(strings.Join(args, " ") + "\r"), nil
	}

	command, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q", args[0])
	}
	var param acoem.ParameterID
	if len(args) > 1 {
		if param, err = parseParameterID(args[1]); err != nil {
			return nil, err
		}
	}
	var payload []byte
	for _, a := range args[min(2, len(args)):] {
		w, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid payload word %q", a)
		}
		payload = binary.BigEndian.AppendUint32(payload, uint32(w))
	}

	frame, err := acoem.BuildRequest(station, byte(command), param, payload)
	if err != nil {
		return nil, err
	}
	return frame.Bytes(), nil
}

func runRaw(cmd *cobra.Command, args []string) error {
	stats := acoem.NewStatistics()
	session, _, info, err := openSession(stats)
	if err != nil {
		return err
	}
	defer session.Close()

	request, err := buildRawRequest(session.Dialect(), session.StationID(), args, rawHex)
	if err != nil {
		return err
	}

	fmt.Printf("Nephostat - Raw Request\n")
	fmt.Printf("Connection: %s\n", info)
	fmt.Printf("Request: % X\n\n", request)

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	for i := 0; i < rawRepeat; i++ {
		if i > 0 {
			select {
			case <-time.After(rawEvery):
			case <-ctx.Done():
				fmt.Print(stats.String())
				return nil
			}
		}

		resp, err := session.Exchange(ctx, request)
		now := time.Now()
		if err != nil {
			fmt.Printf("[%s] ERROR %v\n", now.Format("15:04:05.000"), err)
			continue
		}
		if session.Dialect() == acoem.DialectLegacy {
			fmt.Print(acoem.FormatLegacy(resp, now))
		} else {
			fmt.Print(acoem.FormatFrame(resp, now))
		}
	}

	if rawRepeat > 1 {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return nil
}
