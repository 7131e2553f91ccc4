// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatCommand returns the human-readable name for a command code
func FormatCommand(cmd byte) string {
	switch cmd {
	case CmdGetInstrumentType:
		return "GET_INSTRUMENT_TYPE"
	case CmdGetValues:
		return "GET_VALUES"
	case CmdSetValues:
		return "SET_VALUES"
	case CmdGetLoggingConfig:
		return "GET_LOGGING_CONFIG"
	case CmdGetLoggedData:
		return "GET_LOGGED_DATA"
	default:
		return "UNKNOWN"
	}
}

// FormatParameter names a parameter ID. Constructed measurement IDs are
// split into base, wavelength and angle.
func FormatParameter(id ParameterID) string {
	switch id {
	case ParamDateTime:
		return "DATE_TIME"
	case ParamCurrentOperation:
		return "CURRENT_OPERATION"
	}
	if id >= 1000000 {
		base := uint32(id) / 1000000
		wavelength := uint32(id) / 1000 % 1000
		angle := uint32(id) % 1000
		return fmt.Sprintf("P%d[%dnm/%d°]", base, wavelength, angle)
	}
	return fmt.Sprintf("P%d", uint32(id))
}

// FormatFrame formats a binary frame for display. Frames that fail
// validation are shown as a hex dump with the reason.
func FormatFrame(raw []byte, ts time.Time) string {
	stamp := ts.Format("15:04:05.000")
	f, err := ParseFrame(raw)
	if err != nil {
		return fmt.Sprintf("[%s] INVALID (%v)\n  % X\n", stamp, err, raw)
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) sid=%d len=%d\n",
		stamp, FormatCommand(f.Command()), f.Command(), f.StationID(), f.Length())
	if f.Length() == 0 {
		return result + "  (no data)\n"
	}
	words, err := DecodeWords(raw)
	if err != nil || len(words) == 0 {
		return result + fmt.Sprintf("  % X\n", f.Data())
	}
	for i, w := range words {
		result += fmt.Sprintf("  [%d] 0x%08X (%d)\n", i, w, w)
	}
	return result
}

// FormatLegacy formats a legacy ASCII exchange line
func FormatLegacy(raw []byte, ts time.Time) string {
	s := strings.TrimRight(string(raw), "\r\n")
	return fmt.Sprintf("[%s] %q\n", ts.Format("15:04:05.000"), s)
}

// FormatRecord formats one logged record
func FormatRecord(r LoggedRecord) string {
	result := fmt.Sprintf("%s interval=%s\n", r.Timestamp.Format(time.DateTime), FormatInterval(r.LoggingInterval))
	for _, id := range r.Parameters {
		if v, ok := r.Float(id); ok {
			result += fmt.Sprintf("  %-22s %g\n", FormatParameter(id), v)
		} else {
			result += fmt.Sprintf("  %-22s -\n", FormatParameter(id))
		}
	}
	return result
}

// FormatValues formats a parameter value map in ascending ID order
func FormatValues(values map[ParameterID]ParamValue) string {
	ids := make([]ParameterID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		v := values[id]
		switch {
		case v.IsText:
			fmt.Fprintf(&b, "%-22s %q\n", FormatParameter(id), v.Text)
		case id.IsFloat():
			fmt.Fprintf(&b, "%-22s %g\n", FormatParameter(id), v.Float32())
		default:
			fmt.Fprintf(&b, "%-22s %d\n", FormatParameter(id), v.Word)
		}
	}
	return b.String()
}

// FormatInterval converts a logging interval in seconds to text such as
// "1 hour and 5 minutes".
func FormatInterval(seconds uint32) string {
	if seconds == 0 {
		return "0 seconds"
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	units := []struct {
		size uint32
		name string
	}{
		{secondsPerDay, "day"},
		{secondsPerHour, "hour"},
		{secondsPerMinute, "minute"},
		{1, "second"},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		last := parts[len(parts)-1]
		return strings.Join(parts[:len(parts)-1], ", ") + ", and " + last
	}
}
