// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"fmt"
	"strings"
	"time"
)

// Legacy commands are ASCII strings terminated by CR.

// LegacyID builds the identification command
func LegacyID(stationID byte) []byte {
	return []byte(fmt.Sprintf("ID%d\r", stationID))
}

// LegacyVI builds a voltage input query for parameter 0..99
func LegacyVI(stationID byte, parameter int) []byte {
	return []byte(fmt.Sprintf("VI%d%02d\r", stationID, parameter))
}

// LegacyRewind rewinds the data logger pointer to the first entry
func LegacyRewind() []byte {
	return []byte("***R\r")
}

// LegacyNextData returns all readings from the current logger pointer
func LegacyNextData() []byte {
	return []byte("***D\r")
}

// legacyDateLayouts maps the VI64 date format to a time layout
var legacyDateLayouts = map[string]string{
	"D/M/Y": "2/1/2006",
	"M/D/Y": "1/2/2006",
	"Y-M-D": "2006-1-2",
}

// ParseLegacyDateTime combines the VI64 date format, VI80 date and VI81 time
// answers into a UTC time.
func ParseLegacyDateTime(format, date, clock string) (time.Time, error) {
	format = strings.ReplaceAll(strings.TrimSpace(format), " ", "")
	layout, ok := legacyDateLayouts[format]
	if !ok {
		return time.Time{}, newError(ErrDecode, "date format %q not recognized", format)
	}

	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	t, err := time.ParseInLocation(layout+" 15:04:05", value, time.UTC)
	if err != nil {
		return time.Time{}, newError(ErrDecode, "parse instrument time %q: %v", value, err)
	}
	return t, nil
}

// normalizeLegacyRecord collapses ", " to "," and applies the separator
func normalizeLegacyRecord(s, sep string) string {
	s = strings.ReplaceAll(s, ", ", ",")
	if sep != "" && sep != "," {
		s = strings.ReplaceAll(s, ",", sep)
	}
	return s
}
