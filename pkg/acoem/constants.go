// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package acoem implements the ACOEM Aurora / NE-300 nephelometer protocol.
//
// Two dialects are supported: the binary framed protocol (ACOEM manual
// Appendix A) and the legacy ASCII line protocol (Appendix B). This package
// provides frame building and validation, the XOR checksum, the bit-packed
// timestamp codec, response and logged-data decoding, and a Session that
// drives a single instrument connection.
package acoem

import "time"

// Protocol framing bytes
const (
	STX = 0x02
	ETX = 0x03
	EOT = 0x04
)

// Frame layout
const (
	HeaderSize  = 6 // STX, SID, CMD, ETX, length (2)
	TrailerSize = 2 // checksum, EOT
	WordSize    = 4
)

// Commands (ACOEM manual Table 19)
const (
	CmdGetInstrumentType = 1
	CmdGetValues         = 4
	CmdSetValues         = 5
	CmdGetLoggingConfig  = 6
	CmdGetLoggedData     = 7

	// The version query shares its command code with the instrument type
	// query. The firmware tells them apart, not the driver.
	CmdGetVersion = CmdGetInstrumentType
)

// Well-known parameters (ACOEM manual Table 46)
const (
	ParamDateTime         ParameterID = 1
	ParamCurrentOperation ParameterID = 4035

	// IDs above this threshold are floating point measurements.
	FloatParameterThreshold ParameterID = 1000
)

// Legacy VI voltage input numbers (ACOEM manual Table 47)
const (
	legacyMaxParameter  = 100
	legacyDateFormat    = 64
	legacyOperatingMode = 71
	legacyDate          = 80
	legacyTime          = 81
	legacyCurrentData   = 99
)

// Logged data record types
const (
	recordTypeData   = 0
	recordTypeHeader = 1
)

// Timestamp bit layout, least significant field first
const (
	timestampEpochYear = 2000
	timestampMaxYear   = timestampEpochYear + (1<<yearBits - 1)

	secondBits = 6
	minuteBits = 6
	hourBits   = 5
	dayBits    = 5
	monthBits  = 4
	yearBits   = 32 - secondBits - minuteBits - hourBits - dayBits - monthBits
)

// Session defaults
const (
	DefaultTimeout            = 5 * time.Second
	DefaultPollInterval       = 100 * time.Millisecond
	DefaultConvergenceTimeout = 30 * time.Second
)

// ParameterID identifies a measured or configuration quantity.
type ParameterID uint32

// IsFloat reports whether values of this parameter are IEEE-754 floats.
func (p ParameterID) IsFloat() bool {
	return p > FloatParameterThreshold
}

// ConstructParameterID builds a constructed measurement parameter ID:
// base*1,000,000 + wavelength*1,000 + angle. Wavelength is one of
// 450, 525 or 635 nm; angle is 0 for total scatter and 90 for backscatter.
func ConstructParameterID(base, wavelength, angle uint32) ParameterID {
	return ParameterID(base*1000000 + wavelength*1000 + angle)
}

// Dialect selects the wire protocol of a session.
type Dialect int

// Dialect values
const (
	DialectBinary Dialect = iota
	DialectLegacy
)

// ParseDialect maps the configuration names "acoem" and "legacy" to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "acoem", "binary":
		return DialectBinary, nil
	case "legacy":
		return DialectLegacy, nil
	}
	return 0, newError(ErrInvalidArgument, "unknown protocol %q", s)
}

func (d Dialect) String() string {
	switch d {
	case DialectBinary:
		return "acoem"
	case DialectLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// OperatingState is the instrument's current operation.
type OperatingState int

// Operating state values, as reported by parameter 4035
const (
	StateNormal    OperatingState = 0
	StateZeroCheck OperatingState = 1
	StateSpanCheck OperatingState = 2
	StateError     OperatingState = 9
)

func (s OperatingState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateZeroCheck:
		return "ZERO_CHECK"
	case StateSpanCheck:
		return "SPAN_CHECK"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseOperatingState maps names such as "normal", "zero" and "span" to a state.
func ParseOperatingState(s string) (OperatingState, error) {
	switch s {
	case "normal", "ambient", "NORMAL", "0":
		return StateNormal, nil
	case "zero", "ZERO_CHECK", "1":
		return StateZeroCheck, nil
	case "span", "SPAN_CHECK", "2":
		return StateSpanCheck, nil
	}
	return StateError, newError(ErrInvalidArgument, "unknown operating state %q", s)
}

// legacyStates maps the VI71 status strings to operating states.
var legacyStates = map[string]OperatingState{
	"000": StateNormal,
	"032": StateZeroCheck,
	"016": StateSpanCheck,
}

// IdentityFields are the names Identify assigns to the returned words, in order.
var IdentityFields = []string{"Model", "Variant", "Sub-Type", "Range", "Build", "Branch"}
