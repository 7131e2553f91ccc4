// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"encoding/binary"
	"time"
)

// DecodeTimestamp converts a packed ACOEM timestamp to a calendar time in UTC.
//
// Layout, least significant field first:
//
//	[year-2000:6][month:4][day:5][hour:5][minute:6][second:6]
//
// Field values the calendar cannot represent (day 31 in April, month 13,
// hour 24, ...) produce ErrDecode rather than a normalized date.
func DecodeTimestamp(raw uint32) (time.Time, error) {
	v := raw
	second := int(v & (1<<secondBits - 1))
	v >>= secondBits
	minute := int(v & (1<<minuteBits - 1))
	v >>= minuteBits
	hour := int(v & (1<<hourBits - 1))
	v >>= hourBits
	day := int(v & (1<<dayBits - 1))
	v >>= dayBits
	month := int(v & (1<<monthBits - 1))
	v >>= monthBits
	year := int(v) + timestampEpochYear

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)

	// time.Date normalizes overflowing fields; a valid timestamp survives unchanged.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != second {
		return time.Time{}, newError(ErrDecode,
			"invalid timestamp 0x%08X (%04d-%02d-%02d %02d:%02d:%02d)",
			raw, year, month, day, hour, minute, second)
	}
	return t, nil
}

// EncodeTimestampWord packs the wall clock fields of t. Sub-second precision
// is dropped. Years outside 2000..2063 produce ErrRange.
func EncodeTimestampWord(t time.Time) (uint32, error) {
	year := t.Year()
	if year < timestampEpochYear || year > timestampMaxYear {
		return 0, newError(ErrRange, "year %d outside %d..%d", year, timestampEpochYear, timestampMaxYear)
	}

	v := uint32(year - timestampEpochYear)
	v = v<<monthBits | uint32(t.Month())
	v = v<<dayBits | uint32(t.Day())
	v = v<<hourBits | uint32(t.Hour())
	v = v<<minuteBits | uint32(t.Minute())
	v = v<<secondBits | uint32(t.Second())
	return v, nil
}

// EncodeTimestamp packs t into the 4-byte big-endian wire form.
func EncodeTimestamp(t time.Time) ([]byte, error) {
	v, err := EncodeTimestampWord(t)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, WordSize)
	binary.BigEndian.PutUint32(buf, v)
	return buf, nil
}
