// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// buildResponse creates a well-formed binary response frame
func buildResponse(sid, cmd byte, data []byte) []byte {
	out := []byte{STX, sid, cmd, ETX, 0, 0}
	binary.BigEndian.PutUint16(out[4:6], uint16(len(data)))
	out = append(out, data...)
	return append(out, Checksum(out), EOT)
}

// words encodes values as big-endian 32-bit words
func words(values ...uint32) []byte {
	out := make([]byte, 0, len(values)*WordSize)
	for _, v := range values {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	return out
}

func floatWord(f float32) uint32 {
	return math.Float32bits(f)
}

// headerRecord builds a logged-data header record with the given keys
func headerRecord(keys ...uint32) []byte {
	rec := words(0x01000000, 0, 0, uint32(len(keys)))
	return append(rec, words(keys...)...)
}

// dataRecord builds a logged-data data record
func dataRecord(ts time.Time, interval uint32, values ...uint32) []byte {
	tw, err := EncodeTimestampWord(ts)
	if err != nil {
		panic(err)
	}
	rec := words(0, tw, interval, uint32(len(values)))
	return append(rec, words(values...)...)
}

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"empty", []byte{}, 0x00},
		{"single", []byte{0x5A}, 0x5A},
		{"request header sid 5", []byte{STX, 5, 1, ETX, 0, 0}, 2 ^ 5 ^ 1 ^ 3},
		{"self cancelling", []byte{0xFF, 0xFF}, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.expected {
				t.Errorf("expected 0x%02X, got 0x%02X", tt.expected, got)
			}
		})
	}
}

func TestChecksum_AppendingChecksumYieldsZero(t *testing.T) {
	data := []byte{STX, 1, 4, ETX, 0, 4, 0, 0, 0x0F, 0xC3}
	withSum := append(append([]byte{}, data...), Checksum(data))
	if got := Checksum(withSum); got != 0 {
		t.Errorf("checksum over data+checksum should be 0, got 0x%02X", got)
	}
}

// ============================================================
// Timestamp Tests
// ============================================================

func TestEncodeTimestampWord_KnownValue(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 12, 34, 56, 0, time.UTC)
	got, err := EncodeTimestampWord(ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != 0x60DEC8B8 {
		t.Errorf("expected 0x60DEC8B8, got 0x%08X", got)
	}

	enc, err := EncodeTimestamp(ts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(enc, []byte{0x60, 0xDE, 0xC8, 0xB8}) {
		t.Errorf("expected big-endian bytes, got % X", enc)
	}
}

func TestDecodeTimestamp_KnownValue(t *testing.T) {
	got, err := DecodeTimestamp(0x60DEC8B8)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := time.Date(2024, time.March, 15, 12, 34, 56, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEncodeTimestamp_Range(t *testing.T) {
	tests := []struct {
		name    string
		year    int
		wantErr bool
	}{
		{"before epoch", 1999, true},
		{"epoch", 2000, false},
		{"last year", 2063, false},
		{"after last year", 2064, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeTimestamp(time.Date(tt.year, 6, 1, 0, 0, 0, 0, time.UTC))
			if tt.wantErr {
				if !errors.Is(err, ErrRange) {
					t.Errorf("expected ErrRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEncodeTimestamp_DropsSubSecond(t *testing.T) {
	a, _ := EncodeTimestampWord(time.Date(2030, 1, 1, 0, 0, 1, 999999999, time.UTC))
	b, _ := EncodeTimestampWord(time.Date(2030, 1, 1, 0, 0, 1, 0, time.UTC))
	if a != b {
		t.Errorf("sub-second precision should be dropped: 0x%08X != 0x%08X", a, b)
	}
}

func TestDecodeTimestamp_InvalidFields(t *testing.T) {
	pack := func(year, month, day, hour, minute, second uint32) uint32 {
		v := year
		v = v<<monthBits | month
		v = v<<dayBits | day
		v = v<<hourBits | hour
		v = v<<minuteBits | minute
		return v<<secondBits | second
	}

	tests := []struct {
		name string
		raw  uint32
	}{
		{"April 31", pack(24, 4, 31, 0, 0, 0)},
		{"month 13", pack(24, 13, 1, 0, 0, 0)},
		{"month 0", pack(24, 0, 1, 0, 0, 0)},
		{"day 0", pack(24, 1, 0, 0, 0, 0)},
		{"hour 24", pack(24, 1, 1, 24, 0, 0)},
		{"minute 60", pack(24, 1, 1, 0, 60, 0)},
		{"second 60", pack(24, 1, 1, 0, 0, 60)},
		{"Feb 29 non-leap", pack(23, 2, 29, 0, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTimestamp(tt.raw); !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode for 0x%08X, got %v", tt.raw, err)
			}
		})
	}

	if _, err := DecodeTimestamp(pack(24, 2, 29, 23, 59, 59)); err != nil {
		t.Errorf("Feb 29 2024 is valid: %v", err)
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestBuildRequest_Identify(t *testing.T) {
	f, err := BuildRequest(5, CmdGetInstrumentType, 0, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []byte{2, 5, 1, 3, 0, 0, 2 ^ 5 ^ 1 ^ 3, 4}
	if !bytes.Equal(f.Bytes(), want) {
		t.Errorf("expected % X, got % X", want, f.Bytes())
	}
}

func TestBuildRequest_ParameterAndPayload(t *testing.T) {
	f, err := BuildRequest(1, CmdSetValues, ParamCurrentOperation, words(2))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw := f.Bytes()

	if f.Length() != 8 {
		t.Errorf("expected length 8, got %d", f.Length())
	}
	if got := binary.BigEndian.Uint16(raw[4:6]); got != 8 {
		t.Errorf("length field: expected 8, got %d", got)
	}
	if got := binary.BigEndian.Uint32(raw[6:10]); got != uint32(ParamCurrentOperation) {
		t.Errorf("first word should be the parameter ID, got %d", got)
	}
	if got := binary.BigEndian.Uint32(raw[10:14]); got != 2 {
		t.Errorf("payload word: expected 2, got %d", got)
	}
	if raw[len(raw)-2] != Checksum(raw[:len(raw)-2]) {
		t.Errorf("checksum byte does not match XOR of preceding bytes")
	}
	if raw[len(raw)-1] != EOT {
		t.Errorf("expected EOT trailer, got 0x%02X", raw[len(raw)-1])
	}
}

func TestBuildRequest_TooLarge(t *testing.T) {
	_, err := BuildRequest(1, CmdSetValues, 0, make([]byte, math.MaxUint16+1))
	if !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
	if _, err := BuildRequest(1, CmdSetValues, 0, make([]byte, math.MaxUint16)); err != nil {
		t.Errorf("65535 bytes should fit: %v", err)
	}
}

func TestParseFrame_RoundTrip(t *testing.T) {
	f, _ := BuildRequest(7, CmdGetValues, 0, words(1, 4035))
	parsed, err := ParseFrame(f.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.StationID() != 7 || parsed.Command() != CmdGetValues {
		t.Errorf("header mismatch: sid=%d cmd=%d", parsed.StationID(), parsed.Command())
	}
	if !bytes.Equal(parsed.Data(), words(1, 4035)) {
		t.Errorf("data mismatch: % X", parsed.Data())
	}
	if parsed.Checksum() != f.Checksum() {
		t.Errorf("checksum mismatch: 0x%02X != 0x%02X", parsed.Checksum(), f.Checksum())
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	good := buildResponse(1, CmdGetValues, words(42))

	corrupt := func(i int, b byte) []byte {
		out := append([]byte{}, good...)
		out[i] = b
		return out
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{STX, 1, 4, ETX, 0}},
		{"bad STX", corrupt(0, 0x00)},
		{"bad ETX", corrupt(3, 0x00)},
		{"bad EOT", corrupt(len(good)-1, 0x00)},
		{"bad checksum", corrupt(len(good)-2, good[len(good)-2]^0xFF)},
		{"length too long", corrupt(5, 8)},
		{"flipped data bit", corrupt(9, good[9]^0x01)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFrame(tt.raw); !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}

	if _, err := ParseFrame(good); err != nil {
		t.Errorf("good frame rejected: %v", err)
	}
}

// ============================================================
// Response Decoder Tests
// ============================================================

func TestDecodeWords(t *testing.T) {
	resp := buildResponse(1, CmdGetInstrumentType, words(158, 2, 0x80000001))
	got, err := DecodeWords(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []uint32{158, 2, 0x80000001}
	if len(got) != len(want) {
		t.Fatalf("expected %d words, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestDecodeWords_Empty(t *testing.T) {
	got, err := DecodeWords(buildResponse(1, CmdSetValues, nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no words, got %v", got)
	}
}

func TestDecodeWords_IgnoresChecksum(t *testing.T) {
	resp := buildResponse(1, CmdGetValues, words(9))
	resp[len(resp)-2] ^= 0xFF
	got, err := DecodeWords(resp)
	if err != nil || len(got) != 1 || got[0] != 9 {
		t.Errorf("expected [9], got %v (err %v)", got, err)
	}
}

func TestDecodeWords_Truncated(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"shorter than header", []byte{STX, 1, 4}},
		{"declared words missing", []byte{STX, 1, 4, ETX, 0, 8, 0, 0, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWords(tt.raw); !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}

// ============================================================
// Logged Data Decoder Tests
// ============================================================

func TestDecodeLoggedData_HeaderThenData(t *testing.T) {
	ts := time.Date(2025, time.July, 1, 6, 0, 0, 0, time.UTC)
	body := append(headerRecord(1001, 1002), dataRecord(ts, 60, floatWord(12.5), floatWord(-3.0))...)
	resp := buildResponse(1, CmdGetLoggedData, body)

	records, err := DecodeLoggedData(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if !r.Timestamp.Equal(ts) {
		t.Errorf("timestamp: expected %v, got %v", ts, r.Timestamp)
	}
	if r.LoggingInterval != 60 {
		t.Errorf("interval: expected 60, got %d", r.LoggingInterval)
	}
	if v, ok := r.Float(1001); !ok || v != 12.5 {
		t.Errorf("1001: expected 12.5, got %v (%v)", v, ok)
	}
	if v, ok := r.Float(1002); !ok || v != -3.0 {
		t.Errorf("1002: expected -3.0, got %v (%v)", v, ok)
	}
	if len(r.Parameters) != 2 || r.Parameters[0] != 1001 || r.Parameters[1] != 1002 {
		t.Errorf("parameters: expected [1001 1002], got %v", r.Parameters)
	}
}

func TestDecodeLoggedData_ConfigClassValuesDiscarded(t *testing.T) {
	ts := time.Date(2025, time.July, 1, 6, 0, 0, 0, time.UTC)
	body := append(headerRecord(1000, 2001), dataRecord(ts, 300, 77, floatWord(1.25))...)
	records, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	v, present := records[0].Values[1000]
	if !present {
		t.Errorf("key 1000 should be present")
	}
	if v.IsFloat || v.Raw != nil {
		t.Errorf("value of key 1000 should be empty, got %+v", v)
	}
	if f, ok := records[0].Float(2001); !ok || f != 1.25 {
		t.Errorf("2001: expected 1.25, got %v", f)
	}
}

func TestDecodeLoggedData_MultipleHeaders(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	var body []byte
	body = append(body, headerRecord(1001)...)
	body = append(body, dataRecord(t1, 60, floatWord(1))...)
	body = append(body, headerRecord(1005)...)
	body = append(body, dataRecord(t2, 60, floatWord(2))...)

	records, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if v, ok := records[0].Float(1001); !ok || v != 1 {
		t.Errorf("record 0: expected 1001=1, got %v", records[0].Values)
	}
	if v, ok := records[1].Float(1005); !ok || v != 2 {
		t.Errorf("record 1: expected 1005=2, got %v", records[1].Values)
	}
	if !records[1].Timestamp.Equal(t2) {
		t.Errorf("records out of order")
	}
}

func TestDecodeLoggedData_OtherCommand(t *testing.T) {
	records, err := DecodeLoggedData(buildResponse(1, CmdGetValues, words(1, 2, 3, 4)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty result, got %d records", len(records))
	}
}

func TestDecodeLoggedData_PartialTrailingRecordDropped(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	body := append(headerRecord(1001), dataRecord(ts, 60, floatWord(4))...)
	// Half of another data record
	body = append(body, dataRecord(ts, 60, floatWord(5))[:8]...)

	records, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestDecodeLoggedData_LengthOverstatesBody(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	body := append(headerRecord(1001), dataRecord(ts, 60, floatWord(4))...)
	resp := buildResponse(1, CmdGetLoggedData, body)
	// Claim four records while only two are present
	binary.BigEndian.PutUint16(resp[4:6], uint16(len(body)*2))

	if _, err := DecodeLoggedData(resp); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
}

func TestDecodeLoggedData_Short(t *testing.T) {
	if _, err := DecodeLoggedData([]byte{STX, 1, 7}); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for short response, got %v", err)
	}
	if _, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, words(1, 2))); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for body shorter than one record, got %v", err)
	}
	records, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, nil))
	if err != nil || len(records) != 0 {
		t.Errorf("empty body should decode to nothing, got %v (err %v)", records, err)
	}
}

func TestDecodeLoggedBatch_InvalidTimestampSkipped(t *testing.T) {
	t1 := time.Date(2025, 4, 29, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	bad := dataRecord(t1, 60, floatWord(2))
	// 2025-04-31 00:00:00
	binary.BigEndian.PutUint32(bad[4:8], 0x653E0000)

	var body []byte
	body = append(body, headerRecord(1001)...)
	body = append(body, dataRecord(t1, 60, floatWord(1))...)
	body = append(body, bad...)
	body = append(body, dataRecord(t2, 60, floatWord(3))...)
	resp := buildResponse(1, CmdGetLoggedData, body)

	batch, err := DecodeLoggedBatch(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(batch.Records))
	}
	if !batch.Records[0].Timestamp.Equal(t1) || !batch.Records[1].Timestamp.Equal(t2) {
		t.Errorf("wrong records kept: %v, %v", batch.Records[0].Timestamp, batch.Records[1].Timestamp)
	}
	if v, ok := batch.Records[1].Float(1001); !ok || v != 3 {
		t.Errorf("record after the skipped one: expected 1001=3, got %v", batch.Records[1].Values)
	}
	if len(batch.Skipped) != 1 {
		t.Fatalf("expected 1 skipped record, got %d", len(batch.Skipped))
	}
	if !errors.Is(batch.Skipped[0], ErrDecode) {
		t.Errorf("skip reason should wrap ErrDecode: %v", batch.Skipped[0])
	}
	if strings.Count(batch.Skipped[0].Error(), "decode error") != 1 {
		t.Errorf("skip reason repeats its prefix: %v", batch.Skipped[0])
	}

	records, err := DecodeLoggedData(resp)
	if err != nil || len(records) != 2 {
		t.Errorf("DecodeLoggedData: expected 2 records, got %d (err %v)", len(records), err)
	}
}

func TestRecordAt(t *testing.T) {
	body := make([]byte, 48)
	for i := range body {
		body[i] = byte(i)
	}
	rec := recordAt(body, 24, 24)
	if got := rec.fixed(); !bytes.Equal(got, body[24:40]) {
		t.Errorf("fixed words: got % X", got)
	}
	// The last slot reads up to the final byte of the record
	if got := rec.slot(1); !bytes.Equal(got, []byte{44, 45, 46, 47}) {
		t.Errorf("slot 1: expected 2C 2D 2E 2F, got % X", got)
	}
	if got := rec.slot(2); got != nil {
		t.Errorf("slot past the record should be nil, got % X", got)
	}

	// Clipped at the end of the body, the partial slot is zero padded
	clipped := recordAt(body[:46], 24, 24)
	if got := clipped.slot(1); !bytes.Equal(got, []byte{44, 45, 0, 0}) {
		t.Errorf("clipped slot 1: expected 2C 2D 00 00, got % X", got)
	}
}

// ============================================================
// Legacy Tests
// ============================================================

func TestLegacyCommands(t *testing.T) {
	tests := []struct {
		name     string
		got      []byte
		expected string
	}{
		{"ID", LegacyID(0), "ID0\r"},
		{"VI padded", LegacyVI(0, 4), "VI004\r"},
		{"VI 71", LegacyVI(1, 71), "VI171\r"},
		{"rewind", LegacyRewind(), "***R\r"},
		{"next data", LegacyNextData(), "***D\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.got) != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, tt.got)
			}
		})
	}
}

func TestParseLegacyDateTime(t *testing.T) {
	want := time.Date(2024, time.March, 5, 14, 2, 9, 0, time.UTC)
	tests := []struct {
		name   string
		format string
		date   string
	}{
		{"day first", "D/M/Y", "05/03/2024"},
		{"month first", "M/D/Y", "03/05/2024"},
		{"iso", "Y-M-D", "2024-03-05"},
		{"unpadded", "D/M/Y", "5/3/2024"},
		{"spaced format", " D / M / Y ", "05/03/2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLegacyDateTime(tt.format, tt.date, "14:02:09")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}

	if _, err := ParseLegacyDateTime("Y/D/M", "2024/05/03", "14:02:09"); !errors.Is(err, ErrDecode) {
		t.Errorf("unknown format should fail with ErrDecode, got %v", err)
	}
	if _, err := ParseLegacyDateTime("D/M/Y", "32/03/2024", "14:02:09"); !errors.Is(err, ErrDecode) {
		t.Errorf("invalid date should fail with ErrDecode, got %v", err)
	}
}

func TestNormalizeLegacyRecord(t *testing.T) {
	in := "05/03/2024 14:02:09, 1.234, 5.678,000"
	if got := normalizeLegacyRecord(in, ","); got != "05/03/2024 14:02:09,1.234,5.678,000" {
		t.Errorf("unexpected: %q", got)
	}
	if got := normalizeLegacyRecord(in, ";"); got != "05/03/2024 14:02:09;1.234;5.678;000" {
		t.Errorf("unexpected: %q", got)
	}
}

// ============================================================
// Constants Tests
// ============================================================

func TestConstructParameterID(t *testing.T) {
	if got := ConstructParameterID(2, 635, 90); got != 2635090 {
		t.Errorf("expected 2635090, got %d", got)
	}
	if !ConstructParameterID(1, 450, 0).IsFloat() {
		t.Errorf("constructed measurement IDs should be floats")
	}
	if ParameterID(1000).IsFloat() || !ParameterID(1001).IsFloat() {
		t.Errorf("float threshold is strictly greater than 1000")
	}
}

func TestParseDialect(t *testing.T) {
	for _, name := range []string{"acoem", "binary"} {
		if d, err := ParseDialect(name); err != nil || d != DialectBinary {
			t.Errorf("%s: expected binary, got %v (%v)", name, d, err)
		}
	}
	if d, err := ParseDialect("legacy"); err != nil || d != DialectLegacy {
		t.Errorf("legacy: got %v (%v)", d, err)
	}
	if _, err := ParseDialect("modbus"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	out := FormatFrame(buildResponse(3, CmdGetValues, words(4035, 1)), ts)
	if !strings.Contains(out, "GET_VALUES (0x04) sid=3 len=8") {
		t.Errorf("unexpected header line: %q", out)
	}
	if !strings.Contains(out, "(4035)") {
		t.Errorf("words not listed: %q", out)
	}

	bad := buildResponse(3, CmdGetValues, words(1))
	bad[len(bad)-2] ^= 0xFF
	if out := FormatFrame(bad, ts); !strings.Contains(out, "INVALID") {
		t.Errorf("corrupt frame should be flagged: %q", out)
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		seconds  uint32
		expected string
	}{
		{0, "0 seconds"},
		{1, "1 second"},
		{60, "1 minute"},
		{300, "5 minutes"},
		{3900, "1 hour and 5 minutes"},
		{90061, "1 day, 1 hour, 1 minute, and 1 second"},
	}
	for _, tt := range tests {
		if got := FormatInterval(tt.seconds); got != tt.expected {
			t.Errorf("%d: expected %q, got %q", tt.seconds, tt.expected, got)
		}
	}
}

func TestFormatParameter(t *testing.T) {
	if got := FormatParameter(ConstructParameterID(2, 525, 90)); got != "P2[525nm/90°]" {
		t.Errorf("unexpected: %q", got)
	}
	if got := FormatParameter(ParamCurrentOperation); got != "CURRENT_OPERATION" {
		t.Errorf("unexpected: %q", got)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics(t *testing.T) {
	s := NewStatistics()
	s.ObserveExchange("get_values", 8, 12, 10*time.Millisecond, nil)
	s.ObserveExchange("get_values", 8, 0, time.Second, newError(ErrTimeout, "x"))
	s.ObserveExchange("identify", 8, 0, 0, &ProtocolError{Op: "identify", Err: newError(ErrConnection, "x")})
	s.ObserveExchange("identify", 8, 3, 0, newError(ErrDecode, "x"))

	if s.TotalExchanges != 4 || s.SuccessfulExchanges != 1 {
		t.Errorf("counts: total=%d ok=%d", s.TotalExchanges, s.SuccessfulExchanges)
	}
	if s.Timeouts != 1 || s.ConnectionErrors != 1 || s.DecodeErrors != 1 {
		t.Errorf("error classes: timeout=%d conn=%d decode=%d", s.Timeouts, s.ConnectionErrors, s.DecodeErrors)
	}
	if s.Errors() != 3 {
		t.Errorf("expected 3 errors, got %d", s.Errors())
	}
	if s.BytesSent != 32 || s.BytesReceived != 15 {
		t.Errorf("bytes: tx=%d rx=%d", s.BytesSent, s.BytesReceived)
	}
	if !strings.Contains(s.String(), "Exchanges:") {
		t.Errorf("summary missing counts")
	}
	snap := s.Snapshot()
	if snap.TotalExchanges != 4 || snap.MaxLatency != 10*time.Millisecond {
		t.Errorf("snapshot: total=%d max=%v", snap.TotalExchanges, snap.MaxLatency)
	}

	s.Reset()
	if s.TotalExchanges != 0 || s.MaxLatency != 0 {
		t.Errorf("reset did not clear counters")
	}
}
