// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomTime returns a whole-second UTC time within the encodable range
func randomTime(rng *rand.Rand) time.Time {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2063, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
	return time.Unix(start+rng.Int63n(end-start+1), 0).UTC()
}

// ============================================================
// Checksum Fuzz Tests
// ============================================================

// TestFuzzChecksum_Split verifies the checksum of a concatenation equals
// the XOR of the checksums of its parts
func TestFuzzChecksum_Split(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(512))
		rng.Read(data)
		cut := rng.Intn(len(data) + 1)

		whole := Checksum(data)
		if split := Checksum(data[:cut]) ^ Checksum(data[cut:]); whole != split {
			t.Fatalf("round %d: checksum of %d bytes cut at %d: whole %02X, parts %02X", i, len(data), cut, whole, split)
		}
		if Checksum(append(append([]byte{}, data...), whole)) != 0 {
			t.Fatalf("round %d: appending the checksum should give zero", i)
		}
	}
}

// ============================================================
// Timestamp Fuzz Tests
// ============================================================

// TestFuzzTimestamp_RoundTrip encodes and decodes random times
func TestFuzzTimestamp_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		ts := randomTime(rng)
		raw, err := EncodeTimestampWord(ts)
		if err != nil {
			t.Fatalf("round %d: encode %v: %v", i, ts, err)
		}
		got, err := DecodeTimestamp(raw)
		if err != nil {
			t.Fatalf("round %d: decode 0x%08X: %v", i, raw, err)
		}
		if !got.Equal(ts) {
			t.Fatalf("round %d: expected %v, got %v", i, ts, got)
		}
	}
}

// TestFuzzTimestamp_RandomWords decodes random words; valid ones must re-encode identically
func TestFuzzTimestamp_RandomWords(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		raw := rng.Uint32()
		ts, err := DecodeTimestamp(raw)
		if err != nil {
			continue
		}
		back, err := EncodeTimestampWord(ts)
		if err != nil {
			t.Fatalf("round %d: re-encode %v: %v", i, ts, err)
		}
		if back != raw {
			t.Fatalf("round %d: 0x%08X decoded to %v and re-encoded to 0x%08X", i, raw, ts, back)
		}
	}
}

// ============================================================
// Frame Fuzz Tests
// ============================================================

// TestFuzzFrame_RoundTrip builds random requests and parses them back
func TestFuzzFrame_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		sid := byte(rng.Intn(256))
		cmd := byte(rng.Intn(256))
		param := ParameterID(rng.Uint32())
		payload := make([]byte, rng.Intn(64))
		rng.Read(payload)

		f, err := BuildRequest(sid, cmd, param, payload)
		if err != nil {
			t.Fatalf("round %d: build: %v", i, err)
		}
		raw := f.Bytes()
		if Checksum(raw[:len(raw)-1]) != 0 {
			t.Fatalf("round %d: checksum does not cancel: % X", i, raw)
		}

		parsed, err := ParseFrame(raw)
		if err != nil {
			t.Fatalf("round %d: parse: %v", i, err)
		}
		if parsed.StationID() != sid || parsed.Command() != cmd || !bytes.Equal(parsed.Data(), f.Data()) {
			t.Fatalf("round %d: frame changed in round trip", i)
		}
	}
}

// TestFuzzDecoders_RandomBytes feeds random bytes to every decoder
// and verifies none of them panic
func TestFuzzDecoders_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(256))
		rng.Read(data)
		if len(data) > 2 && rng.Intn(2) == 0 {
			data[2] = CmdGetLoggedData
		}

		ParseFrame(data)
		DecodeWords(data)
		DecodeLoggedData(data)
		FormatFrame(data, time.Time{})
	}
}

// TestFuzzLoggedData_RandomRecords decodes random well-formed logged data
func TestFuzzLoggedData_RandomRecords(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		fields := rng.Intn(8)
		keys := make([]uint32, fields)
		for j := range keys {
			keys[j] = uint32(rng.Intn(3000))
		}
		body := headerRecord(keys...)

		count := rng.Intn(5)
		for j := 0; j < count; j++ {
			values := make([]uint32, fields)
			for k := range values {
				values[k] = rng.Uint32()
			}
			body = append(body, dataRecord(randomTime(rng), 60, values...)...)
		}

		records, err := DecodeLoggedData(buildResponse(1, CmdGetLoggedData, body))
		if err != nil {
			t.Fatalf("round %d: decode: %v", i, err)
		}
		if len(records) != count {
			t.Fatalf("round %d: expected %d records, got %d", i, count, len(records))
		}
	}
}
