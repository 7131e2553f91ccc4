// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Record layout: four fixed words followed by one word per field.
const (
	recordFixedWords   = 4
	recordTypeOffset   = 0
	recordTimeOffset   = 4
	recordIntervalOff  = 8
	recordFieldsOffset = 12
	recordSlotsOffset  = 16
)

// Value is one decoded field of a logged data record. Measurement
// parameters (ID > 1000) carry a float. Values of config-class parameters
// are not retained and have IsFloat false and no Raw bytes.
type Value struct {
	Float   float32
	IsFloat bool
	Raw     []byte
}

// LoggedRecord is one sample from the instrument's data logger.
type LoggedRecord struct {
	Timestamp       time.Time
	LoggingInterval uint32 // seconds
	Parameters      []ParameterID
	Values          map[ParameterID]Value
}

// Float returns the float value of id and whether one is present
func (r LoggedRecord) Float(id ParameterID) (float32, bool) {
	v, ok := r.Values[id]
	if !ok || !v.IsFloat {
		return 0, false
	}
	return v.Float, true
}

// LoggedData is a decoded logged data response
type LoggedData struct {
	Records []LoggedRecord

	// Skipped holds one error per data record dropped because its timestamp
	// is not a valid calendar date.
	Skipped []error
}

// DecodeLoggedData decodes the response to a "get logged data" request and
// returns its data records. Records with an invalid timestamp are dropped;
// use DecodeLoggedBatch to see them.
func DecodeLoggedData(response []byte) ([]LoggedRecord, error) {
	batch, err := DecodeLoggedBatch(response)
	if err != nil {
		return nil, err
	}
	return batch.Records, nil
}

// DecodeLoggedBatch decodes the response to a "get logged data" request.
//
// Responses to any other command decode to an empty result. The payload is
// split into fixed-size records whose size comes from the field count of the
// first record. Header records (type 1) set the parameter IDs for the data
// records (type 0) that follow them. Only data records produce output.
//
// A data record whose timestamp does not decode is skipped and reported in
// Skipped; the records around it are kept. A partial trailing record is
// dropped without error.
func DecodeLoggedBatch(response []byte) (LoggedData, error) {
	var out LoggedData
	if len(response) < HeaderSize+TrailerSize {
		return out, newError(ErrDecode, "response too short: %d bytes", len(response))
	}
	if response[2] != CmdGetLoggedData {
		return out, nil
	}

	messageWords := uint64(binary.BigEndian.Uint16(response[4:6])) / WordSize
	body := response[HeaderSize : len(response)-TrailerSize]
	if len(body) == 0 {
		return out, nil
	}
	if len(body) < recordSlotsOffset {
		return out, newError(ErrDecode, "logged data too short for a record: %d bytes", len(body))
	}

	fieldsPerRecord := uint64(binary.BigEndian.Uint32(body[recordFieldsOffset:recordSlotsOffset]))
	itemsPerRecord := fieldsPerRecord + recordFixedWords
	numberOfRecords := messageWords / itemsPerRecord
	recordSize := itemsPerRecord * WordSize

	var keys []ParameterID
	for i := uint64(0); i < numberOfRecords; i++ {
		rec := recordAt(body, i*recordSize, recordSize)
		fixed := rec.fixed()
		if fixed == nil {
			return LoggedData{}, newError(ErrDecode, "record %d truncated: %d bytes", i, rec.end-rec.start)
		}

		fields := uint64(binary.BigEndian.Uint32(fixed[recordFieldsOffset:recordSlotsOffset]))

		switch fixed[recordTypeOffset] {
		case recordTypeHeader:
			keys = make([]ParameterID, 0, minUint64(fields, fieldsPerRecord))
			for j := uint64(0); j < fields; j++ {
				slot := rec.slot(j)
				if slot == nil {
					break
				}
				keys = append(keys, ParameterID(binary.BigEndian.Uint32(slot)))
			}

		case recordTypeData:
			ts, err := DecodeTimestamp(binary.BigEndian.Uint32(fixed[recordTimeOffset:recordIntervalOff]))
			if err != nil {
				out.Skipped = append(out.Skipped, fmt.Errorf("record %d: %w", i, err))
				continue
			}
			r := LoggedRecord{
				Timestamp:       ts,
				LoggingInterval: binary.BigEndian.Uint32(fixed[recordIntervalOff:recordFieldsOffset]),
				Values:          make(map[ParameterID]Value, len(keys)),
			}
			n := minUint64(fields, uint64(len(keys)))
			for j := uint64(0); j < n; j++ {
				id := keys[j]
				if _, seen := r.Values[id]; !seen {
					r.Parameters = append(r.Parameters, id)
				}
				slot := rec.slot(j)
				if id.IsFloat() && slot != nil {
					r.Values[id] = Value{
						Float:   math.Float32frombits(binary.BigEndian.Uint32(slot)),
						IsFloat: true,
					}
				} else {
					r.Values[id] = Value{}
				}
			}
			out.Records = append(out.Records, r)
		}
	}

	return out, nil
}

// loggedRecord is one record's view into the logged data body, covering the
// record's full size clipped to the end of the body.
type loggedRecord struct {
	body  []byte
	start uint64
	end   uint64
}

func recordAt(body []byte, start, size uint64) loggedRecord {
	n := uint64(len(body))
	end := start + size
	if start > n {
		start = n
	}
	if end > n {
		end = n
	}
	return loggedRecord{body: body, start: start, end: end}
}

// fixed returns the four leading words, or nil if the record is too short
func (r loggedRecord) fixed() []byte {
	if r.end-r.start < recordSlotsOffset {
		return nil
	}
	return r.body[r.start : r.start+recordSlotsOffset]
}

// slot returns the 4 bytes of field j. Bytes past the end of the record or
// the body read as zero; a slot with no bytes at all returns nil.
func (r loggedRecord) slot(j uint64) []byte {
	off := r.start + recordSlotsOffset + j*WordSize
	if off >= r.end {
		return nil
	}
	end := off + WordSize
	if end > r.end {
		end = r.end
	}
	out := make([]byte, WordSize)
	copy(out, r.body[off:end])
	return out
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
