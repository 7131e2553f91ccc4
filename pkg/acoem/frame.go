// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"encoding/binary"
	"math"
)

// Frame is a binary ACOEM message:
//
//	STX | SID | CMD | ETX | length (2, BE) | data (length) | checksum | EOT
type Frame struct {
	stationID byte
	command   byte
	data      []byte
	checksum  byte
}

// BuildRequest creates an outbound frame. A non-zero parameterID is sent as
// the first data word, followed by payload. The checksum is computed here.
func BuildRequest(stationID, command byte, parameterID ParameterID, payload []byte) (*Frame, error) {
	data := make([]byte, 0, WordSize+len(payload))
	if parameterID > 0 {
		data = binary.BigEndian.AppendUint32(data, uint32(parameterID))
	}
	data = append(data, payload...)

	if len(data) > math.MaxUint16 {
		return nil, newError(ErrRange, "message data too large: %d bytes (max %d)", len(data), math.MaxUint16)
	}

	f := &Frame{stationID: stationID, command: command, data: data}
	f.checksum = Checksum(f.header())
	f.checksum ^= Checksum(data)
	return f, nil
}

// ParseFrame validates raw bytes as a complete frame. Frames with bad framing
// bytes, a length that disagrees with the data, or a checksum mismatch are
// rejected with ErrDecode.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) < HeaderSize+TrailerSize {
		return nil, newError(ErrDecode, "frame too short: %d bytes", len(raw))
	}
	if raw[0] != STX {
		return nil, newError(ErrDecode, "expected STX, got 0x%02X", raw[0])
	}
	if raw[3] != ETX {
		return nil, newError(ErrDecode, "expected ETX, got 0x%02X", raw[3])
	}
	if raw[len(raw)-1] != EOT {
		return nil, newError(ErrDecode, "expected EOT, got 0x%02X", raw[len(raw)-1])
	}

	length := int(binary.BigEndian.Uint16(raw[4:6]))
	if got := len(raw) - HeaderSize - TrailerSize; got != length {
		return nil, newError(ErrDecode, "length mismatch: header says %d, frame carries %d", length, got)
	}

	body := raw[:len(raw)-TrailerSize]
	received := raw[len(raw)-2]
	if calculated := Checksum(body); calculated != received {
		return nil, newError(ErrDecode, "checksum mismatch: expected 0x%02X, got 0x%02X", calculated, received)
	}

	data := make([]byte, length)
	copy(data, raw[HeaderSize:HeaderSize+length])
	return &Frame{
		stationID: raw[1],
		command:   raw[2],
		data:      data,
		checksum:  received,
	}, nil
}

func (f *Frame) header() []byte {
	h := []byte{STX, f.stationID, f.command, ETX, 0, 0}
	binary.BigEndian.PutUint16(h[4:6], uint16(len(f.data)))
	return h
}

// Bytes returns the wire encoding of the frame
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(f.data)+TrailerSize)
	out = append(out, f.header()...)
	out = append(out, f.data...)
	return append(out, f.checksum, EOT)
}

// StationID returns the instrument serial ID
func (f *Frame) StationID() byte {
	return f.stationID
}

// Command returns the command code
func (f *Frame) Command() byte {
	return f.command
}

// Length returns the message data length in bytes
func (f *Frame) Length() uint16 {
	return uint16(len(f.data))
}

// Data returns the message data
func (f *Frame) Data() []byte {
	return f.data
}

// Checksum returns the frame checksum
func (f *Frame) Checksum() byte {
	return f.checksum
}
