// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import "encoding/binary"

// DecodeWords decodes the message data of a binary response as big-endian
// 32-bit words. The word count is the length field divided by four; a
// trailing partial word is ignored.
//
// The checksum is not verified here. Use ParseFrame first when the caller
// needs a validated frame.
func DecodeWords(response []byte) ([]uint32, error) {
	if len(response) < HeaderSize {
		return nil, newError(ErrDecode, "response too short: %d bytes", len(response))
	}

	count := int(binary.BigEndian.Uint16(response[4:6])) / WordSize
	end := HeaderSize + count*WordSize
	if len(response) < end {
		return nil, newError(ErrDecode, "response truncated: %d words declared, %d bytes available",
			count, len(response)-HeaderSize)
	}

	words := make([]uint32, count)
	for i := range words {
		off := HeaderSize + i*WordSize
		words[i] = binary.BigEndian.Uint32(response[off : off+WordSize])
	}
	return words, nil
}
