// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

// Checksum computes the frame checksum: the XOR of all bytes from STX through
// the end of the message data. Empty input yields 0.
func Checksum(data []byte) byte {
	var cs byte
	for _, b := range data {
		cs ^= b
	}
	return cs
}
