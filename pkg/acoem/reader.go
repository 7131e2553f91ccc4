// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// readDeadliner is implemented by net.Conn and the WebSocket connection
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// readTimeouter is implemented by go.bug.st/serial ports
type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

const readChunkSize = 1024

// ReadResponse reads one response from r and returns it.
//
// Binary responses end at the EOT byte that follows the declared message
// data, so an EOT inside the header or data does not end the read early. Legacy responses
// end with CRLF (or CRLF LF) and are returned with trailing whitespace removed.
//
// The deadline applies to the whole response. It is enforced through
// SetReadDeadline or SetReadTimeout when r supports either; otherwise r is
// expected to return on its own.
func ReadResponse(r io.Reader, d Dialect, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	rd, hasDeadline := r.(readDeadliner)
	rt, hasTimeout := r.(readTimeouter)
	if hasDeadline {
		if err := rd.SetReadDeadline(deadline); err != nil {
			return nil, newError(ErrConnection, "set read deadline: %v", err)
		}
		defer rd.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 0, 256)
	chunk := make([]byte, readChunkSize)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, newError(ErrTimeout, "no terminator after %v (%d bytes received)", timeout, len(buf))
		}
		if !hasDeadline && hasTimeout {
			if err := rt.SetReadTimeout(remaining); err != nil {
				return nil, newError(ErrConnection, "set read timeout: %v", err)
			}
		}

		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if terminated(buf, d) {
			if d == DialectLegacy {
				return bytes.TrimRight(buf, " \t\r\n"), nil
			}
			return buf, nil
		}

		if err != nil {
			if isTimeout(err) {
				return nil, newError(ErrTimeout, "no terminator after %v (%d bytes received)", timeout, len(buf))
			}
			if errors.Is(err, io.EOF) {
				return nil, newError(ErrConnection, "connection closed by instrument (%d bytes received)", len(buf))
			}
			return nil, newError(ErrConnection, "read: %v", err)
		}
	}
}

// terminated reports whether buf holds a complete response
func terminated(buf []byte, d Dialect) bool {
	switch d {
	case DialectBinary:
		if len(buf) == 0 || buf[len(buf)-1] != EOT {
			return false
		}
		if buf[0] != STX {
			return true
		}
		if len(buf) < HeaderSize {
			return false
		}
		length := int(binary.BigEndian.Uint16(buf[4:6]))
		return len(buf) >= HeaderSize+length+TrailerSize
	case DialectLegacy:
		return bytes.HasSuffix(buf, []byte("\r\n")) || bytes.HasSuffix(buf, []byte("\r\n\n"))
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
