// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Connection is a byte stream to one instrument
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// DialFunc opens a new connection to the instrument
type DialFunc func(ctx context.Context) (Connection, error)

// DialTCP returns a DialFunc for a TCP endpoint such as a serial device server.
func DialTCP(host string, port int, timeout time.Duration) DialFunc {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (Connection, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, newError(ErrConnection, "dial %s: %v", addr, err)
		}
		return conn, nil
	}
}

// Observer receives the outcome of every request/response exchange.
type Observer interface {
	ObserveExchange(op string, sent, received int, elapsed time.Duration, err error)
}

type observers []Observer

func (o observers) ObserveExchange(op string, sent, received int, elapsed time.Duration, err error) {
	for _, ob := range o {
		ob.ObserveExchange(op, sent, received, elapsed, err)
	}
}

// MultiObserver fans exchange outcomes out to several observers
func MultiObserver(obs ...Observer) Observer {
	return observers(obs)
}

// Options configures a Session
type Options struct {
	StationID byte
	Dialect   Dialect

	// Timeout bounds each response. SendDelay is the minimum spacing
	// between consecutive requests.
	Timeout   time.Duration
	SendDelay time.Duration

	// PollInterval and ConvergenceTimeout govern SetOperatingState.
	PollInterval       time.Duration
	ConvergenceTimeout time.Duration

	// VerifyChecksum validates every binary response with ParseFrame.
	VerifyChecksum bool

	Logger   logrus.FieldLogger
	Observer Observer
}

// Identity describes the instrument. Binary sessions fill Fields, keyed by
// IdentityFields; legacy sessions fill ID with the raw answer.
type Identity struct {
	Fields map[string]uint32
	ID     string
}

func (id Identity) String() string {
	if id.Fields == nil {
		return id.ID
	}
	s := ""
	for _, name := range IdentityFields {
		v, ok := id.Fields[name]
		if !ok {
			continue
		}
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", name, v)
	}
	return s
}

// ParamValue is the answer for one parameter. Binary sessions return a
// 32-bit word; legacy sessions return text.
type ParamValue struct {
	Word   uint32
	Text   string
	IsText bool
}

// Float32 interprets the word as an IEEE-754 float
func (v ParamValue) Float32() float32 {
	return math.Float32frombits(v.Word)
}

func (v ParamValue) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatUint(uint64(v.Word), 10)
}

// Session drives one instrument connection. Requests are serialized: at most
// one exchange is in flight at a time. A Session is safe for use by multiple
// goroutines, and Close may be called during an exchange to abort it.
type Session struct {
	opts Options
	dial DialFunc
	log  logrus.FieldLogger

	mu       sync.Mutex // serializes exchanges
	lastSend time.Time

	connMu sync.Mutex
	conn   Connection
	closed bool
}

// NewSession creates a session. The connection is opened on first use and
// reopened after a connection failure or timeout.
func NewSession(dial DialFunc, opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ConvergenceTimeout <= 0 {
		opts.ConvergenceTimeout = DefaultConvergenceTimeout
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Session{
		opts: opts,
		dial: dial,
		log:  log.WithFields(logrus.Fields{"station": opts.StationID, "protocol": opts.Dialect.String()}),
	}
}

// Dialect returns the session's protocol dialect
func (s *Session) Dialect() Dialect {
	return s.opts.Dialect
}

// StationID returns the station ID addressed by requests
func (s *Session) StationID() byte {
	return s.opts.StationID
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Close closes the connection. An exchange in progress fails with ErrConnection.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Session) connection(ctx context.Context) (Connection, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return nil, newError(ErrConnection, "session closed")
	}
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrConnection) {
			return nil, err
		}
		return nil, newError(ErrConnection, "%v", err)
	}
	s.conn = conn
	return conn, nil
}

// dropConnection discards conn so the next exchange reconnects
func (s *Session) dropConnection(conn Connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}

// Exchange sends request unchanged and returns the raw response.
func (s *Session) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return s.exchange(ctx, "exchange", request)
}

func (s *Session) exchange(ctx context.Context, op string, request []byte) (resp []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		if s.opts.Observer != nil {
			s.opts.Observer.ObserveExchange(op, len(request), len(resp), time.Since(start), err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}

	if wait := s.opts.SendDelay - time.Since(s.lastSend); wait > 0 && !s.lastSend.IsZero() {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timeout := s.opts.Timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	s.log.WithField("op", op).Debugf("tx % X", request)
	if wd, ok := conn.(writeDeadliner); ok {
		wd.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write(request); err != nil {
		s.dropConnection(conn)
		if isTimeout(err) {
			return nil, newError(ErrTimeout, "write: %v", err)
		}
		return nil, newError(ErrConnection, "write: %v", err)
	}
	s.lastSend = time.Now()

	resp, err = ReadResponse(conn, s.opts.Dialect, timeout)
	if err != nil {
		// A late answer would be taken for the next request's response.
		s.dropConnection(conn)
		s.log.WithField("op", op).Warnf("exchange failed: %v", err)
		return nil, err
	}
	s.log.WithField("op", op).Debugf("rx % X", resp)
	return resp, nil
}

// request sends a binary command and returns the response frame bytes
func (s *Session) request(ctx context.Context, op string, command byte, parameterID ParameterID, payload []byte) ([]byte, error) {
	frame, err := BuildRequest(s.opts.StationID, command, parameterID, payload)
	if err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, op, frame.Bytes())
	if err != nil {
		return nil, err
	}
	if s.opts.VerifyChecksum {
		if _, err := ParseFrame(resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (s *Session) requestWords(ctx context.Context, op string, command byte, parameterID ParameterID, payload []byte) ([]uint32, error) {
	resp, err := s.request(ctx, op, command, parameterID, payload)
	if err != nil {
		return nil, err
	}
	return DecodeWords(resp)
}

// legacy sends an ASCII command and returns the trimmed answer
func (s *Session) legacy(ctx context.Context, op string, command []byte) (string, error) {
	resp, err := s.exchange(ctx, op, command)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

func (s *Session) unsupported(op string) error {
	return opError(op, s.opts.Dialect, newError(ErrUnsupportedOperation, "%s", op))
}

// Identify returns the instrument identity. The binary dialect asks for the
// instrument type and then the version, both with command 1, and names the
// combined words Model, Variant, Sub-Type, Range, Build, Branch.
func (s *Session) Identify(ctx context.Context) (Identity, error) {
	const op = "identify"
	switch s.opts.Dialect {
	case DialectBinary:
		instrType, err := s.requestWords(ctx, op, CmdGetInstrumentType, 0, nil)
		if err != nil {
			return Identity{}, opError(op, s.opts.Dialect, err)
		}
		version, err := s.requestWords(ctx, op, CmdGetVersion, 0, nil)
		if err != nil {
			return Identity{}, opError(op, s.opts.Dialect, err)
		}
		words := append(instrType, version...)
		id := Identity{Fields: make(map[string]uint32, len(IdentityFields))}
		for i, name := range IdentityFields {
			if i >= len(words) {
				break
			}
			id.Fields[name] = words[i]
		}
		return id, nil

	case DialectLegacy:
		resp, err := s.legacy(ctx, op, LegacyID(s.opts.StationID))
		if err != nil {
			return Identity{}, opError(op, s.opts.Dialect, err)
		}
		return Identity{ID: resp}, nil
	}
	return Identity{}, s.unsupported(op)
}

// GetParameterValues reads several parameters. The binary dialect sends one
// request for all IDs and pairs answers with IDs by position. The legacy
// dialect sends one VI query per ID below 100; other IDs map to an empty
// string without any I/O.
func (s *Session) GetParameterValues(ctx context.Context, ids []ParameterID) (map[ParameterID]ParamValue, error) {
	const op = "get_values"
	out := make(map[ParameterID]ParamValue, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	switch s.opts.Dialect {
	case DialectBinary:
		payload := make([]byte, 0, len(ids)*WordSize)
		for _, id := range ids {
			payload = binary.BigEndian.AppendUint32(payload, uint32(id))
		}
		words, err := s.requestWords(ctx, op, CmdGetValues, 0, payload)
		if err != nil {
			return nil, opError(op, s.opts.Dialect, err)
		}
		for i, id := range ids {
			if i >= len(words) {
				break
			}
			out[id] = ParamValue{Word: words[i]}
		}
		return out, nil

	case DialectLegacy:
		for _, id := range ids {
			if id >= legacyMaxParameter {
				out[id] = ParamValue{IsText: true}
				continue
			}
			resp, err := s.legacy(ctx, op, LegacyVI(s.opts.StationID, int(id)))
			if err != nil {
				return nil, opError(op, s.opts.Dialect, err)
			}
			out[id] = ParamValue{Text: resp, IsText: true}
		}
		return out, nil
	}
	return nil, s.unsupported(op)
}

// SetParameterValue writes one parameter and returns the decoded answer.
func (s *Session) SetParameterValue(ctx context.Context, id ParameterID, value uint32) ([]uint32, error) {
	const op = "set_value"
	if s.opts.Dialect != DialectBinary {
		return nil, s.unsupported(op)
	}
	payload := binary.BigEndian.AppendUint32(nil, value)
	words, err := s.requestWords(ctx, op, CmdSetValues, id, payload)
	if err != nil {
		return nil, opError(op, s.opts.Dialect, err)
	}
	return words, nil
}

// GetLoggingConfiguration returns the decoded answer to command 6. The
// instrument sends the number of logged fields first, then one parameter
// ID per field.
func (s *Session) GetLoggingConfiguration(ctx context.Context) ([]ParameterID, error) {
	const op = "get_logging_config"
	if s.opts.Dialect != DialectBinary {
		return nil, s.unsupported(op)
	}
	words, err := s.requestWords(ctx, op, CmdGetLoggingConfig, 0, nil)
	if err != nil {
		return nil, opError(op, s.opts.Dialect, err)
	}
	ids := make([]ParameterID, len(words))
	for i, w := range words {
		ids[i] = ParameterID(w)
	}
	return ids, nil
}

// GetLoggedData fetches logged records between start and end. A zero end
// leaves the range open. Records with an invalid timestamp are logged and
// left out.
func (s *Session) GetLoggedData(ctx context.Context, start, end time.Time) ([]LoggedRecord, error) {
	const op = "get_logged_data"
	if s.opts.Dialect != DialectBinary {
		return nil, s.unsupported(op)
	}
	if start.IsZero() {
		return nil, opError(op, s.opts.Dialect, newError(ErrInvalidArgument, "start time required"))
	}

	payload, err := EncodeTimestamp(start)
	if err != nil {
		return nil, opError(op, s.opts.Dialect, err)
	}
	if !end.IsZero() {
		enc, err := EncodeTimestamp(end)
		if err != nil {
			return nil, opError(op, s.opts.Dialect, err)
		}
		payload = append(payload, enc...)
	}

	resp, err := s.request(ctx, op, CmdGetLoggedData, 0, payload)
	if err != nil {
		return nil, opError(op, s.opts.Dialect, err)
	}
	batch, err := DecodeLoggedBatch(resp)
	if err != nil {
		return nil, opError(op, s.opts.Dialect, err)
	}
	for _, skipped := range batch.Skipped {
		s.log.WithField("op", op).Warnf("skipped logged record: %v", skipped)
	}
	return batch.Records, nil
}

// GetOperatingState reports whether the instrument is measuring ambient air
// or running a zero or span check.
func (s *Session) GetOperatingState(ctx context.Context) (OperatingState, error) {
	const op = "get_operating_state"
	switch s.opts.Dialect {
	case DialectBinary:
		words, err := s.requestWords(ctx, op, CmdGetValues, ParamCurrentOperation, nil)
		if err != nil {
			return StateError, opError(op, s.opts.Dialect, err)
		}
		if len(words) == 0 {
			return StateError, opError(op, s.opts.Dialect, newError(ErrDecode, "empty answer for parameter %d", ParamCurrentOperation))
		}
		switch OperatingState(words[0]) {
		case StateNormal, StateZeroCheck, StateSpanCheck:
			return OperatingState(words[0]), nil
		}
		return StateError, nil

	case DialectLegacy:
		resp, err := s.legacy(ctx, op, LegacyVI(s.opts.StationID, legacyOperatingMode))
		if err != nil {
			return StateError, opError(op, s.opts.Dialect, err)
		}
		state, ok := legacyStates[resp]
		if !ok {
			return StateError, opError(op, s.opts.Dialect, newError(ErrUnrecognizedState, "%q", resp))
		}
		return state, nil
	}
	return StateError, s.unsupported(op)
}

// SetOperatingState switches the instrument to state and waits until the
// instrument reports it. Waiting is bounded by ConvergenceTimeout and ctx.
func (s *Session) SetOperatingState(ctx context.Context, state OperatingState) error {
	const op = "set_operating_state"
	if s.opts.Dialect != DialectBinary {
		return s.unsupported(op)
	}
	switch state {
	case StateNormal, StateZeroCheck, StateSpanCheck:
	default:
		return opError(op, s.opts.Dialect, newError(ErrInvalidArgument, "cannot request state %s", state))
	}

	payload := binary.BigEndian.AppendUint32(nil, uint32(state))
	if _, err := s.request(ctx, op, CmdSetValues, ParamCurrentOperation, payload); err != nil {
		return opError(op, s.opts.Dialect, err)
	}

	wait, cancel := context.WithTimeout(ctx, s.opts.ConvergenceTimeout)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		words, err := s.requestWords(wait, op, CmdGetValues, ParamCurrentOperation, nil)
		switch {
		case err == nil:
			if len(words) == 1 && words[0] == uint32(state) {
				return nil
			}
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrDecode):
			s.log.WithField("op", op).Debugf("poll: %v", err)
		case wait.Err() == nil:
			return opError(op, s.opts.Dialect, err)
		}

		select {
		case <-ticker.C:
		case <-wait.Done():
			if ctx.Err() != nil {
				return opError(op, s.opts.Dialect, ctx.Err())
			}
			return opError(op, s.opts.Dialect, newError(ErrConvergenceTimeout,
				"state %s not reported within %v", state, s.opts.ConvergenceTimeout))
		}
	}
}

// GetDateTime reads the instrument clock.
func (s *Session) GetDateTime(ctx context.Context) (time.Time, error) {
	const op = "get_datetime"
	switch s.opts.Dialect {
	case DialectBinary:
		words, err := s.requestWords(ctx, op, CmdGetValues, ParamDateTime, nil)
		if err != nil {
			return time.Time{}, opError(op, s.opts.Dialect, err)
		}
		if len(words) == 0 {
			return time.Time{}, opError(op, s.opts.Dialect, newError(ErrDecode, "empty answer for parameter %d", ParamDateTime))
		}
		t, err := DecodeTimestamp(words[0])
		if err != nil {
			return time.Time{}, opError(op, s.opts.Dialect, err)
		}
		return t, nil

	case DialectLegacy:
		var answers [3]string
		for i, vi := range []int{legacyDateFormat, legacyDate, legacyTime} {
			resp, err := s.legacy(ctx, op, LegacyVI(s.opts.StationID, vi))
			if err != nil {
				return time.Time{}, opError(op, s.opts.Dialect, err)
			}
			answers[i] = resp
		}
		t, err := ParseLegacyDateTime(answers[0], answers[1], answers[2])
		if err != nil {
			return time.Time{}, opError(op, s.opts.Dialect, err)
		}
		return t, nil
	}
	return time.Time{}, s.unsupported(op)
}

// SetDateTime sets the instrument clock.
func (s *Session) SetDateTime(ctx context.Context, t time.Time) error {
	const op = "set_datetime"
	if s.opts.Dialect != DialectBinary {
		return s.unsupported(op)
	}
	payload, err := EncodeTimestamp(t)
	if err != nil {
		return opError(op, s.opts.Dialect, err)
	}
	if _, err := s.request(ctx, op, CmdSetValues, ParamDateTime, payload); err != nil {
		return opError(op, s.opts.Dialect, err)
	}
	return nil
}

// GetCurrentData returns the latest reading line (VI99) with fields joined by sep.
func (s *Session) GetCurrentData(ctx context.Context, sep string) (string, error) {
	const op = "get_current_data"
	if s.opts.Dialect != DialectLegacy {
		return "", s.unsupported(op)
	}
	resp, err := s.legacy(ctx, op, LegacyVI(s.opts.StationID, legacyCurrentData))
	if err != nil {
		return "", opError(op, s.opts.Dialect, err)
	}
	return normalizeLegacyRecord(resp, sep), nil
}

// GetNewData returns the readings from the logger pointer onwards.
func (s *Session) GetNewData(ctx context.Context, sep string) (string, error) {
	const op = "get_new_data"
	if s.opts.Dialect != DialectLegacy {
		return "", s.unsupported(op)
	}
	resp, err := s.legacy(ctx, op, LegacyNextData())
	if err != nil {
		return "", opError(op, s.opts.Dialect, err)
	}
	return normalizeLegacyRecord(resp, sep), nil
}

// GetAllData rewinds the logger pointer and returns all readings.
func (s *Session) GetAllData(ctx context.Context) (string, error) {
	const op = "get_all_data"
	if s.opts.Dialect != DialectLegacy {
		return "", s.unsupported(op)
	}
	if _, err := s.legacy(ctx, op, LegacyRewind()); err != nil {
		return "", opError(op, s.opts.Dialect, err)
	}
	resp, err := s.legacy(ctx, op, LegacyNextData())
	if err != nil {
		return "", opError(op, s.opts.Dialect, err)
	}
	return resp, nil
}
