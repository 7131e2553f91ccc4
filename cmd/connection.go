// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 nephostat authors

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/mkndaq/nephostat/internal/config"
	"github.com/mkndaq/nephostat/pkg/acoem"
)

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// SetReadTimeout bounds the next Read. A read that times out returns 0, nil.
func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection to a serial bridge for
// byte-level reading. Each binary message carries a chunk of the byte stream.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// gorilla/websocket connections are unusable after any read error
			w.closed = true
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *WebSocketConnection) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection (8N1)
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword reads a secret from envVar or prompts for it on the terminal
func GetPassword(envVar, prompt string) (string, error) {
	if pw := os.Getenv(envVar); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, prompt)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// resolveInstrument merges the configured instrument (if any) with the
// connection flags given on the command line.
func resolveInstrument() (string, config.InstrumentConfig, error) {
	name := "nephelometer"
	inst := config.InstrumentConfig{
		Protocol: "acoem",
		Socket:   config.SocketConfig{Port: tcpPort, Timeout: acoem.DefaultTimeout},
		Serial:   config.SerialConfig{Baud: baudRate},
	}
	if instrumentName != "" {
		var err error
		inst, err = appConfig.Instrument(instrumentName)
		if err != nil {
			return "", inst, err
		}
		name = instrumentName
	}

	// A transport flag replaces the configured transport entirely
	if tcpHost != "" || portName != "" || wsURL != "" {
		inst.Socket.Host, inst.Serial.Port, inst.WebSocket.URL = "", "", ""
	}
	if tcpHost != "" {
		inst.Socket.Host = tcpHost
	}
	if flagChanged("tcp-port") || inst.Socket.Port == 0 {
		inst.Socket.Port = tcpPort
	}
	if portName != "" {
		inst.Serial.Port = portName
	}
	if flagChanged("baud") || inst.Serial.Baud == 0 {
		inst.Serial.Baud = baudRate
	}
	if wsURL != "" {
		inst.WebSocket.URL = wsURL
	}
	if wsUsername != "" {
		inst.WebSocket.Username = wsUsername
	}
	if flagChanged("protocol") {
		inst.Protocol = protocolName
	}
	if flagChanged("station") {
		inst.SerialID = stationID
	}
	if timeout > 0 {
		inst.Socket.Timeout = timeout
	}

	if inst.SerialID < 0 || inst.SerialID > 255 {
		return "", inst, fmt.Errorf("station ID must be between 0 and 255")
	}
	if inst.Transport() == "" {
		return "", inst, fmt.Errorf("one of --host, --port, --url or --instrument must be specified")
	}
	return name, inst, nil
}

// dialFunc returns a DialFunc for the instrument's transport and a
// description of the connection
func dialFunc(inst config.InstrumentConfig) (acoem.DialFunc, string, error) {
	switch inst.Transport() {
	case "tcp":
		info := fmt.Sprintf("TCP: %s:%d", inst.Socket.Host, inst.Socket.Port)
		return acoem.DialTCP(inst.Socket.Host, inst.Socket.Port, inst.Socket.Timeout), info, nil

	case "serial":
		info := fmt.Sprintf("Serial: %s @ %d baud", inst.Serial.Port, inst.Serial.Baud)
		return func(ctx context.Context) (acoem.Connection, error) {
			conn, err := OpenSerialConnection(inst.Serial.Port, inst.Serial.Baud)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", acoem.ErrConnection, err)
			}
			return conn, nil
		}, info, nil

	case "websocket":
		info := fmt.Sprintf("WebSocket: %s", inst.WebSocket.URL)
		var (
			once     sync.Once
			password string
			pwErr    error
		)
		return func(ctx context.Context) (acoem.Connection, error) {
			if inst.WebSocket.Username != "" {
				once.Do(func() {
					password, pwErr = GetPassword("NEPHOSTAT_PASSWORD", "Password: ")
				})
				if pwErr != nil {
					return nil, pwErr
				}
			}
			conn, err := OpenWebSocketConnection(ctx, inst.WebSocket.URL, inst.WebSocket.Username, password, wsNoSSLVerify)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", acoem.ErrConnection, err)
			}
			return conn, nil
		}, info, nil
	}
	return nil, "", fmt.Errorf("no transport configured")
}

// openSession builds a session from the config file and flags. The
// connection is opened by the first request.
func openSession(observers ...acoem.Observer) (*acoem.Session, string, string, error) {
	name, inst, err := resolveInstrument()
	if err != nil {
		return nil, "", "", err
	}
	session, info, err := newSession(name, inst, observers...)
	if err != nil {
		return nil, "", "", err
	}
	return session, name, info, nil
}

func newSession(name string, inst config.InstrumentConfig, observers ...acoem.Observer) (*acoem.Session, string, error) {
	dial, info, err := dialFunc(inst)
	if err != nil {
		return nil, "", err
	}
	opts, err := inst.SessionOptions()
	if err != nil {
		return nil, "", err
	}
	opts.Logger = appLog.ForInstrument(name)
	if len(observers) > 0 {
		opts.Observer = acoem.MultiObserver(observers...)
	}
	return acoem.NewSession(dial, opts), info, nil
}

// commandContext returns a context cancelled by Ctrl+C or SIGTERM
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
