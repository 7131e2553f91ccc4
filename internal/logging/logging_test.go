// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/internal/config"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		want    logrus.Level
	}{
		{"default", "", false, logrus.InfoLevel},
		{"warn", "warn", false, logrus.WarnLevel},
		{"unknown falls back", "chatty", false, logrus.InfoLevel},
		{"verbose overrides", "error", true, logrus.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newLogger(config.LogConfig{Level: tt.level}, tt.verbose, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			if l.GetLevel() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, l.GetLevel())
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(config.LogConfig{Format: "json"}, false, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	l.ForInstrument("ne300").Info("connected")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["instrument"] != "ne300" || entry["msg"] != "connected" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nephostat.log")
	l, err := New(config.LogConfig{File: path}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("first")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "first") {
		t.Errorf("log file missing entry: %q", data)
	}
}
