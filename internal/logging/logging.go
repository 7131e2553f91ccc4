// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05"

// Logger wraps a logrus logger and the log file it may own
type Logger struct {
	*logrus.Logger
	file *os.File
}

// New creates a logger from cfg. Output goes to stderr unless cfg.File is
// set, in which case the file is opened for append. verbose forces the
// debug level.
func New(cfg config.LogConfig, verbose bool) (*Logger, error) {
	return newLogger(cfg, verbose, os.Stderr)
}

func newLogger(cfg config.LogConfig, verbose bool, out io.Writer) (*Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	l := &Logger{Logger: log}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(file)
		l.file = file
	}
	return l, nil
}

// ForInstrument returns an entry tagged with the instrument name
func (l *Logger) ForInstrument(name string) *logrus.Entry {
	return l.WithField("instrument", name)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
