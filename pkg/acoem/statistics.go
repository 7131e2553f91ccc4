// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package acoem

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks exchange counts and error rates. It implements Observer.
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalExchanges      uint64
	SuccessfulExchanges uint64
	Timeouts            uint64
	ConnectionErrors    uint64
	DecodeErrors        uint64
	OtherErrors         uint64
	BytesSent           uint64
	BytesReceived       uint64

	// Latency of successful exchanges
	TotalLatency time.Duration
	MaxLatency   time.Duration
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// ObserveExchange records one exchange
func (s *Statistics) ObserveExchange(op string, sent, received int, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalExchanges++
	s.BytesSent += uint64(sent)
	s.BytesReceived += uint64(received)
	s.LastUpdateTime = time.Now()

	switch {
	case err == nil:
		s.SuccessfulExchanges++
		s.TotalLatency += elapsed
		if elapsed > s.MaxLatency {
			s.MaxLatency = elapsed
		}
	case errors.Is(err, ErrTimeout):
		s.Timeouts++
	case errors.Is(err, ErrConnection):
		s.ConnectionErrors++
	case errors.Is(err, ErrDecode):
		s.DecodeErrors++
	default:
		s.OtherErrors++
	}
}

// StatisticsSnapshot is a copy of the counters taken under the lock
type StatisticsSnapshot struct {
	StartTime           time.Time
	TotalExchanges      uint64
	SuccessfulExchanges uint64
	Timeouts            uint64
	ConnectionErrors    uint64
	DecodeErrors        uint64
	OtherErrors         uint64
	BytesSent           uint64
	BytesReceived       uint64
	TotalLatency        time.Duration
	MaxLatency          time.Duration
}

// Snapshot returns a consistent copy of the counters
func (s *Statistics) Snapshot() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatisticsSnapshot{
		StartTime:           s.StartTime,
		TotalExchanges:      s.TotalExchanges,
		SuccessfulExchanges: s.SuccessfulExchanges,
		Timeouts:            s.Timeouts,
		ConnectionErrors:    s.ConnectionErrors,
		DecodeErrors:        s.DecodeErrors,
		OtherErrors:         s.OtherErrors,
		BytesSent:           s.BytesSent,
		BytesReceived:       s.BytesReceived,
		TotalLatency:        s.TotalLatency,
		MaxLatency:          s.MaxLatency,
	}
}

// Errors returns the number of failed exchanges
func (s *Statistics) Errors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TotalExchanges - s.SuccessfulExchanges
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.StartTime)
	var rate, okPercent float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(s.TotalExchanges) / secs
	}
	if s.TotalExchanges > 0 {
		okPercent = float64(s.SuccessfulExchanges) * 100.0 / float64(s.TotalExchanges)
	}
	var avg time.Duration
	if s.SuccessfulExchanges > 0 {
		avg = s.TotalLatency / time.Duration(s.SuccessfulExchanges)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Exchanges:       %8d\n", s.TotalExchanges)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.SuccessfulExchanges, okPercent)
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.ConnectionErrors > 0 {
		result += fmt.Sprintf("Connection Errs: %8d\n", s.ConnectionErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}
	result += fmt.Sprintf("Bytes TX/RX:     %8d / %d\n", s.BytesSent, s.BytesReceived)
	result += fmt.Sprintf("Latency avg/max: %8s / %s\n", avg.Round(time.Millisecond), s.MaxLatency.Round(time.Millisecond))
	result += fmt.Sprintf("Exchange Rate:   %8.1f /sec\n", rate)
	result += "================================\n"
	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalExchanges = 0
	s.SuccessfulExchanges = 0
	s.Timeouts = 0
	s.ConnectionErrors = 0
	s.DecodeErrors = 0
	s.OtherErrors = 0
	s.BytesSent = 0
	s.BytesReceived = 0
	s.TotalLatency = 0
	s.MaxLatency = 0
}
