// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

package monitor

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: no terminator", acoem.ErrTimeout), "timeout"},
		{&acoem.ProtocolError{Op: "identify", Err: fmt.Errorf("%w: reset", acoem.ErrConnection)}, "connection"},
		{fmt.Errorf("%w: bad checksum", acoem.ErrDecode), "decode"},
		{acoem.ErrUnsupportedOperation, "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}

func TestObserver(t *testing.T) {
	m := NewMonitor(logrus.New())
	obs := m.Observer("test-observer")

	before := testutil.ToFloat64(Exchanges.WithLabelValues("test-observer", "identify", "ok"))
	obs.ObserveExchange("identify", 8, 20, 15*time.Millisecond, nil)
	obs.ObserveExchange("identify", 8, 0, time.Second, fmt.Errorf("%w", acoem.ErrTimeout))

	if got := testutil.ToFloat64(Exchanges.WithLabelValues("test-observer", "identify", "ok")); got != before+1 {
		t.Errorf("ok exchanges: expected %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(Exchanges.WithLabelValues("test-observer", "identify", "timeout")); got < 1 {
		t.Errorf("timeout exchange not counted")
	}
	if got := testutil.ToFloat64(BytesTransferred.WithLabelValues("test-observer", "tx")); got < 16 {
		t.Errorf("tx bytes: %v", got)
	}
}

func TestObserveRecords(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ObserveRecords("test-records", []acoem.LoggedRecord{{Timestamp: ts.Add(-time.Minute)}, {Timestamp: ts}})
	ObserveRecords("test-records", nil)

	if got := testutil.ToFloat64(RecordsDecoded.WithLabelValues("test-records")); got != 2 {
		t.Errorf("records: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(LastRecordTime.WithLabelValues("test-records")); got != float64(ts.Unix()) {
		t.Errorf("last record time: %v", got)
	}

	ObserveState("test-records", acoem.StateSpanCheck)
	if got := testutil.ToFloat64(OperatingState.WithLabelValues("test-records")); got != 2 {
		t.Errorf("state: %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMonitor(logrus.New())
	m.Observer("test-handler").ObserveExchange("get_values", 10, 14, time.Millisecond, nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `nephostat_exchanges_total{instrument="test-handler",op="get_values",outcome="ok"}`) {
		t.Errorf("metric missing from output")
	}
}
