// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package monitor exports instrument exchange metrics to Prometheus.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

var (
	Exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nephostat_exchanges_total",
			Help: "Request/response exchanges by operation and outcome",
		},
		[]string{"instrument", "op", "outcome"},
	)

	ExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nephostat_exchange_duration_seconds",
			Help:    "Time from request write to complete response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instrument", "op"},
	)

	BytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nephostat_bytes_total",
			Help: "Bytes written to and read from instruments",
		},
		[]string{"instrument", "direction"},
	)

	RecordsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nephostat_records_decoded_total",
			Help: "Logged data records decoded",
		},
		[]string{"instrument"},
	)

	LastRecordTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nephostat_last_record_timestamp_seconds",
			Help: "Timestamp of the newest decoded record",
		},
		[]string{"instrument"},
	)

	OperatingState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nephostat_operating_state",
			Help: "Last reported operating state (0 normal, 1 zero, 2 span, 9 error)",
		},
		[]string{"instrument"},
	)

	FilesStaged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nephostat_files_staged_total",
			Help: "Data files copied or zipped into staging",
		},
		[]string{"instrument"},
	)

	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nephostat_uploads_total",
			Help: "Staged file uploads by outcome",
		},
		[]string{"outcome"},
	)
)

// Outcome classifies an exchange error for the outcome label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, acoem.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, acoem.ErrConnection):
		return "connection"
	case errors.Is(err, acoem.ErrDecode):
		return "decode"
	default:
		return "error"
	}
}

// Monitor owns the metrics registry and HTTP endpoint
type Monitor struct {
	log      logrus.FieldLogger
	registry *prometheus.Registry
}

// NewMonitor registers all collectors in a new registry
func NewMonitor(log logrus.FieldLogger) *Monitor {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		Exchanges,
		ExchangeDuration,
		BytesTransferred,
		RecordsDecoded,
		LastRecordTime,
		OperatingState,
		FilesStaged,
		Uploads,
		collectors.NewGoCollector(),
	)
	return &Monitor{log: log, registry: registry}
}

// Handler serves the registry in the Prometheus text format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics server on addr until ctx is cancelled
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	m.log.Infof("metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Observer returns an exchange observer that records metrics for one instrument
func (m *Monitor) Observer(instrument string) acoem.Observer {
	return instrumentObserver(instrument)
}

type instrumentObserver string

func (o instrumentObserver) ObserveExchange(op string, sent, received int, elapsed time.Duration, err error) {
	name := string(o)
	Exchanges.WithLabelValues(name, op, Outcome(err)).Inc()
	if err == nil {
		ExchangeDuration.WithLabelValues(name, op).Observe(elapsed.Seconds())
	}
	BytesTransferred.WithLabelValues(name, "tx").Add(float64(sent))
	BytesTransferred.WithLabelValues(name, "rx").Add(float64(received))
}

// ObserveRecords records decoded logged data
func ObserveRecords(instrument string, records []acoem.LoggedRecord) {
	if len(records) == 0 {
		return
	}
	RecordsDecoded.WithLabelValues(instrument).Add(float64(len(records)))
	LastRecordTime.WithLabelValues(instrument).Set(float64(records[len(records)-1].Timestamp.Unix()))
}

// ObserveState records the operating state
func ObserveState(instrument string, state acoem.OperatingState) {
	OperatingState.WithLabelValues(instrument).Set(float64(state))
}
