// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package poller runs the periodic acquisition cycle of one instrument:
// fetch new data, append it to the daily files, stage the files and publish
// the records.
package poller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/internal/datafile"
	"github.com/mkndaq/nephostat/internal/monitor"
	"github.com/mkndaq/nephostat/internal/staging"
	"github.com/mkndaq/nephostat/pkg/acoem"
)

// Instrument is the part of a session the poller uses
type Instrument interface {
	Dialect() acoem.Dialect
	GetLoggedData(ctx context.Context, start, end time.Time) ([]acoem.LoggedRecord, error)
	GetNewData(ctx context.Context, sep string) (string, error)
	GetOperatingState(ctx context.Context) (acoem.OperatingState, error)
}

// Publisher receives the records of every cycle
type Publisher interface {
	Publish(ctx context.Context, instrument string, records []acoem.LoggedRecord) error
}

// Poller fetches data from one instrument
type Poller struct {
	Name       string
	Instrument Instrument
	Writer     *datafile.Writer
	Stager     *staging.Stager // optional
	Publisher  Publisher       // optional
	Log        logrus.FieldLogger

	// since is the start of the next logged data request
	since time.Time
}

// CycleResult summarizes one cycle
type CycleResult struct {
	Records int
	Written []string
	Staged  []string
	State   acoem.OperatingState
}

// New creates a poller that requests logged data from since onwards
func New(name string, inst Instrument, w *datafile.Writer, since time.Time, log logrus.FieldLogger) *Poller {
	return &Poller{Name: name, Instrument: inst, Writer: w, Log: log, since: since.UTC().Truncate(time.Second)}
}

// Since returns the start of the next logged data request
func (p *Poller) Since() time.Time {
	return p.since
}

// Cycle runs one acquisition cycle. The operating state is informational:
// failing to read it is logged, not returned.
func (p *Poller) Cycle(ctx context.Context, now time.Time) (CycleResult, error) {
	var res CycleResult

	state, err := p.Instrument.GetOperatingState(ctx)
	if err != nil {
		p.Log.Debugf("operating state: %v", err)
		res.State = acoem.StateError
	} else {
		res.State = state
		monitor.ObserveState(p.Name, state)
	}

	switch p.Instrument.Dialect() {
	case acoem.DialectBinary:
		records, err := p.Instrument.GetLoggedData(ctx, p.since, time.Time{})
		if err != nil {
			return res, err
		}
		records = p.newRecords(records)
		res.Records = len(records)
		if len(records) == 0 {
			break
		}
		monitor.ObserveRecords(p.Name, records)

		written, err := p.Writer.AppendRecords(records)
		if err != nil {
			return res, err
		}
		res.Written = written
		p.since = records[len(records)-1].Timestamp.Add(time.Second)

		if p.Publisher != nil {
			if err := p.Publisher.Publish(ctx, p.Name, records); err != nil {
				p.Log.Warnf("publish: %v", err)
			}
		}

	case acoem.DialectLegacy:
		data, err := p.Instrument.GetNewData(ctx, ",")
		if err != nil {
			return res, err
		}
		path, err := p.Writer.AppendLegacy(now, data)
		if err != nil {
			return res, err
		}
		if path != "" {
			res.Written = []string{path}
			res.Records = 1
		}
	}

	if p.Stager != nil && len(res.Written) > 0 {
		staged, err := p.Stager.StageAll(p.Name, res.Written)
		res.Staged = staged
		monitor.FilesStaged.WithLabelValues(p.Name).Add(float64(len(staged)))
		if err != nil {
			return res, err
		}
	}

	p.Log.WithFields(logrus.Fields{
		"records": res.Records,
		"staged":  len(res.Staged),
		"state":   res.State.String(),
	}).Info("cycle complete")
	return res, nil
}

// newRecords drops records older than since. The instrument returns the
// record at the start time again when it is an exact match.
func (p *Poller) newRecords(records []acoem.LoggedRecord) []acoem.LoggedRecord {
	out := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(p.since) {
			out = append(out, r)
		}
	}
	return out
}

// Run calls Cycle immediately and then every interval until ctx is done.
// Cycle errors are logged and do not stop the loop.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Cycle(ctx, time.Now().UTC()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Log.Errorf("cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
