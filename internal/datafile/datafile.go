// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package datafile appends decoded instrument data to daily files.
//
// Files live under <root>/<name>/data/ and are named <name>-YYYYMMDD with an
// extension per format: .csv for logged records as text, .cbor for the same
// records as a CBOR sequence, and .dat for raw legacy data lines.
package datafile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/pkg/acoem"
)

// File extensions
const (
	ExtCSV    = ".csv"
	ExtCBOR   = ".cbor"
	ExtLegacy = ".dat"
)

const dayLayout = "20060102"

// Writer appends records for one instrument
type Writer struct {
	root    string
	name    string
	columns []acoem.ParameterID
	log     logrus.FieldLogger

	// parameters already reported as missing from the CSV columns
	dropped map[acoem.ParameterID]bool
}

// NewWriter creates a writer for instrument name under root. columns fixes
// the CSV column order; when empty, the parameters of the first record
// written are used. Parameters outside the columns are kept in the CBOR
// file only, with a warning to log. log may be nil.
func NewWriter(root, name string, columns []acoem.ParameterID, log logrus.FieldLogger) *Writer {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Writer{root: root, name: name, columns: columns, log: log, dropped: make(map[acoem.ParameterID]bool)}
}

// Dropped returns the parameters seen in records but missing from the CSV
// columns, in ascending order.
func (w *Writer) Dropped() []acoem.ParameterID {
	out := make([]acoem.ParameterID, 0, len(w.dropped))
	for id := range w.dropped {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checkColumns warns once for every float parameter of r that has no CSV
// column
func (w *Writer) checkColumns(r acoem.LoggedRecord) {
	for _, id := range r.Parameters {
		if w.dropped[id] || !r.Values[id].IsFloat || w.hasColumn(id) {
			continue
		}
		w.dropped[id] = true
		w.log.WithFields(logrus.Fields{"parameter": uint32(id), "time": r.Timestamp}).
			Warn("parameter has no CSV column; written to CBOR only")
	}
}

func (w *Writer) hasColumn(id acoem.ParameterID) bool {
	for _, c := range w.columns {
		if c == id {
			return true
		}
	}
	return false
}

// Dir returns the directory holding the instrument's data files
func (w *Writer) Dir() string {
	return filepath.Join(w.root, w.name, "data")
}

// Path returns the file for day with the given extension
func (w *Writer) Path(day time.Time, ext string) string {
	return filepath.Join(w.Dir(), fmt.Sprintf("%s-%s%s", w.name, day.UTC().Format(dayLayout), ext))
}

// AppendRecords writes records to the CSV and CBOR files of their day and
// returns the paths touched.
func (w *Writer) AppendRecords(records []acoem.LoggedRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(w.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if len(w.columns) == 0 {
		w.columns = append([]acoem.ParameterID(nil), records[0].Parameters...)
	}

	byDay := make(map[string][]acoem.LoggedRecord)
	var days []string
	for _, r := range records {
		day := r.Timestamp.UTC().Format(dayLayout)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], r)
	}
	sort.Strings(days)

	var paths []string
	for _, day := range days {
		recs := byDay[day]
		t := recs[0].Timestamp
		csvPath := w.Path(t, ExtCSV)
		if err := w.appendCSV(csvPath, recs); err != nil {
			return paths, err
		}
		cborPath := w.Path(t, ExtCBOR)
		if err := appendCBOR(cborPath, recs); err != nil {
			return paths, err
		}
		paths = append(paths, csvPath, cborPath)
	}
	return paths, nil
}

// Header returns the CSV header row
func (w *Writer) Header() []string {
	header := []string{"dtm", "logging_interval"}
	for _, id := range w.columns {
		header = append(header, strconv.FormatUint(uint64(id), 10))
	}
	return header
}

func (w *Writer) appendCSV(path string, records []acoem.LoggedRecord) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open CSV file: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if isNew {
		if err := cw.Write(w.Header()); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
	}
	for _, r := range records {
		w.checkColumns(r)
		row := []string{
			r.Timestamp.UTC().Format("20060102150405"),
			strconv.FormatUint(uint64(r.LoggingInterval), 10),
		}
		for _, id := range w.columns {
			if v, ok := r.Float(id); ok {
				row = append(row, strconv.FormatFloat(float64(v), 'g', -1, 32))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}
	return nil
}

// cborRecord is the on-disk form of a logged record
type cborRecord struct {
	Timestamp int64              `cbor:"0,keyasint"`
	Interval  uint32             `cbor:"1,keyasint"`
	Values    map[uint32]float32 `cbor:"2,keyasint"`
}

func appendCBOR(path string, records []acoem.LoggedRecord) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open CBOR file: %w", err)
	}
	defer file.Close()

	enc := cbor.NewEncoder(file)
	for _, r := range records {
		rec := cborRecord{
			Timestamp: r.Timestamp.Unix(),
			Interval:  r.LoggingInterval,
			Values:    make(map[uint32]float32, len(r.Values)),
		}
		for id := range r.Values {
			if v, ok := r.Float(id); ok {
				rec.Values[uint32(id)] = v
			}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode CBOR record: %w", err)
		}
	}
	return nil
}

// ReadCBOR reads back the records of a CBOR data file. Parameters are
// returned in ascending ID order.
func ReadCBOR(path string) ([]acoem.LoggedRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CBOR file: %w", err)
	}
	defer file.Close()

	var records []acoem.LoggedRecord
	dec := cbor.NewDecoder(file)
	for {
		var rec cborRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decode CBOR record %d: %w", len(records), err)
		}

		out := acoem.LoggedRecord{
			Timestamp:       time.Unix(rec.Timestamp, 0).UTC(),
			LoggingInterval: rec.Interval,
			Values:          make(map[acoem.ParameterID]acoem.Value, len(rec.Values)),
		}
		for id, v := range rec.Values {
			out.Parameters = append(out.Parameters, acoem.ParameterID(id))
			out.Values[acoem.ParameterID(id)] = acoem.Value{Float: v, IsFloat: true}
		}
		sort.Slice(out.Parameters, func(i, j int) bool { return out.Parameters[i] < out.Parameters[j] })
		records = append(records, out)
	}
}

// AppendLegacy appends raw legacy data lines to the .dat file of day
func (w *Writer) AppendLegacy(day time.Time, data string) (string, error) {
	if data == "" {
		return "", nil
	}
	if err := os.MkdirAll(w.Dir(), 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	path := w.Path(day, ExtLegacy)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("open data file: %w", err)
	}
	defer file.Close()

	if data[len(data)-1] != '\n' {
		data += "\n"
	}
	if _, err := file.WriteString(data); err != nil {
		return "", fmt.Errorf("write data file: %w", err)
	}
	return path, nil
}

// Completed returns the data files of days before now, oldest first
func (w *Writer) Completed(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(w.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list data directory: %w", err)
	}

	today := now.UTC().Format(dayLayout)
	prefix := w.name + "-"
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len(prefix)+len(dayLayout) || name[:len(prefix)] != prefix {
			continue
		}
		day := name[len(prefix) : len(prefix)+len(dayLayout)]
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		if day < today {
			out = append(out, filepath.Join(w.Dir(), name))
		}
	}
	sort.Strings(out)
	return out, nil
}
