// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package staging copies finished data files into the transfer area.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// PartialSuffix marks a staged file that is still being written. It is
// renamed to its final name once complete.
const PartialSuffix = ".tmp"

// beforeRename runs between writing a partial file and renaming it
var beforeRename = func(partial, target string) {}

// Stager places files under <root>/<instrument>/data/, either as copies or
// as single-entry deflated zip archives.
type Stager struct {
	root string
	zip  bool
	log  logrus.FieldLogger
}

// New creates a stager rooted at root
func New(root string, zipFiles bool, log logrus.FieldLogger) *Stager {
	return &Stager{root: root, zip: zipFiles, log: log}
}

// Dir returns the staging directory of an instrument
func (s *Stager) Dir(instrument string) string {
	return filepath.Join(s.root, instrument, "data")
}

// Target returns the staged path of src
func (s *Stager) Target(instrument, src string) string {
	name := filepath.Base(src)
	if s.zip {
		name += ".zip"
	}
	return filepath.Join(s.Dir(instrument), name)
}

// Stage copies or zips src into the instrument's staging directory. The
// file is written under a partial name and renamed into place, so the
// target never holds an incomplete file. Files whose staged copy is at
// least as new as src are skipped; staged reports whether anything was
// written.
func (s *Stager) Stage(instrument, src string) (target string, staged bool, err error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", src, err)
	}
	target = s.Target(instrument, src)
	if ti, err := os.Stat(target); err == nil && !ti.ModTime().Before(info.ModTime()) {
		return target, false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("stat %s: %w", target, err)
	}

	if err := os.MkdirAll(s.Dir(instrument), 0755); err != nil {
		return "", false, fmt.Errorf("create staging directory: %w", err)
	}

	partial := target + PartialSuffix
	if s.zip {
		err = zipFile(src, partial, info)
	} else {
		err = copyFile(src, partial)
	}
	if err != nil {
		os.Remove(partial)
		return "", false, err
	}
	beforeRename(partial, target)
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return "", false, fmt.Errorf("rename %s: %w", partial, err)
	}
	s.log.WithFields(logrus.Fields{"instrument": instrument, "file": target}).Info("staged")
	return target, true, nil
}

// StageAll stages every file in srcs and returns the targets written
func (s *Stager) StageAll(instrument string, srcs []string) ([]string, error) {
	var out []string
	var errs []error
	for _, src := range srcs {
		target, staged, err := s.Stage(instrument, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if staged {
			out = append(out, target)
		}
	}
	return out, errors.Join(errs...)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func zipFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	zw := zip.NewWriter(out)
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		out.Close()
		return fmt.Errorf("zip header: %w", err)
	}
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		out.Close()
		return fmt.Errorf("zip entry: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		out.Close()
		return fmt.Errorf("zip %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish zip: %w", err)
	}
	return out.Close()
}
