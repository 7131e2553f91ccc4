// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package transfer moves staged files to the archive host.
package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/internal/staging"
)

// Uploader puts one local file at a remote path
type Uploader interface {
	Put(ctx context.Context, localPath, remotePath string) error
}

// Result summarizes a transfer run
type Result struct {
	Uploaded []string
	Failed   []string
}

// Transfer uploads every file below localRoot to the same relative path
// below remoteRoot. Files still being staged are left alone. With removeOnSuccess, uploaded files are deleted
// locally. A failed upload does not stop the run; the returned error is the
// first failure.
func Transfer(ctx context.Context, up Uploader, localRoot, remoteRoot string, removeOnSuccess bool, log logrus.FieldLogger) (Result, error) {
	var (
		res      Result
		firstErr error
	)

	walkErr := filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == localRoot {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, staging.PartialSuffix) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		remote := path.Join(remoteRoot, filepath.ToSlash(rel))

		if err := up.Put(ctx, p, remote); err != nil {
			log.WithField("file", p).Errorf("upload failed: %v", err)
			res.Failed = append(res.Failed, p)
			if firstErr == nil {
				firstErr = fmt.Errorf("upload %s: %w", p, err)
			}
			return nil
		}
		log.WithFields(logrus.Fields{"file": p, "remote": remote}).Info("uploaded")
		res.Uploaded = append(res.Uploaded, p)

		if removeOnSuccess {
			if err := os.Remove(p); err != nil {
				log.WithField("file", p).Warnf("remove after upload: %v", err)
			}
		}
		return nil
	})
	if walkErr != nil {
		return res, walkErr
	}
	return res, firstErr
}
