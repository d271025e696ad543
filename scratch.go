// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// scratchArea is a private temporary directory exposed through DirTranslator.
// The directory is created on first use and removed recursively by Close.
type scratchArea struct {
	log    logrus.FieldLogger
	dir    *DirTranslator
	parent string
	prefix string
	path   string
}

// newScratchArea prepares a lazy scratch area under parent (empty means os.TempDir()).
func newScratchArea(parent string, prefix string, log logrus.FieldLogger) *scratchArea {
	return &scratchArea{parent: parent, prefix: prefix, log: log}
}

// translator returns directory translator, creating the temporary directory once.
func (s *scratchArea) translator() (*DirTranslator, error) {
	if s.dir != nil {
		return s.dir, nil
	}

	path, err := os.MkdirTemp(s.parent, s.prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}

	dir, err := OpenDir(path, DirOptions{Logger: s.log})
	if err != nil {
		_ = os.RemoveAll(path)
		return nil, fmt.Errorf("open scratch area: %w", err)
	}

	s.path = path
	s.dir = dir
	s.log.WithField("scratch", path).Debug("scratch area created")

	return dir, nil
}

// create makes a new uniquely named empty file and returns its name and stream.
func (s *scratchArea) create() (string, Stream, error) {
	dir, err := s.translator()
	if err != nil {
		return "", nil, err
	}

	name := uuid.NewString()
	stream, err := dir.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return "", nil, fmt.Errorf("create scratch file: %w", err)
	}

	return name, stream, nil
}

// open opens an existing scratch file.
func (s *scratchArea) open(name string, flag int) (Stream, error) {
	dir, err := s.translator()
	if err != nil {
		return nil, err
	}

	return dir.OpenFile(name, flag&^(os.O_CREATE|os.O_EXCL))
}

// clone copies scratch file name into a new uniquely named file.
func (s *scratchArea) clone(name string) (string, error) {
	dir, err := s.translator()
	if err != nil {
		return "", err
	}

	cloned := uuid.NewString()
	if err := dir.Copy(name, cloned); err != nil {
		return "", fmt.Errorf("clone scratch file: %w", err)
	}

	return cloned, nil
}

// size returns scratch file size.
func (s *scratchArea) size(name string) (int64, error) {
	dir, err := s.translator()
	if err != nil {
		return 0, err
	}

	return dir.Size(name)
}

// remove deletes one scratch file.
func (s *scratchArea) remove(name string) error {
	if s.dir == nil || name == "" {
		return nil
	}

	return s.dir.Delete(name)
}

// Close removes the scratch directory with everything inside it.
func (s *scratchArea) Close() error {
	if s.dir == nil {
		return nil
	}

	_ = s.dir.Close()
	s.dir = nil

	if err := os.RemoveAll(s.path); err != nil {
		s.log.WithError(err).WithField("scratch", s.path).Warn("remove scratch area")
		return fmt.Errorf("remove scratch area: %w", err)
	}

	s.log.WithField("scratch", s.path).Debug("scratch area removed")
	return nil
}
