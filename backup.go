// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/archvfs

package archvfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// backupSuffix is appended to container path for the newest backup generation.
const backupSuffix = ".bak"

// backupContainer copies path to "<path>.bak" after shifting older
// generations. keep <= 0 does nothing and returns an empty backup path.
func backupContainer(path string, keep int) (string, error) {
	if keep <= 0 || path == "" {
		return "", nil
	}

	backupPath := path + backupSuffix
	if err := rotateBackups(backupPath, keep); err != nil {
		return "", err
	}

	if err := copyOSFile(path, backupPath, DefaultFilePerm); err != nil {
		return "", fmt.Errorf("backup container: %w", err)
	}

	return backupPath, nil
}

// rotateBackups frees "<path>.bak" by moving generation i to i+1. The
// generation numbered keep-1 is dropped.
func rotateBackups(backupPath string, keep int) error {
	generation := func(i int) string {
		if i == 0 {
			return backupPath
		}

		return backupPath + "." + strconv.Itoa(i)
	}

	if err := removeIfExists(generation(keep - 1)); err != nil {
		return err
	}

	for i := keep - 2; i >= 0; i-- {
		err := os.Rename(generation(i), generation(i+1))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotate backup %s: %w", generation(i), err)
		}
	}

	return nil
}

// removeIfExists removes path; a missing file is not an error.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// replaceFileContent overwrites dst with src bytes from offset zero and cuts the tail.
func replaceFileContent(dst *os.File, src io.Reader) (int64, error) {
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek container: %w", err)
	}

	written, err := io.Copy(dst, src)
	if err != nil {
		return written, fmt.Errorf("write container: %w", err)
	}

	if err := dst.Truncate(written); err != nil {
		return written, fmt.Errorf("truncate container: %w", err)
	}

	if err := dst.Sync(); err != nil {
		return written, fmt.Errorf("sync container: %w", err)
	}

	return written, nil
}

// rollbackFromBackup restores container content from backup after a failed replace.
func rollbackFromBackup(dst *os.File, backupPath string) error {
	if backupPath == "" {
		return errors.New("no backup to restore from")
	}

	src, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer func() { _ = src.Close() }()

	if _, err := replaceFileContent(dst, src); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
