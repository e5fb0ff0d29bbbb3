// Package fileutil moves processed documents out of the reviewed directories.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CopyFile streams src to dst, keeping the source permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if info, err := in.Stat(); err == nil {
		mode = info.Mode().Perm()
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// MoveWithRetry renames src to dst. Permission errors are retried up to
// attempts times with delay between tries; after that the file is copied
// and the source removed. Other errors are returned immediately.
func MoveWithRetry(src, dst string, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, fs.ErrPermission) && !isCrossDevice(err) {
			return fmt.Errorf("move %s: %w", src, err)
		}
		if isCrossDevice(err) {
			break
		}
		if attempt < attempts && delay > 0 {
			time.Sleep(delay)
		}
	}

	if err := CopyFile(src, dst); err != nil {
		return fmt.Errorf("move %s (copy fallback after %v): %w", src, lastErr, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}

// UniqueDestination returns dir/name, or dir/name with a numeric suffix when
// that path is already taken.
func UniqueDestination(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
		return candidate
	}
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s.%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}
