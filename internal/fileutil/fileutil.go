// Package fileutil copies directory trees with integrity checks. It backs
// task moves whose source and destination live on different filesystems,
// where a rename is impossible.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// PartialPrefix names the hidden directory a tree is copied into before it
// is renamed into place.
const PartialPrefix = ".partial-"

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// dst gets mode; it is removed on mismatch.
func CopyFileVerified(src, dst string, mode fs.FileMode) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// CopyTree copies the directory src to dst, which must not exist. Regular
// files are verified; symlinks are recreated; other file types are rejected.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch mode := info.Mode(); {
		case mode.IsDir():
			return os.Mkdir(target, mode.Perm())
		case mode.IsRegular():
			if err := CopyFileVerified(path, target, mode); err != nil {
				return fmt.Errorf("copy %s: %w", path, err)
			}
			return nil
		case mode&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return fmt.Errorf("copy %s: unsupported file type %s", path, mode.Type())
		}
	})
}

// MoveTree moves src to dst by copying. The copy lands in a hidden sibling
// of dst and is renamed into place, so dst appears complete or not at all.
// src is removed only after the rename succeeded.
func MoveTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	partial := filepath.Join(filepath.Dir(dst), PartialPrefix+uuid.NewString())
	if info.IsDir() {
		err = CopyTree(src, partial)
	} else {
		err = CopyFileVerified(src, partial, info.Mode())
	}
	if err != nil {
		return errors.Join(err, os.RemoveAll(partial))
	}
	if err := os.Rename(partial, dst); err != nil {
		return errors.Join(fmt.Errorf("rename copy into place: %w", err), os.RemoveAll(partial))
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}
