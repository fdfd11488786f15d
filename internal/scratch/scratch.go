// Package scratch manages the on-disk mirror of the in-memory Merkle
// directory: the working tree that SVN's own "export" writes into so the
// hasher can re-read real bytes, and where symlinks are materialized as OS
// symlinks for stable link-target hashing (spec.md §3).
//
// SPDX-License-Identifier: BSD-2-Clause
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	shutil "github.com/termie/go-shutil"
)

// Tree is one per-visit scratch directory rooted at a temp dir.
type Tree struct {
	Root string
}

// New creates a fresh scratch tree under parent (typically the visit's
// temp_directory configuration option), named after the repo for easier
// debugging when the scratch tree is retained (debug mode).
func New(parent, repoName string) (*Tree, error) {
	dir, err := os.MkdirTemp(parent, fmt.Sprintf("svnload.%d.%s-", os.Getpid(), repoName))
	if err != nil {
		return nil, fmt.Errorf("scratch: creating tree under %s: %w", parent, err)
	}
	return &Tree{Root: dir}, nil
}

// Full resolves a repository-relative path to its scratch-tree location.
func (t *Tree) Full(relPath string) string {
	return filepath.Join(t.Root, relPath)
}

// MkdirAll ensures relPath (and all parents) exist as directories.
func (t *Tree) MkdirAll(relPath string) error {
	return os.MkdirAll(t.Full(relPath), 0777)
}

// Remove deletes whatever is at relPath, file, symlink or directory.
func (t *Tree) Remove(relPath string) error {
	full := t.Full(relPath)
	info, err := os.Lstat(full)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scratch: lstat %s: %w", full, err)
	}
	if info.IsDir() {
		return os.RemoveAll(full)
	}
	return os.Remove(full)
}

// CopyFile copies a single external export result into the scratch tree,
// removing a pre-existing symlink first (shutil.copy's own unlink-before
// overwrite behavior on a dangling or stale symlink target).
func CopyFile(src, dst string) error {
	if info, err := os.Lstat(dst); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("scratch: removing stale symlink %s: %w", dst, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0777); err != nil {
		return fmt.Errorf("scratch: creating parent of %s: %w", dst, err)
	}
	if err := shutil.CopyFile(src, dst, true); err != nil {
		return fmt.Errorf("scratch: copying %s to %s: %w", src, dst, err)
	}
	return nil
}

// CopyTree recursively copies src into dst, preserving symlinks as
// symlinks, matching Python's shutil.copytree(symlinks=True,
// dirs_exist_ok=True) used by the externals resolver (spec.md §4.5).
func CopyTree(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0777); err != nil {
		return fmt.Errorf("scratch: creating parent of %s: %w", dst, err)
	}
	if _, err := os.Stat(dst); err == nil {
		// dirs_exist_ok=True: merge into the existing destination rather
		// than failing, which go-shutil's CopyTree does not support
		// directly, so merge entry-by-entry.
		return mergeTree(src, dst)
	}
	opts := shutil.CopyTreeOptions{
		Symlinks:               true,
		IgnoreDanglingSymlinks: true,
		CopyFunction:           shutil.Copy,
	}
	if err := shutil.CopyTree(src, dst, &opts); err != nil {
		return fmt.Errorf("scratch: copytree %s to %s: %w", src, dst, err)
	}
	return nil
}

func mergeTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("scratch: reading %s: %w", src, err)
	}
	for _, entry := range entries {
		s := filepath.Join(src, entry.Name())
		d := filepath.Join(dst, entry.Name())
		info, err := os.Lstat(s)
		if err != nil {
			return fmt.Errorf("scratch: lstat %s: %w", s, err)
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(s)
			if err != nil {
				return fmt.Errorf("scratch: readlink %s: %w", s, err)
			}
			os.Remove(d)
			if err := os.Symlink(target, d); err != nil {
				return fmt.Errorf("scratch: symlink %s: %w", d, err)
			}
		case info.IsDir():
			if err := os.MkdirAll(d, 0777); err != nil {
				return err
			}
			if err := mergeTree(s, d); err != nil {
				return err
			}
		default:
			if err := CopyFile(s, d); err != nil {
				return err
			}
		}
	}
	return nil
}
