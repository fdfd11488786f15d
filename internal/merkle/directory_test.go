package merkle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/softwareheritage/svnloader/internal/svnmodel"
)

func TestContentFromFileGitBlobHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := ContentFromFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, want, _ := svnmodel.HashContent([]byte("hello\n"))
	if c.SHA1Git.String() != want.String() {
		t.Errorf("sha1_git = %x, want %x", c.SHA1Git, want)
	}
	if c.Perms != svnmodel.PermRegular {
		t.Errorf("perms = %v, want PermRegular", c.Perms)
	}
}

func TestContentFromFileExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	c, err := ContentFromFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Perms != svnmodel.PermExecutable {
		t.Errorf("perms = %v, want PermExecutable", c.Perms)
	}
}

func TestContentFromFileSymlink(t *testing.T) {
	dir := t.TempDir()
	target := "./f.txt"
	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	c, err := ContentFromFile(link, 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Perms != svnmodel.PermSymlink {
		t.Errorf("perms = %v, want PermSymlink", c.Perms)
	}
	if string(c.Data) != target {
		t.Errorf("data = %q, want %q", c.Data, target)
	}
}

func TestContentFromFileSkippedOversize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := ContentFromFile(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != svnmodel.ObjSkippedContent {
		t.Errorf("status = %v, want ObjSkippedContent", c.Status)
	}
	if c.Data != nil {
		t.Errorf("expected no data retained for skipped content")
	}
	if c.Length != 10 {
		t.Errorf("length = %d, want 10", c.Length)
	}
}

func TestDirectoryHashDeterministicOrder(t *testing.T) {
	d1 := NewDirectory()
	d1.Set("b.txt", &ContentNode{svnmodel.NewContent([]byte("b"), svnmodel.PermRegular, 0)})
	d1.Set("a.txt", &ContentNode{svnmodel.NewContent([]byte("a"), svnmodel.PermRegular, 0)})

	d2 := NewDirectory()
	d2.Set("a.txt", &ContentNode{svnmodel.NewContent([]byte("a"), svnmodel.PermRegular, 0)})
	d2.Set("b.txt", &ContentNode{svnmodel.NewContent([]byte("b"), svnmodel.PermRegular, 0)})

	if d1.Hash().String() != d2.Hash().String() {
		t.Errorf("insertion order should not affect the directory hash")
	}
}

func TestDirectoryHashInvalidatesOnMutation(t *testing.T) {
	d := NewDirectory()
	d.Set("a.txt", &ContentNode{svnmodel.NewContent([]byte("a"), svnmodel.PermRegular, 0)})
	h1 := d.Hash().String()
	d.Set("b.txt", &ContentNode{svnmodel.NewContent([]byte("b"), svnmodel.PermRegular, 0)})
	h2 := d.Hash().String()
	if h1 == h2 {
		t.Errorf("hash should change after adding a child")
	}
}

func TestTreePutCreatesAncestorsAndInvalidatesHashes(t *testing.T) {
	tree := NewTree()
	rootHashEmpty := tree.Root.Hash().String()
	tree.Put("a/b/c.txt", &ContentNode{svnmodel.NewContent([]byte("x"), svnmodel.PermRegular, 0)})

	if tree.Get("a/b/c.txt") == nil {
		t.Fatalf("expected leaf to exist at a/b/c.txt")
	}
	if _, ok := tree.Get("a").(*Directory); !ok {
		t.Fatalf("expected intermediate directory at a")
	}
	if _, ok := tree.Get("a/b").(*Directory); !ok {
		t.Fatalf("expected intermediate directory at a/b")
	}
	if tree.Root.Hash().String() == rootHashEmpty {
		t.Errorf("root hash should change once a descendant is added")
	}
}

func TestTreeRemove(t *testing.T) {
	tree := NewTree()
	tree.Put("a/b.txt", &ContentNode{svnmodel.NewContent([]byte("x"), svnmodel.PermRegular, 0)})
	tree.Remove("a/b.txt")
	if tree.Contains("a/b.txt") {
		t.Errorf("expected a/b.txt to be removed")
	}
}

func TestFromDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "nested.txt"), []byte("n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := FromDisk(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Get("hello.txt") == nil {
		t.Errorf("expected hello.txt to be ingested")
	}
	sub, ok := d.Get("sub").(*Directory)
	if !ok {
		t.Fatalf("expected sub to be a Directory")
	}
	if sub.Get("nested.txt") == nil {
		t.Errorf("expected sub/nested.txt to be ingested")
	}
}

func TestCollectSeparatesSkippedContent(t *testing.T) {
	tree := NewTree()
	tree.Put("small.txt", &ContentNode{svnmodel.NewContent([]byte("ab"), svnmodel.PermRegular, 0)})
	tree.Put("big.txt", &ContentNode{svnmodel.NewContent([]byte("abcdefgh"), svnmodel.PermRegular, 4)})

	contents, skipped, dirs := tree.Collect()
	if len(contents) != 1 {
		t.Errorf("contents = %d, want 1", len(contents))
	}
	if len(skipped) != 1 {
		t.Errorf("skipped = %d, want 1", len(skipped))
	}
	if len(dirs) != 1 {
		t.Errorf("dirs = %d, want 1 (root)", len(dirs))
	}
}
