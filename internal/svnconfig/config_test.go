package svnconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "visit.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
url: svn://example.org/repo
origin_url: https://example.org/repo
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.CheckRevision != DefaultCheckRevision {
		t.Errorf("CheckRevision = %d, want default %d", f.CheckRevision, DefaultCheckRevision)
	}
	if f.MaxContentSize != DefaultMaxContentSize {
		t.Errorf("MaxContentSize = %d, want default %d", f.MaxContentSize, DefaultMaxContentSize)
	}
	if f.TempDirectory != os.TempDir() {
		t.Errorf("TempDirectory = %q, want %q", f.TempDirectory, os.TempDir())
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
url: svn://example.org/repo
check_revision: 50
max_content_size: 1024
temp_directory: /tmp/custom
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.CheckRevision != 50 {
		t.Errorf("CheckRevision = %d, want 50", f.CheckRevision)
	}
	if f.MaxContentSize != 1024 {
		t.Errorf("MaxContentSize = %d, want 1024", f.MaxContentSize)
	}
	if f.TempDirectory != "/tmp/custom" {
		t.Errorf("TempDirectory = %q, want /tmp/custom", f.TempDirectory)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestToLoaderConfigDefaultsIncrementalTrue(t *testing.T) {
	f := File{URL: "svn://x", OriginURL: "https://x"}
	cfg := f.ToLoaderConfig()
	if !cfg.Incremental {
		t.Errorf("expected Incremental to default true")
	}
}

func TestToLoaderConfigHonorsExplicitIncremental(t *testing.T) {
	no := false
	f := File{URL: "svn://x", Incremental: &no}
	cfg := f.ToLoaderConfig()
	if cfg.Incremental {
		t.Errorf("expected Incremental to be false")
	}
}

func TestToLoaderConfigDumpBasedDefaultsIncrementalFalse(t *testing.T) {
	f := File{URL: "file:///tmp/dump-repo", DumpBased: true}
	cfg := f.ToLoaderConfig()
	if cfg.Incremental {
		t.Errorf("expected a dump-based config to default Incremental to false")
	}
}

func TestToLoaderConfigDumpBasedHonorsExplicitIncremental(t *testing.T) {
	yes := true
	f := File{URL: "file:///tmp/dump-repo", DumpBased: true, Incremental: &yes}
	cfg := f.ToLoaderConfig()
	if !cfg.Incremental {
		t.Errorf("expected explicit incremental:true to override the dump-based default")
	}
}

func TestSplitExtraArgsEmpty(t *testing.T) {
	f := File{}
	args, err := f.SplitExtraArgs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Errorf("expected nil args, got %v", args)
	}
}

func TestSplitExtraArgsQuoting(t *testing.T) {
	f := File{ExtraArgs: `--deltas --comment "release notes"`}
	args, err := f.SplitExtraArgs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"--deltas", "--comment", "release notes"}
	if len(args) != len(want) {
		t.Fatalf("got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
