package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/scratch"
	"github.com/softwareheritage/svnloader/internal/svnexternals"
	"github.com/softwareheritage/svnloader/internal/svnproto"
	"github.com/softwareheritage/svnloader/internal/svnrepo"
)

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestJoinPath(t *testing.T) {
	assertEqual(t, joinPath("", "a"), "a")
	assertEqual(t, joinPath("a", "b"), "a/b")
}

func TestSplitPath(t *testing.T) {
	if got := splitPath(""); len(got) != 0 {
		t.Fatalf("splitPath(\"\") = %v, want empty", got)
	}
	got := splitPath("a/b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitPath = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitPath = %v, want %v", got, want)
		}
	}
}

func TestAncestorsOf(t *testing.T) {
	got := ancestorsOf("a/b/c")
	want := []string{"a/b", "a", ""}
	if len(got) != len(want) {
		t.Fatalf("ancestorsOf = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ancestorsOf = %v, want %v", got, want)
		}
	}
	if got := ancestorsOf("a"); len(got) != 1 || got[0] != "" {
		t.Fatalf("ancestorsOf(a) = %v, want [\"\"]", got)
	}
}

func TestIsRecursiveExternal(t *testing.T) {
	origin := "https://svn.example.org/repo/trunk"
	cases := []struct {
		name        string
		dirPath     string
		externalRel string
		externalURL string
		want        bool
	}{
		{"non-overlapping", "vendor", "lib", "https://svn.example.org/other", false},
		{"same-path", "vendor", "lib", origin + "/vendor/lib", false},
		{"recursive", "vendor", "lib", origin, true},
		{"empty-url", "vendor", "lib", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := isRecursiveExternal(origin, c.dirPath, c.externalRel, c.externalURL)
			assertEqual(t, got, c.want)
		})
	}
}

func TestContainsDefinition(t *testing.T) {
	a := svnexternals.Definition{Path: "lib", URL: "https://example.org/lib"}
	b := svnexternals.Definition{Path: "lib", URL: "https://example.org/other"}
	if !containsDefinition([]svnexternals.Definition{a}, a) {
		t.Fatal("expected a to be contained")
	}
	if containsDefinition([]svnexternals.Definition{a}, b) {
		t.Fatal("expected b not to be contained")
	}
}

func TestExternalsKeySet(t *testing.T) {
	a := svnexternals.Definition{Path: "lib", URL: "https://example.org/lib"}
	m := map[string][]svnexternals.Definition{"lib": {a}}
	set := externalsKeySet(m)
	if _, ok := set[a.Key()]; !ok {
		t.Fatalf("expected key set to contain %s", a.Key())
	}
}

// fakeClient is a minimal svnproto.Client stub sufficient to construct a
// Repo and drive DirEditor's property/export paths without a network.
type fakeClient struct {
	info  svnproto.Info
	props map[string]map[string]string // target -> props
}

func (f *fakeClient) Info(ctx context.Context, url string, peg, rev int) (svnproto.Info, error) {
	return f.info, nil
}
func (f *fakeClient) HeadRevision(ctx context.Context, url string) (int, error) { return 1, nil }
func (f *fakeClient) Log(ctx context.Context, url string, start, end, limit int) ([]svnproto.LogEntry, error) {
	return nil, nil
}
func (f *fakeClient) LogAt(ctx context.Context, url string, rev int) (svnproto.LogEntry, error) {
	return svnproto.LogEntry{}, nil
}
func (f *fakeClient) Replay(ctx context.Context, url string, rev, lowWaterMark int, editor svnproto.ReplayEditor) error {
	return nil
}
func (f *fakeClient) Export(ctx context.Context, opts svnproto.ExportOptions) error {
	return os.MkdirAll(opts.To, 0o755)
}
func (f *fakeClient) Checkout(ctx context.Context, url, dest string, rev int) error { return nil }
func (f *fakeClient) Propget(ctx context.Context, name, target string, peg, rev int, recurse bool) (map[string]string, error) {
	return f.props[target], nil
}
func (f *fakeClient) Props(ctx context.Context, target string, peg, rev int) (map[string]string, error) {
	return nil, nil
}
func (f *fakeClient) Cleanup(ctx context.Context, workingCopy string) error { return nil }

func newTestEditor(t *testing.T) *Editor {
	t.Helper()
	ctx := context.Background()
	client := &fakeClient{
		info: svnproto.Info{ReposRootURL: "https://svn.example.org/repo", UUID: "uuid-1"},
	}
	repo, err := svnrepo.Open(ctx, client, svnrepo.Options{RemoteURL: "https://svn.example.org/repo/trunk"}, nil)
	if err != nil {
		t.Fatalf("svnrepo.Open: %v", err)
	}
	scratchRoot := t.TempDir()
	tree, err := scratch.New(scratchRoot, "test")
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	cacheDir := filepath.Join(scratchRoot, "externals-cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("mkdir cache dir: %v", err)
	}
	return NewEditor(ctx, merkle.NewTree(), tree, repo, cacheDir, 0, false, nil)
}

func TestChangePropNoopOnUnchangedValue(t *testing.T) {
	e := newTestEditor(t)
	root, err := e.OpenRoot(0)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	dir := root.(*DirEditor)

	value := "lib https://svn.example.org/other/lib"
	if err := dir.ChangeProp(svnproto.PropExternals, value); err != nil {
		t.Fatalf("first ChangeProp: %v", err)
	}
	first := dir.externals

	if err := dir.ChangeProp(svnproto.PropExternals, value); err != nil {
		t.Fatalf("second ChangeProp: %v", err)
	}
	if dir.dirState().ExternalsRaw != value {
		t.Fatalf("ExternalsRaw = %q, want %q", dir.dirState().ExternalsRaw, value)
	}
	// A second identical call must not re-parse (the freshly-parsed
	// externals map is left exactly as it was after the first call).
	if len(dir.externals) != len(first) {
		t.Fatalf("externals changed on unchanged ChangeProp: %v vs %v", dir.externals, first)
	}
}

func TestChangePropClearsOnEmptyValue(t *testing.T) {
	e := newTestEditor(t)
	root, err := e.OpenRoot(0)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	dir := root.(*DirEditor)

	if err := dir.ChangeProp(svnproto.PropExternals, "lib https://svn.example.org/other/lib"); err != nil {
		t.Fatalf("ChangeProp set: %v", err)
	}
	if err := dir.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := dir.ChangeProp(svnproto.PropExternals, ""); err != nil {
		t.Fatalf("ChangeProp clear: %v", err)
	}
	if _, ok := e.DirStates[""]; ok {
		t.Fatal("expected root DirState to be dropped after externals cleared")
	}
}

func TestRemovePathDropsDirState(t *testing.T) {
	e := newTestEditor(t)
	e.Tree.Put("a", merkle.NewDirectory())
	e.DirStates["a"] = newDirState()
	if err := e.Scratch.MkdirAll("a"); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := e.removePath("a"); err != nil {
		t.Fatalf("removePath: %v", err)
	}
	if e.Tree.Get("a") != nil {
		t.Fatal("expected path removed from tree")
	}
	if _, ok := e.DirStates["a"]; ok {
		t.Fatal("expected DirState dropped")
	}
}

func TestAddDirectoryNoCopy(t *testing.T) {
	e := newTestEditor(t)
	root, err := e.OpenRoot(0)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	dir := root.(*DirEditor)

	child, err := dir.AddDirectory("sub", "", -1)
	if err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if _, ok := e.Tree.Get("sub").(*merkle.Directory); !ok {
		t.Fatal("expected sub to be a directory node")
	}
	if _, statErr := os.Stat(e.Scratch.Full("sub")); statErr != nil {
		t.Fatalf("expected scratch directory to exist: %v", statErr)
	}
	if child == nil {
		t.Fatal("expected non-nil child editor")
	}
}

func TestOpenFileMarksEmptyContent(t *testing.T) {
	e := newTestEditor(t)
	root, err := e.OpenRoot(0)
	if err != nil {
		t.Fatalf("OpenRoot: %v", err)
	}
	dir := root.(*DirEditor)

	if _, err := dir.OpenFile("README"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, ok := e.Tree.Get("README").(*merkle.ContentNode); !ok {
		t.Fatal("expected README to be pre-marked as a Content node")
	}
}
