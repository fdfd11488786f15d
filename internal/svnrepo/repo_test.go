package svnrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/softwareheritage/svnloader/internal/svnproto"
)

type fakeClient struct {
	info      svnproto.Info
	head      int
	logsByRev map[int]svnproto.LogEntry
	logErr    error

	propgetResult map[string]string
	propgetErr    error

	exportErr  error
	exportURLs []string
}

func (f *fakeClient) Info(ctx context.Context, url string, peg, rev int) (svnproto.Info, error) {
	return f.info, nil
}
func (f *fakeClient) HeadRevision(ctx context.Context, url string) (int, error) { return f.head, nil }
func (f *fakeClient) Log(ctx context.Context, url string, start, end, limit int) ([]svnproto.LogEntry, error) {
	var out []svnproto.LogEntry
	for r := start; r <= end; r++ {
		if e, ok := f.logsByRev[r]; ok {
			out = append(out, e)
		}
	}
	return out, f.logErr
}
func (f *fakeClient) LogAt(ctx context.Context, url string, rev int) (svnproto.LogEntry, error) {
	return f.logsByRev[rev], nil
}
func (f *fakeClient) Replay(ctx context.Context, url string, rev, lowWaterMark int, editor svnproto.ReplayEditor) error {
	return nil
}
func (f *fakeClient) Export(ctx context.Context, opts svnproto.ExportOptions) error {
	f.exportURLs = append(f.exportURLs, opts.URL)
	return f.exportErr
}
func (f *fakeClient) Checkout(ctx context.Context, url, dest string, rev int) error { return nil }
func (f *fakeClient) Propget(ctx context.Context, name, target string, peg, rev int, recurse bool) (map[string]string, error) {
	return f.propgetResult, f.propgetErr
}
func (f *fakeClient) Props(ctx context.Context, target string, peg, rev int) (map[string]string, error) {
	return nil, nil
}
func (f *fakeClient) Cleanup(ctx context.Context, workingCopy string) error { return nil }

func TestHasChangesWholeRepo(t *testing.T) {
	r := &Repo{RootDirectory: ""}
	entry := svnproto.LogEntry{ChangedPaths: []svnproto.ChangedPath{{Path: "/trunk/foo.txt"}}}
	if !r.hasChanges(entry) {
		t.Fatal("expected whole-repo load to always have changes")
	}
}

func TestHasChangesSubPath(t *testing.T) {
	r := &Repo{RootDirectory: "/trunk/sub"}
	cases := []struct {
		path string
		rev  int
		want bool
	}{
		{"/trunk/sub/file.txt", -1, true},
		{"/trunk/sub", -1, true},
		{"/trunk/other", -1, false},
		{"/trunk", 5, true},
		{"/trunk", -1, false},
	}
	for _, c := range cases {
		entry := svnproto.LogEntry{ChangedPaths: []svnproto.ChangedPath{{Path: c.path, CopyFromRev: c.rev}}}
		if got := r.hasChanges(entry); got != c.want {
			t.Errorf("hasChanges(%q, copyfrom=%d) = %v, want %v", c.path, c.rev, got, c.want)
		}
	}
}

func TestRootDirectorySubPath(t *testing.T) {
	cases := []struct {
		origin, root, want string
	}{
		{"http://svn.example.org/repo/trunk/project", "http://svn.example.org/repo", "/trunk/project"},
		{"http://svn.example.org/repo", "http://svn.example.org/repo", ""},
	}
	for _, c := range cases {
		if got := rootDirectorySubPath(c.origin, c.root); got != c.want {
			t.Errorf("rootDirectorySubPath(%q, %q) = %q, want %q", c.origin, c.root, got, c.want)
		}
	}
}

func TestGetHeadRevisionAtDateBinarySearch(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := &fakeClient{head: 10, logsByRev: map[int]svnproto.LogEntry{}}
	for i := 1; i <= 10; i++ {
		fc.logsByRev[i] = svnproto.LogEntry{Revision: i, Date: base.AddDate(0, 0, i)}
	}
	r, err := Open(context.Background(), fc, Options{RemoteURL: "http://svn.example.org/repo"}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	target := base.AddDate(0, 0, 5).Format(time.RFC3339)
	rev, err := r.GetHeadRevisionAtDate(context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != 5 {
		t.Errorf("expected revision 5, got %d", rev)
	}
}

func TestGetHeadRevisionAtDateBeforeFirstRevision(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := &fakeClient{head: 3, logsByRev: map[int]svnproto.LogEntry{
		1: {Revision: 1, Date: base},
		2: {Revision: 2, Date: base.AddDate(0, 0, 1)},
		3: {Revision: 3, Date: base.AddDate(0, 0, 2)},
	}}
	r, err := Open(context.Background(), fc, Options{RemoteURL: "http://svn.example.org/repo"}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	early := base.AddDate(0, -1, 0).Format(time.RFC3339)
	if _, err := r.GetHeadRevisionAtDate(context.Background(), early); err == nil {
		t.Fatal("expected error for a date preceding revision 1")
	}
}

func TestExportTemporaryDefaultsToRemoteURL(t *testing.T) {
	fc := &fakeClient{}
	r, err := Open(context.Background(), fc, Options{
		RemoteURL: "http://mirror.example.org/repo",
		OriginURL: "http://svn.example.org/repo",
	}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dir, _, err := r.ExportTemporary(context.Background(), 5, t.TempDir())
	if err != nil {
		t.Fatalf("ExportTemporary failed: %v", err)
	}
	defer removeAll(t, dir)
	if len(fc.exportURLs) != 1 || fc.exportURLs[0] != "http://mirror.example.org/repo" {
		t.Errorf("exported URL = %v, want remote URL by default", fc.exportURLs)
	}
}

func TestExportTemporarySwitchesToOriginOnRelativeExternals(t *testing.T) {
	fc := &fakeClient{}
	r, err := Open(context.Background(), fc, Options{
		RemoteURL: "http://mirror.example.org/repo",
		OriginURL: "http://svn.example.org/repo",
	}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r.ReplayStarted = true
	r.HasRelativeExternals = true
	dir, _, err := r.ExportTemporary(context.Background(), 5, t.TempDir())
	if err != nil {
		t.Fatalf("ExportTemporary failed: %v", err)
	}
	defer removeAll(t, dir)
	if len(fc.exportURLs) != 1 || fc.exportURLs[0] != "http://svn.example.org/repo" {
		t.Errorf("exported URL = %v, want origin URL once relative externals were detected", fc.exportURLs)
	}
}

func TestExportTemporaryPreClassifiesBeforeReplayStarts(t *testing.T) {
	fc := &fakeClient{
		propgetResult: map[string]string{
			"http://mirror.example.org/repo/trunk": "ext ../../other/lib",
		},
	}
	r, err := Open(context.Background(), fc, Options{
		RemoteURL: "http://mirror.example.org/repo",
		OriginURL: "http://svn.example.org/repo",
	}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	dir, _, err := r.ExportTemporary(context.Background(), 5, t.TempDir())
	if err != nil {
		t.Fatalf("ExportTemporary failed: %v", err)
	}
	defer removeAll(t, dir)
	if !r.HasRelativeExternals {
		t.Errorf("expected the pre-classification crawl to detect the relative external")
	}
	if len(fc.exportURLs) != 1 || fc.exportURLs[0] != "http://svn.example.org/repo" {
		t.Errorf("exported URL = %v, want origin URL once pre-classification found a relative external", fc.exportURLs)
	}
}

func TestExportTemporarySwallowsParsePropertyError(t *testing.T) {
	fc := &fakeClient{exportErr: &svnproto.CommandError{
		Stderr: "svn: E200020: Error parsing svn:externals property",
	}}
	r, err := Open(context.Background(), fc, Options{RemoteURL: "http://svn.example.org/repo"}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r.ReplayStarted = true
	if _, _, err := r.ExportTemporary(context.Background(), 5, t.TempDir()); err != nil {
		t.Fatalf("expected a parse-property error to be swallowed, got %v", err)
	}
}

func TestExportTemporaryPropagatesOtherExportErrors(t *testing.T) {
	fc := &fakeClient{exportErr: &svnproto.CommandError{Stderr: "svn: E170013: Unable to connect"}}
	r, err := Open(context.Background(), fc, Options{RemoteURL: "http://svn.example.org/repo"}, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r.ReplayStarted = true
	if _, _, err := r.ExportTemporary(context.Background(), 5, t.TempDir()); err == nil {
		t.Fatal("expected a non-parse-property export error to propagate")
	}
}

func removeAll(t *testing.T, dir string) {
	t.Helper()
	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}
