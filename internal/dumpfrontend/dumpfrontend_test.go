package dumpfrontend

import (
	"errors"
	"testing"
)

func TestBinariesWithDefaults(t *testing.T) {
	b := Binaries{}.withDefaults()
	if b.SVNAdmin != "svnadmin" || b.SVNRdump != "svnrdump" || b.Gzip != "gzip" {
		t.Fatalf("unexpected defaults: %+v", b)
	}

	custom := Binaries{SVNAdmin: "/opt/svnadmin"}.withDefaults()
	if custom.SVNAdmin != "/opt/svnadmin" {
		t.Errorf("expected explicit SVNAdmin to survive, got %q", custom.SVNAdmin)
	}
	if custom.SVNRdump != "svnrdump" {
		t.Errorf("expected SVNRdump to default, got %q", custom.SVNRdump)
	}
}

func TestLoggableArgsRedactsPassword(t *testing.T) {
	in := []string{"dump", "svn://x", "--username", "bob", "--password", "hunter2"}
	out := loggableArgs(in)
	if out[5] != "***" {
		t.Errorf("expected password redacted, got %v", out)
	}
	if in[5] != "hunter2" {
		t.Errorf("loggableArgs must not mutate its input, got %v", in)
	}
}

func TestLoggableArgsNoPassword(t *testing.T) {
	in := []string{"dump", "svn://x"}
	out := loggableArgs(in)
	if len(out) != len(in) || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("expected args unchanged, got %v", out)
	}
}

func TestDumpedRevisionRegexp(t *testing.T) {
	m := dumpedRevisionRE.FindStringSubmatch("* Dumped revision 42.")
	if m == nil || m[1] != "42" {
		t.Fatalf("expected to capture revision 42, got %v", m)
	}
	if dumpedRevisionRE.MatchString("svnrdump: E170013: Unable to connect") {
		t.Errorf("unexpected match on unrelated line")
	}
}

func TestNotFoundRegexp(t *testing.T) {
	if !notFoundRE.MatchString("svnrdump: E170013: Unable to connect to a repository") {
		t.Errorf("expected E170013 to match notFoundRE")
	}
	if notFoundRE.MatchString("svnrdump: E200009: file not found") {
		t.Errorf("unexpected match on unrelated error code")
	}
}

func TestTruncatedDumpErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &TruncatedDumpError{LastRevision: 17, Err: inner}
	if !errors.Is(err, inner) {
		t.Errorf("expected errors.Is to find the wrapped error")
	}
	if err.Error() == "" {
		t.Errorf("expected non-empty error message")
	}
}
