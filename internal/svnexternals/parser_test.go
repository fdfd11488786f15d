package svnexternals

import "testing"

func TestParseModernForm(t *testing.T) {
	def, err := Parse("^/trunk/foo foo", "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Path != "foo" {
		t.Errorf("path = %q, want %q", def.Path, "foo")
	}
	if def.URL != "http://example.org/repo/trunk/foo" {
		t.Errorf("url = %q", def.URL)
	}
	if def.LegacyFormat {
		t.Errorf("expected modern form, got legacy")
	}
}

func TestParseLegacyForm(t *testing.T) {
	def, err := Parse("foo -r1 http://ext/foo", "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Path != "foo" {
		t.Errorf("path = %q, want %q", def.Path, "foo")
	}
	if def.URL != "http://ext/foo" {
		t.Errorf("url = %q", def.URL)
	}
	if def.Revision == nil || *def.Revision != 1 {
		t.Errorf("revision = %v, want 1", def.Revision)
	}
	if !def.LegacyFormat {
		t.Errorf("expected legacy form")
	}
}

func TestParseRevisionFlag(t *testing.T) {
	def, err := Parse("-r5 ^/trunk/foo foo", "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Revision == nil || *def.Revision != 5 {
		t.Errorf("revision = %v, want 5", def.Revision)
	}
}

func TestParsePegRevision(t *testing.T) {
	def, err := Parse("^/trunk/foo@3 foo", "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.PegRevision == nil || *def.PegRevision != 3 {
		t.Errorf("peg = %v, want 3", def.PegRevision)
	}
	if def.URL != "http://example.org/repo/trunk/foo" {
		t.Errorf("url = %q, want no trailing @3", def.URL)
	}
}

func TestParsePegRevisionNotUserinfo(t *testing.T) {
	// "user@host" must not be mistaken for a peg revision.
	def, err := Parse("http://user@svn.example.org/repo/foo foo", "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.PegRevision != nil {
		t.Errorf("peg = %v, want nil (userinfo, not a peg)", def.PegRevision)
	}
}

func TestParseQuotedPath(t *testing.T) {
	def, err := Parse(`^/trunk/foobar "foo bar"`, "project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Path != "foo bar" {
		t.Errorf("path = %q, want %q", def.Path, "foo bar")
	}
	if def.URL != "http://example.org/repo/trunk/foobar" {
		t.Errorf("url = %q", def.URL)
	}
}

func TestParseRelativeURL(t *testing.T) {
	def, err := Parse("../other/foo foo", "trunk/project", "http://example.org/repo", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.URL != "http://example.org/repo/trunk/other/foo" {
		t.Errorf("url = %q", def.URL)
	}
}

func TestParseInvalidExternal(t *testing.T) {
	_, err := Parse("^tests@21 tests", "project", "http://example.org/repo", nil)
	if err == nil {
		t.Fatalf("expected an error for %q", "^tests@21 tests")
	}
	if _, ok := err.(*ErrInvalidExternal); !ok {
		t.Fatalf("expected *ErrInvalidExternal, got %T", err)
	}
}

func TestParseEmptyLineIsInvalid(t *testing.T) {
	if _, err := Parse("", "project", "http://example.org/repo", nil); err == nil {
		t.Fatalf("expected error for empty line")
	}
}

func TestDefinitionKeyStability(t *testing.T) {
	a := Definition{Path: "foo", URL: "http://x/foo"}
	b := Definition{Path: "foo", URL: "http://x/foo"}
	if a.Key() != b.Key() {
		t.Errorf("equal definitions should have equal keys")
	}
	rev := 3
	c := Definition{Path: "foo", URL: "http://x/foo", Revision: &rev}
	if a.Key() == c.Key() {
		t.Errorf("definitions differing by revision should have different keys")
	}
}

func TestDefinitionCacheKeyDistinguishesLegacy(t *testing.T) {
	a := Definition{Path: "foo", URL: "http://x/foo", LegacyFormat: false}
	b := Definition{Path: "foo", URL: "http://x/foo", LegacyFormat: true}
	if a.CacheKey() == b.CacheKey() {
		t.Errorf("legacy_format must participate in the cache key")
	}
}
