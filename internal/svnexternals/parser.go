// Package svnexternals parses a single line of an svn:externals property
// value into a structured ExternalDefinition, following the token
// classification order laid out in spec.md §4.2 (and ported closely from
// utils.py's parse_external_definition, since the official client's
// precedence between legacy/modern/quoted forms is part of the contract,
// not an implementation detail).
//
// SPDX-License-Identifier: BSD-2-Clause
package svnexternals

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/softwareheritage/svnloader/internal/pathutil"
)

// Definition is a fully parsed, structurally comparable external
// definition (spec.md §3 "External definition").
type Definition struct {
	Path         string
	URL          string
	Revision     *int
	PegRevision  *int
	RelativeURL  bool
	LegacyFormat bool
}

// Key returns the 4-tuple identity used for prev/curr set comparisons in
// the externals resolver (§4.5): (path, url, revision, peg_revision).
func (d Definition) Key() string {
	rev := "-"
	if d.Revision != nil {
		rev = strconv.Itoa(*d.Revision)
	}
	peg := "-"
	if d.PegRevision != nil {
		peg = strconv.Itoa(*d.PegRevision)
	}
	return d.Path + "\x00" + d.URL + "\x00" + rev + "\x00" + peg
}

// CacheKey returns the full structural-equality key the externals export
// cache uses (the dataclass-equality identity ExternalDefinition carries in
// the original): path, url, revision, peg_revision and legacy_format all
// participate, since two definitions differing only in legacy_format must
// not share a cached export (their effective peg revision differs).
func (d Definition) CacheKey() string {
	return d.Key() + "\x00" + strconv.FormatBool(d.LegacyFormat)
}

// DeadKey returns the (url, rev, peg, legacy) tuple used as the
// dead_externals set key.
func (d Definition) DeadKey() string {
	rev := "-"
	if d.Revision != nil {
		rev = strconv.Itoa(*d.Revision)
	}
	peg := "-"
	if d.PegRevision != nil {
		peg = strconv.Itoa(*d.PegRevision)
	}
	return d.URL + "\x00" + rev + "\x00" + peg + "\x00" + strconv.FormatBool(d.LegacyFormat)
}

// ErrInvalidExternal signals a parse failure for one external line. Per
// spec.md §4.2, the caller must drop *all* externals for the enclosing
// directory's change_prop when this is returned, matching the official
// client's all-or-nothing behavior.
type ErrInvalidExternal struct {
	Line string
}

func (e *ErrInvalidExternal) Error() string {
	return fmt.Sprintf("svnexternals: failed to parse external definition %q", e.Line)
}

// HeadAtDate resolves an @{ISO-8601} peg revision to a revision number; it
// is supplied by the caller (internal/pathutil or internal/svnrepo) so
// this package stays free of network/repository concerns.
type HeadAtDate func(repoRootURL string, date string) (int, error)

// Parse parses one non-empty, non-comment svn:externals line.
//
// dirPath is the directory (repository-relative) that carries the
// property; repoOriginURL is the repository's origin URL used to resolve
// ^/, //, /, and ../ forms.
func Parse(line, dirPath, repoOriginURL string, headAtDate HeadAtDate) (Definition, error) {
	def, err := parseTokens(line, dirPath, repoOriginURL)
	if err != nil {
		return Definition{}, &ErrInvalidExternal{Line: line}
	}

	// @N / @{date} peg revision extraction, and unquoting %20 etc.
	if idx := strings.LastIndex(def.URL, "@"); idx >= 0 {
		urlPart := def.URL[:idx]
		revPart := def.URL[idx+1:]
		if n, convErr := strconv.Atoi(revPart); convErr == nil {
			def.PegRevision = &n
			def.URL = urlPart
		} else {
			parsed, perr := url.Parse(def.URL)
			if perr == nil && parsed.User == nil {
				// URL like http://user@svn.example.org/ — no userinfo
				// means the '@' wasn't part of user@host, so still trim.
				def.URL = urlPart
			}
			if strings.HasPrefix(revPart, "{") && strings.HasSuffix(revPart, "}") {
				date := revPart[1 : len(revPart)-1]
				if headAtDate != nil {
					if rev, derr := headAtDate(pathutil.RepoRootGuess(def.URL), date); derr == nil {
						def.PegRevision = &rev
					}
					// Resolution failure: peg stays unset, external is
					// attempted anyway (spec.md §4.2).
				}
			}
		}
	}

	decoded, err := url.QueryUnescape(def.URL)
	if err == nil {
		def.URL = decoded
	}

	if def.URL == "" || def.Path == "" {
		return Definition{}, &ErrInvalidExternal{Line: line}
	}
	def.Path = strings.TrimRight(def.Path, "/")
	return def, nil
}

func parseTokens(line, dirPath, repoOriginURL string) (Definition, error) {
	var def Definition
	var prevPart string
	parts := strings.Fields(line)
	for _, part := range parts {
		switch {
		case prevPart == "-r":
			n, err := strconv.Atoi(part)
			if err != nil {
				return Definition{}, err
			}
			def.Revision = &n
		case strings.HasPrefix(part, "-r") && part != "-r":
			n, err := strconv.Atoi(part[2:])
			if err != nil {
				return Definition{}, err
			}
			def.Revision = &n
		case strings.HasPrefix(part, "^/"):
			def.URL = pathutil.URLJoin(repoOriginURL, part[2:])
			def.RelativeURL = !strings.HasPrefix(def.URL, repoOriginURL)
		case strings.HasPrefix(part, "//"):
			scheme := schemeOf(repoOriginURL)
			def.URL = scheme + ":" + part
			def.RelativeURL = !strings.HasPrefix(def.URL, repoOriginURL)
		case strings.HasPrefix(part, "/"):
			root := rootURL(repoOriginURL)
			def.URL = pathutil.URLJoin(root, part)
			def.RelativeURL = !strings.HasPrefix(def.URL, repoOriginURL)
		case strings.HasPrefix(part, "../"):
			def.URL = pathutil.URLJoin(repoOriginURL, dirPath, part)
			def.RelativeURL = !strings.HasPrefix(def.URL, repoOriginURL)
		case looksLikeAbsoluteURL(part):
			def.URL = part
		case strings.HasPrefix(part, `\"`):
			path, err := extractQuotedPath(line, part, `\"`)
			if err != nil {
				return Definition{}, err
			}
			def.Path = `"` + path + `"`
		case strings.HasSuffix(part, `\"`):
			continue
		case strings.HasPrefix(part, `"`) || strings.HasPrefix(part, "'"):
			path, err := extractQuotedPath(line, part, part[:1])
			if err != nil {
				return Definition{}, err
			}
			def.Path = path
		case strings.HasSuffix(part, `"`) || strings.HasSuffix(part, "'"):
			continue
		case !strings.HasPrefix(part, `\`) && part != "-r":
			path := strings.ReplaceAll(part, `\\`, `\`)
			if path == part {
				path = strings.ReplaceAll(part, `\`, "")
			}
			path = strings.TrimPrefix(path, "./")
			def.Path = path
		}
		prevPart = part
	}

	def.LegacyFormat = isLegacyFormat(line, def)
	return def, nil
}

func extractQuotedPath(line, part, quote string) (string, error) {
	split := strings.Split(line, quote)
	prefix := strings.TrimPrefix(part, quote)
	if quote == `\"` {
		prefix = strings.TrimPrefix(part, `\"`)
	} else {
		prefix = strings.Trim(part, quote)
	}
	for _, e := range split {
		if strings.HasPrefix(e, prefix) {
			return strings.ReplaceAll(e, `\ `, " "), nil
		}
	}
	return "", fmt.Errorf("svnexternals: no matching quoted segment in %q", line)
}

func looksLikeAbsoluteURL(part string) bool {
	// Mirrors the Python re.match(r"^.*:*//.*", external_part) check: any
	// token containing "//" preceded by optional colons.
	idx := strings.Index(part, "//")
	return idx > 0
}

func schemeOf(u string) string {
	if idx := strings.Index(u, "://"); idx >= 0 {
		return u[:idx]
	}
	return ""
}

func rootURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Scheme + "://" + parsed.Host
}

func isLegacyFormat(line string, def Definition) bool {
	trimmed := strings.TrimSpace(line)
	if def.Path == "" || def.URL == "" {
		return false
	}
	return strings.HasPrefix(trimmed, def.Path) && strings.HasSuffix(trimmed, def.URL) && schemeOf(def.URL) != ""
}
