// Package pathutil implements the small set of URL/path helpers the
// replay engine and externals resolver need: SVN-style URL joining,
// recursive-external detection, URL quoting, and a bounded per-process
// memoization cache for HEAD-at-date / repository-root lookups (spec.md
// §4.2, §4.3, §9).
//
// SPDX-License-Identifier: BSD-2-Clause
package pathutil

import (
	"net/url"
	"path"
	"strings"

	cmap "github.com/orcaman/concurrent-map"
)

// URLJoin joins a base URL with path components the way svn_urljoin does:
// components are individually stripped of leading/trailing slashes and
// joined with path.Clean-style ".." resolution against the base's path.
func URLJoin(base string, parts ...string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		// Fall back to naive joining; base is not URL-shaped (e.g. a bare
		// repository-relative directory path used during ../ resolution).
		cleaned := make([]string, 0, len(parts)+1)
		cleaned = append(cleaned, strings.Trim(base, "/"))
		for _, p := range parts {
			cleaned = append(cleaned, strings.Trim(p, "/"))
		}
		return "/" + path.Clean(strings.Join(cleaned, "/"))
	}
	segs := make([]string, 0, len(parts)+1)
	if parsed.Path != "" {
		segs = append(segs, strings.Trim(parsed.Path, "/"))
	}
	for _, p := range parts {
		segs = append(segs, strings.Trim(p, "/"))
	}
	joined := "/" + path.Clean(strings.Join(segs, "/"))
	if joined == "/." {
		joined = "/"
	}
	return parsed.Scheme + "://" + parsed.Host + joined
}

// QuoteSVNURL percent-encodes an URL for subversion CLI operations the way
// quote_svn_url does, leaving SVN/URL-meaningful characters ("/:!$&'()*+,=@")
// untouched.
func QuoteSVNURL(u string) string {
	const safe = "/:!$&'()*+,=@"
	var b strings.Builder
	for _, r := range u {
		if r < 0x80 && (isUnreserved(byte(r)) || strings.ContainsRune(safe, r)) {
			b.WriteRune(r)
		} else {
			b.WriteString(url.QueryEscape(string(r)))
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// IsRecursiveExternal reports whether exporting an external would recurse
// into the repository itself (https://issues.apache.org/jira/browse/SVN-1703):
// the URL at which the external would be placed (the defining directory's
// URL joined with the external path) lies strictly below the external's
// source URL (after stripping trailing slashes; an exact match is not
// recursive), per spec.md §4.2/§4.5.
func IsRecursiveExternal(originURL, dirPath, externalPath, externalURL string) bool {
	if externalURL == "" {
		return false
	}
	candidate := URLJoin(originURL, url.PathEscape(dirPath), url.PathEscape(externalPath))
	candidate = strings.TrimRight(candidate, "/")
	target := strings.TrimRight(externalURL, "/")
	if candidate == target {
		return false
	}
	return strings.HasPrefix(candidate, target+"/")
}

// RepoRootGuess returns a best-effort scheme://host prefix of a URL, used
// only to key the HEAD-at-date memoization cache when resolving an
// @{date} peg on a possibly-unvalidated external URL.
func RepoRootGuess(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Memo is a bounded, per-process memoization cache keyed by an arbitrary
// string (typically "<url>\x00<date>" or "<url>"), backed by
// orcaman/concurrent-map (spec.md §9 "bounded LRU keyed by the full
// argument tuple; cache is per-process"). Get is safe for concurrent use;
// Put's eviction bookkeeping is not synchronized, so concurrent Put (and
// GetOrCompute) calls on one Memo are not safe.
type Memo struct {
	data  cmap.ConcurrentMap
	order *orderTracker
	limit int
}

// NewMemo creates a memoization cache holding at most limit entries,
// evicting the oldest insertion once full (a simple FIFO bound is
// sufficient here: these caches hold repository-root and HEAD-at-date
// results, whose working set is the number of distinct externals sources
// touched in a visit, not unbounded).
func NewMemo(limit int) *Memo {
	return &Memo{data: cmap.New(), order: newOrderTracker(limit), limit: limit}
}

// Get returns a cached value and whether it was present.
func (m *Memo) Get(key string) (interface{}, bool) {
	return m.data.Get(key)
}

// Put stores a value, evicting the oldest entry if the cache is at capacity.
func (m *Memo) Put(key string, value interface{}) {
	if _, exists := m.data.Get(key); !exists {
		if evict, ok := m.order.push(key); ok {
			m.data.Remove(evict)
		}
	}
	m.data.Set(key, value)
}

// GetOrCompute returns the cached value for key, computing and storing it
// via fn on a miss. fn's error is never cached.
func (m *Memo) GetOrCompute(key string, fn func() (interface{}, error)) (interface{}, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	m.Put(key, v)
	return v, nil
}

// orderTracker is a tiny FIFO ring used only to decide eviction order; it
// is not concurrency-safe and Memo.Put calls it without a lock (a single
// replay visit is strictly sequential per spec.md §5).
type orderTracker struct {
	keys  []string
	limit int
}

func newOrderTracker(limit int) *orderTracker {
	if limit <= 0 {
		limit = 1024
	}
	return &orderTracker{limit: limit}
}

func (o *orderTracker) push(key string) (string, bool) {
	o.keys = append(o.keys, key)
	if len(o.keys) > o.limit {
		evict := o.keys[0]
		o.keys = o.keys[1:]
		return evict, true
	}
	return "", false
}
