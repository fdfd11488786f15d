// Package svnproto is the assumed SVN remote-access collaborator of
// spec.md §6: "The SVN remote-access library providing iter_log, replay,
// export, checkout, propget, info. We assume it exists and wrap it only to
// add retry semantics." No Go binding for SVN's RA layer exists anywhere
// in the retrieved corpus, so this package talks to the real `svn`
// command-line client (and `svnlook`/`svnadmin` for the dump frontend),
// the way the teacher's hgclient.go talks to `hg serve --cmdserver pipe`
// over a subprocess pipe instead of linking libhg.
//
// SPDX-License-Identifier: BSD-2-Clause
package svnproto

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ChangeAction enumerates one changed-path's action in a log entry.
type ChangeAction string

const (
	ActionAdd      ChangeAction = "A"
	ActionDelete   ChangeAction = "D"
	ActionModify   ChangeAction = "M"
	ActionReplace  ChangeAction = "R"
)

// ChangedPath describes one path entry of a revision's changed-paths map.
type ChangedPath struct {
	Path         string
	Action       ChangeAction
	Kind         string // "file" or "dir"
	CopyFromPath string
	CopyFromRev  int // -1 if not a copy
}

// LogEntry is one SVN log entry (spec.md §3 "SVN log entry").
type LogEntry struct {
	Revision     int
	Author       string
	Date         time.Time
	Message      []byte
	ChangedPaths []ChangedPath
	HasChildren  bool
}

// Info is the subset of `svn info --xml` this loader consumes.
type Info struct {
	URL          string
	ReposRootURL string
	Revision     int
	UUID         string
}

// Client is the operation surface spec.md §6 requires of the SVN
// remote-access collaborator. ReplayEditor below is driven by Replay.
type Client interface {
	Info(ctx context.Context, url string, peg, rev int) (Info, error)
	HeadRevision(ctx context.Context, url string) (int, error)
	Log(ctx context.Context, url string, start, end int, limit int) ([]LogEntry, error)
	LogAt(ctx context.Context, url string, rev int) (LogEntry, error)
	Replay(ctx context.Context, url string, rev, lowWaterMark int, editor ReplayEditor) error
	Export(ctx context.Context, opts ExportOptions) error
	Checkout(ctx context.Context, url, dest string, rev int) error
	Propget(ctx context.Context, name, target string, peg, rev int, recurse bool) (map[string]string, error)
	// Props returns every property set directly on target at rev (not
	// recursive): the property-change delivery this loader's replay
	// reconstruction needs, since the real RA replay API would otherwise
	// hand change_prop callbacks to the editor directly.
	Props(ctx context.Context, target string, peg, rev int) (map[string]string, error)
	Cleanup(ctx context.Context, workingCopy string) error
}

// ExportOptions mirrors SvnRepo.export's full parameter surface (spec.md §4.3).
type ExportOptions struct {
	URL             string
	To              string
	Rev             int // 0 means HEAD
	Peg             int
	Recurse         bool
	IgnoreExternals bool
	Overwrite       bool
	IgnoreKeywords  bool
	RemoveDestPath  bool
	// Env carries extra environment entries, used by the repository facade
	// to force SSH_ASKPASS so svn+ssh:// externals never block on a TTY
	// prompt (spec.md §4.3).
	Env []string
}

// cliClient shells out to the system `svn` binary.
type cliClient struct {
	svnBinary string
	log       *logrus.Entry
}

// NewCLIClient returns a Client backed by the system `svn` executable.
func NewCLIClient(svnBinary string, log *logrus.Entry) Client {
	if svnBinary == "" {
		svnBinary = "svn"
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &cliClient{svnBinary: svnBinary, log: log}
}

func (c *cliClient) run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.svnBinary, args...)
	if len(env) > 0 {
		cmd.Env = env
	}
	c.log.WithField("argv", shellquote.Join(append([]string{c.svnBinary}, args...)...)).Debug("running svn")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Argv: args, Stderr: sanitizeXML(stderr.Bytes()), Err: err}
	}
	return stdout.Bytes(), nil
}

// CommandError wraps a failed svn invocation with its stderr, classified
// later by internal/svnretry and internal/svnrepo against the known error
// substrings of spec.md §4.1/§7.
type CommandError struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("svnproto: %s failed: %v: %s", shellquote.Join(e.Argv...), e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// sanitizeXML mirrors _ra_codecs_error_handler's policy: subvertpy may
// fail to decode non-UTF-8 svn properties; rather than propagate a decode
// error, substitute the empty string for any ill-formed byte run and keep
// going, since the raw property value is not otherwise consumed here.
func sanitizeXML(b []byte) string {
	decoder := unicode.UTF8.NewDecoder()
	out, _, err := transform.Bytes(decoder, b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "")
	}
	return string(out)
}

func revArg(rev int) string {
	if rev <= 0 {
		return "HEAD"
	}
	return strconv.Itoa(rev)
}

// --- XML response shapes for `svn log/info --xml` ---

type xmlLog struct {
	Entries []xmlLogEntry `xml:"logentry"`
}

type xmlLogEntry struct {
	Revision int    `xml:"revision,attr"`
	Author   string `xml:"author"`
	Date     string `xml:"date"`
	Msg      string `xml:"msg"`
	Paths    []struct {
		Action       string `xml:"action,attr"`
		Kind         string `xml:"kind,attr"`
		CopyFromPath string `xml:"copyfrom-path,attr"`
		CopyFromRev  int    `xml:"copyfrom-rev,attr"`
		Path         string `xml:",chardata"`
	} `xml:"paths>path"`
}

func (c *cliClient) Log(ctx context.Context, url string, start, end int, limit int) ([]LogEntry, error) {
	args := []string{"log", "--xml", "-v", "-r", fmt.Sprintf("%s:%s", revArg(start), revArg(end))}
	if limit > 0 {
		args = append(args, "--limit", strconv.Itoa(limit))
	}
	args = append(args, url)
	out, err := c.run(ctx, nil, args...)
	if err != nil {
		return nil, err
	}
	var parsed xmlLog
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("svnproto: parsing svn log --xml: %w", err)
	}
	entries := make([]LogEntry, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		date, _ := time.Parse(time.RFC3339Nano, e.Date)
		le := LogEntry{
			Revision: e.Revision,
			Author:   e.Author,
			Date:     date,
			Message:  []byte(e.Msg),
		}
		for _, p := range e.Paths {
			cp := ChangedPath{
				Path:        strings.TrimSpace(p.Path),
				Action:      ChangeAction(p.Action),
				Kind:        p.Kind,
				CopyFromRev: -1,
			}
			if p.CopyFromPath != "" {
				cp.CopyFromPath = p.CopyFromPath
				cp.CopyFromRev = p.CopyFromRev
			}
			le.ChangedPaths = append(le.ChangedPaths, cp)
		}
		entries = append(entries, le)
	}
	return entries, nil
}

func (c *cliClient) LogAt(ctx context.Context, url string, rev int) (LogEntry, error) {
	entries, err := c.Log(ctx, url, rev, rev, 1)
	if err != nil {
		return LogEntry{}, err
	}
	if len(entries) == 0 {
		return LogEntry{}, fmt.Errorf("svnproto: no log entry at revision %d", rev)
	}
	return entries[0], nil
}

type xmlInfo struct {
	Entries []struct {
		Path     string `xml:"path,attr"`
		Revision int    `xml:"revision,attr"`
		URL      string `xml:"url"`
		Repo     struct {
			Root string `xml:"root"`
			UUID string `xml:"uuid"`
		} `xml:"repository"`
	} `xml:"entry"`
}

func (c *cliClient) Info(ctx context.Context, url string, peg, rev int) (Info, error) {
	target := url
	if peg > 0 {
		target = fmt.Sprintf("%s@%d", url, peg)
	}
	args := []string{"info", "--xml", "-r", revArg(rev), target}
	out, err := c.run(ctx, nil, args...)
	if err != nil {
		return Info{}, err
	}
	var parsed xmlInfo
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return Info{}, fmt.Errorf("svnproto: parsing svn info --xml: %w", err)
	}
	if len(parsed.Entries) == 0 {
		return Info{}, fmt.Errorf("svnproto: empty info response for %s", url)
	}
	e := parsed.Entries[0]
	return Info{URL: e.URL, ReposRootURL: e.Repo.Root, Revision: e.Revision, UUID: e.Repo.UUID}, nil
}

func (c *cliClient) HeadRevision(ctx context.Context, url string) (int, error) {
	info, err := c.Info(ctx, url, 0, 0)
	if err != nil {
		return 0, err
	}
	return info.Revision, nil
}

func (c *cliClient) Export(ctx context.Context, opts ExportOptions) error {
	args := []string{"export", "--force"}
	if opts.IgnoreExternals {
		args = append(args, "--ignore-externals")
	}
	if opts.IgnoreKeywords {
		args = append(args, "--ignore-keywords")
	}
	if !opts.Recurse {
		args = append(args, "--depth", "immediates")
	}
	target := opts.URL
	if opts.Peg > 0 {
		target = fmt.Sprintf("%s@%d", opts.URL, opts.Peg)
	}
	args = append(args, "-r", revArg(opts.Rev), target, opts.To)
	_, err := c.run(ctx, opts.Env, args...)
	return err
}

func (c *cliClient) Checkout(ctx context.Context, url, dest string, rev int) error {
	_, err := c.run(ctx, nil, "checkout", "-r", revArg(rev), url, dest)
	return err
}

type xmlProplist struct {
	Targets []struct {
		Path       string `xml:"path,attr"`
		Properties []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"property"`
	} `xml:"target"`
}

func (c *cliClient) proplist(ctx context.Context, target string, peg, rev int, recurse bool) (xmlProplist, error) {
	t := target
	if peg > 0 {
		t = fmt.Sprintf("%s@%d", target, peg)
	}
	args := []string{"proplist", "--xml", "-v", "-r", revArg(rev)}
	if recurse {
		args = append(args, "-R")
	}
	args = append(args, t)
	out, err := c.run(ctx, nil, args...)
	if err != nil {
		return xmlProplist{}, err
	}
	var parsed xmlProplist
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return xmlProplist{}, fmt.Errorf("svnproto: parsing svn proplist --xml: %w", err)
	}
	return parsed, nil
}

func (c *cliClient) Propget(ctx context.Context, name, target string, peg, rev int, recurse bool) (map[string]string, error) {
	parsed, err := c.proplist(ctx, target, peg, rev, recurse)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string)
	for _, tgt := range parsed.Targets {
		for _, p := range tgt.Properties {
			if p.Name == name {
				result[tgt.Path] = p.Value
			}
		}
	}
	return result, nil
}

func (c *cliClient) Props(ctx context.Context, target string, peg, rev int) (map[string]string, error) {
	parsed, err := c.proplist(ctx, target, peg, rev, false)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string)
	if len(parsed.Targets) == 0 {
		return result, nil
	}
	for _, p := range parsed.Targets[0].Properties {
		result[p.Name] = p.Value
	}
	return result, nil
}

func (c *cliClient) Cleanup(ctx context.Context, workingCopy string) error {
	_, err := c.run(ctx, nil, "cleanup", workingCopy)
	return err
}
