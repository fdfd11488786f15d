package replay

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/svnexternals"
	"github.com/softwareheritage/svnloader/internal/svnproto"
)

// DirEditor mutates the Merkle directory and scratch tree for one
// directory path, and resolves the svn:externals reconciliation on close
// (spec.md §4.4/§4.5).
type DirEditor struct {
	editor *Editor
	path   string

	// externals holds this revision's freshly-parsed externals (keyed by
	// the local path they target), populated only when ChangeProp actually
	// observed a value different from what was last recorded for this
	// directory. Empty/nil means "no real change this revision" — close
	// falls back to whatever DirState.Externals already holds.
	externals map[string][]svnexternals.Definition
}

func (d *DirEditor) dirState() *DirState {
	return d.editor.dirState(d.path)
}

// OpenDirectory returns a DirEditor for an existing child directory.
func (d *DirEditor) OpenDirectory(name string) (svnproto.DirEditor, error) {
	d.editor.debugf("opening directory %s", name)
	return &DirEditor{editor: d.editor, path: joinPath(d.path, name)}, nil
}

// AddDirectory adds a new child directory, optionally by copying from a
// prior revision's path (spec.md §4.4 add_directory).
func (d *DirEditor) AddDirectory(name, copyFromPath string, copyFromRev int) (svnproto.DirEditor, error) {
	d.editor.debugf("adding directory %s, copyfrom=%s@%d", name, copyFromPath, copyFromRev)
	childPath := joinPath(d.path, name)

	if err := d.editor.Scratch.MkdirAll(childPath); err != nil {
		return nil, fmt.Errorf("replay: creating scratch directory %s: %w", childPath, err)
	}

	if copyFromRev < 0 {
		if d.editor.Tree.Get(childPath) == nil {
			d.editor.Tree.Put(childPath, merkle.NewDirectory())
		}
		return &DirEditor{editor: d.editor, path: childPath}, nil
	}

	if err := d.copyDirectoryFrom(childPath, copyFromPath, copyFromRev); err != nil {
		return nil, err
	}
	return &DirEditor{editor: d.editor, path: childPath}, nil
}

// copyDirectoryFrom implements add_directory's copy-source branch: export
// the source tree, ingest it into the Merkle directory, then copy over any
// svn:externals properties found on the copied subtree so their
// DirStates are seeded correctly (spec.md §4.4).
func (d *DirEditor) copyDirectoryFrom(childPath, copyFromPath string, copyFromRev int) error {
	e := d.editor
	url := e.Repo.ReposRootURL + "/" + strings.TrimPrefix(copyFromPath, "/")
	if err := e.removePath(childPath); err != nil {
		return err
	}
	full := e.Scratch.Full(childPath)
	if err := e.Repo.Export(e.ctx, svnproto.ExportOptions{
		URL: url, To: full, Peg: copyFromRev,
		IgnoreKeywords: true, Overwrite: true, IgnoreExternals: true,
		RemoveDestPath: true,
	}); err != nil {
		return fmt.Errorf("replay: exporting copy source %s@%d: %w", url, copyFromRev, err)
	}
	dir, err := merkle.FromDisk(full, e.MaxContentSize)
	if err != nil {
		return fmt.Errorf("replay: ingesting copied directory %s: %w", childPath, err)
	}
	e.Tree.Put(childPath, dir)

	externals, err := e.Repo.Propget(e.ctx, "svn:externals", url, copyFromRev, copyFromRev, true)
	if err != nil {
		// propget over a dead copy source is tolerated: the directory
		// content itself was already exported above.
		externals = nil
	}
	copyFromClean := strings.TrimPrefix(copyFromPath, "/")

	setDirState := func(destPath, sourcePath string) {
		u := e.Repo.ReposRootURL + "/" + sourcePath
		value, ok := externals[u]
		if !ok {
			return
		}
		synth := &DirEditor{editor: e, path: destPath}
		synth.ChangeProp(svnproto.PropExternals, value)
		synth.Close()
	}
	setDirState(childPath, copyFromClean)

	_ = filepathWalkDirs(full, func(relDir string) {
		destPath := joinPath(childPath, relDir)
		sourcePath := joinPath(copyFromClean, relDir)
		setDirState(destPath, sourcePath)
	})
	return nil
}

// filepathWalkDirs visits every directory beneath root (not root itself),
// yielding paths relative to root with forward slashes.
func filepathWalkDirs(root string, visit func(relDir string)) error {
	return walkDirsRec(root, "", visit)
}

func walkDirsRec(fullRoot, rel string, visit func(string)) error {
	entries, err := os.ReadDir(joinFSPath(fullRoot, rel))
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		childRel := joinPath(rel, entry.Name())
		visit(childRel)
		if err := walkDirsRec(fullRoot, childRel, visit); err != nil {
			return err
		}
	}
	return nil
}

func joinFSPath(root, rel string) string {
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// OpenFile returns a FileEditor for an existing file, pre-marking its
// Merkle slot as an empty Content so a pure property-only change (no
// close-triggering textdelta) still gets the final from_file read applied
// (spec.md §4.4 open_file).
func (d *DirEditor) OpenFile(name string) (svnproto.FileEditor, error) {
	d.editor.debugf("opening file %s", name)
	path := joinPath(d.path, name)
	d.editor.Tree.Put(path, &merkle.ContentNode{})
	return &FileEditor{editor: d.editor, path: path}, nil
}

// AddFile creates a new file, optionally by copying from a prior revision.
func (d *DirEditor) AddFile(name, copyFromPath string, copyFromRev int) (svnproto.FileEditor, error) {
	d.editor.debugf("adding file %s, copyfrom=%s@%d", name, copyFromPath, copyFromRev)
	path := joinPath(d.path, name)
	e := d.editor

	if copyFromRev < 0 {
		e.Tree.Put(path, &merkle.ContentNode{})
		return &FileEditor{editor: e, path: path}, nil
	}

	url := e.Repo.ReposRootURL + "/" + strings.TrimPrefix(copyFromPath, "/")
	if err := e.removePath(path); err != nil {
		return nil, err
	}
	full := e.Scratch.Full(path)
	if err := e.Repo.Export(e.ctx, svnproto.ExportOptions{
		URL: url, To: full, Peg: copyFromRev,
		IgnoreKeywords: true, Overwrite: true, RemoveDestPath: true,
	}); err != nil {
		return nil, fmt.Errorf("replay: exporting copy source file %s@%d: %w", url, copyFromRev, err)
	}
	content, err := merkle.ContentFromFile(full, e.MaxContentSize)
	if err != nil {
		return nil, fmt.Errorf("replay: ingesting copied file %s: %w", path, err)
	}
	e.Tree.Put(path, content)
	return &FileEditor{editor: e, path: path}, nil
}

// ChangeProp handles svn:externals changes; every other property is
// logged only (spec.md §4.4 change_prop, directory variant).
func (d *DirEditor) ChangeProp(key, value string) error {
	if key != svnproto.PropExternals {
		d.editor.debugf("setting property %s on path %s (ignored)", key, d.path)
		return nil
	}
	ds := d.dirState()
	if value == ds.ExternalsRaw {
		// No real change since the value last recorded for this
		// directory: behave as if change_prop had not been called at all.
		return nil
	}
	ds.ExternalsRaw = value
	d.editor.debugf("setting svn:externals on path %s to %q", d.path, value)

	parsed := map[string][]svnexternals.Definition{}
	if value != "" {
		ok := true
		for _, line := range strings.Split(value, "\n") {
			line = strings.Trim(line, " \t\r")
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			def, err := svnexternals.Parse(line, d.path, d.editor.Repo.OriginURL, d.headAtDate())
			if err != nil {
				d.editor.debugf("failed to parse external %q on path %s: %v", line, d.path, err)
				ok = false
				break
			}
			parsed[def.Path] = append(parsed[def.Path], def)
		}
		if !ok {
			// As the official client does: discard all externals for this
			// directory on any parse failure.
			parsed = map[string][]svnexternals.Definition{}
		}
	}
	d.externals = parsed

	if len(d.externals) == 0 {
		// Externals may have just been unset on this directory; remove
		// whatever paths were previously materialized for it.
		for path := range ds.Externals {
			if err := d.removeExternalPath(path, true, false, ""); err != nil {
				return err
			}
		}
		delete(d.editor.DirStates, d.path)
	}
	return nil
}

func (d *DirEditor) headAtDate() svnexternals.HeadAtDate {
	return func(repoRootURL, date string) (int, error) {
		return d.editor.Repo.GetHeadRevisionAtDate(d.editor.ctx, date)
	}
}

// DeleteEntry implements spec.md §4.4 delete_entry: removes any external
// paths overlapping the deleted directory, then walks the remaining
// subtree bottom-up dropping non-external descendants, finally removing
// the top path itself unless it is an external path.
func (d *DirEditor) DeleteEntry(name string, rev int) error {
	d.editor.debugf("deleting directory entry %s", name)
	path := joinPath(d.path, name)
	e := d.editor
	full := e.Scratch.Full(path)

	if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
		if ds, ok := e.DirStates[path]; ok {
			for extPath := range ds.ExternalsPaths {
				if err := d.removeExternalPath(extPath, false, true, path); err != nil {
					return err
				}
			}
		}
	}

	if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
		descendants, err := bottomUpDescendants(full)
		if err != nil {
			return fmt.Errorf("replay: walking %s for deletion: %w", full, err)
		}
		for _, rel := range descendants {
			repoPath := joinPath(path, rel)
			if _, isExternal := e.ExternalPaths[repoPath]; !isExternal {
				if err := e.removePath(repoPath); err != nil {
					return err
				}
			}
		}
	}

	if _, isExternal := e.ExternalPaths[path]; !isExternal {
		if err := e.removePath(path); err != nil {
			return err
		}
	}
	return nil
}

// bottomUpDescendants lists every file/directory beneath root, deepest
// first, relative to root with forward slashes.
func bottomUpDescendants(root string) ([]string, error) {
	var out []string
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := os.ReadDir(joinFSPath(root, rel))
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			childRel := joinPath(rel, entry.Name())
			if entry.IsDir() {
				if err := walk(childRel); err != nil {
					return err
				}
			}
			out = append(out, childRel)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// Close runs the externals-reconciliation protocol (spec.md §4.5), then
// (for the root) computes has_relative_externals/has_recursive_externals.
func (d *DirEditor) Close() error {
	d.editor.debugf("closing directory %s", d.path)
	ds := d.dirState()
	prevExternals := ds.Externals

	var effective map[string][]svnexternals.Definition
	if len(d.externals) > 0 {
		effective = d.externals
		prevSet := externalsKeySet(prevExternals)
		currSet := externalsKeySet(effective)
		for defKey, def := range prevSet {
			if _, stillPresent := currSet[defKey]; stillPresent {
				continue
			}
			if err := d.removeExternalPath(def.Path, true, false, ""); err != nil {
				return err
			}
			if defs, ok := effective[def.Path]; ok && len(defs) > 0 {
				if err := d.processExternal(def.Path, defs[0], false, true); err != nil {
					return err
				}
			}
		}
	} else {
		effective = prevExternals
	}

	paths := make([]string, 0, len(effective))
	for p := range effective {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		defs := effective[p]
		for i, def := range defs {
			if err := d.processExternal(p, def, i == 0, false); err != nil {
				return err
			}
		}
	}

	if len(d.externals) > 0 {
		ds.Externals = d.externals
	}

	if d.path == "" {
		d.closeRoot()
	}
	return nil
}

func externalsKeySet(m map[string][]svnexternals.Definition) map[string]svnexternals.Definition {
	out := map[string]svnexternals.Definition{}
	for _, defs := range m {
		for _, def := range defs {
			out[def.Key()] = def
		}
	}
	return out
}

func (d *DirEditor) closeRoot() {
	e := d.editor
	relative := false
	for _, v := range e.ValidExternals {
		if v.Relative {
			relative = true
			break
		}
	}
	e.Repo.HasRelativeExternals = relative

	recursive := false
outer:
	for path, ds := range e.DirStates {
		for extPath, defs := range ds.Externals {
			for _, def := range defs {
				if isRecursiveExternal(e.Repo.OriginURL, path, extPath, def.URL) {
					recursive = true
					break outer
				}
			}
		}
	}
	e.Repo.HasRecursiveExternals = recursive

	if recursive {
		for extPath := range copyExternalPaths(e.ExternalPaths) {
			_ = d.removeExternalPath(extPath, true, true, "")
		}
	}
}

func copyExternalPaths(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// isRecursiveExternal mirrors pathutil.IsRecursiveExternal's rule with
// unescaped repository-relative paths (externals store repo-relative
// paths without percent-encoding internally).
func isRecursiveExternal(originURL, dirPath, externalPath, externalURL string) bool {
	if externalURL == "" {
		return false
	}
	candidate := strings.TrimRight(originURL, "/")
	if dirPath != "" {
		candidate += "/" + dirPath
	}
	if externalPath != "" {
		candidate += "/" + externalPath
	}
	target := strings.TrimRight(externalURL, "/")
	if candidate == target {
		return false
	}
	return strings.HasPrefix(candidate, target+"/")
}
