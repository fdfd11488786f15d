package replay

import (
	"fmt"
	"os"
	"strings"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/scratch"
	"github.com/softwareheritage/svnloader/internal/svnexternals"
	"github.com/softwareheritage/svnloader/internal/svnproto"
)

// processExternal attempts to export one external definition into the
// reconstructed filesystem, memoizing successful exports in the editor's
// externals cache and tracking permanently-dead ones so later revisions
// don't keep retrying a 404'd URL (spec.md §4.5 process_external).
func (d *DirEditor) processExternal(path string, def svnexternals.Definition, removeTargetPath, force bool) error {
	e := d.editor
	destPath := path
	destFullpath := joinPath(d.path, destPath)
	ds := d.dirState()
	prevExternals := ds.Externals

	if !force {
		if defs, ok := prevExternals[path]; ok && containsDefinition(defs, def) && e.Tree.Get(destFullpath) != nil {
			return nil
		}
	}

	if isRecursiveExternal(e.Repo.OriginURL, d.path, path, def.URL) {
		return nil
	}
	e.debugf("exporting external %s to path %s", def.URL, destFullpath)

	cacheKey := def.CacheKey()
	tempPath, cached := e.ExternalsCache[cacheKey]
	if !cached || force {
		tempDir, err := os.MkdirTemp(e.ExternalsCacheDir, "ext-")
		if err != nil {
			return fmt.Errorf("replay: creating externals temp dir: %w", err)
		}
		tempPath = joinFSPath(tempDir, destPath)
		if err := os.MkdirAll(parentDir(tempPath), 0o755); err != nil {
			return fmt.Errorf("replay: creating externals temp parent: %w", err)
		}

		if _, dead := e.DeadExternals[def.DeadKey()]; !dead {
			url := strings.TrimRight(def.URL, "/")
			originURL := strings.TrimRight(e.Repo.OriginURL, "/")
			if strings.HasPrefix(url, originURL+"/") && !e.Repo.HasRelativeExternals {
				url = strings.Replace(url, originURL, e.Repo.RemoteURL, 1)
			}

			peg := 0
			if def.PegRevision != nil {
				peg = *def.PegRevision
			} else if def.LegacyFormat && def.Revision != nil {
				peg = *def.Revision
			}
			rev := 0
			if def.Revision != nil {
				rev = *def.Revision
			}

			err := e.Repo.Export(e.ctx, svnproto.ExportOptions{
				URL: url, To: tempPath, Rev: rev, Peg: peg, IgnoreKeywords: true,
			})
			if err != nil {
				e.debugf("external %s no longer available: %v", url, err)
				e.DeadExternals[def.DeadKey()] = struct{}{}
			} else {
				e.ExternalsCache[cacheKey] = tempPath
			}
		}
	}

	// svn export always materializes the intermediate directories of the
	// destination path regardless of whether the remote URL is still valid.
	current := d.path
	if _, err := d.ensureDirectory(current); err != nil {
		return err
	}
	parts := strings.Split(destPath, "/")
	for _, part := range parts[:len(parts)-1] {
		current = joinPath(current, part)
		if _, err := d.ensureDirectory(current); err != nil {
			return err
		}
	}

	info, statErr := os.Stat(tempPath)
	if statErr != nil {
		return nil
	}

	if removeTargetPath {
		if err := d.removeExternalPath(destPath, false, false, ""); err != nil {
			return err
		}
	}

	e.ValidExternals[destFullpath] = validExternal{URL: def.URL, Relative: def.RelativeURL}

	fullpath := e.Scratch.Full(destFullpath)
	if info.IsDir() {
		if err := scratchCopyTree(tempPath, fullpath); err != nil {
			return fmt.Errorf("replay: copying external directory %s: %w", destFullpath, err)
		}
		dir, err := merkle.FromDisk(fullpath, e.MaxContentSize)
		if err != nil {
			return fmt.Errorf("replay: ingesting external directory %s: %w", destFullpath, err)
		}
		e.Tree.Put(destFullpath, dir)
	} else {
		if err := scratchCopyFile(tempPath, fullpath); err != nil {
			return fmt.Errorf("replay: copying external file %s: %w", destFullpath, err)
		}
		content, err := merkle.ContentFromFile(fullpath, e.MaxContentSize)
		if err != nil {
			return fmt.Errorf("replay: ingesting external file %s: %w", destFullpath, err)
		}
		e.Tree.Put(destFullpath, content)
	}

	if defs, ok := prevExternals[path]; !ok || !containsDefinition(defs, def) {
		externalPaths := map[string]struct{}{}
		parts := strings.Split(destPath, "/")
		for i := 1; i <= len(parts); i++ {
			externalPaths[strings.Join(parts[:i], "/")] = struct{}{}
		}
		if err := walkRelative(tempPath, func(rel string) {
			externalPaths[joinPath(destPath, rel)] = struct{}{}
		}); err != nil {
			return fmt.Errorf("replay: walking external export %s: %w", destFullpath, err)
		}
		for p := range externalPaths {
			ds.ExternalsPaths[p] = struct{}{}
			e.ExternalPaths[joinPath(d.path, p)] = struct{}{}
		}
	}

	if dir, ok := e.Tree.Get(d.path).(*merkle.Directory); ok {
		dir.InvalidateHash()
	}
	return nil
}

func containsDefinition(defs []svnexternals.Definition, def svnexternals.Definition) bool {
	for _, d := range defs {
		if d.Key() == def.Key() {
			return true
		}
	}
	return false
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "."
	}
	return p[:idx]
}

func walkRelative(root string, visit func(rel string)) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		rel := entry.Name()
		visit(rel)
		if entry.IsDir() {
			if err := walkRelativeSub(root, rel, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkRelativeSub(root, prefix string, visit func(rel string)) error {
	entries, err := os.ReadDir(joinFSPath(root, prefix))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		rel := prefix + "/" + entry.Name()
		visit(rel)
		if entry.IsDir() {
			if err := walkRelativeSub(root, rel, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

func scratchCopyFile(src, dst string) error {
	return scratch.CopyFile(src, dst)
}

func scratchCopyTree(src, dst string) error {
	return scratch.CopyTree(src, dst)
}

// ensureDirectory lazily materializes path as an empty directory in both
// the Merkle tree and the scratch filesystem if it isn't already one,
// mirroring add_directory's idempotent use inside process_external.
func (d *DirEditor) ensureDirectory(path string) (*merkle.Directory, error) {
	e := d.editor
	if existing, ok := e.Tree.Get(path).(*merkle.Directory); ok {
		return existing, nil
	}
	if err := e.Scratch.MkdirAll(path); err != nil {
		return nil, fmt.Errorf("replay: creating directory %s: %w", path, err)
	}
	dir := merkle.NewDirectory()
	e.Tree.Put(path, dir)
	return dir, nil
}

// removeExternalPath removes a previously exported external path from the
// reconstructed filesystem, protecting it when an ancestor directory's own
// externals still claim the same path, and restoring it afterward if it
// overlaps a still-versioned path (spec.md §4.5 remove_external_path).
func (d *DirEditor) removeExternalPath(externalPath string, removeSubpaths, force bool, rootPath string) error {
	e := d.editor
	base := d.path
	if rootPath != "" {
		base = rootPath
	}
	fullpath := joinPath(base, externalPath)
	e.debugf("removing external path %s", fullpath)

	canRemove := true
	ancestors := splitPath(fullpath)
	if len(ancestors) > 0 {
		ancestors = ancestors[:len(ancestors)-1]
	}
	for i := len(ancestors); i >= 0; i-- {
		subpath := strings.Join(ancestors[:i], "/")
		if subpath == base {
			continue
		}
		subState, ok := e.DirStates[subpath]
		if !ok {
			continue
		}
		found := false
		for extPath := range subState.ExternalsPaths {
			if joinPath(subpath, extPath) == fullpath {
				found = true
				break
			}
		}
		if found {
			canRemove = false
			break
		}
	}

	if force || canRemove {
		if err := e.removePath(fullpath); err != nil {
			return err
		}
		delete(e.ExternalPaths, fullpath)
		delete(e.ValidExternals, fullpath)
		for p := range e.ExternalPaths {
			if strings.HasPrefix(p, fullpath+"/") {
				delete(e.ExternalPaths, p)
			}
		}
	}

	if removeSubpaths {
		for i := len(ancestors); i >= 0; i-- {
			subpath := strings.Join(ancestors[:i], "/")
			url := e.repoURLFor(subpath)
			if _, err := e.Repo.Info(e.ctx, url, e.RevNum, e.RevNum); err != nil {
				if err := e.removePath(subpath); err != nil {
					return err
				}
			} else {
				break
			}
		}
	}

	// Externals can overlap with versioned files, so any path removed
	// above must be restored if it's still live at this revision.
	url := e.repoURLFor(fullpath)
	destPath := e.Scratch.Full(fullpath)
	exportErr := e.Repo.Export(e.ctx, svnproto.ExportOptions{
		URL: url, To: destPath, Peg: e.RevNum, IgnoreKeywords: true,
	})
	if exportErr != nil {
		return nil
	}
	info, statErr := os.Stat(destPath)
	if statErr != nil {
		return nil
	}
	if info.IsDir() {
		dir, err := merkle.FromDisk(destPath, e.MaxContentSize)
		if err != nil {
			return nil
		}
		e.Tree.Put(fullpath, dir)
	} else {
		content, err := merkle.ContentFromFile(destPath, e.MaxContentSize)
		if err != nil {
			return nil
		}
		e.Tree.Put(fullpath, content)
	}
	return nil
}
