package replay

import (
	"fmt"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/svnproto"
)

// FileEditor receives callbacks for one file path. Close exports the file
// at the replayed revision with svn export, which applies
// svn:eol-style/svn:special/svn:executable translation, and then reads it
// back off disk, so ChangeProp only logs and ApplyTextDelta is a no-op
// (spec.md §4.4).
type FileEditor struct {
	editor *Editor
	path   string
}

// ChangeProp logs property changes on a file; none of them need explicit
// handling (see the package doc).
func (f *FileEditor) ChangeProp(key, value string) error {
	f.editor.debugf("setting property %s on file %s (ignored)", key, f.path)
	return nil
}

// ApplyTextDelta is a no-op: Close's svn export writes the final file
// content to the scratch tree directly, so there is no delta window to
// observe.
func (f *FileEditor) ApplyTextDelta(baseChecksum string) error {
	return nil
}

// Close exports the file at the replayed revision into the scratch
// filesystem, reads it back and records its Merkle content hash, unless the
// path belongs to an externally-exported subtree (in which case
// process_external already ingested it).
func (f *FileEditor) Close() error {
	e := f.editor
	if _, isExternal := e.ExternalPaths[f.path]; isExternal {
		return nil
	}
	full := e.Scratch.Full(f.path)
	if err := e.Repo.Export(e.ctx, svnproto.ExportOptions{
		URL: e.repoURLFor(f.path), To: full, Rev: e.RevNum, Peg: e.RevNum,
		IgnoreKeywords: true, Overwrite: true, RemoveDestPath: true,
	}); err != nil {
		return fmt.Errorf("replay: exporting file %s@%d: %w", f.path, e.RevNum, err)
	}
	content, err := merkle.ContentFromFile(full, e.MaxContentSize)
	if err != nil {
		return fmt.Errorf("replay: closing file %s: %w", f.path, err)
	}
	e.Tree.Put(f.path, content)
	return nil
}
