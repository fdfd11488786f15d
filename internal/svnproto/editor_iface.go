package svnproto

// PropExternals is the only property the replay editors act on beyond
// logging; svn export already applies svn:eol-style/svn:special/
// svn:executable when writing files to disk (spec.md §4.4).
const PropExternals = "svn:externals"

// ReplayEditor, DirEditor and FileEditor mirror the standard SVN "commit
// editor" callback interface Replay drives (spec.md §4.4): a per-revision
// sequence of open_root / add|open_directory / add|open_file / change_prop
// / apply_textdelta / delete_entry / close calls, delivered in the fixed
// pre-order the SVN library guarantees (spec.md §5: "root → children, each
// directory finishing with close after all its entries").
//
// internal/replay implements these three interfaces; internal/svnproto
// only drives them.
type ReplayEditor interface {
	SetTargetRevision(rev int)
	OpenRoot(baseRevision int) (DirEditor, error)
}

// DirEditor receives callbacks for one directory path.
type DirEditor interface {
	OpenDirectory(name string) (DirEditor, error)
	AddDirectory(name string, copyFromPath string, copyFromRev int) (DirEditor, error)
	OpenFile(name string) (FileEditor, error)
	AddFile(name string, copyFromPath string, copyFromRev int) (FileEditor, error)
	DeleteEntry(name string, rev int) error
	ChangeProp(key, value string) error
	Close() error
}

// FileEditor receives callbacks for one file path.
type FileEditor interface {
	ChangeProp(key, value string) error
	ApplyTextDelta(baseChecksum string) error
	Close() error
}
