package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/scratch"
	"github.com/softwareheritage/svnloader/internal/svnmodel"
	"github.com/softwareheritage/svnloader/internal/svnproto"
	"github.com/softwareheritage/svnloader/internal/svnrepo"
	"github.com/softwareheritage/svnloader/internal/svnstorage"
)

// ExportVisitType is the visit_type reported by ExportLoader, distinct from
// the incremental loader's (spec.md §3 supplemented feature: directory.py's
// SvnExportLoader).
const ExportVisitType = "svn-export"

// ExportConfig configures one ExportLoader run: a single svn tree, at a
// single revision, loaded as a standalone directory rather than a history.
type ExportConfig struct {
	URL            string
	OriginURL      string // defaults to URL
	Revision       int
	// Paths, when non-empty, restricts the export to these sub-paths of
	// the tree rather than exporting it whole (directory.py's svn_paths).
	Paths          []string
	TempDirectory  string
	Debug          bool
	MaxContentSize int64
}

// ExportLoader loads a single svn tree at a specific revision as a
// standalone directory, grounded on directory.py's SvnExportLoader: unlike
// Loader it never replays history, it only exports and hashes one tree.
type ExportLoader struct {
	cfg     ExportConfig
	storage svnstorage.Store
	client  svnproto.Client
	log     *logrus.Entry

	repo    *svnrepo.Repo
	scratch *scratch.Tree

	exportedRoot string // temp dir to clean up on Cleanup
	directory    *merkle.Directory
}

// NewExportLoader constructs an ExportLoader.
func NewExportLoader(cfg ExportConfig, client svnproto.Client, store svnstorage.Store, log *logrus.Entry) *ExportLoader {
	if cfg.OriginURL == "" {
		cfg.OriginURL = cfg.URL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ExportLoader{cfg: cfg, storage: store, client: client, log: log}
}

// Run exports the configured tree at the configured revision, hashes it,
// stores the resulting directory and its snapshot, and reports the visit
// status (directory.py's BaseDirectoryLoader.load, collapsed to one method
// the same way Loader.Run collapses SvnLoader's callback protocol).
func (l *ExportLoader) Run(ctx context.Context) (Result, error) {
	if err := l.prepare(ctx); err != nil {
		return Result{}, err
	}
	defer l.cleanup()

	root, err := l.fetchArtifact(ctx)
	if err != nil {
		return Result{VisitStatus: svnstorage.VisitFailed}, err
	}

	dir, err := merkle.FromDisk(root, l.cfg.MaxContentSize)
	if err != nil {
		return Result{VisitStatus: svnstorage.VisitFailed}, fmt.Errorf("loader: hashing exported tree: %w", err)
	}
	l.directory = dir

	contents, skipped, dirs := (&merkle.Tree{Root: dir}).Collect()
	if err := l.storage.SkippedContentAdd(ctx, skipped); err != nil {
		return Result{}, fmt.Errorf("loader: storing skipped contents: %w", err)
	}
	if err := l.storage.ContentAdd(ctx, contents); err != nil {
		return Result{}, fmt.Errorf("loader: storing contents: %w", err)
	}
	if err := l.storage.DirectoryAdd(ctx, dirs); err != nil {
		return Result{}, fmt.Errorf("loader: storing directories: %w", err)
	}

	snap := l.buildSnapshot()
	if err := l.storage.SnapshotAdd(ctx, snap); err != nil {
		return Result{}, fmt.Errorf("loader: storing snapshot: %w", err)
	}

	visitStatus := svnstorage.VisitFull
	if err := l.storage.OriginVisitStatus(ctx, l.cfg.OriginURL, ExportVisitType, visitStatus); err != nil {
		return Result{}, fmt.Errorf("loader: reporting visit status: %w", err)
	}

	return Result{Status: StatusEventful, VisitStatus: visitStatus, Snapshot: snap}, nil
}

func (l *ExportLoader) prepare(ctx context.Context) error {
	tmp, err := os.MkdirTemp(l.cfg.TempDirectory, fmt.Sprintf("svnload-export.%d.", os.Getpid()))
	if err != nil {
		return fmt.Errorf("loader: creating visit temp dir: %w", err)
	}

	repo, err := svnrepo.Open(ctx, l.client, svnrepo.Options{
		RemoteURL:      l.cfg.URL,
		OriginURL:      l.cfg.OriginURL,
		MaxContentSize: l.cfg.MaxContentSize,
		Debug:          l.cfg.Debug,
	}, l.log)
	if err != nil {
		return err
	}
	l.repo = repo

	scratchTree, err := scratch.New(tmp, repoNameFromURL(l.cfg.URL))
	if err != nil {
		return err
	}
	l.scratch = scratchTree
	return nil
}

func (l *ExportLoader) cleanup() {
	if l.cfg.Debug {
		l.log.Warnf("debug mode: not cleaning up scratch tree %s", l.scratch.Root)
		return
	}
	if l.scratch != nil {
		os.RemoveAll(l.scratch.Root)
	}
}

// fetchArtifact exports either the whole tree at cfg.Revision, or, when
// cfg.Paths is set, each requested sub-path individually into a synthetic
// root directory (directory.py's fetch_artifact).
func (l *ExportLoader) fetchArtifact(ctx context.Context) (string, error) {
	if len(l.cfg.Paths) == 0 {
		tempDir, subPath, err := l.repo.ExportTemporary(ctx, l.cfg.Revision, l.scratch.Root)
		if err != nil {
			return "", err
		}
		l.exportedRoot = tempDir
		return tempDirJoin(tempDir, subPath), nil
	}

	l.log.Debugf("exporting from %s@%d the sub-paths: %s", l.cfg.URL, l.cfg.Revision, strings.Join(l.cfg.Paths, ", "))
	tmpDir := l.scratch.Full("export-" + strconv.Itoa(l.cfg.Revision))
	if err := l.scratch.MkdirAll("export-" + strconv.Itoa(l.cfg.Revision)); err != nil {
		return "", err
	}
	l.exportedRoot = tmpDir

	for _, svnPath := range l.cfg.Paths {
		trimmed := strings.Trim(svnPath, "/")
		svnURL := l.cfg.URL + "/" + trimmed
		exportPath := filepath.Join(tmpDir, trimmed)
		if err := os.MkdirAll(filepath.Dir(exportPath), 0o755); err != nil {
			return "", err
		}
		if err := l.repo.Export(ctx, svnproto.ExportOptions{
			URL:             svnURL,
			To:              exportPath,
			Rev:             l.cfg.Revision,
			Recurse:         true,
			IgnoreExternals: true,
			IgnoreKeywords:  true,
			Overwrite:       true,
		}); err != nil {
			return "", fmt.Errorf("loader: exporting sub-path %s: %w", svnPath, err)
		}
	}
	return tmpDir, nil
}

// buildSnapshot builds {HEAD -> alias rev_<N>, rev_<N> -> directory}
// without losing the svn revision context (directory.py's build_snapshot).
func (l *ExportLoader) buildSnapshot() svnmodel.Snapshot {
	branchName := fmt.Sprintf("rev_%d", l.cfg.Revision)
	return svnmodel.Snapshot{
		Branches: map[string]svnmodel.SnapshotBranch{
			DefaultBranch: {TargetType: svnmodel.BranchAlias, Target: []byte(branchName)},
			branchName:    {TargetType: svnmodel.BranchDirectory, Target: l.directory.Hash()},
		},
	}
}
