package svnstorage

import (
	"context"
	"testing"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/svnmodel"
)

func TestMemStoreContentAndDirectoryAdd(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	c := &merkle.ContentNode{Content: svnmodel.NewContent([]byte("hello"), svnmodel.PermRegular, 0)}
	if err := m.ContentAdd(ctx, []*merkle.ContentNode{c}); err != nil {
		t.Fatalf("ContentAdd: %v", err)
	}
	if len(m.Contents) != 1 {
		t.Fatalf("len(Contents) = %d, want 1", len(m.Contents))
	}

	d := merkle.NewDirectory()
	if err := m.DirectoryAdd(ctx, []*merkle.Directory{d}); err != nil {
		t.Fatalf("DirectoryAdd: %v", err)
	}
	if len(m.Directories) != 1 {
		t.Fatalf("len(Directories) = %d, want 1", len(m.Directories))
	}
}

func TestMemStoreRevisionGetNotFound(t *testing.T) {
	m := NewMemStore()
	if _, err := m.RevisionGet(context.Background(), svnmodel.Hash("nope")); err != ErrNoSuchRevision {
		t.Fatalf("RevisionGet error = %v, want ErrNoSuchRevision", err)
	}
}

func TestMemStoreSnapshotGetLatestRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	if _, ok, err := m.SnapshotGetLatest(ctx, "origin", "svn"); err != nil || ok {
		t.Fatalf("expected no snapshot yet, got ok=%v err=%v", ok, err)
	}

	snap := svnmodel.Snapshot{Branches: map[string]svnmodel.SnapshotBranch{
		"HEAD": {TargetType: svnmodel.BranchRevision, Target: svnmodel.Hash("rev-id")},
	}}
	m.RecordLatestSnapshot("origin", "svn", snap)

	got, ok, err := m.SnapshotGetLatest(ctx, "origin", "svn")
	if err != nil || !ok {
		t.Fatalf("expected snapshot, got ok=%v err=%v", ok, err)
	}
	if got.ID().String() != snap.ID().String() {
		t.Fatalf("got snapshot id %s, want %s", got.ID(), snap.ID())
	}
}

func TestMemStoreOriginVisitStatusRecordsEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()
	if err := m.OriginVisitStatus(ctx, "origin", "svn", VisitCreated); err != nil {
		t.Fatalf("OriginVisitStatus: %v", err)
	}
	if err := m.OriginVisitStatus(ctx, "origin", "svn", VisitFull); err != nil {
		t.Fatalf("OriginVisitStatus: %v", err)
	}
	if len(m.Statuses) != 2 || m.Statuses[1].Status != VisitFull {
		t.Fatalf("unexpected statuses: %+v", m.Statuses)
	}
}
