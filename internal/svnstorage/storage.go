// Package svnstorage defines the storage collaborator spec.md §6 assumes:
// the object-store client the orchestrator pushes hashed objects to and
// resumes state from. The store itself is out of scope (spec.md §1's
// Non-goals), so this package only fixes the interface the teacher's own
// storage.Store-style collaborator would expose, plus an in-memory
// reference implementation used by internal/loader's tests — the same
// role the teacher's local history.go/fixups store plays for tests that
// don't want a real backing store.
//
// SPDX-License-Identifier: BSD-2-Clause
package svnstorage

import (
	"context"
	"errors"
	"sync"

	"github.com/softwareheritage/svnloader/internal/merkle"
	"github.com/softwareheritage/svnloader/internal/svnmodel"
)

// ErrNoSuchRevision is returned by RevisionGet when an id is unknown.
var ErrNoSuchRevision = errors.New("svnstorage: no such revision")

// VisitStatus is the lifecycle state reported to OriginVisitStatus
// (spec.md §6: "created -> full/partial/not_found/failed").
type VisitStatus string

const (
	VisitCreated  VisitStatus = "created"
	VisitFull     VisitStatus = "full"
	VisitPartial  VisitStatus = "partial"
	VisitNotFound VisitStatus = "not_found"
	VisitFailed   VisitStatus = "failed"
)

// Store is the operation surface the orchestrator calls, in the order
// spec.md §6 specifies: skipped_content_add, content_add, directory_add,
// revision_add per revision batch; snapshot_add and origin_visit_status
// once per visit; snapshot_get_latest/revision_get to resume.
type Store interface {
	SkippedContentAdd(ctx context.Context, contents []*merkle.ContentNode) error
	ContentAdd(ctx context.Context, contents []*merkle.ContentNode) error
	DirectoryAdd(ctx context.Context, dirs []*merkle.Directory) error
	RevisionAdd(ctx context.Context, revs []svnmodel.Revision) error
	SnapshotAdd(ctx context.Context, snap svnmodel.Snapshot) error
	OriginVisitStatus(ctx context.Context, originURL, visitType string, status VisitStatus) error

	// SnapshotGetLatest returns the most recent snapshot recorded for
	// (originURL, visitType), or (nil, false) if none exists.
	SnapshotGetLatest(ctx context.Context, originURL, visitType string) (*svnmodel.Snapshot, bool, error)
	// RevisionGet returns the revision matching id.
	RevisionGet(ctx context.Context, id svnmodel.Hash) (svnmodel.Revision, error)
}

// MemStore is an in-memory Store used by tests and by the --debug-shell
// inspector to replay a visit without a real backing archive.
type MemStore struct {
	mu sync.Mutex

	Contents    map[string]*merkle.ContentNode
	Directories map[string]*merkle.Directory
	Revisions  map[string]svnmodel.Revision
	Snapshots  map[string]svnmodel.Snapshot

	// latestByOrigin maps "originURL\x00visitType" to the last snapshot id
	// added for that (origin, visit_type) pair, in insertion order.
	latestByOrigin map[string]svnmodel.Hash
	Statuses       []VisitStatusEvent
}

// VisitStatusEvent records one OriginVisitStatus transition, for assertions.
type VisitStatusEvent struct {
	OriginURL string
	VisitType string
	Status    VisitStatus
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		Contents:       map[string]*merkle.ContentNode{},
		Directories:    map[string]*merkle.Directory{},
		Revisions:      map[string]svnmodel.Revision{},
		Snapshots:      map[string]svnmodel.Snapshot{},
		latestByOrigin: map[string]svnmodel.Hash{},
	}
}

func (m *MemStore) SkippedContentAdd(ctx context.Context, contents []*merkle.ContentNode) error {
	return m.ContentAdd(ctx, contents)
}

func (m *MemStore) ContentAdd(ctx context.Context, contents []*merkle.ContentNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.Contents[c.SHA1Git.String()] = c
	}
	return nil
}

func (m *MemStore) DirectoryAdd(ctx context.Context, dirs []*merkle.Directory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range dirs {
		m.Directories[d.Hash().String()] = d
	}
	return nil
}

func (m *MemStore) RevisionAdd(ctx context.Context, revs []svnmodel.Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range revs {
		m.Revisions[r.ID().String()] = r
	}
	return nil
}

func (m *MemStore) SnapshotAdd(ctx context.Context, snap svnmodel.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[snap.ID().String()] = snap
	return nil
}

func (m *MemStore) OriginVisitStatus(ctx context.Context, originURL, visitType string, status VisitStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, VisitStatusEvent{originURL, visitType, status})
	return nil
}

// RecordLatestSnapshot is a test helper mirroring what a real store would
// derive from SnapshotAdd plus an origin-visit row: it lets tests seed
// "prior visit" state for resume tests without modeling visits fully.
func (m *MemStore) RecordLatestSnapshot(originURL, visitType string, snap svnmodel.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := originURL + "\x00" + visitType
	m.Snapshots[snap.ID().String()] = snap
	m.latestByOrigin[key] = snap.ID()
}

func (m *MemStore) SnapshotGetLatest(ctx context.Context, originURL, visitType string) (*svnmodel.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := originURL + "\x00" + visitType
	id, ok := m.latestByOrigin[key]
	if !ok {
		return nil, false, nil
	}
	snap := m.Snapshots[id.String()]
	return &snap, true, nil
}

func (m *MemStore) RevisionGet(ctx context.Context, id svnmodel.Hash) (svnmodel.Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Revisions[id.String()]
	if !ok {
		return svnmodel.Revision{}, ErrNoSuchRevision
	}
	return r, nil
}
