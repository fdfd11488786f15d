// Package svnmodel defines the content-addressed object model produced by
// the replay engine: file contents, directories, synthetic commits and the
// final snapshot that a storage collaborator is expected to accept.
//
// SPDX-License-Identifier: BSD-2-Clause
package svnmodel

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
)

// Hash is a raw digest, typically 20 bytes (sha1/sha1_git) or 32 (sha256).
type Hash []byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", []byte(h))
}

// Perms enumerates the permission classes a filesystem entry can carry.
// These map directly onto the modes SVN's working copy/export can produce.
type Perms int

const (
	// PermRegular is a non-executable regular file (mode 0644).
	PermRegular Perms = iota
	// PermExecutable is a file carrying svn:executable (mode 0755).
	PermExecutable
	// PermSymlink is an svn:special symlink encoded as "link <target>".
	PermSymlink
	// PermDirectory is a directory entry.
	PermDirectory
)

// GitPerms returns the octal mode git-blob-style hashing expects for the
// (perms, name, child-hash) concatenation rule in §3 of the spec.
func (p Perms) GitPerms() string {
	switch p {
	case PermExecutable:
		return "100755"
	case PermSymlink:
		return "120000"
	case PermDirectory:
		return "40000"
	default:
		return "100644"
	}
}

// ObjectType distinguishes the three kinds of tree leaf/interior object.
type ObjectType int

const (
	// ObjContent is a regular file-equivalent leaf whose bytes were stored.
	ObjContent ObjectType = iota
	// ObjSkippedContent is a leaf whose bytes exceeded max_content_size:
	// only hashes and length are recorded.
	ObjSkippedContent
	// ObjDirectory is an interior tree node.
	ObjDirectory
)

// Content is a stored file's hashes, length and on-disk permission class.
type Content struct {
	SHA1     Hash
	SHA1Git  Hash
	SHA256   Hash
	Length   int64
	Perms    Perms
	Data     []byte // nil for SkippedContent
	Status   ObjectType
}

// HashContent computes the trio of digests the object store expects.
// sha1_git is the git-blob hash: sha1("blob " + len + "\x00" + data).
func HashContent(data []byte) (sha1Hash, sha1Git, sha256Hash Hash) {
	h1 := sha1.Sum(data)
	h256 := sha256.Sum256(data)

	blobHeader := fmt.Sprintf("blob %d\x00", len(data))
	hg := sha1.New()
	hg.Write([]byte(blobHeader))
	hg.Write(data)

	return Hash(h1[:]), Hash(hg.Sum(nil)), Hash(h256[:])
}

// NewContent builds a fully-hashed Content node. When maxContentLength is
// nonzero and data exceeds it, a SkippedContent-shaped node (hashes only,
// no bytes) is returned instead, matching spec.md §3 and §6's
// max_content_size rule.
func NewContent(data []byte, perms Perms, maxContentLength int64) Content {
	s1, sg, s256 := HashContent(data)
	c := Content{
		SHA1:    s1,
		SHA1Git: sg,
		SHA256:  s256,
		Length:  int64(len(data)),
		Perms:   perms,
		Status:  ObjContent,
	}
	if maxContentLength > 0 && c.Length > maxContentLength {
		c.Status = ObjSkippedContent
		c.Data = nil
	} else {
		c.Data = data
	}
	return c
}

// Person is a committer/author identity. SVN has no notion of separate
// emails, so fullname carries the raw svn:author bytes, as-is.
type Person struct {
	Fullname []byte
}

// PersonFromSVNAuthor builds a Person the way svn_author_to_swh_person does:
// no parsing, the raw author bytes (or empty) become the fullname.
func PersonFromSVNAuthor(author []byte) Person {
	return Person{Fullname: author}
}

// Timestamp is a POSIX time with a fractional part and UTC offset, matching
// TimestampWithTimezone's wire shape closely enough for hashing stability.
type Timestamp struct {
	Seconds        int64
	Microseconds   int
	OffsetMinutes  int
	OffsetNegative bool
}

// RevisionType enumerates the synthetic commit's VCS origin tag.
type RevisionType string

// RevisionTypeSubversion is the only RevisionType this loader emits.
const RevisionTypeSubversion RevisionType = "SUBVERSION"

// ExtraHeader is a single (key, value) pair attached to a synthetic
// revision; order matters because it is part of the revision's hash input.
type ExtraHeader struct {
	Key   string
	Value string
}

// Revision is the synthetic commit built for one SVN revision (spec.md §3).
type Revision struct {
	Type          RevisionType
	Directory     Hash
	Message       []byte
	Author        Person
	Committer     Person
	AuthorDate    Timestamp
	CommitterDate Timestamp
	Parents       []Hash
	Synthetic     bool
	ExtraHeaders  []ExtraHeader
}

// BuildRevision constructs a synthetic commit for SVN revision rev,
// chaining to parents and carrying the repository UUID and revision number
// as extra headers, exactly as build_swh_revision does.
func BuildRevision(rev int, dirHash Hash, message []byte, author Person, date Timestamp, repoUUID string, parents []Hash) Revision {
	return Revision{
		Type:          RevisionTypeSubversion,
		Directory:     dirHash,
		Message:       message,
		Author:        author,
		Committer:     author,
		AuthorDate:    date,
		CommitterDate: date,
		Parents:       parents,
		Synthetic:     true,
		ExtraHeaders: []ExtraHeader{
			{Key: "svn_repo_uuid", Value: repoUUID},
			{Key: "svn_revision", Value: fmt.Sprintf("%d", rev)},
		},
	}
}

// ID computes the revision's content hash: the synthetic commit's stable
// identity depends on every field above being byte-exact, so this hash
// input is intentionally explicit about order rather than relying on a
// generic struct serializer.
func (r Revision) ID() Hash {
	h := sha1.New()
	fmt.Fprintf(h, "type %s\n", r.Type)
	fmt.Fprintf(h, "directory %s\n", r.Directory)
	fmt.Fprintf(h, "author %s\n", r.Author.Fullname)
	fmt.Fprintf(h, "committer %s\n", r.Committer.Fullname)
	fmt.Fprintf(h, "date %d.%06d %c%04d\n", r.AuthorDate.Seconds, r.AuthorDate.Microseconds, signRune(r.AuthorDate.OffsetNegative), r.AuthorDate.OffsetMinutes)
	fmt.Fprintf(h, "committer_date %d.%06d %c%04d\n", r.CommitterDate.Seconds, r.CommitterDate.Microseconds, signRune(r.CommitterDate.OffsetNegative), r.CommitterDate.OffsetMinutes)
	for _, p := range r.Parents {
		fmt.Fprintf(h, "parent %s\n", p)
	}
	for _, eh := range r.ExtraHeaders {
		fmt.Fprintf(h, "extra %s %s\n", eh.Key, eh.Value)
	}
	fmt.Fprintf(h, "synthetic %v\n\n", r.Synthetic)
	h.Write(r.Message)
	return Hash(h.Sum(nil))
}

func signRune(negative bool) rune {
	if negative {
		return '-'
	}
	return '+'
}

// BranchTargetType distinguishes what a snapshot branch points at.
type BranchTargetType int

const (
	// BranchRevision targets a Revision's id.
	BranchRevision BranchTargetType = iota
	// BranchAlias targets another branch by name.
	BranchAlias
	// BranchDirectory targets a Directory's hash directly (used by the
	// export loader variant, spec.md §1's SvnExportLoader).
	BranchDirectory
)

// SnapshotBranch is one named branch entry of a Snapshot.
type SnapshotBranch struct {
	TargetType BranchTargetType
	Target     []byte // Hash bytes, or branch name bytes for BranchAlias
}

// Snapshot binds branch names to revisions/directories/aliases for one visit.
type Snapshot struct {
	Branches map[string]SnapshotBranch
}

// ID hashes the sorted (name, target_type, target) tuples, so that two
// snapshots built from the same logical branch set always compare equal
// regardless of map iteration order.
func (s Snapshot) ID() Hash {
	names := make([]string, 0, len(s.Branches))
	for n := range s.Branches {
		names = append(names, n)
	}
	// Insertion sort is fine: snapshots here carry at most a handful of
	// branches (HEAD, plus rev_<N> for the export loader variant).
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	h := sha1.New()
	for _, n := range names {
		b := s.Branches[n]
		fmt.Fprintf(h, "%s %d %x\n", n, b.TargetType, b.Target)
	}
	return Hash(h.Sum(nil))
}
