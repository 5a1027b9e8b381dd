package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DocumentType is the only document type the gateway stores.
const DocumentType = "diff"

// Byte limits on identity key parts. Keys travel in change notifications,
// which postgres caps at 8000 bytes.
const (
	MaxRepoLength   = 256
	MaxBranchLength = 256
	MaxPathLength   = 1024
)

// IdentityKey addresses one logical document.
type IdentityKey struct {
	Repo   string `json:"repo" binding:"required"`
	Branch string `json:"branch" binding:"required"`
	Path   string `json:"path" binding:"required"`
}

func (k IdentityKey) Validate() error {
	if k.Repo == "" || k.Branch == "" || k.Path == "" {
		return InvalidRequest("validate key", "repo, branch and path are required")
	}
	for _, part := range []struct {
		name  string
		value string
		max   int
	}{
		{"repo", k.Repo, MaxRepoLength},
		{"branch", k.Branch, MaxBranchLength},
		{"path", k.Path, MaxPathLength},
	} {
		if len(part.value) > part.max {
			return InvalidRequest("validate key", fmt.Sprintf("%s exceeds %d bytes", part.name, part.max))
		}
		if !utf8.ValidString(part.value) {
			return InvalidRequest("validate key", part.name+" must be valid UTF-8")
		}
		// NUL separates key parts in storage keys
		if strings.IndexFunc(part.value, unicode.IsControl) >= 0 {
			return InvalidRequest("validate key", part.name+" must not contain control characters")
		}
	}
	return nil
}

func (k IdentityKey) String() string {
	return k.Repo + "@" + k.Branch + ":" + k.Path
}

type Document struct {
	ID        string            `json:"id"`
	Key       IdentityKey       `json:"key"`
	Blob      []byte            `json:"blob"`
	Author    string            `json:"author"`
	Version   int64             `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type HistoryEntry struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Version    int64     `json:"version"`
	Author     string    `json:"author"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Additions  int32     `json:"additions"`
	Deletions  int32     `json:"deletions"`
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "CREATED"
	ChangeUpdated ChangeKind = "UPDATED"
	ChangeDeleted ChangeKind = "DELETED"
)

type ChangeRecord struct {
	Kind      ChangeKind        `json:"kind"`
	Key       IdentityKey       `json:"key"`
	Blob      []byte            `json:"blob"`
	Author    string            `json:"author"`
	Version   int64             `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Filter narrows a change stream. It is never modified after a subscription opens.
type Filter struct {
	Repo       string   `json:"repo"`
	Branch     string   `json:"branch"`
	Paths      []string `json:"paths,omitempty"`
	MinVersion int64    `json:"min_version"`
}

func (f Filter) Validate() error {
	if f.Repo == "" || f.Branch == "" {
		return InvalidRequest("validate filter", "repo and branch are required")
	}
	if f.MinVersion < 0 {
		return InvalidRequest("validate filter", "min_version must not be negative")
	}
	for _, p := range f.Paths {
		if p == "" {
			return InvalidRequest("validate filter", "paths must not contain empty entries")
		}
	}
	return nil
}

// Matches applies repo/branch equality, then path membership, then the exclusive version bound.
func (f Filter) Matches(rec ChangeRecord) bool {
	if rec.Key.Repo != f.Repo || rec.Key.Branch != f.Branch {
		return false
	}
	if len(f.Paths) > 0 {
		found := false
		for _, p := range f.Paths {
			if p == rec.Key.Path {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return rec.Version > f.MinVersion
}
