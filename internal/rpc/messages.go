package rpc

import (
	"time"

	"document-gateway/internal/domain"
)

type WriteDiffRequest struct {
	Repo          string            `json:"repo"`
	Branch        string            `json:"branch"`
	Path          string            `json:"path"`
	Diff          []byte            `json:"diff"`
	Message       string            `json:"message,omitempty"`
	ParentVersion int64             `json:"parent_version,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type ReadSnapshotRequest struct {
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
	Path    string `json:"path"`
	Version int64  `json:"version,omitempty"`
}

type Snapshot struct {
	ID        string            `json:"id"`
	Content   []byte            `json:"content"`
	Version   int64             `json:"version"`
	Author    string            `json:"author"`
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type HistoryRequest struct {
	Repo          string `json:"repo"`
	Branch        string `json:"branch"`
	Path          string `json:"path"`
	Limit         int32  `json:"limit,omitempty"`
	BeforeVersion int64  `json:"before_version,omitempty"`
}

type ResolveRequest struct {
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Path     string `json:"path,omitempty"`
	Strategy string `json:"strategy"`
	Local    []byte `json:"local"`
	Remote   []byte `json:"remote"`
}

type SubscribeRequest struct {
	Repo        string   `json:"repo"`
	Branch      string   `json:"branch"`
	Paths       []string `json:"paths,omitempty"`
	FromVersion int64    `json:"from_version,omitempty"`
}

func (r *SubscribeRequest) filter() domain.Filter {
	return domain.Filter{Repo: r.Repo, Branch: r.Branch, Paths: r.Paths, MinVersion: r.FromVersion}
}
