package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKey_Validate(t *testing.T) {
	assert.NoError(t, IdentityKey{Repo: "r", Branch: "main", Path: "f"}.Validate())

	err := IdentityKey{Repo: "r", Branch: "", Path: "f"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = IdentityKey{Repo: "r", Branch: "main", Path: "a\x00b"}.Validate()
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	assert.ErrorIs(t, IdentityKey{Repo: "r", Branch: "main", Path: "a\nb"}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, IdentityKey{Repo: "r", Branch: "main", Path: "a\xffb"}.Validate(), ErrInvalidRequest)
	assert.NoError(t, IdentityKey{Repo: "r", Branch: "feature/ü", Path: "docs/naïve.md"}.Validate())
}

func TestIdentityKey_ValidateLength(t *testing.T) {
	longest := IdentityKey{
		Repo:   strings.Repeat("r", MaxRepoLength),
		Branch: strings.Repeat("b", MaxBranchLength),
		Path:   strings.Repeat("p", MaxPathLength),
	}
	assert.NoError(t, longest.Validate())

	tooLong := longest
	tooLong.Repo += "r"
	assert.ErrorIs(t, tooLong.Validate(), ErrInvalidRequest)
	tooLong = longest
	tooLong.Branch += "b"
	assert.ErrorIs(t, tooLong.Validate(), ErrInvalidRequest)
	tooLong = longest
	tooLong.Path += "p"
	assert.ErrorIs(t, tooLong.Validate(), ErrInvalidRequest)
}

func TestFilter_Matches(t *testing.T) {
	rec := ChangeRecord{Key: IdentityKey{Repo: "r", Branch: "main", Path: "f"}, Version: 3}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"repo and branch", Filter{Repo: "r", Branch: "main"}, true},
		{"other branch", Filter{Repo: "r", Branch: "dev"}, false},
		{"other repo", Filter{Repo: "x", Branch: "main"}, false},
		{"path in set", Filter{Repo: "r", Branch: "main", Paths: []string{"g", "f"}}, true},
		{"path not in set", Filter{Repo: "r", Branch: "main", Paths: []string{"g"}}, false},
		{"min version below", Filter{Repo: "r", Branch: "main", MinVersion: 2}, true},
		{"min version equal is excluded", Filter{Repo: "r", Branch: "main", MinVersion: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(rec))
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{Repo: "r", Branch: "main"}.Validate())
	assert.ErrorIs(t, Filter{Repo: "r"}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, Filter{Repo: "r", Branch: "b", MinVersion: -1}.Validate(), ErrInvalidRequest)
	assert.ErrorIs(t, Filter{Repo: "r", Branch: "b", Paths: []string{""}}.Validate(), ErrInvalidRequest)
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("write: %w", Conflict(4))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrVersionConflict)

	current, ok := CurrentVersion(wrapped)
	assert.True(t, ok)
	assert.Equal(t, int64(4), current)

	assert.Equal(t, KindNotFound, KindOf(NotFound("read", "document not found")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindAdapterFailure, KindOf(AdapterFailure("next", errors.New("closed"))))
}

func TestMessage_HidesDriverErrors(t *testing.T) {
	err := Internal("write", errors.New("pq: connection refused"))
	assert.Equal(t, "internal error", Message(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, "document not found", Message(NotFound("read", "document not found")))
}
