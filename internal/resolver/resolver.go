// Package resolver reconciles two conflicting blobs with a named strategy.
// It is never called by the write path; clients invoke it after a conflict.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"document-gateway/internal/domain"
)

const (
	StrategyOurs     = "ours"
	StrategyTheirs   = "theirs"
	StrategyAI       = "ai"
	StrategySemantic = "semantic"
)

type Resolution struct {
	Blob      []byte   `json:"blob"`
	Strategy  string   `json:"strategy"`
	Notes     string   `json:"notes"`
	Markers   []string `json:"conflict_markers"`
	Automated bool     `json:"ai_resolved"`
}

// Strategy merges local and remote. Implementations must not modify their inputs.
type Strategy func(local, remote []byte) ([]byte, error)

type Resolver struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	// recognised names that have no implementation yet
	reserved map[string]struct{}
}

func New() *Resolver {
	r := &Resolver{
		strategies: make(map[string]Strategy),
		reserved: map[string]struct{}{
			StrategyAI:       {},
			StrategySemantic: {},
		},
	}
	r.Register(StrategyOurs, func(local, _ []byte) ([]byte, error) { return local, nil })
	r.Register(StrategyTheirs, func(_, remote []byte) ([]byte, error) { return remote, nil })
	return r
}

// Register adds or replaces a strategy. Registering a reserved name makes it available.
func (r *Resolver) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(name)
	r.strategies[name] = s
	delete(r.reserved, name)
}

func (r *Resolver) Resolve(strategy string, local, remote []byte) (Resolution, error) {
	name := strings.ToLower(strings.TrimSpace(strategy))

	r.mu.RLock()
	fn, ok := r.strategies[name]
	_, reserved := r.reserved[name]
	r.mu.RUnlock()

	if !ok {
		if reserved {
			return Resolution{}, domain.Unimplemented("resolve", fmt.Sprintf("%s resolution is not implemented", name))
		}
		return Resolution{}, domain.InvalidRequest("resolve", fmt.Sprintf("unknown strategy %q, expected one of %s", strategy, strings.Join(r.Strategies(), ", ")))
	}

	blob, err := fn(local, remote)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Blob:     blob,
		Strategy: name,
		Notes:    fmt.Sprintf("Resolved using %s strategy", name),
		Markers:  []string{},
	}, nil
}

// Strategies lists the implemented strategy names.
func (r *Resolver) Strategies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
