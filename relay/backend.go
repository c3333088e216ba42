// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/danielhkuo/chainballot/models"
)

// Backend is an external append-only vote ledger. RegisterVotes adds count
// to the candidate's running total; it never overwrites.
type Backend interface {
	RegisterVotes(ctx context.Context, candidateID string, count int64) (txHash string, err error)
	TotalCandidates(ctx context.Context) (int64, error)
	Candidate(ctx context.Context, index int64) (candidateID string, votes int64, err error)
	AllCandidates(ctx context.Context) ([]Tally, error)
}

// Tally is one candidate entry as stored by the external ledger.
type Tally struct {
	Index       int64
	CandidateID string
	Votes       int64
}

// Config carries the settings a concrete backend may need.
type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
}

// Factory builds a backend from configuration.
type Factory func(ctx context.Context, cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"memory": func(context.Context, Config) (Backend, error) {
			return NewMemoryBackend(), nil
		},
	}
)

// Register makes a backend available to NewBackend under name. It panics on
// a duplicate name, like sql.Register.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("relay: Register called twice for backend " + name)
	}
	registry[name] = f
}

// Backends lists registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend constructs the backend registered under name.
func NewBackend(ctx context.Context, name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown ledger backend %q (registered: %v)", name, Backends())
	}
	return f(ctx, cfg)
}

// WriteFailed wraps a backend failure as models.ErrRelayWriteFailed so every
// cause (network, congestion, rejected transaction) reaches callers as one
// retryable outcome.
func WriteFailed(reason string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", models.ErrRelayWriteFailed, reason)
	}
	return fmt.Errorf("%w: %s: %w", models.ErrRelayWriteFailed, reason, err)
}

// chainCount finds a candidate's total in a full listing; absent means zero.
func chainCount(tallies []Tally, candidateID string) int64 {
	for _, t := range tallies {
		if t.CandidateID == candidateID {
			return t.Votes
		}
	}
	return 0
}
