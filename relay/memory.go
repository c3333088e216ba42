// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var errInjected = errors.New("injected failure")

// MemoryBackend is an in-process additive ledger for development and tests.
// Transaction hashes are deterministic in the order of writes.
type MemoryBackend struct {
	mu       sync.Mutex
	order    []string
	votes    map[string]int64
	writes   int
	failures int
	calls    int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{votes: make(map[string]int64)}
}

// FailNext makes the next n RegisterVotes calls fail without side effects.
// A negative n fails every call until FailNext(0).
func (m *MemoryBackend) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

// Calls returns the number of RegisterVotes invocations, failed ones
// included.
func (m *MemoryBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Votes returns the stored total for a candidate.
func (m *MemoryBackend) Votes(candidateID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.votes[candidateID]
}

func (m *MemoryBackend) RegisterVotes(ctx context.Context, candidateID string, count int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", WriteFailed("context done", err)
	}
	if count <= 0 {
		return "", WriteFailed("rejected transaction", fmt.Errorf("count must be positive, got %d", count))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		return "", WriteFailed("memory ledger unavailable", errInjected)
	}

	if _, ok := m.votes[candidateID]; !ok {
		m.order = append(m.order, candidateID)
	}
	m.votes[candidateID] += count
	m.writes++

	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%d", m.writes, candidateID, count)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func (m *MemoryBackend) TotalCandidates(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.order)), nil
}

func (m *MemoryBackend) Candidate(ctx context.Context, index int64) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= int64(len(m.order)) {
		return "", 0, fmt.Errorf("candidate index %d out of range", index)
	}
	id := m.order[index]
	return id, m.votes[id], nil
}

func (m *MemoryBackend) AllCandidates(ctx context.Context) ([]Tally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tallies := make([]Tally, len(m.order))
	for i, id := range m.order {
		tallies[i] = Tally{Index: int64(i), CandidateID: id, Votes: m.votes[id]}
	}
	return tallies, nil
}
