package admission

import (
	"context"
	"sync"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/completion"
)

// RoundStore looks up candidate round records.
type RoundStore interface {
	Candidate(ctx context.Context, candidateRef string) (completion.CandidateRecord, error)
}

// MemoryStore is an in-process RoundStore, for small deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]completion.CandidateRecord
}

var _ RoundStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]completion.CandidateRecord)}
}

// Put inserts or replaces a candidate record.
func (s *MemoryStore) Put(rec completion.CandidateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CandidateRef] = rec
}

// MarkCompleted sets a round's completed field to the "yes" literal, adding
// the round if the candidate record exists without it.
func (s *MemoryStore) MarkCompleted(candidateRef, roundType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[candidateRef]
	if !ok {
		return false
	}
	for i, r := range rec.Rounds {
		if r.RoundType == roundType {
			rec.Rounds[i].Completed = "yes"
			s.records[candidateRef] = rec
			return true
		}
	}
	rec.Rounds = append(rec.Rounds, completion.RoundStatus{RoundType: roundType, Completed: "yes"})
	s.records[candidateRef] = rec
	return true
}

func (s *MemoryStore) Candidate(ctx context.Context, candidateRef string) (completion.CandidateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[candidateRef]
	if !ok {
		return completion.CandidateRecord{}, core.NewNotFoundError("candidate not found")
	}
	out := rec
	out.Rounds = append([]completion.RoundStatus(nil), rec.Rounds...)
	return out, nil
}
