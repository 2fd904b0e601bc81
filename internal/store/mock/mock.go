// Package mock provides a test double for store.Store.
package mock

import (
	"context"
	"sync"

	"github.com/cho1y0/neulbom/internal/store"
	"github.com/cho1y0/neulbom/pkg/types"
)

// Store is a mock implementation of store.Store. Saved records are kept in
// memory; set the Err fields to inject failures.
type Store struct {
	mu sync.Mutex

	SaveErr     error
	RecentErr   error
	Recent      []types.AnalysisRecord
	SensingID   int64
	SensingErr  error
	PingErr     error
	NextVoiceID int64
	SaveCalls   []store.Record
	RecentCalls []RecentCall
	Closed      bool
}

// RecentCall records one RecentAnalyses invocation.
type RecentCall struct {
	SeniorID int64
	Limit    int
}

// SaveTurn records r and returns an increasing voice id.
func (s *Store) SaveTurn(ctx context.Context, r store.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, r)
	if s.SaveErr != nil {
		return 0, s.SaveErr
	}
	s.NextVoiceID++
	return s.NextVoiceID, nil
}

// RecentAnalyses returns Recent.
func (s *Store) RecentAnalyses(ctx context.Context, seniorID int64, limit int) ([]types.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecentCalls = append(s.RecentCalls, RecentCall{SeniorID: seniorID, Limit: limit})
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	return append([]types.AnalysisRecord(nil), s.Recent...), nil
}

// LatestSensingID returns SensingID, or store.ErrNotFound when it is zero.
func (s *Store) LatestSensingID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SensingErr != nil {
		return 0, s.SensingErr
	}
	if s.SensingID == 0 {
		return 0, store.ErrNotFound
	}
	return s.SensingID, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// SaveCount returns the number of SaveTurn calls. Thread-safe.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SaveCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = nil
	s.RecentCalls = nil
}

var _ store.Store = (*Store)(nil)
