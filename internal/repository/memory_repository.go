package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eaglebank/transaction-service/shared/models"
)

// MemoryTransactionStore keeps records in process. Used in mock mode and tests.
type MemoryTransactionStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []models.Transaction
	byCorr map[string]int
	now    func() time.Time
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		byCorr: make(map[string]int),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryTransactionStore) Append(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.Status.IsTerminal() {
		return nil, fmt.Errorf("refusing to record transaction %s with non-terminal status %q", t.CorrelationID, t.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byCorr[t.CorrelationID]; dup {
		return nil, fmt.Errorf("transaction %s already recorded", t.CorrelationID)
	}
	s.nextID++
	out := *t
	out.ID = s.nextID
	out.CreatedAt = s.now()
	s.byCorr[out.CorrelationID] = len(s.rows)
	s.rows = append(s.rows, out)
	return &out, nil
}

func (s *MemoryTransactionStore) GetByCorrelationID(_ context.Context, correlationID, userID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCorr[correlationID]
	if !ok || s.rows[i].UserID != userID {
		return nil, ErrTransactionNotFound
	}
	t := s.rows[i]
	return &t, nil
}

func (s *MemoryTransactionStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.filter(func(t *models.Transaction) bool { return t.UserID == userID }, limit, offset), nil
}

func (s *MemoryTransactionStore) ListByAccount(_ context.Context, accountID, userID string, limit, offset int) ([]models.Transaction, error) {
	return s.filter(func(t *models.Transaction) bool {
		return t.UserID == userID && t.Involves(accountID)
	}, limit, offset), nil
}

// Len returns the number of recorded rows.
func (s *MemoryTransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryTransactionStore) filter(keep func(*models.Transaction) bool, limit, offset int) []models.Transaction {
	s.mu.RLock()
	matched := make([]models.Transaction, 0)
	for i := range s.rows {
		if keep(&s.rows[i]) {
			matched = append(matched, s.rows[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset >= len(matched) {
		return []models.Transaction{}
	}
	matched = matched[offset:]
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}
