// Package inmem provides an in-memory payout store with the same exclusive
// access semantics as the Postgres store: a record read for update stays
// locked until its transactional boundary commits or rolls back. It backs the
// deterministic service and worker tests.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/google/uuid"
)

type Store struct {
	mu      sync.Mutex
	records map[uuid.UUID]*domain.Payout
	locks   map[uuid.UUID]*sync.Mutex
	history map[uuid.UUID][]domain.Status
}

func NewStore() *Store {
	return &Store{
		records: make(map[uuid.UUID]*domain.Payout),
		locks:   make(map[uuid.UUID]*sync.Mutex),
		history: make(map[uuid.UUID][]domain.Status),
	}
}

// RunInTx runs fn against a staging transaction. Writes become visible only
// on commit; row locks taken by GetPayoutForUpdate are held until the
// boundary closes either way.
func (s *Store) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	t := &memTx{store: s, staged: make(map[uuid.UUID]*domain.Payout)}
	defer t.unlockAll()

	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) CreatePayout(ctx context.Context, p *domain.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.records[p.ID] = &cp
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPayouts(ctx context.Context, limit, offset int32) ([]domain.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Payout, 0, len(s.records))
	for _, p := range s.records {
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if int(offset) >= len(all) {
		return []domain.Payout{}, nil
	}
	all = all[offset:]
	if int(limit) < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) DeletePayout(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return 0, nil
	}
	delete(s.records, id)
	return 1, nil
}

func (s *Store) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, p := range s.records {
		if p.Status == domain.StatusProcessing && p.UpdatedAt.Before(cutoff) {
			p.Status = domain.StatusFailed
			p.UpdatedAt = time.Now().UTC()
			s.history[id] = append(s.history[id], domain.StatusFailed)
			n++
		}
	}
	return n, nil
}

// SetStatus overwrites a payout's status directly, standing in for an
// externally validated edit arriving outside the service path.
func (s *Store) SetStatus(id uuid.UUID, status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.records[id]; ok {
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
		s.history[id] = append(s.history[id], status)
	}
}

// History returns the committed status writes for a payout, in order.
func (s *Store) History(id uuid.UUID) []domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Status, len(s.history[id]))
	copy(out, s.history[id])
	return out
}

// Len reports how many payout records exist.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) rowLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

type memTx struct {
	store  *Store
	locked map[uuid.UUID]*sync.Mutex
	staged map[uuid.UUID]*domain.Payout
}

func (t *memTx) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	if t.locked == nil {
		t.locked = make(map[uuid.UUID]*sync.Mutex)
	}
	if _, held := t.locked[id]; !held {
		l := t.store.rowLock(id)
		l.Lock()
		t.locked[id] = l
	}

	if staged, ok := t.staged[id]; ok {
		cp := *staged
		return &cp, nil
	}

	t.store.mu.Lock()
	p, ok := t.store.records[id]
	if !ok {
		t.store.mu.Unlock()
		return nil, domain.ErrPayoutNotFound
	}
	cp := *p
	t.store.mu.Unlock()

	t.staged[id] = &cp
	out := cp
	return &out, nil
}

func (t *memTx) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status domain.Status) (int64, error) {
	p, ok := t.staged[id]
	if !ok {
		fetched, err := t.GetPayoutForUpdate(ctx, id)
		if err != nil {
			return 0, err
		}
		p = fetched
		t.staged[id] = p
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (t *memTx) UpdatePayoutDescription(ctx context.Context, id uuid.UUID, description string) (int64, error) {
	p, ok := t.staged[id]
	if !ok {
		fetched, err := t.GetPayoutForUpdate(ctx, id)
		if err != nil {
			return 0, err
		}
		p = fetched
		t.staged[id] = p
	}
	p.Description = description
	p.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (t *memTx) commit() {
	t.store.mu.Lock()
	for id, staged := range t.staged {
		if current, ok := t.store.records[id]; ok {
			if current.Status != staged.Status {
				t.store.history[id] = append(t.store.history[id], staged.Status)
			}
			cp := *staged
			t.store.records[id] = &cp
		}
	}
	t.store.mu.Unlock()
	t.staged = make(map[uuid.UUID]*domain.Payout)
}

func (t *memTx) unlockAll() {
	for _, l := range t.locked {
		l.Unlock()
	}
	t.locked = nil
}
