// Package memory is the process-local store backend used for development and
// tests. Data lives for the lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"budgettracker/internal/core"
	"budgettracker/internal/store"
)

const shardCount = 16

type shard[T core.Record] struct {
	mu    sync.RWMutex
	items map[string]T
}

// Store keeps records in a sharded map keyed by id. Each operation touches a
// single key under one shard lock; nothing is atomic across keys.
type Store[T core.Record] struct {
	shards [shardCount]*shard[T]
}

var (
	_ store.Store[core.Budget]    = (*Store[core.Budget])(nil)
	_ store.Modifier[core.Budget] = (*Store[core.Budget])(nil)
)

func New[T core.Record]() *Store[T] {
	s := &Store[T]{}
	for i := range s.shards {
		s.shards[i] = &shard[T]{items: make(map[string]T)}
	}
	return s
}

func (s *Store[T]) shardFor(id string) *shard[T] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

// ListByOwner scans every shard. Records come back by RecordTime descending,
// ties broken by ascending id.
func (s *Store[T]) ListByOwner(ctx context.Context, ownerID string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []T{}
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, rec := range sh.items {
			if rec.RecordOwner() == ownerID {
				out = append(out, rec)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].RecordTime(), out[j].RecordTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].RecordID() < out[j].RecordID()
	})
	return out, nil
}

func (s *Store[T]) GetByID(ctx context.Context, id, ownerID string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	sh := s.shardFor(id)
	sh.mu.RLock()
	rec, ok := sh.items[id]
	sh.mu.RUnlock()
	if !ok || rec.RecordOwner() != ownerID {
		return zero, false, nil
	}
	return rec, true, nil
}

// Create rejects any id already present, whoever owns it.
func (s *Store[T]) Create(ctx context.Context, record T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := core.CheckRecord(record); err != nil {
		return zero, err
	}
	id := record.RecordID()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.items[id]; exists {
		return zero, fmt.Errorf("%w: id %s", core.ErrConflict, id)
	}
	sh.items[id] = record
	return record, nil
}

// Update replaces the record only when the stored one has the same owner.
func (s *Store[T]) Update(ctx context.Context, id string, record T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.CheckUpdate(id, record); err != nil {
		return err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	existing, ok := sh.items[id]
	if !ok || existing.RecordOwner() != record.RecordOwner() {
		return fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	sh.items[id] = record
	return nil
}

// Modify runs fn under the shard lock, so no write can interleave.
func (s *Store[T]) Modify(ctx context.Context, id, ownerID string, fn func(current T) (T, bool)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	current, ok := sh.items[id]
	if !ok || current.RecordOwner() != ownerID {
		return false, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	next, write := fn(current)
	if !write {
		return false, nil
	}
	if err := store.CheckModified(id, ownerID, next); err != nil {
		return false, err
	}
	sh.items[id] = next
	return true, nil
}

func (s *Store[T]) Delete(ctx context.Context, id, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if rec, ok := sh.items[id]; ok && rec.RecordOwner() == ownerID {
		delete(sh.items, id)
	}
	return nil
}

// Len reports the number of records across all owners.
func (s *Store[T]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
