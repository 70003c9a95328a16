package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/cobalt/internal/core/similarity"
	"github.com/agenthands/cobalt/internal/types"
)

// MemoryStore is the in-process Store implementation, used by tests and
// for local runs without a Memgraph instance. A single mutex gives
// transactions snapshot-free atomicity: readers never observe a partially
// applied commit.
type MemoryStore struct {
	mu             sync.RWMutex
	entities       map[string]*types.Entity
	audits         map[string]*types.AuditRecord
	contradictions map[string][]*types.Contradiction
	flags          []*types.ReviewFlag
	vectors        map[string][]float32

	// failures injects one error per op kind on the next commit touching
	// it, for storage-fault tests.
	failures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:       make(map[string]*types.Entity),
		audits:         make(map[string]*types.AuditRecord),
		contradictions: make(map[string][]*types.Contradiction),
		vectors:        make(map[string][]float32),
		failures:       make(map[string]error),
	}
}

// FailOnce makes the next transaction op of the given kind fail with err.
// Kinds: upsert_entity, insert_contradiction, insert_audit, mark_rollback,
// insert_flag.
func (s *MemoryStore) FailOnce(opKind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[opKind] = err
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{store: s}, nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListByType(ctx context.Context, t types.EntityType) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Entity
	for _, e := range s.entities {
		if e.Type == t && e.MergedInto == "" {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemoryStore) QueryByTypeAndNamePrefix(ctx context.Context, t types.EntityType, prefix string) ([]*types.Entity, error) {
	norm := similarity.Normalize(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Entity
	for _, e := range s.entities {
		if e.Type != t || e.MergedInto != "" {
			continue
		}
		if norm == "" || strings.HasPrefix(similarity.Normalize(e.Name), norm) {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out, nil
}

func (s *MemoryStore) GetAuditRecord(ctx context.Context, id string) (*types.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.audits[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListAuditRecords(ctx context.Context, filter AuditFilter) ([]*types.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.AuditRecord
	for _, r := range s.audits {
		if filter.EntityType != "" && r.EntityType != filter.EntityType {
			continue
		}
		if !filter.Since.IsZero() && r.CreatedAt.Before(filter.Since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListContradictions(ctx context.Context, entityID string) ([]*types.Contradiction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Contradiction
	for _, c := range s.contradictions[entityID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListReviewFlags(ctx context.Context, t types.EntityType) ([]*types.ReviewFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ReviewFlag
	for _, f := range s.flags {
		if t != "" && types.EntityType(f.Record.EntityType) != t {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) GetCachedVector(ctx context.Context, hash string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float32(nil), s.vectors[hash]...), nil
}

func (s *MemoryStore) PutCachedVector(ctx context.Context, hash string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[hash] = append([]float32(nil), vec...)
	return nil
}

func (s *MemoryStore) BuildIndices(ctx context.Context) error {
	// Maps need no indexes.
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func sortEntities(entities []*types.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].CreatedAt.Equal(entities[j].CreatedAt) {
			return entities[i].ID < entities[j].ID
		}
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
}

type memoryOp struct {
	kind  string
	apply func() (undo func(), err error)
}

// memoryTx stages writes and applies them atomically on Commit. If an op
// fails midway (fault injection), every applied op is undone before the
// lock is released, so readers never see partial state.
type memoryTx struct {
	store *MemoryStore
	ops   []memoryOp
	done  bool
}

func (tx *memoryTx) UpsertEntity(ctx context.Context, e *types.Entity) error {
	staged := e.Clone()
	tx.ops = append(tx.ops, memoryOp{kind: "upsert_entity", apply: func() (func(), error) {
		prev, existed := tx.store.entities[staged.ID]
		tx.store.entities[staged.ID] = staged
		return func() {
			if existed {
				tx.store.entities[staged.ID] = prev
			} else {
				delete(tx.store.entities, staged.ID)
			}
		}, nil
	}})
	return nil
}

func (tx *memoryTx) InsertContradiction(ctx context.Context, c *types.Contradiction) error {
	cp := *c
	tx.ops = append(tx.ops, memoryOp{kind: "insert_contradiction", apply: func() (func(), error) {
		tx.store.contradictions[cp.EntityID] = append(tx.store.contradictions[cp.EntityID], &cp)
		return func() {
			list := tx.store.contradictions[cp.EntityID]
			tx.store.contradictions[cp.EntityID] = list[:len(list)-1]
		}, nil
	}})
	return nil
}

func (tx *memoryTx) InsertAuditRecord(ctx context.Context, r *types.AuditRecord) error {
	cp := *r
	tx.ops = append(tx.ops, memoryOp{kind: "insert_audit", apply: func() (func(), error) {
		tx.store.audits[cp.ID] = &cp
		return func() { delete(tx.store.audits, cp.ID) }, nil
	}})
	return nil
}

func (tx *memoryTx) MarkAuditRolledBack(ctx context.Context, id, reason string, at time.Time) error {
	tx.ops = append(tx.ops, memoryOp{kind: "mark_rollback", apply: func() (func(), error) {
		r, ok := tx.store.audits[id]
		if !ok {
			return nil, types.ErrAuditNotFound
		}
		if r.RolledBack() {
			return nil, types.ErrAlreadyRolledBack
		}
		when := at
		r.RolledBackAt = &when
		r.RollbackReason = reason
		return func() {
			r.RolledBackAt = nil
			r.RollbackReason = ""
		}, nil
	}})
	return nil
}

func (tx *memoryTx) InsertReviewFlag(ctx context.Context, f *types.ReviewFlag) error {
	cp := *f
	tx.ops = append(tx.ops, memoryOp{kind: "insert_flag", apply: func() (func(), error) {
		tx.store.flags = append(tx.store.flags, &cp)
		return func() { tx.store.flags = tx.store.flags[:len(tx.store.flags)-1] }, nil
	}})
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	var undos []func()
	rollback := func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}

	for _, op := range tx.ops {
		if err, ok := tx.store.failures[op.kind]; ok {
			delete(tx.store.failures, op.kind)
			rollback()
			return fmt.Errorf("commit %s: %w", op.kind, err)
		}
		undo, err := op.apply()
		if err != nil {
			rollback()
			return fmt.Errorf("commit %s: %w", op.kind, err)
		}
		undos = append(undos, undo)
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.done = true
	tx.ops = nil
	return nil
}
