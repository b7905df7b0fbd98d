// Package memory provides an in-memory store backend. It is the reference
// implementation of the atomic-unit contract and the backend used by the
// test suite.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/settle"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store keeps all entities in maps guarded by one mutex. Atomic units run
// against a snapshot of the maps and commit by swapping the snapshot in;
// an aborted unit therefore leaves no trace. Every write stores a clone
// and every read returns a clone, so callers never alias store state.
type Store struct {
	mu     sync.RWMutex
	closed bool
	data   *dataset

	// inTx marks a unit-bound view created by Atomic. The parent holds the
	// write lock for the duration of the unit, so views skip locking.
	inTx bool
}

type dataset struct {
	sources     map[string]*source.PaymentSource
	obligations map[string]*obligation.Obligation

	// log preserves append order; replaying it from zero must reproduce
	// every stored balance.
	log      []*transaction.Transaction
	txnByID  map[string]*transaction.Transaction
	txnByRef map[string]*transaction.Transaction
	txnByKey map[string]*transaction.Transaction
}

func newDataset() *dataset {
	return &dataset{
		sources:     make(map[string]*source.PaymentSource),
		obligations: make(map[string]*obligation.Obligation),
		log:         make([]*transaction.Transaction, 0),
		txnByID:     make(map[string]*transaction.Transaction),
		txnByRef:    make(map[string]*transaction.Transaction),
		txnByKey:    make(map[string]*transaction.Transaction),
	}
}

// clone copies the map headers. Entry values are immutable once stored
// (writes always replace entries with fresh clones), so sharing them
// between the parent dataset and a unit view is safe.
func (d *dataset) clone() *dataset {
	cp := &dataset{
		sources:     make(map[string]*source.PaymentSource, len(d.sources)),
		obligations: make(map[string]*obligation.Obligation, len(d.obligations)),
		log:         d.log,
		txnByID:     make(map[string]*transaction.Transaction, len(d.txnByID)),
		txnByRef:    make(map[string]*transaction.Transaction, len(d.txnByRef)),
		txnByKey:    make(map[string]*transaction.Transaction, len(d.txnByKey)),
	}
	for k, v := range d.sources {
		cp.sources[k] = v
	}
	for k, v := range d.obligations {
		cp.obligations[k] = v
	}
	for k, v := range d.txnByID {
		cp.txnByID[k] = v
	}
	for k, v := range d.txnByRef {
		cp.txnByRef[k] = v
	}
	for k, v := range d.txnByKey {
		cp.txnByKey[k] = v
	}
	return cp
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ==================== Payment sources ====================

func (s *Store) CreateSource(_ context.Context, src *source.PaymentSource) error {
	defer s.wlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}

	s.data.sources[src.ID.String()] = src.Clone()
	return nil
}

func (s *Store) GetSource(_ context.Context, sourceID id.SourceID) (*source.PaymentSource, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	if src, ok := s.data.sources[sourceID.String()]; ok {
		return src.Clone(), nil
	}
	return nil, settle.ErrSourceNotFound
}

func (s *Store) ListSources(_ context.Context, ownerID id.UserID, opts source.ListOpts) ([]*source.PaymentSource, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	result := make([]*source.PaymentSource, 0)
	for _, src := range s.data.sources {
		if src.OwnerID != ownerID {
			continue
		}
		if opts.Type != "" && src.Type != opts.Type {
			continue
		}
		if opts.Status != "" && src.Status != opts.Status {
			continue
		}
		result = append(result, src.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return window(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CompareAndSwapBalance(_ context.Context, sourceID id.SourceID, expected, next types.Amount) (bool, error) {
	defer s.wlock()()
	if s.closed {
		return false, settle.ErrStoreClosed
	}

	src, ok := s.data.sources[sourceID.String()]
	if !ok {
		return false, settle.ErrSourceNotFound
	}
	if !src.Balance.Equal(expected) {
		return false, nil
	}

	cp := src.Clone()
	cp.Balance = next
	cp.Touch()
	s.data.sources[sourceID.String()] = cp
	return true, nil
}

func (s *Store) UpdateSourceStatus(_ context.Context, sourceID id.SourceID, status source.Status) error {
	defer s.wlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}

	src, ok := s.data.sources[sourceID.String()]
	if !ok {
		return settle.ErrSourceNotFound
	}

	cp := src.Clone()
	cp.Status = status
	cp.Touch()
	s.data.sources[sourceID.String()] = cp
	return nil
}

// ==================== Obligations ====================

func (s *Store) CreateObligation(_ context.Context, obl *obligation.Obligation) error {
	defer s.wlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}

	s.data.obligations[obl.ID.String()] = obl.Clone()
	return nil
}

func (s *Store) GetObligation(_ context.Context, oblID id.ObligationID) (*obligation.Obligation, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	if obl, ok := s.data.obligations[oblID.String()]; ok {
		return obl.Clone(), nil
	}
	return nil, settle.ErrObligationNotFound
}

func (s *Store) ListObligations(_ context.Context, ownerID id.UserID, opts obligation.ListOpts) ([]*obligation.Obligation, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	result := make([]*obligation.Obligation, 0)
	for _, obl := range s.data.obligations {
		if obl.OwnerID != ownerID {
			continue
		}
		if opts.Status != "" && obl.Status != opts.Status {
			continue
		}
		result = append(result, obl.Clone())
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return window(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateObligation(_ context.Context, obl *obligation.Obligation) error {
	defer s.wlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}

	if _, ok := s.data.obligations[obl.ID.String()]; !ok {
		return settle.ErrObligationNotFound
	}

	cp := obl.Clone()
	cp.Touch()
	s.data.obligations[obl.ID.String()] = cp
	return nil
}

func (s *Store) ListAutopayDue(_ context.Context, from, to time.Time) ([]*obligation.Obligation, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	result := make([]*obligation.Obligation, 0)
	for _, obl := range s.data.obligations {
		if !obl.AutopayEligible() {
			continue
		}
		if obl.DueDate.Before(from) || !obl.DueDate.Before(to) {
			continue
		}
		result = append(result, obl.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].DueDate.Before(result[j].DueDate)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ==================== Transaction log ====================

func (s *Store) AppendTransaction(_ context.Context, txn *transaction.Transaction) error {
	defer s.wlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}

	if _, exists := s.data.txnByRef[txn.Reference]; exists {
		return settle.ErrDuplicateReference
	}
	if txn.IdempotencyKey != "" {
		if _, exists := s.data.txnByKey[txn.IdempotencyKey]; exists {
			return settle.ErrDuplicateIdemKey
		}
	}

	cp := txn.Clone()
	s.data.log = append(s.data.log, cp)
	s.data.txnByID[cp.ID.String()] = cp
	s.data.txnByRef[cp.Reference] = cp
	if cp.IdempotencyKey != "" {
		s.data.txnByKey[cp.IdempotencyKey] = cp
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	if txn, ok := s.data.txnByID[txnID.String()]; ok {
		return txn.Clone(), nil
	}
	return nil, settle.ErrTransactionNotFound
}

func (s *Store) GetTransactionByReference(_ context.Context, reference string) (*transaction.Transaction, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	if txn, ok := s.data.txnByRef[reference]; ok {
		return txn.Clone(), nil
	}
	return nil, settle.ErrTransactionNotFound
}

func (s *Store) GetTransactionByIdempotencyKey(_ context.Context, key string) (*transaction.Transaction, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	if txn, ok := s.data.txnByKey[key]; ok {
		return txn.Clone(), nil
	}
	return nil, settle.ErrTransactionNotFound
}

func (s *Store) ListTransactionsByEndpoint(_ context.Context, endpointID id.AnyID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	defer s.rlock()()
	if s.closed {
		return nil, settle.ErrStoreClosed
	}

	result := make([]*transaction.Transaction, 0)
	for _, txn := range s.data.log {
		if txn.Source.ID != endpointID && txn.Destination.ID != endpointID {
			continue
		}
		if opts.Type != "" && txn.Type != opts.Type {
			continue
		}
		if opts.Status != "" && txn.Status != opts.Status {
			continue
		}
		result = append(result, txn.Clone())
	}
	return window(result, opts.Offset, opts.Limit), nil
}

// ==================== Atomic unit ====================

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		// Nested units join the enclosing one.
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return settle.ErrStoreClosed
	}

	view := &Store{data: s.data.clone(), inTx: true}
	if err := fn(ctx, view); err != nil {
		return err
	}

	s.data = view.data
	return nil
}

// ==================== Store management ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	defer s.rlock()()
	if s.closed {
		return settle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// window applies offset/limit pagination to a result slice.
func window[T any](items []T, offset, limit int) []T {
	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
