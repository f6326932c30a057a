// Package memory provides an in-memory cashier.Gateway for tests and
// development. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/beanline/till-engine/cashier"
)

type Store struct {
	mu           sync.RWMutex
	shifts       map[cashier.ShiftID]cashier.Shift
	transactions map[cashier.ShiftID][]cashier.Transaction
	activeShift  cashier.ShiftID // empty when no claim is held
}

func New() *Store {
	return &Store{
		shifts:       make(map[cashier.ShiftID]cashier.Shift),
		transactions: make(map[cashier.ShiftID][]cashier.Transaction),
	}
}

func (s *Store) CreateShift(_ context.Context, shift cashier.Shift) (cashier.ShiftID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift.ID = cashier.ShiftID(uuid.NewString())
	s.shifts[shift.ID] = shift
	return shift.ID, nil
}

func (s *Store) GetShift(_ context.Context, id cashier.ShiftID) (cashier.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[id]
	if !ok {
		return cashier.Shift{}, cashier.ErrShiftNotFound
	}
	return shift, nil
}

func (s *Store) UpdateShift(_ context.Context, id cashier.ShiftID, patch cashier.ShiftPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[id]
	if !ok {
		return cashier.ErrShiftNotFound
	}
	if patch.Status != nil {
		shift.Status = *patch.Status
	}
	if patch.EndTime != nil {
		t := *patch.EndTime
		shift.EndTime = &t
	}
	if patch.CashEnd != nil {
		shift.CashEnd = *patch.CashEnd
	}
	if patch.NonCashEnd != nil {
		shift.NonCashEnd = *patch.NonCashEnd
	}
	if patch.ActualCash != nil {
		v := *patch.ActualCash
		shift.ActualCash = &v
	}
	if patch.ActualNonCash != nil {
		v := *patch.ActualNonCash
		shift.ActualNonCash = &v
	}
	s.shifts[id] = shift
	return nil
}

func (s *Store) ListShifts(_ context.Context) ([]cashier.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shifts := make([]cashier.Shift, 0, len(s.shifts))
	for _, shift := range s.shifts {
		shifts = append(shifts, shift)
	}
	// Newest first.
	sort.Slice(shifts, func(i, j int) bool {
		return shifts[i].StartTime.After(shifts[j].StartTime)
	})
	return shifts, nil
}

func (s *Store) FindOpenShift(_ context.Context) (*cashier.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.EndTime == nil {
			found := shift
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx cashier.Transaction) (cashier.TransactionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx.ID = cashier.TransactionID(uuid.NewString())
	s.transactions[tx.ShiftID] = append(s.transactions[tx.ShiftID], tx)
	return tx.ID, nil
}

func (s *Store) TransactionsForShift(_ context.Context, shiftID cashier.ShiftID) ([]cashier.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]cashier.Transaction, len(s.transactions[shiftID]))
	copy(txs, s.transactions[shiftID])
	return txs, nil
}

// ClaimActiveShift is the conditional write backing the single-open-shift
// invariant: first claim wins, re-claim by the holder is a no-op.
func (s *Store) ClaimActiveShift(_ context.Context, shiftID cashier.ShiftID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeShift != "" && s.activeShift != shiftID {
		return cashier.ErrShiftAlreadyOpen
	}
	s.activeShift = shiftID
	return nil
}

func (s *Store) ReleaseActiveShift(_ context.Context, shiftID cashier.ShiftID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeShift == shiftID {
		s.activeShift = ""
	}
	return nil
}
