/*
Package firestore provides a Cloud Firestore-backed cashier.Gateway.

COLLECTIONS:
  shifts:       one document per drawer working period
  transactions: append-only ledger, related by a shiftId field
  meta/activeShift: single well-known document holding the open-shift claim

The open shift is found with an endTime == null query, and the claim
document is written inside a Firestore transaction so two concurrent opens
cannot both succeed.

MONEY:
  Amounts are stored as decimal strings. Firestore numbers are float64 and
  unfit for money.
*/
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beanline/till-engine/cashier"
)

const (
	shiftsCollection       = "shifts"
	transactionsCollection = "transactions"
	metaCollection         = "meta"
	activeShiftDoc         = "activeShift"
)

// Store implements cashier.Gateway using Cloud Firestore.
type Store struct {
	client *firestore.Client
}

// New connects to Firestore for the given project.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to firestore: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// =============================================================================
// DOCUMENT SHAPES
// =============================================================================

type shiftDoc struct {
	Status        string     `firestore:"status"`
	StartTime     time.Time  `firestore:"startTime"`
	EndTime       *time.Time `firestore:"endTime"`
	CashStart     string     `firestore:"cashStartAmount"`
	NonCashStart  string     `firestore:"nonCashStartAmount"`
	CashEnd       string     `firestore:"cashEndAmount"`
	NonCashEnd    string     `firestore:"nonCashEndAmount"`
	ActualCash    *string    `firestore:"actualCashAmount"`
	ActualNonCash *string    `firestore:"actualNonCashAmount"`
	OperatorID    string     `firestore:"userId"`
	OperatorName  string     `firestore:"userName"`
}

type transactionDoc struct {
	ShiftID     string    `firestore:"shiftId"`
	Type        string    `firestore:"type"`
	Amount      string    `firestore:"amount"`
	Description string    `firestore:"description"`
	OperatorID  string    `firestore:"userId"`
	Channel     string    `firestore:"paymentType"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

type claimDoc struct {
	ShiftID string `firestore:"shiftId"`
}

// =============================================================================
// SHIFTS
// =============================================================================

func (s *Store) CreateShift(ctx context.Context, shift cashier.Shift) (cashier.ShiftID, error) {
	ref := s.client.Collection(shiftsCollection).NewDoc()
	if _, err := ref.Create(ctx, toShiftDoc(shift)); err != nil {
		return "", fmt.Errorf("creating shift document: %w", err)
	}
	return cashier.ShiftID(ref.ID), nil
}

func (s *Store) GetShift(ctx context.Context, id cashier.ShiftID) (cashier.Shift, error) {
	snap, err := s.client.Collection(shiftsCollection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return cashier.Shift{}, cashier.ErrShiftNotFound
	}
	if err != nil {
		return cashier.Shift{}, fmt.Errorf("fetching shift %s: %w", id, err)
	}
	return fromShiftSnap(snap)
}

func (s *Store) UpdateShift(ctx context.Context, id cashier.ShiftID, patch cashier.ShiftPatch) error {
	var updates []firestore.Update
	if patch.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*patch.Status)})
	}
	if patch.EndTime != nil {
		updates = append(updates, firestore.Update{Path: "endTime", Value: *patch.EndTime})
	}
	if patch.CashEnd != nil {
		updates = append(updates, firestore.Update{Path: "cashEndAmount", Value: patch.CashEnd.String()})
	}
	if patch.NonCashEnd != nil {
		updates = append(updates, firestore.Update{Path: "nonCashEndAmount", Value: patch.NonCashEnd.String()})
	}
	if patch.ActualCash != nil {
		updates = append(updates, firestore.Update{Path: "actualCashAmount", Value: patch.ActualCash.String()})
	}
	if patch.ActualNonCash != nil {
		updates = append(updates, firestore.Update{Path: "actualNonCashAmount", Value: patch.ActualNonCash.String()})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err := s.client.Collection(shiftsCollection).Doc(string(id)).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return cashier.ErrShiftNotFound
	}
	if err != nil {
		return fmt.Errorf("updating shift %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListShifts(ctx context.Context) ([]cashier.Shift, error) {
	iter := s.client.Collection(shiftsCollection).
		OrderBy("startTime", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var shifts []cashier.Shift
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing shifts: %w", err)
		}
		shift, err := fromShiftSnap(snap)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	return shifts, nil
}

func (s *Store) FindOpenShift(ctx context.Context) (*cashier.Shift, error) {
	iter := s.client.Collection(shiftsCollection).
		Where("endTime", "==", nil).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open shift: %w", err)
	}
	shift, err := fromShiftSnap(snap)
	if err != nil {
		return nil, err
	}
	return &shift, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx cashier.Transaction) (cashier.TransactionID, error) {
	ref := s.client.Collection(transactionsCollection).NewDoc()
	doc := transactionDoc{
		ShiftID:     string(tx.ShiftID),
		Type:        string(tx.Type),
		Amount:      tx.Amount.String(),
		Description: tx.Description,
		OperatorID:  tx.OperatorID,
		Channel:     string(tx.Channel),
		CreatedAt:   tx.CreatedAt,
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("appending transaction: %w", err)
	}
	return cashier.TransactionID(ref.ID), nil
}

func (s *Store) TransactionsForShift(ctx context.Context, shiftID cashier.ShiftID) ([]cashier.Transaction, error) {
	iter := s.client.Collection(transactionsCollection).
		Where("shiftId", "==", string(shiftID)).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var txs []cashier.Transaction
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("loading ledger for shift %s: %w", shiftID, err)
		}

		var doc transactionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decoding transaction %s: %w", snap.Ref.ID, err)
		}
		amount, err := decimal.NewFromString(doc.Amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount %q in transaction %s: %w", doc.Amount, snap.Ref.ID, err)
		}
		txs = append(txs, cashier.Transaction{
			ID:          cashier.TransactionID(snap.Ref.ID),
			ShiftID:     cashier.ShiftID(doc.ShiftID),
			Type:        cashier.TransactionType(doc.Type),
			Amount:      amount,
			Description: doc.Description,
			OperatorID:  doc.OperatorID,
			Channel:     cashier.PaymentChannel(doc.Channel),
			CreatedAt:   doc.CreatedAt,
		})
	}
	return txs, nil
}

// =============================================================================
// ACTIVE SHIFT CLAIM
// =============================================================================

func (s *Store) ClaimActiveShift(ctx context.Context, shiftID cashier.ShiftID) error {
	ref := s.client.Collection(metaCollection).Doc(activeShiftDoc)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			return tx.Create(ref, claimDoc{ShiftID: string(shiftID)})
		case err != nil:
			return err
		}

		var claim claimDoc
		if err := snap.DataTo(&claim); err != nil {
			return fmt.Errorf("decoding active shift claim: %w", err)
		}
		if claim.ShiftID != string(shiftID) {
			return cashier.ErrShiftAlreadyOpen
		}
		return nil
	})
}

func (s *Store) ReleaseActiveShift(ctx context.Context, shiftID cashier.ShiftID) error {
	ref := s.client.Collection(metaCollection).Doc(activeShiftDoc)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var claim claimDoc
		if err := snap.DataTo(&claim); err != nil {
			return fmt.Errorf("decoding active shift claim: %w", err)
		}
		if claim.ShiftID != string(shiftID) {
			return nil
		}
		return tx.Delete(ref)
	})
}

// =============================================================================
// MAPPING
// =============================================================================

func toShiftDoc(shift cashier.Shift) shiftDoc {
	doc := shiftDoc{
		Status:       string(shift.Status),
		StartTime:    shift.StartTime,
		EndTime:      shift.EndTime,
		CashStart:    shift.CashStart.String(),
		NonCashStart: shift.NonCashStart.String(),
		CashEnd:      shift.CashEnd.String(),
		NonCashEnd:   shift.NonCashEnd.String(),
		OperatorID:   shift.OperatorID,
		OperatorName: shift.OperatorName,
	}
	if shift.ActualCash != nil {
		v := shift.ActualCash.String()
		doc.ActualCash = &v
	}
	if shift.ActualNonCash != nil {
		v := shift.ActualNonCash.String()
		doc.ActualNonCash = &v
	}
	return doc
}

func fromShiftSnap(snap *firestore.DocumentSnapshot) (cashier.Shift, error) {
	var doc shiftDoc
	if err := snap.DataTo(&doc); err != nil {
		return cashier.Shift{}, fmt.Errorf("decoding shift %s: %w", snap.Ref.ID, err)
	}

	shift := cashier.Shift{
		ID:           cashier.ShiftID(snap.Ref.ID),
		Status:       cashier.ShiftStatus(doc.Status),
		StartTime:    doc.StartTime,
		EndTime:      doc.EndTime,
		OperatorID:   doc.OperatorID,
		OperatorName: doc.OperatorName,
	}

	var err error
	if shift.CashStart, err = decimal.NewFromString(doc.CashStart); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt cashStartAmount in shift %s: %w", snap.Ref.ID, err)
	}
	if shift.NonCashStart, err = decimal.NewFromString(doc.NonCashStart); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt nonCashStartAmount in shift %s: %w", snap.Ref.ID, err)
	}
	if shift.CashEnd, err = decimal.NewFromString(doc.CashEnd); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt cashEndAmount in shift %s: %w", snap.Ref.ID, err)
	}
	if shift.NonCashEnd, err = decimal.NewFromString(doc.NonCashEnd); err != nil {
		return cashier.Shift{}, fmt.Errorf("corrupt nonCashEndAmount in shift %s: %w", snap.Ref.ID, err)
	}
	if doc.ActualCash != nil {
		v, err := decimal.NewFromString(*doc.ActualCash)
		if err != nil {
			return cashier.Shift{}, fmt.Errorf("corrupt actualCashAmount in shift %s: %w", snap.Ref.ID, err)
		}
		shift.ActualCash = &v
	}
	if doc.ActualNonCash != nil {
		v, err := decimal.NewFromString(*doc.ActualNonCash)
		if err != nil {
			return cashier.Shift{}, fmt.Errorf("corrupt actualNonCashAmount in shift %s: %w", snap.Ref.ID, err)
		}
		shift.ActualNonCash = &v
	}

	return shift, nil
}
