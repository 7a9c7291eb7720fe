// Package lifecycle owns every status change of items and loans. Each of
// the four transitions reads the current state, then writes the loan, the
// item and an audit event in one transaction with conditional updates, so
// the first of two racing writers wins and the other gets ErrConflict.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/models"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role models.Role
}

// Observer is told about every committed transition.
type Observer func(ctx context.Context, ev models.LoanEvent)

type Result struct {
	Loan models.Loan `json:"loan"`
	Item models.Item `json:"item"`
}

type RequestInput struct {
	ItemID         string
	Note           string
	ExpectedReturn *time.Time
}

type Coordinator struct {
	store     Store
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
	observers []Observer
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, o) }
}

func New(store Store, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestLoan creates a pending loan for a student and reserves the item.
func (c *Coordinator) RequestLoan(ctx context.Context, actor Actor, in RequestInput) (*Result, error) {
	if actor.Role != models.RoleStudent {
		return nil, ErrForbidden
	}
	now := c.now()
	if in.ExpectedReturn != nil && !in.ExpectedReturn.After(now) {
		return nil, ErrInvalidExpectedReturn
	}

	var res Result
	err := c.run(ctx, models.ActionRequest, func(tx Tx) (*models.LoanEvent, error) {
		item, err := tx.GetItem(ctx, in.ItemID)
		if err != nil {
			return nil, err
		}
		next, ok := NextItemStatus(item.Status, models.ActionRequest)
		if !ok {
			return nil, ErrItemUnavailable
		}
		ok, err = tx.TransitionItem(ctx, item.ID, item.Status, next, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}

		loan := models.Loan{
			ID:               c.newID(),
			ItemID:           item.ID,
			RequesterID:      actor.ID,
			Status:           models.LoanPending,
			RequestedAt:      now,
			RequestNote:      strings.TrimSpace(in.Note),
			ExpectedReturnAt: in.ExpectedReturn,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.CreateLoan(ctx, &loan); err != nil {
			return nil, err
		}

		item.Status = next
		item.BorrowedBy = nil
		res = Result{Loan: loan, Item: *item}
		return c.event(loan, actor, models.ActionRequest, "", loan.RequestNote, now), nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ApproveLoan hands the item to the requester of its pending loan.
func (c *Coordinator) ApproveLoan(ctx context.Context, actor Actor, itemID string) (*Result, error) {
	return c.close(ctx, actor, itemID, models.ActionApprove, "")
}

// RejectLoan declines the pending loan and releases the item. The note is
// mandatory.
func (c *Coordinator) RejectLoan(ctx context.Context, actor Actor, itemID, note string) (*Result, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(note) == "" {
		return nil, ErrMissingNote
	}
	return c.close(ctx, actor, itemID, models.ActionReject, note)
}

// ReturnLoan closes the approved loan and makes the item available again.
func (c *Coordinator) ReturnLoan(ctx context.Context, actor Actor, itemID, note string) (*Result, error) {
	return c.close(ctx, actor, itemID, models.ActionReturn, note)
}

// close runs approve, reject and return, which differ only in the expected
// loan status and the item's borrower afterwards.
func (c *Coordinator) close(ctx context.Context, actor Actor, itemID string, action models.LoanAction, note string) (*Result, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrForbidden
	}
	from, missing := models.LoanPending, ErrNoPendingLoan
	if action == models.ActionReturn {
		from, missing = models.LoanApproved, ErrNoActiveLoan
	}
	note = strings.TrimSpace(note)

	var res Result
	err := c.run(ctx, action, func(tx Tx) (*models.LoanEvent, error) {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		loan, err := tx.FindLoanByItem(ctx, itemID, from)
		if err != nil {
			return nil, err
		}
		if loan == nil {
			return nil, missing
		}
		loanTo, _ := NextLoanStatus(from, action)
		itemTo, ok := NextItemStatus(item.Status, action)
		if !ok {
			// item and loan disagree; another writer is mid-flight
			return nil, ErrConflict
		}

		now := c.now()
		ch := LoanChange{To: loanTo, At: now, By: actor.ID, Note: note}
		ok, err = tx.TransitionLoan(ctx, loan.ID, from, ch)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}

		var borrower *string
		if itemTo == models.ItemBorrowed {
			id := loan.RequesterID
			borrower = &id
		}
		ok, err = tx.TransitionItem(ctx, item.ID, item.Status, itemTo, borrower)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}

		ch.ApplyTo(loan)
		item.Status, item.BorrowedBy = itemTo, borrower
		res = Result{Loan: *loan, Item: *item}
		return c.event(*loan, actor, action, from, note, now), nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Coordinator) event(l models.Loan, actor Actor, action models.LoanAction, from models.LoanStatus, note string, at time.Time) *models.LoanEvent {
	return &models.LoanEvent{
		ID:         c.newID(),
		LoanID:     l.ID,
		ItemID:     l.ItemID,
		ActorID:    actor.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   l.Status,
		Note:       note,
		CreatedAt:  at,
	}
}

// run executes step in a transaction, appends its event, and notifies
// observers once the transaction has committed.
func (c *Coordinator) run(ctx context.Context, action models.LoanAction, step func(tx Tx) (*models.LoanEvent, error)) error {
	var ev *models.LoanEvent
	err := c.store.InTx(ctx, func(tx Tx) error {
		var err error
		if ev, err = step(tx); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("%s loan: %w", action, err)
	}

	c.log.Info("loan transition",
		zap.String("action", string(action)),
		zap.String("loan_id", ev.LoanID),
		zap.String("item_id", ev.ItemID),
		zap.String("actor_id", ev.ActorID),
		zap.String("to", string(ev.ToStatus)),
	)
	for _, o := range c.observers {
		o(ctx, *ev)
	}
	return nil
}
