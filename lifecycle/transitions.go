package lifecycle

import (
	"time"

	"Gin_postgres_redis_lending_portal/models"
)

// NextItemStatus returns the item status produced by action, or false when
// the action is not allowed from the given status.
func NextItemStatus(from models.ItemStatus, action models.LoanAction) (models.ItemStatus, bool) {
	switch {
	case action == models.ActionRequest && from == models.ItemAvailable:
		return models.ItemPending, true
	case action == models.ActionApprove && from == models.ItemPending:
		return models.ItemBorrowed, true
	case action == models.ActionReject && from == models.ItemPending:
		return models.ItemAvailable, true
	case action == models.ActionReturn && from == models.ItemBorrowed:
		return models.ItemAvailable, true
	}
	return from, false
}

// NextLoanStatus is the loan half of the state machine. A request starts
// from the empty status because the loan does not exist yet.
func NextLoanStatus(from models.LoanStatus, action models.LoanAction) (models.LoanStatus, bool) {
	switch {
	case action == models.ActionRequest && from == "":
		return models.LoanPending, true
	case action == models.ActionApprove && from == models.LoanPending:
		return models.LoanApproved, true
	case action == models.ActionReject && from == models.LoanPending:
		return models.LoanRejected, true
	case action == models.ActionReturn && from == models.LoanApproved:
		return models.LoanReturned, true
	}
	return from, false
}

// LoanChange describes the columns stamped by a loan transition.
type LoanChange struct {
	To   models.LoanStatus
	At   time.Time
	By   string
	Note string
}

// Columns is the column set written by a conditional loan update.
func (ch LoanChange) Columns() map[string]any {
	cols := map[string]any{"status": ch.To, "updated_at": ch.At}
	switch ch.To {
	case models.LoanApproved:
		cols["approved_at"] = ch.At
		cols["approved_by"] = ch.By
	case models.LoanRejected:
		cols["rejected_at"] = ch.At
		cols["rejected_by"] = ch.By
		cols["rejection_note"] = ch.Note
	case models.LoanReturned:
		cols["returned_at"] = ch.At
		cols["returned_by"] = ch.By
		cols["return_note"] = ch.Note
	}
	return cols
}

// ApplyTo mirrors Columns on an in-memory loan.
func (ch LoanChange) ApplyTo(l *models.Loan) {
	at, by := ch.At, ch.By
	l.Status = ch.To
	l.UpdatedAt = at
	switch ch.To {
	case models.LoanApproved:
		l.ApprovedAt, l.ApprovedBy = &at, &by
	case models.LoanRejected:
		l.RejectedAt, l.RejectedBy, l.RejectionNote = &at, &by, ch.Note
	case models.LoanReturned:
		l.ReturnedAt, l.ReturnedBy, l.ReturnNote = &at, &by, ch.Note
	}
}
