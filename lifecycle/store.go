package lifecycle

import (
	"context"

	"Gin_postgres_redis_lending_portal/models"
)

// Store runs fn inside one database transaction. A non-nil error from fn
// rolls back every write made through the Tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and conditional writes a transition needs.
//
// TransitionItem and TransitionLoan only write when the row still carries
// the expected status; they report false when zero rows matched.
type Tx interface {
	// GetItem returns ErrItemNotFound when the item does not exist.
	GetItem(ctx context.Context, id string) (*models.Item, error)
	// FindLoanByItem returns nil, nil when no loan has the given status.
	FindLoanByItem(ctx context.Context, itemID string, status models.LoanStatus) (*models.Loan, error)
	// CreateLoan returns ErrConflict when another active loan holds the item.
	CreateLoan(ctx context.Context, l *models.Loan) error
	TransitionItem(ctx context.Context, id string, from, to models.ItemStatus, borrowedBy *string) (bool, error)
	TransitionLoan(ctx context.Context, id string, from models.LoanStatus, ch LoanChange) (bool, error)
	AppendEvent(ctx context.Context, ev *models.LoanEvent) error
}
