package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
)

// InTx implements lifecycle.Store on a gorm transaction.
func (r *Repo) InTx(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&loanTx{db: tx})
	})
}

type loanTx struct{ db *gorm.DB }

func (t *loanTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	if !validID(id) {
		return nil, lifecycle.ErrItemNotFound
	}
	var it models.Item
	if err := t.db.WithContext(ctx).First(&it, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lifecycle.ErrItemNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (t *loanTx) FindLoanByItem(ctx context.Context, itemID string, status models.LoanStatus) (*models.Loan, error) {
	var l models.Loan
	err := t.db.WithContext(ctx).
		Where("item_id = ? AND status = ?", itemID, status).
		Order("requested_at DESC").
		Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *loanTx) CreateLoan(ctx context.Context, l *models.Loan) error {
	if err := t.db.WithContext(ctx).Create(l).Error; err != nil {
		if isUniqueViolation(err, activeLoanIndex) {
			return lifecycle.ErrConflict
		}
		return err
	}
	return nil
}

// TransitionItem is UPDATE ... WHERE id = ? AND status = ?; zero rows means
// someone else moved the item first.
func (t *loanTx) TransitionItem(ctx context.Context, id string, from, to models.ItemStatus, borrowedBy *string) (bool, error) {
	var borrower any
	if borrowedBy != nil {
		borrower = *borrowedBy
	}
	res := t.db.WithContext(ctx).Model(&models.Item{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":      to,
			"borrowed_by": borrower,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *loanTx) TransitionLoan(ctx context.Context, id string, from models.LoanStatus, ch lifecycle.LoanChange) (bool, error) {
	res := t.db.WithContext(ctx).Model(&models.Loan{}).
		Where("id = ? AND status = ?", id, from).
		Updates(ch.Columns())
	if res.Error != nil {
		if isUniqueViolation(res.Error, activeLoanIndex) {
			return false, lifecycle.ErrConflict
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *loanTx) AppendEvent(ctx context.Context, ev *models.LoanEvent) error {
	return t.db.WithContext(ctx).Create(ev).Error
}
