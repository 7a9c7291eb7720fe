package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"Gin_postgres_redis_lending_portal/models"
)

// LoanRow is a loan with the item and requester columns the ledger shows.
type LoanRow struct {
	models.Loan
	ItemName       string `json:"itemName"`
	ItemCode       string `json:"itemCode"`
	ItemImage      string `json:"itemImage,omitempty"`
	RequesterName  string `json:"requesterName"`
	RequesterEmail string `json:"requesterEmail"`
}

type LoanQuery struct {
	Statuses    []models.LoanStatus
	RequesterID string
	From        *time.Time // requested_at >= From
	To          *time.Time // requested_at < To
	Q           string     // item name substring
	Page        int
	Size        int
}

type PagedLoans struct {
	Total int64     `json:"total"`
	Items []LoanRow `json:"items"`
}

func (r *Repo) ListLoans(ctx context.Context, q LoanQuery) (*PagedLoans, error) {
	q.Page, q.Size = normalizePage(q.Page, q.Size)

	base := func() *gorm.DB {
		tx := r.DB.WithContext(ctx).
			Table(models.LoanTable+" l").
			Joins("JOIN "+models.ItemTable+" i ON i.id = l.item_id").
			Joins("LEFT JOIN "+models.UserTable+" u ON u.id = l.requester_id")
		if len(q.Statuses) > 0 {
			ss := make([]string, len(q.Statuses))
			for i, s := range q.Statuses {
				ss[i] = string(s)
			}
			tx = tx.Where("l.status IN ?", ss)
		}
		if q.RequesterID != "" {
			tx = tx.Where("l.requester_id = ?", q.RequesterID)
		}
		if q.From != nil {
			tx = tx.Where("l.requested_at >= ?", *q.From)
		}
		if q.To != nil {
			tx = tx.Where("l.requested_at < ?", *q.To)
		}
		if s := strings.TrimSpace(q.Q); s != "" {
			tx = tx.Where("LOWER(i.name) LIKE ? ESCAPE '!'", containsPattern(s))
		}
		return tx
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, err
	}

	rows := []LoanRow{}
	err := base().
		Select(`l.*, i.name AS item_name, i.code AS item_code, i.image AS item_image,
			COALESCE(u.name, '') AS requester_name, COALESCE(u.email, '') AS requester_email`).
		Order("l.requested_at DESC").
		Offset((q.Page - 1) * q.Size).
		Limit(q.Size).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return &PagedLoans{Total: total, Items: rows}, nil
}

// CountActiveLoans counts items currently out on loan.
func (r *Repo) CountActiveLoans(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Item{}).
		Where("status = ?", models.ItemBorrowed).
		Count(&n).Error
	return n, err
}

func (r *Repo) ListLoanEvents(ctx context.Context, loanID string) ([]models.LoanEvent, error) {
	if !validID(loanID) {
		return nil, ErrLoanNotFound
	}
	var l models.Loan
	if err := r.DB.WithContext(ctx).Select("id").First(&l, "id = ?", loanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	evs := []models.LoanEvent{}
	err := r.DB.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("created_at ASC").
		Find(&evs).Error
	return evs, err
}

func (r *Repo) DashboardStats(ctx context.Context) (models.DashboardStats, error) {
	var s models.DashboardStats
	db := r.DB.WithContext(ctx)
	if err := db.Model(&models.Item{}).Count(&s.ItemsCount).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.Item{}).Where("status = ?", models.ItemBorrowed).Count(&s.LoanCount).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.Loan{}).Where("status = ?", models.LoanPending).Count(&s.RequestCount).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.User{}).Count(&s.UserCount).Error; err != nil {
		return s, err
	}
	return s, nil
}
