package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
)

// ItemRow is an item joined with its active (pending or approved) loan.
type ItemRow struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Code       string            `json:"code"`
	Image      string            `json:"image,omitempty"`
	Status     models.ItemStatus `json:"status"`
	BorrowedBy *string           `json:"borrowedBy,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`

	LoanID           *string    `json:"loanId,omitempty"`
	LoanStatus       *string    `json:"loanStatus,omitempty"`
	RequesterID      *string    `json:"requesterId,omitempty"`
	RequesterName    *string    `json:"requesterName,omitempty"`
	RequestedAt      *time.Time `json:"requestedAt,omitempty"`
	ExpectedReturnAt *time.Time `json:"expectedReturnAt,omitempty"`
	Overdue          bool       `json:"overdue"`
}

// HideBorrower strips who holds the item, for viewers who are not the holder.
func (r *ItemRow) HideBorrower(viewerID string) {
	if r.RequesterID != nil && *r.RequesterID == viewerID {
		return
	}
	r.BorrowedBy = nil
	r.RequesterID = nil
	r.RequesterName = nil
	r.LoanID = nil
}

type ItemsQuery struct {
	Q      string // name or code substring
	Status models.ItemStatus
	Page   int
	Size   int
}

type PagedItems struct {
	Total int64     `json:"total"`
	Items []ItemRow `json:"items"`
}

func (r *Repo) itemRows(ctx context.Context) *gorm.DB {
	db := r.DB.WithContext(ctx)
	active := db.
		Table(models.LoanTable+" l").
		Select("l.id, l.item_id, l.requester_id, l.status, l.requested_at, l.expected_return_at").
		Where("l.status IN ?", []string{string(models.LoanPending), string(models.LoanApproved)})

	return db.
		Table(models.ItemTable+" i").
		Select(`
			i.id, i.name, i.code, i.image, i.status, i.borrowed_by, i.created_at, i.updated_at,
			al.id                 AS loan_id,
			al.status             AS loan_status,
			al.requester_id       AS requester_id,
			u.name                AS requester_name,
			al.requested_at       AS requested_at,
			al.expected_return_at AS expected_return_at,
			CASE WHEN al.status = 'approved' AND al.expected_return_at IS NOT NULL AND al.expected_return_at < NOW()
			     THEN TRUE ELSE FALSE END AS overdue
		`).
		Joins("LEFT JOIN (?) AS al ON al.item_id = i.id", active).
		Joins("LEFT JOIN " + models.UserTable + " u ON u.id = al.requester_id").
		Where("i.deleted_at IS NULL")
}

func (r *Repo) ListItems(ctx context.Context, q ItemsQuery) (*PagedItems, error) {
	q.Page, q.Size = normalizePage(q.Page, q.Size)

	filter := func(tx *gorm.DB) *gorm.DB {
		if s := strings.TrimSpace(q.Q); s != "" {
			pat := containsPattern(s)
			tx = tx.Where("(LOWER(i.name) LIKE ? ESCAPE '!' OR LOWER(i.code) LIKE ? ESCAPE '!')", pat, pat)
		}
		if q.Status != "" {
			tx = tx.Where("i.status = ?", q.Status)
		}
		return tx
	}

	var total int64
	countQ := r.DB.WithContext(ctx).Table(models.ItemTable + " i").Where("i.deleted_at IS NULL")
	if err := filter(countQ).Count(&total).Error; err != nil {
		return nil, err
	}

	rows := []ItemRow{}
	if err := filter(r.itemRows(ctx)).
		Order("i.created_at DESC").
		Offset((q.Page - 1) * q.Size).
		Limit(q.Size).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return &PagedItems{Total: total, Items: rows}, nil
}

func (r *Repo) GetItem(ctx context.Context, id string) (*ItemRow, error) {
	if !validID(id) {
		return nil, lifecycle.ErrItemNotFound
	}
	var rows []ItemRow
	if err := r.itemRows(ctx).Where("i.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, lifecycle.ErrItemNotFound
	}
	return &rows[0], nil
}

func (r *Repo) CreateItem(ctx context.Context, it *models.Item) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	it.Name = strings.TrimSpace(it.Name)
	it.Code = strings.TrimSpace(it.Code)
	if it.Status == "" {
		it.Status = models.ItemAvailable
	}
	if err := r.DB.WithContext(ctx).Create(it).Error; err != nil {
		if isUniqueViolation(err, itemCodeIndex) {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

// ItemPatch holds the editable item fields; nil means unchanged. Status is
// not editable here; only the loan lifecycle moves it.
type ItemPatch struct {
	Name  *string `json:"name"`
	Code  *string `json:"code"`
	Image *string `json:"image"`
}

// UpdateItem locks the row so a concurrent transition cannot slip between
// the status check and the write.
func (r *Repo) UpdateItem(ctx context.Context, id string, p ItemPatch) (*models.Item, error) {
	if !validID(id) {
		return nil, lifecycle.ErrItemNotFound
	}
	var it models.Item
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&it, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.ErrItemNotFound
			}
			return err
		}

		updates := map[string]any{}
		if p.Name != nil {
			updates["name"] = strings.TrimSpace(*p.Name)
		}
		if p.Image != nil {
			updates["image"] = strings.TrimSpace(*p.Image)
		}
		if p.Code != nil {
			code := strings.TrimSpace(*p.Code)
			if code != it.Code {
				if it.Status != models.ItemAvailable {
					return ErrItemOnLoan
				}
				updates["code"] = code
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&it).Updates(updates).Error; err != nil {
			if isUniqueViolation(err, itemCodeIndex) {
				return ErrDuplicateCode
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// DeleteItem soft-deletes an item that nobody has requested or borrowed.
func (r *Repo) DeleteItem(ctx context.Context, id string) error {
	if !validID(id) {
		return lifecycle.ErrItemNotFound
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var it models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&it, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return lifecycle.ErrItemNotFound
			}
			return err
		}
		if it.Status != models.ItemAvailable {
			return ErrItemOnLoan
		}
		return tx.Delete(&it).Error
	})
}

// HistoryRow is one past or current borrowing of an item.
type HistoryRow struct {
	LoanID       string            `json:"loanId"`
	Status       models.LoanStatus `json:"status"`
	BorrowerID   string            `json:"borrowerId"`
	BorrowerName string            `json:"borrowerName"`
	ApprovedAt   *time.Time        `json:"approvedAt,omitempty"`
	ReturnedAt   *time.Time        `json:"returnedAt,omitempty"`
	ReturnNote   string            `json:"returnNote,omitempty"`
}

// ItemHistory lists approved and returned loans, newest approval first.
func (r *Repo) ItemHistory(ctx context.Context, itemID string) ([]HistoryRow, error) {
	if _, err := r.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	rows := []HistoryRow{}
	err := r.DB.WithContext(ctx).
		Table(models.LoanTable+" l").
		Select(`l.id AS loan_id, l.status, l.requester_id AS borrower_id,
			COALESCE(u.name, '') AS borrower_name, l.approved_at, l.returned_at, l.return_note`).
		Joins("LEFT JOIN "+models.UserTable+" u ON u.id = l.requester_id").
		Where("l.item_id = ? AND l.status IN ?", itemID, []string{string(models.LoanApproved), string(models.LoanReturned)}).
		Order("l.approved_at DESC").
		Scan(&rows).Error
	return rows, err
}
