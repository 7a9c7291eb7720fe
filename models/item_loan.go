package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const LoanTable = "lsb_loans"
const ItemTable = "lsb_items"

type ItemStatus string

const (
	ItemAvailable ItemStatus = "available"
	ItemPending   ItemStatus = "pending"
	ItemBorrowed  ItemStatus = "borrowed"
)

var ErrInvalidItemStatus = errors.New("invalid item status")

// ParseItemStatus accepts the legacy "tersedia" and "dipinjam" values.
func ParseItemStatus(s string) (ItemStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available", "tersedia":
		return ItemAvailable, nil
	case "pending":
		return ItemPending, nil
	case "borrowed", "dipinjam":
		return ItemBorrowed, nil
	}
	return "", ErrInvalidItemStatus
}

type LoanStatus string

const (
	LoanPending  LoanStatus = "pending"
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanReturned LoanStatus = "returned"
)

var ErrInvalidLoanStatus = errors.New("invalid loan status")

func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(strings.ToLower(strings.TrimSpace(s))) {
	case LoanPending:
		return LoanPending, nil
	case LoanApproved:
		return LoanApproved, nil
	case LoanRejected:
		return LoanRejected, nil
	case LoanReturned:
		return LoanReturned, nil
	}
	return "", ErrInvalidLoanStatus
}

// Active loans hold their item; at most one may exist per item.
func (s LoanStatus) Active() bool { return s == LoanPending || s == LoanApproved }

type Item struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `gorm:"size:200;not null" json:"name"`
	Code       string         `gorm:"size:120;not null" json:"code"`
	Image      string         `gorm:"size:512" json:"image,omitempty"`
	Status     ItemStatus     `gorm:"size:20;not null;default:'available'" json:"status"`
	BorrowedBy *string        `gorm:"type:uuid" json:"borrowedBy,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

type Loan struct {
	ID               string     `gorm:"type:uuid;primaryKey" json:"id"`
	ItemID           string     `gorm:"type:uuid;index;not null" json:"itemId"`
	RequesterID      string     `gorm:"type:uuid;index;not null" json:"requesterId"`
	Status           LoanStatus `gorm:"size:20;not null" json:"status"`
	RequestedAt      time.Time  `gorm:"not null" json:"requestedAt"`
	RequestNote      string     `gorm:"size:500" json:"requestNote,omitempty"`
	ExpectedReturnAt *time.Time `json:"expectedReturnAt,omitempty"`

	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy *string    `gorm:"type:uuid" json:"approvedBy,omitempty"`

	RejectedAt    *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy    *string    `gorm:"type:uuid" json:"rejectedBy,omitempty"`
	RejectionNote string     `gorm:"size:500" json:"rejectionNote,omitempty"`

	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	ReturnedBy *string    `gorm:"type:uuid" json:"returnedBy,omitempty"`
	ReturnNote string     `gorm:"size:500" json:"returnNote,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Item) TableName() string { return ItemTable }
func (Loan) TableName() string { return LoanTable }

// DashboardStats is the admin landing page summary.
type DashboardStats struct {
	ItemsCount   int64 `json:"itemsCount"`
	LoanCount    int64 `json:"loanCount"`
	RequestCount int64 `json:"requestCount"`
	UserCount    int64 `json:"userCount"`
}
