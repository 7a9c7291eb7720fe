package models

import "time"

const LoanEventTable = "lsb_loan_events"

type LoanAction string

const (
	ActionRequest LoanAction = "request"
	ActionApprove LoanAction = "approve"
	ActionReject  LoanAction = "reject"
	ActionReturn  LoanAction = "return"
)

// LoanEvent is the audit row written alongside every lifecycle transition.
type LoanEvent struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	LoanID     string     `gorm:"type:uuid;index;not null" json:"loanId"`
	ItemID     string     `gorm:"type:uuid;index;not null" json:"itemId"`
	ActorID    string     `gorm:"type:uuid;not null" json:"actorId"`
	Action     LoanAction `gorm:"size:20;not null" json:"action"`
	FromStatus LoanStatus `gorm:"size:20" json:"fromStatus,omitempty"`
	ToStatus   LoanStatus `gorm:"size:20;not null" json:"toStatus"`
	Note       string     `gorm:"size:500" json:"note,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (LoanEvent) TableName() string { return LoanEventTable }
