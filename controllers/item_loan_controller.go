package controllers

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
)

// LoanController adapts the loan lifecycle endpoints onto the coordinator.
type LoanController struct {
	Loans  LoanService
	People interface {
		FindUserByID(ctx context.Context, id string) (*models.User, error)
	}
}

func NewLoanController(loans LoanService, people UserRepo) *LoanController {
	return &LoanController{Loans: loans, People: people}
}

type requestLoanReq struct {
	ItemID         string     `json:"itemId" binding:"required"`
	Note           string     `json:"note" binding:"max=500"`
	ExpectedReturn *time.Time `json:"expectedReturn"`
}

// POST /api/loans/request
func (lc *LoanController) Request(c *app.Ctx) {
	var in requestLoanReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	res, err := lc.Loans.RequestLoan(c.Request.Context(), app.CurrentActor(c), lifecycle.RequestInput{
		ItemID:         strings.TrimSpace(in.ItemID),
		Note:           strings.TrimSpace(in.Note),
		ExpectedReturn: in.ExpectedReturn,
	})
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.Created(c, res)
}

type itemActionReq struct {
	ItemID        string `json:"itemId" binding:"required"`
	RejectionNote string `json:"rejectionNote" binding:"max=500"`
	ReturnNote    string `json:"returnNote" binding:"max=500"`
}

type borrower struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type approveResp struct {
	*lifecycle.Result
	Borrower *borrower `json:"borrower,omitempty"`
}

// PUT /api/loans/approve
func (lc *LoanController) Approve(c *app.Ctx) {
	var in itemActionReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := lc.Loans.ApproveLoan(ctx, app.CurrentActor(c), strings.TrimSpace(in.ItemID))
	if err != nil {
		app.Fail(c, err)
		return
	}

	out := approveResp{Result: res}
	if u, err := lc.People.FindUserByID(ctx, res.Loan.RequesterID); err == nil {
		out.Borrower = &borrower{ID: u.ID, Name: u.Name, Email: u.Email}
	} else {
		app.Logger(c).Warn("load borrower", zap.String("user_id", res.Loan.RequesterID), zap.Error(err))
	}
	app.OK(c, out)
}

// PUT /api/loans/reject
func (lc *LoanController) Reject(c *app.Ctx) {
	var in itemActionReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	res, err := lc.Loans.RejectLoan(c.Request.Context(), app.CurrentActor(c), strings.TrimSpace(in.ItemID), in.RejectionNote)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, res)
}

// PUT /api/loans/return
func (lc *LoanController) Return(c *app.Ctx) {
	var in itemActionReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	res, err := lc.Loans.ReturnLoan(c.Request.Context(), app.CurrentActor(c), strings.TrimSpace(in.ItemID), strings.TrimSpace(in.ReturnNote))
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, res)
}
