package controllers

import (
	"strings"

	"github.com/google/uuid"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/models"
)

// LedgerController serves the read side of loans: listings, counts, the
// per-loan audit trail and dashboard figures.
type LedgerController struct {
	Ledger LedgerRepo
	Stats  StatsCache
}

func NewLedgerController(ledger LedgerRepo, stats StatsCache) *LedgerController {
	return &LedgerController{Ledger: ledger, Stats: stats}
}

// GET /api/loans?status=pending,approved&requesterId=&from=&to=&q=&page=&limit=
//
// Students only ever see their own loans, whatever requesterId says.
func (lc *LedgerController) List(c *app.Ctx) {
	p, err := app.ParsePaging(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	q := db.LoanQuery{
		RequesterID: strings.TrimSpace(c.Query("requesterId")),
		Q:           c.Query("q"),
		Page:        p.Page,
		Size:        p.Limit,
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := models.ParseLoanStatus(part)
			if err != nil {
				app.Fail(c, apperr.Invalid("unknown loan status "+strings.TrimSpace(part)))
				return
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if q.From, err = app.QueryTime(c, "from"); err != nil {
		app.Fail(c, err)
		return
	}
	if q.To, err = app.QueryTime(c, "to"); err != nil {
		app.Fail(c, err)
		return
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		app.Fail(c, apperr.Invalid("from must be before to"))
		return
	}

	if actor := app.CurrentActor(c); !actor.Role.IsStaff() {
		q.RequesterID = actor.ID
	} else if q.RequesterID != "" {
		if _, err := uuid.Parse(q.RequesterID); err != nil {
			app.Fail(c, apperr.Invalid("requesterId must be a user id"))
			return
		}
	}

	res, err := lc.Ledger.ListLoans(c.Request.Context(), q)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.Page(c, res.Items, res.Total, p)
}

// GET /api/loans/total counts items currently borrowed.
func (lc *LedgerController) Total(c *app.Ctx) {
	n, err := lc.Ledger.CountActiveLoans(c.Request.Context())
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, app.H{"count": n})
}

// GET /api/loans/:id/events
func (lc *LedgerController) Events(c *app.Ctx) {
	evs, err := lc.Ledger.ListLoanEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, evs)
}

// GET /api/dashboard/stats is served from Redis while fresh.
func (lc *LedgerController) DashboardStats(c *app.Ctx) {
	ctx := c.Request.Context()
	if s, ok := lc.Stats.Get(ctx); ok {
		app.OK(c, s)
		return
	}
	s, err := lc.Ledger.DashboardStats(ctx)
	if err != nil {
		app.Fail(c, err)
		return
	}
	lc.Stats.Set(ctx, s)
	app.OK(c, s)
}
