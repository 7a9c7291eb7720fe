package db

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"Gin_postgres_redis_lending_portal/apperr"
)

const pgUniqueViolation = "23505"

const (
	itemCodeIndex   = "lsb_items_code_key"
	userEmailIndex  = "lsb_users_email_key"
	activeLoanIndex = "lsb_loans_one_active_per_item"
)

var (
	ErrDuplicateCode  = apperr.New(apperr.KindConflict, "DUPLICATE_CODE", "an item with this code already exists")
	ErrItemOnLoan     = apperr.New(apperr.KindConflict, "ITEM_ON_LOAN", "item is requested or borrowed")
	ErrUserNotFound   = apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
	ErrDuplicateEmail = apperr.New(apperr.KindConflict, "DUPLICATE_EMAIL", "a user with this email already exists")
	ErrUserHasLoans   = apperr.New(apperr.KindConflict, "USER_HAS_ACTIVE_LOANS", "user has pending or borrowed items")
	ErrLoanNotFound   = apperr.New(apperr.KindNotFound, "LOAN_NOT_FOUND", "loan not found")
)

// isUniqueViolation matches a unique_violation on the named index, or on any
// index when name is empty.
func isUniqueViolation(err error, name string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return name == "" || pgErr.ConstraintName == name
	}
	return false
}

// validID guards uuid columns against malformed path parameters, which
// Postgres would reject with a 22P02 instead of returning no rows.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
