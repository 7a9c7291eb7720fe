package lifecycle

import "Gin_postgres_redis_lending_portal/apperr"

var (
	ErrItemNotFound          = apperr.New(apperr.KindNotFound, "ITEM_NOT_FOUND", "item not found")
	ErrItemUnavailable       = apperr.New(apperr.KindConflict, "ITEM_UNAVAILABLE", "item is not available for borrowing")
	ErrNoPendingLoan         = apperr.New(apperr.KindNotFound, "NO_PENDING_LOAN", "item has no pending loan request")
	ErrNoActiveLoan          = apperr.New(apperr.KindNotFound, "NO_ACTIVE_LOAN", "item is not currently borrowed")
	ErrMissingNote           = apperr.New(apperr.KindValidation, "MISSING_NOTE", "rejection note is required")
	ErrInvalidExpectedReturn = apperr.New(apperr.KindValidation, "INVALID_EXPECTED_RETURN", "expected return must be in the future")
	ErrConflict              = apperr.New(apperr.KindConflict, "CONFLICT", "item was changed by another request, reload and retry")
	ErrForbidden             = apperr.New(apperr.KindForbidden, "FORBIDDEN", "role is not allowed to perform this action")
)
