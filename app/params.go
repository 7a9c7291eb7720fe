package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"Gin_postgres_redis_lending_portal/apperr"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Paging struct {
	Page  int
	Limit int
}

// ParsePaging reads ?page= and ?limit=. Missing values fall back to the
// first page of DefaultLimit rows.
func ParsePaging(c *gin.Context) (Paging, error) {
	p := Paging{Page: 1, Limit: DefaultLimit}
	if s := c.Query("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return p, apperr.Invalid("page must be a positive integer")
		}
		p.Page = n
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxLimit {
			return p, apperr.Invalid("limit must be between 1 and 100")
		}
		p.Limit = n
	}
	return p, nil
}

// QueryTime accepts RFC 3339 timestamps or plain dates (midnight UTC).
func QueryTime(c *gin.Context, name string) (*time.Time, error) {
	s := strings.TrimSpace(c.Query(name))
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Invalid(name + " must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}

// BindJSON decodes the body into v. Decoding errors become validation
// errors, oversized bodies keep their *http.MaxBytesError.
func BindJSON(c *gin.Context, v any) error {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return apperr.Invalid("request body is required")
	}
	return apperr.Invalid("invalid request body: " + err.Error())
}
