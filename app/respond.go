package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/apperr"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Count   *int64 `json:"count,omitempty"`
	Next    *int   `json:"next,omitempty"`
	Prev    *int   `json:"prev,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

func Done(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: msg})
}

// Page writes one page of a listing with its total and neighbour page numbers.
func Page(c *gin.Context, data any, total int64, p Paging) {
	env := Envelope{Success: true, Data: data, Count: &total}
	if p.Page > 1 {
		prev := p.Page - 1
		env.Prev = &prev
	}
	if int64(p.Page)*int64(p.Limit) < total {
		next := p.Page + 1
		env.Next = &next
	}
	c.JSON(http.StatusOK, env)
}

// Fail maps err to a status code. Unexpected errors are logged here and
// reach the client only as a generic message.
func Fail(c *gin.Context, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		abort(c, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body is too large")
		return
	}

	kind := apperr.KindOf(err)
	if kind == apperr.KindUnexpected {
		Logger(c).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	code, msg := apperr.Public(err)
	abort(c, apperr.HTTPStatus(kind), code, msg)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Error: code, Message: msg})
}
