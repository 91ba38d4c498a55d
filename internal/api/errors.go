package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/parley-chat/parley/internal/chat"
)

type ApiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
	}
}

func NewUnauthorizedError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    msg,
	}
}

func NewForbiddenError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    msg,
	}
}

func NewNotFoundError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    msg,
	}
}

func NewConflictError(msg string) *ApiError {
	return &ApiError{
		StatusCode: http.StatusConflict,
		Message:    msg,
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    "internal server error",
		Err:        err,
	}
}

// mapError translates pipeline sentinels into HTTP responses, preserving the
// sentinel strings as the error body.
func mapError(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		return NewUnauthorizedError(err.Error())
	case errors.Is(err, chat.ErrInvalidCredentials):
		return NewUnauthorizedError(err.Error())
	case errors.Is(err, chat.ErrRoomNotFound):
		return NewNotFoundError(err.Error())
	case errors.Is(err, chat.ErrNotInRoom):
		return NewForbiddenError(err.Error())
	case errors.Is(err, chat.ErrRoomExists), errors.Is(err, chat.ErrEmailTaken):
		return NewConflictError(err.Error())
	case errors.Is(err, chat.ErrContentRequired), errors.Is(err, chat.ErrNameRequired):
		return NewBadRequestError(err.Error())
	default:
		return NewInternalServerError(err)
	}
}
