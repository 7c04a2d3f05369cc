package api

import (
	"errors"
	"net/http"

	"github.com/kobeee/ai-postcard-admission/internal/lock"
	"github.com/kobeee/ai-postcard-admission/internal/quota"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "not found"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}

	// ErrLockBusy maps lock contention: the caller should simply retry.
	ErrLockBusy = &AppError{Code: http.StatusServiceUnavailable, Message: "operation busy, please retry"}
	// ErrUpdateConflict maps an optimistic-concurrency conflict that survived
	// all retries.
	ErrUpdateConflict = &AppError{Code: http.StatusConflict, Message: "quota update conflict, please retry"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// HandleError translates domain errors into JSON responses. Lock contention
// and version conflicts get distinct statuses so clients can tell which
// layer is congested; anything unrecognized is a 500 (quota paths fail
// closed on store errors).
func HandleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		err = ErrLockBusy
	case errors.Is(err, quota.ErrConcurrentUpdate):
		err = ErrUpdateConflict
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
