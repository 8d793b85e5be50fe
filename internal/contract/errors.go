package contract

import (
	"errors"
	"fmt"

	"github.com/ppiankov/sentinel/internal/reason"
)

// ValidationError is a request rejection carrying its reason code.
type ValidationError struct {
	Code   reason.Code
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func reject(code reason.Code, detail string) *ValidationError {
	return &ValidationError{Code: code, Detail: detail}
}

// CodeOf returns the reason code carried by err. Errors that are not
// validation errors map to the catch-all invalid-request code.
func CodeOf(err error) reason.Code {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return reason.InvalidRequest
}
