package imsms

import (
	"errors"
	"fmt"
)

// ResultError reports a request the platform answered with a non-success result code.
type ResultError struct {
	Op         string
	Code       string
	Message    string
	HTTPStatus int // zero when the platform answered 2xx
}

func (e *ResultError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("imsms %s failed: result code %s", e.Op, e.Code)
	}
	return fmt.Sprintf("imsms %s failed: %s - %s", e.Op, e.Code, e.Message)
}

// Reason returns the most specific human-readable failure text available in err:
// the platform's result message when present, the error text otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var resErr *ResultError
	if errors.As(err, &resErr) && resErr.Message != "" {
		return resErr.Message
	}
	return err.Error()
}
