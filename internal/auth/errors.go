package auth

import "fmt"

// Error is the auth provider's typed error: a short code, a message,
// and an optional wrapped cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func errNoCerts(msg string) error {
	return &Error{Code: "NO_CERTS", Message: msg}
}

func errNoKey(msg string) error {
	return &Error{Code: "NO_KEY", Message: msg}
}

func errIO(msg string, err error) error {
	return &Error{Code: "IO", Message: msg, Err: err}
}

func errTLS(msg string, err error) error {
	return &Error{Code: "TLS", Message: msg, Err: err}
}
