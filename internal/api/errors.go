package api

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an application-level failure: the request reached the
// server but the envelope status was not Ok.
type StatusError struct {
	Method string
	Path   string
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %s", e.Method, e.Path, e.Status)
}

type HTTPError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.Code)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Code == http.StatusNotFound
}

// StatusOf returns the application status code carried by err, if any.
func StatusOf(err error) (string, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return "", false
}
