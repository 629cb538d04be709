package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoPipeline is returned when no pipeline exists for the tracked branch.
var ErrNoPipeline = errors.New("no pipeline found for ref")

// ServerError is a non-2xx response from the CI provider.
type ServerError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ServerError) Error() string {
	return "gitlab " + e.Status + " (" + strconv.Itoa(e.StatusCode) + "): " + e.Body
}

// NetworkError is a transport failure that survived every retry.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
