package providers

import "fmt"

// StatusError is a non-200 vendor response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vendor API error (status %d): %s", e.StatusCode, e.Body)
}
