package llm

import "fmt"

// APIError is a non-2xx response from an upstream model API. Clients return
// it unwrapped so callers can map upstream failures onto their own status
// handling with errors.As.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}
