package transport

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is wrapped when the report API answers 2xx with a
// body that is not a well-formed payload.
var ErrMalformedResponse = errors.New("malformed response")

// APIError is returned for any non-2xx answer from the report API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error %d: %s", e.Status, e.Body)
}

// Error types reported to analytics for failed submissions.
const (
	ErrorTypeAPI     = "api_error"
	ErrorTypeNetwork = "network_error"
)

// ErrorType classifies err as an API rejection or anything else.
func ErrorType(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorTypeAPI
	}
	return ErrorTypeNetwork
}
