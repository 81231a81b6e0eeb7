package webhook

import (
	"fmt"
	"strings"
)

const excerptLimit = 200

// ConfigurationError reports an endpoint that is unset, still a placeholder,
// or not a well-formed absolute URL.
type ConfigurationError struct {
	Endpoint string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s webhook is not configured: %s", e.Endpoint, e.Reason)
}

// DataFormatError reports a remote payload that cannot be parsed or has the
// wrong top-level shape. Excerpt holds the start of the raw body.
type DataFormatError struct {
	Reason  string
	Excerpt string
	Err     error
}

func (e *DataFormatError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(". Raw response: %q", e.Excerpt)
	}
	return msg
}

func (e *DataFormatError) Unwrap() error { return e.Err }

// TransportError reports a non-success HTTP status. Body is truncated.
type TransportError struct {
	Op     string
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: remote returned status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: remote returned status %d: %s", e.Op, e.Status, e.Body)
}

// NetworkError reports a request that could not be sent or completed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// excerpt truncates s to n runes, marking the cut with an ellipsis.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
