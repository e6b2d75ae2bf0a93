package client

import "fmt"

// ConfigError reports an invalid option set or an unbuildable URL. Not
// retryable: the same call will fail the same way.
type ConfigError struct {
	Service string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid query: %v", e.Service, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports an HTTP failure that survived the retry budget.
// Callers treat it as retryable at the schedule level.
type TransportError struct {
	Service string
	URL     string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request to %s failed: %v", e.Service, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a response that arrived but could not be decoded.
type ParseError struct {
	Service string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Service, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error class is worth another scheduled
// attempt. Transport and parse failures are; configuration mistakes never
// fix themselves.
func IsRetryable(err error) bool {
	switch err.(type) {
	case *ConfigError:
		return false
	default:
		return true
	}
}
