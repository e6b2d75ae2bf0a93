package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	cases := []struct {
		name      string
		err       error
		retryable bool
		contains  string
	}{
		{
			name:      "transport",
			err:       &TransportError{Service: "RRSM", URL: "http://x/peak-motion", Err: cause},
			retryable: true,
			contains:  "request to http://x/peak-motion failed",
		},
		{
			name:      "parse",
			err:       &ParseError{Service: "ESM", Err: cause},
			retryable: true,
			contains:  "parse response",
		},
		{
			name:      "config",
			err:       &ConfigError{Service: "RRSM", Err: cause},
			retryable: false,
			contains:  "invalid query",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.err)
			assert.Contains(t, tc.err.Error(), tc.contains)
			assert.Contains(t, tc.err.Error(), tc.err.(interface{ Unwrap() error }).Unwrap().Error())
			assert.True(t, errors.Is(tc.err, cause), "cause must survive unwrapping")
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}
