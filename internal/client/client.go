// Package client implements the RRSM and ESM web-service clients. A client
// composes three orthogonal capabilities (URL building, option validation,
// response parsing) over a shared retrying HTTP core. Each parser produces
// concrete provider records and converts them to the pipeline's RawStation
// form.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/types"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 3
	defaultInterval = 2 * time.Second
)

// Options is the validated query option set appended to the service URL.
type Options map[string]string

// URLBuilder combines a base URL, endpoint and options into a request URL.
type URLBuilder interface {
	BuildURL(opts Options) (string, error)
}

// OptionValidator rejects unsupported options before the URL is built.
type OptionValidator interface {
	Validate(opts Options) (Options, error)
}

// ResponseParser turns a raw service response into a Result.
type ResponseParser interface {
	Parse(body []byte) (*Result, error)
}

// EventInfo is the event-level portion of a provider response.
type EventInfo struct {
	EventID       string
	OriginTime    time.Time
	Latitude      float64
	Longitude     float64
	DepthKm       float64
	Magnitude     float64
	MagnitudeType string
}

// Result carries a provider's event data plus its normalized stations.
type Result struct {
	Event    *EventInfo
	Stations []types.RawStation
}

// Client queries one provider endpoint.
type Client struct {
	service   string
	builder   URLBuilder
	validator OptionValidator
	parser    ResponseParser
	http      *http.Client
	log       *zap.Logger
	retries   uint64
	interval  time.Duration
}

// New assembles a client from its three capabilities.
func New(service string, b URLBuilder, v OptionValidator, p ResponseParser, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		service:   service,
		builder:   b,
		validator: v,
		parser:    p,
		http:      &http.Client{Timeout: defaultTimeout},
		log:       log,
		retries:   defaultRetries,
		interval:  defaultInterval,
	}
}

// Query fetches and parses one response. Transport failures are retried
// up to three times with a constant two-second backoff; exhaustion returns
// a TransportError, never a panic.
func (c *Client) Query(ctx context.Context, opts Options) (*Result, error) {
	validated, err := c.validator.Validate(opts)
	if err != nil {
		return nil, &ConfigError{Service: c.service, Err: err}
	}
	url, err := c.builder.BuildURL(validated)
	if err != nil {
		return nil, &ConfigError{Service: c.service, Err: err}
	}

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		b, err := c.fetch(ctx, url)
		if err != nil {
			c.log.Warn("provider request failed",
				zap.String("service", c.service),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		body = b
		return nil
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, &TransportError{Service: c.service, URL: url, Err: err}
	}

	result, err := c.parser.Parse(body)
	if err != nil {
		return nil, &ParseError{Service: c.service, Err: err}
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		// No data for this event yet; not worth retrying.
		return nil, backoff.Permanent(fmt.Errorf("no data (HTTP %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error (HTTP %d)", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status HTTP %d", resp.StatusCode))
	}
}
