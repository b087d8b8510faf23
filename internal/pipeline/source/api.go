package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
)

type APIConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	// MaxBodyBytes bounds the payload read from the endpoint; 0 means unlimited.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// APIConnector fetches the payload with an HTTP GET on the job location.
type APIConnector struct {
	pipeline.KeyMatcher
	client   *retryablehttp.Client
	maxBytes int64
}

func NewAPIConnector(cfg APIConfig) *APIConnector {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return &APIConnector{KeyMatcher: "API", client: client, maxBytes: cfg.MaxBodyBytes}
}

func (c *APIConnector) Extract(ctx context.Context, location, format string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", pipeline.ErrSourceUnavailable, err)
	}
	if accept := acceptHeader(format); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %s", pipeline.ErrSourceUnavailable, location, resp.Status)
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", pipeline.ErrSourceUnavailable, err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: response from %s exceeds %d bytes", pipeline.ErrSourceUnavailable, location, c.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", pipeline.ErrSourceUnavailable, location)
	}
	return data, nil
}

func acceptHeader(format string) string {
	switch strings.ToUpper(format) {
	case "JSON":
		return "application/json"
	case "CSV":
		return "text/csv"
	case "XML":
		return "application/xml"
	}
	return ""
}
