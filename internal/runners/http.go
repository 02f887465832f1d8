package runners

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/strandlabs/strand/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures the default HTTP client.
type HTTPConfig struct {
	MaxResponseBody int64
	Timeout         time.Duration
}

// DefaultHTTPClient implements HTTPClient on net/http with a response body
// size cap and JSON body decoding by content type.
type DefaultHTTPClient struct {
	client          *http.Client
	maxResponseBody int64
}

// NewHTTPClient creates an HTTP client for http steps.
func NewHTTPClient(cfg HTTPConfig) *DefaultHTTPClient {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &DefaultHTTPClient{
		client:          &http.Client{Timeout: cfg.Timeout},
		maxResponseBody: cfg.MaxResponseBody,
	}
}

// Request issues the HTTP request. A JSON-marshalable body is sent as
// application/json; a string body is sent verbatim. The response body is
// parsed as JSON when the content type indicates it, else kept as raw text.
func (c *DefaultHTTPClient) Request(ctx context.Context, method, rawURL string, headers map[string]string, body any) (*HTTPResponse, error) {
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL)
	}

	var bodyReader io.Reader
	var contentType string
	if body != nil {
		switch b := body.(type) {
		case string:
			bodyReader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeCapability, "marshal request body").WithCause(err)
			}
			bodyReader = strings.NewReader(string(raw))
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "http request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsed any
	switch {
	case len(raw) == 0:
		parsed = nil
	case strings.Contains(respContentType, "application/json"):
		var jsonBody any
		if err := json.Unmarshal(raw, &jsonBody); err == nil {
			parsed = jsonBody
		} else {
			parsed = string(raw)
		}
	default:
		parsed = string(raw)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &HTTPResponse{
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    parsed,
	}, nil
}

var _ HTTPClient = (*DefaultHTTPClient)(nil)
