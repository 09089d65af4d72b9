// Package openmrs is the REST transport used to talk to the clinical
// backend. A Client carries its own cookie jar so that the server-side
// session established by one login is reused by every later call of the
// same workflow and never shared with another user.
package openmrs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Request describes one REST call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	// BasicToken, when set, is sent as "Authorization: Basic <token>".
	BasicToken string
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client rooted at restBaseURL (for example
// "https://emr.example.org/openmrs/ws/rest/v1").
func NewClient(restBaseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(restBaseURL) == "" {
		return nil, errors.New("openmrs: base url is required")
	}
	if _, err := url.Parse(restBaseURL); err != nil {
		return nil, fmt.Errorf("openmrs: parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("openmrs: cookie jar: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(restBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

// BasicToken encodes a username/password pair for HTTP Basic auth.
func BasicToken(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// Do performs the request and decodes a JSON response body into out when
// out is non-nil.
func (c *Client) Do(ctx context.Context, r Request, out interface{}) error {
	target := c.baseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("openmrs: encode %s body: %w", r.Path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return fmt.Errorf("openmrs: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.BasicToken != "" {
		req.Header.Set("Authorization", "Basic "+r.BasicToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openmrs: %s %s: %w", r.Method, r.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     r.Method,
			Path:       r.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("openmrs: decode %s response: %w", r.Path, err)
	}
	return nil
}

// errorMessage pulls error.message out of the backend's error envelope.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return ""
}
