package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/roach88/spendsync/internal/ir"
)

// DefaultTimeout bounds one request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Client sends operations to the finance REST API.
//
// It satisfies engine.RemoteCaller.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithToken uses a fixed bearer token. An empty token sends no
// Authorization header.
func WithToken(token string) Option {
	return func(c *Client) {
		if token == "" {
			c.tokens = nil
			return
		}
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call sends one operation and returns the decoded response body.
// An empty body yields a nil payload.
func (c *Client) Call(ctx context.Context, path []string, method ir.Method, data ir.Payload) (ir.Payload, error) {
	verb := method.HTTPVerb()
	if verb == "" {
		return nil, fmt.Errorf("call: unknown method %q", method)
	}
	endpoint := c.baseURL + "/" + ir.JoinPath(path)

	var body io.Reader
	if method != ir.MethodDelete {
		if data == nil {
			data = ir.Payload{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("call %s %s: encode body: %w", verb, endpoint, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, verb, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("call %s %s: %w", verb, endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return nil, &CallError{Kind: KindNetwork, Verb: verb, Endpoint: endpoint, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("remote call failed", "verb", verb, "endpoint", endpoint, "error", err)
		return nil, &CallError{Kind: KindNetwork, Verb: verb, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &CallError{Kind: KindNetwork, Verb: verb, Endpoint: endpoint, Err: err}
	}

	slog.Debug("remote call",
		"verb", verb,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{
			Kind:     KindRejected,
			Verb:     verb,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  errorMessage(raw),
			Err:      errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, &CallError{
			Kind:     KindRejected,
			Verb:     verb,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  "invalid response body",
			Err:      err,
		}
	}

	// Some handlers report application errors with a 2xx status.
	if msg, ok := payload["error"]; ok && msg != nil {
		return nil, &CallError{
			Kind:     KindRejected,
			Verb:     verb,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  fmt.Sprint(msg),
			Err:      errors.New("application error"),
		}
	}
	return payload, nil
}

// Ping reports whether the API is reachable. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &CallError{Kind: KindNetwork, Verb: http.MethodHead, Endpoint: c.baseURL + "/", Err: err}
	}
	resp.Body.Close()
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// decodePayload decodes a JSON object, keeping numbers exact.
func decodePayload(raw []byte) (ir.Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p ir.Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// errorMessage extracts a message from an error body, falling back to the
// trimmed raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.ErrorDescription != "":
			return body.ErrorDescription
		case body.Message != "":
			return body.Message
		case body.Error != "":
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
