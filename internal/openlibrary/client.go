package openlibrary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

type Client struct {
	baseURL string
	http    *http.Client
	limit   int
}

type Option func(*Client)

// WithBaseURL points the client at another host (tests, mirrors).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

// WithLimit sets the limit query parameter. Zero leaves it to the server.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.limit = n
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		limit:   DefaultMaxDocs,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	NumFound *int  `json:"num_found"`
	Docs     []Doc `json:"docs"`
}

// Search runs one query. It performs exactly one HTTP request.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("fields", SearchFields)
	if c.limit > 0 {
		q.Set("limit", strconv.Itoa(c.limit))
	}
	u := c.baseURL + searchEndpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if body.NumFound == nil {
		return nil, &DecodeError{Err: errors.New("missing num_found")}
	}

	return &Result{Query: query, NumFound: *body.NumFound, Docs: body.Docs}, nil
}
