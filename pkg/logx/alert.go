package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultAlertTimeout = 5 * time.Second

// AlertOutput posts records to a chat webhook as {"text": "ERROR: <line>"}.
//
// It only acts on ERROR and above, whatever threshold the owning sink has.
// Delivery is a single synchronous attempt: failures produce one diagnostic
// line on the fallback writer and WriteRecord still returns nil.
type AlertOutput struct {
	url      string
	client   *http.Client
	fallback io.Writer
	limiter  *rate.Limiter
}

type AlertOption func(*AlertOutput)

func WithAlertClient(c *http.Client) AlertOption {
	return func(a *AlertOutput) {
		if c != nil {
			a.client = c
		}
	}
}

func WithAlertTimeout(d time.Duration) AlertOption {
	return func(a *AlertOutput) {
		if d > 0 {
			a.client = &http.Client{Timeout: d}
		}
	}
}

// WithAlertFallback sets where delivery failures are reported (default stderr).
func WithAlertFallback(w io.Writer) AlertOption {
	return func(a *AlertOutput) {
		if w != nil {
			a.fallback = w
		}
	}
}

// WithAlertRate caps deliveries per second. Alerts over the budget are dropped.
func WithAlertRate(perSec int) AlertOption {
	return func(a *AlertOutput) {
		if perSec > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
		}
	}
}

// NewAlertOutput never fails: an empty URL yields an output whose every
// delivery is reported as failed.
func NewAlertOutput(webhookURL string, opts ...AlertOption) *AlertOutput {
	a := &AlertOutput{
		url:      strings.TrimSpace(webhookURL),
		client:   &http.Client{Timeout: defaultAlertTimeout},
		fallback: Stderr(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type alertPayload struct {
	Text string `json:"text"`
}

func (a *AlertOutput) WriteRecord(rec Record, line []byte) error {
	if rec.Level < LevelError {
		return nil
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return nil
	}
	a.deliver(strings.TrimRight(string(line), "\r\n"))
	return nil
}

func (a *AlertOutput) deliver(text string) {
	if a.url == "" {
		fmt.Fprintln(a.fallback, "Failed to send log to alert webhook: webhook url is not configured")
		return
	}

	body, err := json.Marshal(alertPayload{Text: "ERROR: " + text})
	if err != nil {
		fmt.Fprintf(a.fallback, "Failed to send log to alert webhook: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(a.fallback, "Failed to send log to alert webhook: %v\n", err)
		return
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		fmt.Fprintf(a.fallback, "Failed to send log to alert webhook: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fmt.Fprintf(a.fallback, "Error sending message to alert webhook: http=%d %s\n",
			resp.StatusCode, strings.TrimSpace(string(b)))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func (a *AlertOutput) timeout() time.Duration {
	if a.client != nil && a.client.Timeout > 0 {
		return a.client.Timeout
	}
	return defaultAlertTimeout
}

func (a *AlertOutput) Close() error { return nil }
