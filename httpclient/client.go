// Package httpclient builds and drives the per-worker HTTP client used for
// every upstream call a worker makes: one client, bound to one worker's
// proxy, never shared across identities. Generalized from a session pool to
// a one-client-per-worker model and extended with retry, rate-limit
// cooldown, and response classification.
package httpclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/firasghr/followfleet/models"
)

// Outcome kinds returned by Do's response classification.
type Outcome string

const (
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeEmpty       Outcome = "empty"
	OutcomeJSON        Outcome = "json"
)

// AuthError is the non-retryable outcome for a 401/403 response.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("httpclient: authentication failure (status %d)", e.StatusCode)
}

// Response is the classified result of a single call.
type Response struct {
	Outcome    Outcome
	StatusCode int
	Body       json.RawMessage
}

const (
	rateLimitCooldown  = 15 * time.Minute
	maxRateLimitRetry  = 3
	maxTimeoutRetry    = 3
	minInterRequest    = 500 * time.Millisecond
	interRequestJitter = 1500 * time.Millisecond // added to minInterRequest for a [0.5, 2.0)s total range
)

// Client is a dedicated HTTP client for exactly one worker, bound to that
// worker's upstream proxy.
type Client struct {
	http      *http.Client
	userAgent string
}

// New constructs a *Client routed through proxy, with randomized
// connect/read/write/pool timeouts, TLS verification and HTTP/2 disabled,
// and a bounded keepalive pool.
func New(proxy models.ProxyConfig, userAgent string) (*Client, error) {
	transport, err := buildTransport(proxy)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create cookie jar: %w", err)
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   randRange(45*time.Second, 60*time.Second),
		},
		userAgent: userAgent,
	}, nil
}

func buildTransport(proxy models.ProxyConfig) (*http.Transport, error) {
	proxyURL, err := proxy.URL()
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid proxy: %w", err)
	}

	dialTimeout := randRange(20*time.Second, 30*time.Second)
	keepaliveExpiry := randRange(25*time.Second, 35*time.Second)
	maxConns := 8 + rand.Intn(5) // [8, 12]
	maxIdle := 3 + rand.Intn(5)  // [3, 7]

	return &http.Transport{
		Proxy:       http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
		// TLS verification is disabled: upstream proxies in this fleet
		// frequently terminate TLS with leaves we cannot validate.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // required: proxy-terminated TLS with untrusted leaves
		},
		// HTTP/2 disabled: an empty TLSNextProto map stops the transport
		// from negotiating h2 via ALPN, forcing HTTP/1.1.
		TLSNextProto:        map[string]func(string, *tls.Conn) http.RoundTripper{},
		DisableKeepAlives:   false,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     keepaliveExpiry,
		TLSHandshakeTimeout: dialTimeout,
	}, nil
}

func randRange(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// interRequestDelay returns a small random delay in [0.5, 2.0)s to blunt
// request bursts against the upstream.
func interRequestDelay() time.Duration {
	return minInterRequest + time.Duration(rand.Int63n(int64(interRequestJitter)))
}

// Do performs a single signed HTTP call with the full retry/classification
// behavior: per-call headers (user-agent, fresh UUID, accept-language), a
// pre-request pacing delay, 429 cooldown-and-retry (up to 3 total), 401/403
// as a non-retryable AuthError, and transport-timeout retry with
// exponential backoff up to 3 retries.
//
// newRequest is invoked once per attempt so the caller can rebuild a fresh
// body reader — http.Request bodies are single-use.
func (c *Client) Do(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	var rateLimitAttempts, transportAttempts int

	op := func() (*Response, error) {
		select {
		case <-ctx.Done():
			return nil, backoff.Permanent(ctx.Err())
		default:
		}

		time.Sleep(interRequestDelay())

		req, err := newRequest(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("httpclient: build request: %w", err))
		}
		c.applyHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			// Transport-level failure (timeout, connection refused, dead
			// proxy): retried with exponential backoff by the policy below.
			transportAttempts++
			if transportAttempts > maxTimeoutRetry {
				return nil, backoff.Permanent(fmt.Errorf("httpclient: transport error after %d retries: %w", maxTimeoutRetry, err))
			}
			return nil, fmt.Errorf("httpclient: transport error: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			rateLimitAttempts++
			if rateLimitAttempts > maxRateLimitRetry {
				return &Response{Outcome: OutcomeRateLimited, StatusCode: resp.StatusCode},
					backoff.Permanent(fmt.Errorf("httpclient: rate-limited after %d retries", maxRateLimitRetry))
			}
			time.Sleep(rateLimitCooldown)
			return nil, fmt.Errorf("httpclient: rate limited, retrying (%d/%d)", rateLimitAttempts, maxRateLimitRetry)

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, backoff.Permanent(&AuthError{StatusCode: resp.StatusCode})

		case resp.StatusCode == http.StatusNoContent:
			return &Response{Outcome: OutcomeEmpty, StatusCode: resp.StatusCode}, nil

		default:
			return &Response{Outcome: OutcomeJSON, StatusCode: resp.StatusCode, Body: body}, nil
		}
	}

	expBackoff := backoff.NewExponentialBackOff()
	// No elapsed-time cap: a single 15-minute rate-limit cooldown would
	// otherwise exhaust the default budget and end the retries early.
	expBackoff.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(expBackoff, maxTimeoutRetry+maxRateLimitRetry)
	return backoff.RetryWithData(op, backoff.WithContext(policy, ctx))
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
