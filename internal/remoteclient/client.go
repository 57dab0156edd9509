// Package remoteclient implements the Remote Client (§4.5): an
// authenticated HTTP wrapper over the sprite generation API exposing
// submit/poll/balance operations, rate-limited and classified-error
// mapped. Retry/backoff, bearer auth, and key redaction are grounded on
// internal/adapter/ai/real/client.go's ChatJSON call path; dual-credential
// round robin is grounded on that file's Groq/OpenRouter key rotation.
package remoteclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/spriteforge/orchestrator/internal/classifier"
	"github.com/spriteforge/orchestrator/internal/domain"
	"github.com/spriteforge/orchestrator/internal/observability"
	"github.com/spriteforge/orchestrator/internal/service/ratelimiter"
	"github.com/spriteforge/orchestrator/internal/statusparser"
)

// breakerMaxFailures/breakerCooldown/breakerSuccessThreshold tune the circuit
// breaker that guards the remote generation API: after 5 consecutive
// failures it opens for 30s; in half-open the first success closes it again
// and any failure reopens it.
const (
	breakerMaxFailures      = 5
	breakerCooldown         = 30 * time.Second
	breakerSuccessThreshold = 0.5
)

var credentialPattern = regexp.MustCompile(`^[A-Za-z0-9-]{32,}$`)

// SubmitResult is the response to a successful submit call.
type SubmitResult struct {
	RemoteJobID string
	Name        string
}

// Client is the Remote Client (§4.5). It is safe for concurrent use.
type Client struct {
	baseURL    string
	hc         *http.Client
	limiter    ratelimiter.Limiter
	credential atomic.Value // string
	credential2 atomic.Value
	useSecond  atomic.Bool // alternates between credential and credential2 when both are set
	breaker    *observability.CircuitBreaker
}

// New constructs a Client against baseURL, with credential attached for
// outbound bearer auth (§4.5). limiter is consulted before every call.
func New(baseURL string, timeout time.Duration, limiter ratelimiter.Limiter, credential, credential2 string) (*Client, error) {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		breaker: observability.NewCircuitBreaker(breakerMaxFailures, breakerCooldown, breakerSuccessThreshold),
	}
	if credential != "" {
		if err := c.SetCredentials(credential); err != nil {
			return nil, err
		}
	}
	if credential2 != "" {
		if err := validateCredential(credential2); err != nil {
			return nil, fmt.Errorf("op=remoteclient.New: secondary credential: %w", err)
		}
		c.credential2.Store(credential2)
	}
	return c, nil
}

// SetCredentials validates and rotates in a new primary credential (§4.5,
// §6). Validation rejects keys under 32 characters or containing anything
// outside [A-Za-z0-9-].
func (c *Client) SetCredentials(key string) error {
	if err := validateCredential(key); err != nil {
		return err
	}
	c.credential.Store(key)
	return nil
}

func validateCredential(key string) error {
	if !credentialPattern.MatchString(key) {
		return &domain.ClassifiedError{
			Kind: domain.KindValidationError, Retryable: false,
			UserMessage:     "invalid credential format",
			TechnicalDetail: "credential must be >=32 chars of [A-Za-z0-9-]",
			Origin:          "remoteclient",
		}
	}
	return nil
}

// redact returns a first-4/last-4 masked form of a credential, never
// logging the middle (§4.5, §6).
func redact(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// activeCredential returns the credential to use for this call, rotating
// across both configured credentials when present (§4 supplemented
// provider account rotation).
func (c *Client) activeCredential() string {
	primary, _ := c.credential.Load().(string)
	secondaryRaw := c.credential2.Load()
	secondary, hasSecondary := secondaryRaw.(string)
	if !hasSecondary || secondary == "" {
		return primary
	}
	if c.useSecond.CompareAndSwap(false, true) {
		return primary
	}
	c.useSecond.Store(false)
	return secondary
}

func backoffConfig() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	b.Multiplier = 2.0
	return b
}

// Submit posts a validated prompt to the remote generation endpoint and
// returns the assigned remote job id (§4.5).
func (c *Client) Submit(ctx domain.Context, prompt domain.StructuredPrompt) (SubmitResult, error) {
	body, err := json.Marshal(prompt)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("op=remoteclient.Submit: %w", err)
	}

	var result SubmitResult
	err = c.do(ctx, http.MethodPost, "/characters", body, func(raw statusparser.RawResponse) error {
		status := statusparser.Parse(raw)
		if status.Kind == domain.RemoteFailed {
			return &domain.ClassifiedError{
				Kind: domain.KindServerError, Retryable: raw.Status >= 500,
				UserMessage: status.FailMessage, TechnicalDetail: fmt.Sprintf("status=%d", raw.Status),
				Origin: "remoteclient",
			}
		}
		result = SubmitResult{}
		if id, ok := raw.Body["character_id"].(string); ok {
			result.RemoteJobID = id
		}
		if name, ok := raw.Body["name"].(string); ok {
			result.Name = name
		}
		return nil
	})
	return result, err
}

// Poll fetches the current status of a previously submitted job (§4.4, §4.5).
func (c *Client) Poll(ctx domain.Context, remoteJobID string) (domain.RemoteJobStatus, error) {
	var status domain.RemoteJobStatus
	err := c.do(ctx, http.MethodGet, "/characters/"+remoteJobID, nil, func(raw statusparser.RawResponse) error {
		status = statusparser.Parse(raw)
		return nil
	})
	return status, err
}

// GetBalance returns the remaining generation credits for the active
// credential (§4.5).
func (c *Client) GetBalance(ctx domain.Context) (int64, error) {
	var credits int64
	err := c.do(ctx, http.MethodGet, "/balance", nil, func(raw statusparser.RawResponse) error {
		if raw.Status != http.StatusOK {
			return classifier.Classify(classifier.RemoteFailure{StatusCode: raw.Status, Message: failBodyString(raw.Body), Origin: "remoteclient"})
		}
		switch v := raw.Body["credits"].(type) {
		case float64:
			credits = int64(v)
		case int64:
			credits = v
		}
		return nil
	})
	return credits, err
}

func failBodyString(body map[string]any) string {
	if detail, ok := body["detail"].(string); ok {
		return detail
	}
	return ""
}

// do performs a rate-limited, retried, classified-error request against the
// remote API, handing the raw response to handle for the caller to parse.
func (c *Client) do(ctx domain.Context, method, path string, body []byte, handle func(statusparser.RawResponse) error) error {
	key := c.activeCredential()
	if key == "" {
		return &domain.ClassifiedError{
			Kind: domain.KindAuthentication, Retryable: false,
			UserMessage: "no credential configured", TechnicalDetail: "remote client has no active credential", Origin: "remoteclient",
		}
	}

	if !c.breaker.CanExecute() {
		return &domain.ClassifiedError{
			Kind: domain.KindServerError, Retryable: true,
			UserMessage:     "remote generation service temporarily unavailable",
			TechnicalDetail: "circuit breaker open",
			Origin:          "remoteclient",
		}
	}

	bo := backoff.WithContext(backoffConfig(), ctx)
	var lastErr error
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				lastErr = fmt.Errorf("op=remoteclient.do: rate limiter: %w", err)
				return lastErr
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytesReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=remoteclient.do: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set("Content-Type", "application/json")

		slog.Debug("remote client request", slog.String("method", method), slog.String("path", path), slog.String("credential", redact(key)))

		resp, err := c.hc.Do(req)
		if err != nil {
			classified := classifier.Classify(classifier.RemoteFailure{NetworkCode: classifyNetErr(err), Message: err.Error(), Origin: "remoteclient"})
			if !classified.Retryable {
				return backoff.Permanent(classified)
			}
			lastErr = classified
			return classified
		}
		defer func() { _ = resp.Body.Close() }()

		raw := statusparser.RawResponse{Status: resp.StatusCode, Headers: flattenHeader(resp.Header)}
		rawBytes, _ := io.ReadAll(resp.Body)
		if len(rawBytes) > 0 {
			_ = json.Unmarshal(rawBytes, &raw.Body)
		}

		// Only 429 and 5xx are retried here. A 423 (locked/processing) goes to
		// handle like any other status; Poll maps it to processing via Parse.
		if resp.StatusCode == http.StatusTooManyRequests {
			classified := classifier.Classify(classifier.RemoteFailure{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After"), Origin: "remoteclient"})
			lastErr = classified
			return classified
		}
		if resp.StatusCode >= 500 {
			classified := classifier.Classify(classifier.RemoteFailure{StatusCode: resp.StatusCode, Message: failBodyString(raw.Body), Origin: "remoteclient"})
			lastErr = classified
			return classified
		}

		lastErr = handle(raw)
		if lastErr != nil {
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		c.breaker.RecordFailure()
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("op=remoteclient.do: %w", err)
	}
	c.breaker.RecordSuccess()
	return nil
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func bytesReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}

func classifyNetErr(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection refused"):
		return "connection_refused"
	case strings.Contains(msg, "no such host"):
		return "dns_error"
	default:
		return "network_error"
	}
}
