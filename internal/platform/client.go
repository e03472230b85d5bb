package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"ad-automation-engine/internal/config"
	"ad-automation-engine/internal/ratelimit"
	"ad-automation-engine/internal/telemetry"
)

// Credentials is a per-account platform session.
type Credentials struct {
	AccountID string
	Token     string
}

// ErrCredentialsInvalid is returned by providers when the stored session
// is expired or revoked and the account needs re-authentication.
var ErrCredentialsInvalid = errors.New("credentials invalid or expired")

// CredentialsProvider resolves stored session credentials per account.
type CredentialsProvider interface {
	Credentials(ctx context.Context, accountID string) (Credentials, error)
}

// Client is the shared HTTP transport to the advertising platform. It
// owns error classification, bounded retries with backoff, and the
// per-account outbound rate-limit gate.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	creds          CredentialsProvider
	limiter        *ratelimit.TokenBucket
	retryMax       int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// NewClient builds the platform transport from config. limiter may be
// nil in tests.
func NewClient(cfg config.Config, creds CredentialsProvider, limiter *ratelimit.TokenBucket) *Client {
	timeout := cfg.PlatformTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return &Client{
		baseURL:        cfg.PlatformBaseURL,
		httpClient:     &http.Client{Timeout: timeout},
		creds:          creds,
		limiter:        limiter,
		retryMax:       retryMax,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
	}
}

type ctxKey int

const ruleIDKey ctxKey = 0

// WithRuleID tags a context with the rule evaluation the outbound calls
// belong to, so every platform call is attributable for audit.
func WithRuleID(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, ruleIDKey, ruleID)
}

// RuleIDFrom returns the tagged rule ID, if any.
func RuleIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ruleIDKey).(string); ok {
		return v
	}
	return ""
}

// errorEnvelope is the platform's error body shape.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post issues one authenticated call with classification and bounded
// retries. Auth and validation failures return immediately; transient
// and throttle failures back off between attempts.
func (c *Client) post(ctx context.Context, accountID, path string, reqBody, out any) error {
	creds, err := c.creds.Credentials(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrCredentialsInvalid) {
			return &Error{Class: ClassAuthInvalid, AccountID: accountID, Err: err}
		}
		return &Error{Class: ClassTransient, AccountID: accountID, Err: fmt.Errorf("resolve credentials: %w", err)}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return &Error{Class: ClassValidation, AccountID: accountID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		if attempt > 1 {
			telemetry.PlatformRetries.Inc()
			select {
			case <-ctx.Done():
				return &Error{Class: ClassTransient, AccountID: accountID, Err: ctx.Err()}
			case <-time.After(backoffWithJitter(c.backoffInitial, c.backoffMax, attempt-1)):
			}
		}

		if c.limiter != nil {
			allowed, _, lerr := c.limiter.Allow(ctx, "platform:"+accountID)
			if lerr != nil {
				lastErr = &Error{Class: ClassTransient, AccountID: accountID, Err: fmt.Errorf("rate limiter: %w", lerr)}
				continue
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				lastErr = &Error{Class: ClassRateLimited, AccountID: accountID, Code: "local_throttle", Err: errors.New("outbound budget exhausted")}
				continue
			}
		}

		lastErr = c.once(ctx, creds, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, creds Credentials, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Class: ClassValidation, AccountID: creds.AccountID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Class: ClassTransient, AccountID: creds.AccountID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Class: ClassTransient, AccountID: creds.AccountID, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var env errorEnvelope
		_ = json.Unmarshal(body, &env)
		return &Error{
			Class:     classifyStatus(resp.StatusCode),
			Code:      env.Error.Code,
			AccountID: creds.AccountID,
			Err:       fmt.Errorf("%s: http %d: %s", path, resp.StatusCode, env.Error.Message),
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Class: ClassTransient, AccountID: creds.AccountID, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuthInvalid
	case code >= 400 && code < 500:
		return ClassValidation
	default:
		return ClassTransient
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
