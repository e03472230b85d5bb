package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SessionProvider resolves platform credentials from the SaaS session
// service, which owns credential storage and refresh. A 401/410 from
// the service means the seller must re-authenticate the account.
type SessionProvider struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedSession
}

type cachedSession struct {
	creds   Credentials
	expires time.Time
}

func NewSessionProvider(baseURL string, timeout time.Duration) *SessionProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SessionProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]cachedSession),
	}
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Credentials returns a valid session for the account, consulting a
// short-lived local cache first.
func (p *SessionProvider) Credentials(ctx context.Context, accountID string) (Credentials, error) {
	p.mu.Lock()
	if c, ok := p.cache[accountID]; ok && time.Now().Before(c.expires) {
		p.mu.Unlock()
		return c.creds, nil
	}
	p.mu.Unlock()

	url := fmt.Sprintf("%s/accounts/%s/session", p.baseURL, accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("build session request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch session for %s: %w", accountID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusGone:
		return Credentials{}, fmt.Errorf("account %s: %w", accountID, ErrCredentialsInvalid)
	default:
		return Credentials{}, fmt.Errorf("session service returned http %d for %s", resp.StatusCode, accountID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Credentials{}, fmt.Errorf("read session response: %w", err)
	}
	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return Credentials{}, fmt.Errorf("decode session response: %w", err)
	}

	creds := Credentials{AccountID: accountID, Token: sess.Token}
	expires := sess.ExpiresAt.Add(-time.Minute)
	if expires.After(time.Now()) {
		p.mu.Lock()
		p.cache[accountID] = cachedSession{creds: creds, expires: expires}
		p.mu.Unlock()
	}
	return creds, nil
}

// Invalidate drops a cached session, forcing a refetch on next use.
func (p *SessionProvider) Invalidate(accountID string) {
	p.mu.Lock()
	delete(p.cache, accountID)
	p.mu.Unlock()
}

// StaticProvider serves fixed credentials; used by tests and local runs.
type StaticProvider map[string]string

func (p StaticProvider) Credentials(_ context.Context, accountID string) (Credentials, error) {
	token, ok := p[accountID]
	if !ok {
		return Credentials{}, fmt.Errorf("account %s: %w", accountID, ErrCredentialsInvalid)
	}
	return Credentials{AccountID: accountID, Token: token}, nil
}
