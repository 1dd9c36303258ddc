package gigachat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/invoice-auditor/internal/common"
)

const (
	// DefaultTokenLifetime is assumed when the exchange response carries no
	// explicit expiry. A heuristic carried over from the service docs; kept
	// as a named constant rather than inferred.
	DefaultTokenLifetime = 30 * time.Minute
	// RefreshBuffer is subtracted from the expiry before a token is
	// considered stale.
	RefreshBuffer = 5 * time.Minute
)

// Credential is a bearer token with its expiry. Owned exclusively by the
// AuthClient; everything else sees only the token string.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// AuthError carries the status and body of a rejected credential exchange.
// It indicates a configuration problem and is never retried.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential exchange rejected: status %d: %s", e.Status, truncate(e.Body, 500))
}

func (e *AuthError) Unwrap() error { return common.ErrAuth }

type AuthConfig struct {
	URL     string        // default production oauth endpoint
	AuthKey string        // pre-shared base64 secret, sent as Basic auth
	Scope   string        // default GIGACHAT_API_PERS
	Timeout time.Duration // default 30s
}

// AuthClient obtains and refreshes the bearer credential. Token() is the
// only accessor; fetching is transparent. The pipeline is single-threaded
// per document, so no fetch de-duplication is needed.
type AuthClient struct {
	cfg  AuthConfig
	http *http.Client
	log  *slog.Logger
	now  func() time.Time

	cred *Credential
}

func NewAuthClient(cfg AuthConfig, logger *slog.Logger) *AuthClient {
	if cfg.URL == "" {
		cfg.URL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	}
	if cfg.Scope == "" {
		cfg.Scope = "GIGACHAT_API_PERS"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
		now:  time.Now,
	}
}

// Token returns a currently valid bearer token, fetching or refreshing when
// the held one is unset or inside the refresh buffer.
func (a *AuthClient) Token(ctx context.Context) (string, error) {
	if a.cred == nil || !a.now().Before(a.cred.ExpiresAt.Add(-RefreshBuffer)) {
		if err := a.fetch(ctx); err != nil {
			return "", err
		}
	}
	return a.cred.AccessToken, nil
}

// Invalidate drops the held credential; the next Token call fetches anew.
func (a *AuthClient) Invalidate() {
	a.cred = nil
}

func (a *AuthClient) fetch(ctx context.Context) error {
	rid := uuid.New().String()
	start := time.Now()

	form := url.Values{"scope": {a.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rid)
	req.Header.Set("Authorization", "Basic "+a.cfg.AuthKey)

	a.log.Info("gigachat.auth.request", "req_id", rid, "url", a.cfg.URL, "scope", a.cfg.Scope)

	resp, err := a.http.Do(req)
	if err != nil {
		a.log.Error("gigachat.auth.send_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("credential exchange: %w", err)
	}
	defer func(body io.ReadCloser) {
		if cerr := body.Close(); cerr != nil {
			a.log.Warn("gigachat.auth.body_close_error", "req_id", rid, "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		a.log.Error("gigachat.auth.rejected", "req_id", rid, "status", resp.StatusCode,
			"elapsed_ms", time.Since(start).Milliseconds())
		return &AuthError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // epoch milliseconds, optional
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if out.AccessToken == "" {
		return &AuthError{Status: resp.StatusCode, Body: string(raw)}
	}

	expiresAt := a.now().Add(DefaultTokenLifetime)
	if out.ExpiresAt > 0 {
		expiresAt = time.UnixMilli(out.ExpiresAt)
	}
	a.cred = &Credential{AccessToken: out.AccessToken, ExpiresAt: expiresAt}

	a.log.Info("gigachat.auth.token_ok", "req_id", rid,
		"expires_at", expiresAt.Format(time.RFC3339),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
