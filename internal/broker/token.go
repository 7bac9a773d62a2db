package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"TradeSentinel/internal/auth"
	"TradeSentinel/internal/model"

	"github.com/tidwall/gjson"
)

const pathToken = "/oauth2/tokenP"

// defaultTokenLifetime applies when the response carries no expiry.
const defaultTokenLifetime = 23 * time.Hour

// TokenIssuer issues access tokens. It implements auth.Issuer.
type TokenIssuer struct {
	baseURL   string
	appKey    string
	appSecret string
	http      *http.Client
	now       func() time.Time
}

// NewTokenIssuer creates an issuer for the same endpoint and keys as the client config.
func NewTokenIssuer(cfg Config) *TokenIssuer {
	base := cfg.BaseURL
	if base == "" {
		base = RealBaseURL
		if cfg.Paper {
			base = PaperBaseURL
		}
	}
	return &TokenIssuer{
		baseURL:   base,
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		http:      newHTTPClient(cfg.Proxy),
		now:       time.Now,
	}
}

// Issue requests a new token. EGW00133 is reported as auth.ErrRateLimited.
func (t *TokenIssuer) Issue(ctx context.Context) (model.Credential, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     t.appKey,
		"appsecret":  t.appSecret,
	})
	if err != nil {
		return model.Credential{}, fmt.Errorf("marshal token request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+pathToken, bytes.NewReader(body))
	if err != nil {
		return model.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	issuedAt := t.now()
	resp, err := t.http.Do(req)
	if err != nil {
		return model.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Credential{}, fmt.Errorf("read token response: %w", err)
	}

	parsed := gjson.ParseBytes(data)
	if parsed.Get("error_code").String() == codeTokenRateLimited || parsed.Get("msg_cd").String() == codeTokenRateLimited {
		return model.Credential{}, fmt.Errorf("%w: %s", auth.ErrRateLimited, parsed.Get("error_description").String())
	}
	if resp.StatusCode != http.StatusOK {
		return model.Credential{}, apiError(resp.StatusCode, parsed)
	}
	token := parsed.Get("access_token").String()
	if token == "" {
		return model.Credential{}, fmt.Errorf("token response without access_token: %s", truncate(data, 200))
	}

	expiresAt := issuedAt.Add(defaultTokenLifetime)
	if secs := parsed.Get("expires_in").Int(); secs > 0 {
		expiresAt = issuedAt.Add(time.Duration(secs) * time.Second)
	} else if s := parsed.Get("access_token_token_expired").String(); s != "" {
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, KST); err == nil {
			expiresAt = ts
		}
	}
	return model.Credential{Token: token, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}
