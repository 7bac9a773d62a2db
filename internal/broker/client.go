// Package broker is the Korea Investment & Securities REST client: quotes, history,
// rankings, investor flow, balance and market orders.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	PaperBaseURL = "https://openapivts.koreainvestment.com:29443"
	RealBaseURL  = "https://openapi.koreainvestment.com:9443"
)

// KST is the exchange time zone.
var KST = time.FixedZone("KST", 9*60*60)

// TokenSource hands out the current access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a token the server reports expired.
type invalidator interface {
	Invalidate()
}

// Config configures the client.
type Config struct {
	BaseURL        string
	AppKey         string
	AppSecret      string
	AccountNo      string // "12345678-01"
	Paper          bool
	Proxy          string
	QuoteTimeout   time.Duration
	HistoryTimeout time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
}

// Client calls the brokerage REST API.
type Client struct {
	cfg    Config
	tokens TokenSource
	http   *http.Client
	now    func() time.Time
}

// NewClient creates a client with optional proxy support.
func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = RealBaseURL
		if cfg.Paper {
			cfg.BaseURL = PaperBaseURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   newHTTPClient(cfg.Proxy),
		now:    time.Now,
	}
}

func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}
}

// request describes one REST call.
type request struct {
	method   string
	path     string
	trID     string
	query    url.Values
	body     any
	timeout  time.Duration
	attempts int
}

// call obtains a token and performs req with bounded retry on transient failures.
func (c *Client) call(ctx context.Context, req request) (gjson.Result, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if token == "" {
		return gjson.Result{}, ErrNoCredential
	}
	attempts := req.attempts
	if attempts == 0 {
		attempts = c.cfg.MaxAttempts
	}
	var res gjson.Result
	err = withRetry(ctx, attempts, c.cfg.RetryBase, func(ctx context.Context) error {
		r, err := c.send(ctx, req, token)
		res = r
		return err
	})
	return res, err
}

func (c *Client) send(ctx context.Context, req request, token string) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	u := c.cfg.BaseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshal %s body: %w", req.trID, err)
		}
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build %s request: %w", req.trID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("authorization", "Bearer "+token)
	httpReq.Header.Set("appkey", c.cfg.AppKey)
	httpReq.Header.Set("appsecret", c.cfg.AppSecret)
	httpReq.Header.Set("tr_id", req.trID)
	httpReq.Header.Set("custtype", "P")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", ErrTransient, req.trID, req.path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read %s response: %v", ErrTransient, req.trID, err)
	}

	parsed := gjson.ParseBytes(data)
	msgCode := parsed.Get("msg_cd").String()
	if msgCode == codeTokenExpired {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
		return gjson.Result{}, apiError(resp.StatusCode, parsed)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return gjson.Result{}, fmt.Errorf("%w: %s status %d: %s", ErrTransient, req.trID, resp.StatusCode, truncate(data, 200))
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, apiError(resp.StatusCode, parsed)
	}
	if rt := parsed.Get("rt_cd"); rt.Exists() && rt.String() != "0" {
		return gjson.Result{}, apiError(resp.StatusCode, parsed)
	}
	return parsed, nil
}

func apiError(status int, body gjson.Result) *APIError {
	e := &APIError{
		Status:  status,
		Code:    body.Get("rt_cd").String(),
		MsgCode: body.Get("msg_cd").String(),
		Message: body.Get("msg1").String(),
	}
	if e.MsgCode == "" {
		e.MsgCode = body.Get("error_code").String()
		e.Message = body.Get("error_description").String()
	}
	return e
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// account splits "12345678-01" into CANO and ACNT_PRDT_CD.
func (c *Client) account() (cano, product string) {
	cano, product, found := strings.Cut(c.cfg.AccountNo, "-")
	if !found || product == "" {
		product = "01"
	}
	return cano, product
}

// trID picks the paper or real trading transaction id.
func (c *Client) trID(paper, real string) string {
	if c.cfg.Paper {
		return paper
	}
	return real
}
