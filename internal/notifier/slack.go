package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const postMessageURL = "https://slack.com/api/chat.postMessage"

// SlackOptions configure delivery. A bot token takes precedence over the webhook.
type SlackOptions struct {
	BotToken       string
	WebhookURL     string
	DefaultChannel string
	Channels       map[Channel]string
	Username       string
	Proxy          string
	MaxRetries     int
	SendTimeout    time.Duration
	APIURL         string // chat.postMessage endpoint, overridable for tests
}

// SlackNotifier sends messages via chat.postMessage or an incoming webhook.
type SlackNotifier struct {
	opts    SlackOptions
	client  *http.Client
	backoff time.Duration

	mu     sync.Mutex // guards closed and wg.Add against Close
	closed bool
	wg     sync.WaitGroup
}

// NewSlackNotifier creates a notifier with optional proxy support.
func NewSlackNotifier(opts SlackOptions) *SlackNotifier {
	transport := &http.Transport{}
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if opts.APIURL == "" {
		opts.APIURL = postMessageURL
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Minute
	}
	if opts.Username == "" {
		opts.Username = "TradeSentinel"
	}
	return &SlackNotifier{
		opts:    opts,
		backoff: time.Second,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

// Enabled reports whether any delivery method is configured.
func (s *SlackNotifier) Enabled() bool {
	return s.opts.BotToken != "" || s.opts.WebhookURL != ""
}

// Notify delivers msg in the background with retries. Failures are only logged.
func (s *SlackNotifier) Notify(ctx context.Context, ch Channel, msg Message) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("[WARN] Slack notifier closed, dropping %q", msg.Title)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SendTimeout)
		defer cancel()
		if err := s.SendWithRetry(sendCtx, ch, msg, s.opts.MaxRetries); err != nil {
			log.Printf("[ERROR] Slack notification %q dropped: %v", msg.Title, err)
		}
	}()
}

// Close waits for in-flight deliveries. Later messages are dropped.
func (s *SlackNotifier) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Send delivers msg once. A failure on a mapped channel is retried once on the default channel.
func (s *SlackNotifier) Send(ctx context.Context, ch Channel, msg Message) error {
	target := s.channelFor(ch)
	err := s.post(ctx, target, msg)
	if err != nil && target != s.opts.DefaultChannel && s.opts.DefaultChannel != "" {
		log.Printf("[WARN] Slack send to %s failed (%v), falling back to %s", target, err, s.opts.DefaultChannel)
		return s.post(ctx, s.opts.DefaultChannel, msg)
	}
	return err
}

// SendWithRetry sends a message with exponential backoff retry.
func (s *SlackNotifier) SendWithRetry(ctx context.Context, ch Channel, msg Message, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := s.Send(ctx, ch, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := s.backoff * time.Duration(1<<uint(i))
		log.Printf("[WARN] Slack send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d attempts exhausted: %w", maxRetries+1, lastErr)
}

func (s *SlackNotifier) channelFor(ch Channel) string {
	if name, ok := s.opts.Channels[ch]; ok && name != "" {
		return name
	}
	return s.opts.DefaultChannel
}

type attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

func (s *SlackNotifier) post(ctx context.Context, channel string, msg Message) error {
	color := msg.Color
	if color == "" {
		color = ColorGood
	}
	var (
		endpoint string
		payload  map[string]any
	)
	if s.opts.BotToken != "" {
		endpoint = s.opts.APIURL
		payload = map[string]any{
			"channel":     channel,
			"text":        fmt.Sprintf("*%s*\n%s", msg.Title, msg.Text),
			"attachments": []attachment{{Color: color, Fields: msg.Fields}},
		}
	} else {
		endpoint = s.opts.WebhookURL
		payload = map[string]any{
			"username": s.opts.Username,
			"attachments": []attachment{{
				Color:  color,
				Title:  msg.Title,
				Text:   msg.Text,
				Footer: s.opts.Username,
				Ts:     time.Now().Unix(),
				Fields: msg.Fields,
			}},
		}
		if channel != "" {
			payload["channel"] = channel
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if s.opts.BotToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.BotToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	if s.opts.BotToken != "" {
		if r := gjson.ParseBytes(respBody); !r.Get("ok").Bool() {
			return fmt.Errorf("slack API error: %s", r.Get("error").String())
		}
	}
	return nil
}
