// Package auth owns the brokerage access token: caching, throttled renewal and persistence.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"TradeSentinel/internal/model"
)

var (
	// ErrRateLimited means the issuer refused a renewal because of the one-per-minute rule.
	ErrRateLimited = errors.New("token issuance rate limited")
	// ErrNoCredential means no usable token is cached and none could be issued.
	ErrNoCredential = errors.New("no credential available")
)

// ThrottledError is returned when a renewal is suppressed locally and there is no token to fall back on.
type ThrottledError struct {
	Wait time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("token renewal throttled, retry in %v", e.Wait.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrNoCredential
}

// Issuer performs the network call that issues a new token.
type Issuer interface {
	Issue(ctx context.Context) (model.Credential, error)
}

// Options tune the renewal policy. Zero values take the defaults.
type Options struct {
	RenewMargin time.Duration    // renew this long before expiry (default 1h)
	MinInterval time.Duration    // minimum time between renewal attempts (default 60s)
	Now         func() time.Time // clock, for tests
}

// Manager caches the access token and serializes renewal.
type Manager struct {
	mu          sync.Mutex
	issuer      Issuer
	filePath    string
	renewMargin time.Duration
	minInterval time.Duration
	now         func() time.Time

	cred        *model.Credential
	lastAttempt time.Time
}

// NewManager creates a Manager, loading a previously persisted credential from filePath if present.
func NewManager(issuer Issuer, filePath string, opts Options) (*Manager, error) {
	m := &Manager{
		issuer:      issuer,
		filePath:    filePath,
		renewMargin: opts.RenewMargin,
		minInterval: opts.MinInterval,
		now:         opts.Now,
	}
	if m.renewMargin <= 0 {
		m.renewMargin = time.Hour
	}
	if m.minInterval <= 0 {
		m.minInterval = time.Minute
	}
	if m.now == nil {
		m.now = time.Now
	}

	if filePath != "" {
		cred, err := LoadCredential(filePath)
		if err != nil {
			return nil, fmt.Errorf("load credential: %w", err)
		}
		if cred != nil {
			m.lastAttempt = cred.LastAttemptAt
			if m.lastAttempt.IsZero() {
				m.lastAttempt = cred.IssuedAt
			}
			if cred.Token != "" {
				m.cred = cred
				log.Printf("[INFO] reusing persisted access token, expires %s", cred.ExpiresAt.Format(time.RFC3339))
			}
		}
	}
	return m, nil
}

// Token returns a usable access token, renewing it when it is within the renewal margin of expiry.
// Renewal attempts are limited to one per MinInterval; inside that window the previous token is reused.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cred.UsableAt(now, m.renewMargin) {
		return m.cred.Token, nil
	}

	if !m.lastAttempt.IsZero() {
		if wait := m.minInterval - now.Sub(m.lastAttempt); wait > 0 {
			if m.fallbackAt(now) {
				return m.cred.Token, nil
			}
			return "", &ThrottledError{Wait: wait}
		}
	}

	m.lastAttempt = now
	cred, err := m.issuer.Issue(ctx)
	if err != nil {
		m.persist()
		if errors.Is(err, ErrRateLimited) {
			log.Printf("[WARN] token issuance rate limited: %v", err)
			if m.fallbackAt(now) {
				return m.cred.Token, nil
			}
			return "", err
		}
		return "", fmt.Errorf("renew token: %w", err)
	}

	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = now
	}
	cred.LastAttemptAt = now
	m.cred = &cred
	m.persist()
	log.Printf("[INFO] access token renewed, expires %s", cred.ExpiresAt.Format(time.RFC3339))
	return cred.Token, nil
}

// Invalidate drops the cached token after the brokerage reports it expired.
// The next Token call renews, still subject to the attempt throttle.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred != nil {
		log.Println("[WARN] access token invalidated")
	}
	m.cred = nil
}

// Status returns a copy of the cached credential.
func (m *Manager) Status() (model.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return model.Credential{}, false
	}
	return *m.cred, true
}

// fallbackAt reports whether the cached token has not yet actually expired.
func (m *Manager) fallbackAt(now time.Time) bool {
	return m.cred != nil && m.cred.Token != "" && now.Before(m.cred.ExpiresAt)
}

func (m *Manager) persist() {
	if m.filePath == "" {
		return
	}
	rec := model.Credential{LastAttemptAt: m.lastAttempt}
	if m.cred != nil {
		rec = *m.cred
		rec.LastAttemptAt = m.lastAttempt
	}
	if err := SaveCredential(m.filePath, &rec); err != nil {
		log.Printf("[ERROR] failed to save credential: %v", err)
	}
}
