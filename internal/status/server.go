// Package status serves a read-only HTTP view of the running trader.
package status

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"TradeSentinel/internal/model"
)

// Deps supply the data behind each endpoint. Nil members disable their endpoint.
type Deps struct {
	Positions   func() []model.Position
	Watchlist   func() ([]model.WatchItem, error)
	Credential  func() (model.Credential, bool)
	ErrorStreak func() int
	Now         func() time.Time
}

// NewRouter builds the gin engine with all status routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", health(d))
	r.HEAD("/healthz", health(d))
	if d.Positions != nil {
		r.GET("/positions", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"positions": d.Positions()})
		})
	}
	if d.Watchlist != nil {
		r.GET("/watchlist", func(c *gin.Context) {
			items, err := d.Watchlist()
			if err != nil {
				log.Printf("[ERROR] status watch list: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "watch list unavailable"})
				return
			}
			if items == nil {
				items = []model.WatchItem{}
			}
			c.JSON(http.StatusOK, gin.H{"watchlist": items})
		})
	}
	if d.Credential != nil {
		r.GET("/token", tokenStatus(d))
	}
	return r
}

func health(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		if c.Request.Method == http.MethodHead {
			c.Status(http.StatusOK)
			return
		}
		body := gin.H{"status": "ok"}
		if d.ErrorStreak != nil {
			n := d.ErrorStreak()
			body["consecutive_errors"] = n
			if n > 0 {
				body["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// tokenStatus reports expiry only. The token itself is never served.
func tokenStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := d.Credential()
		if !ok {
			c.JSON(http.StatusOK, gin.H{"valid": false})
			return
		}
		now := d.Now()
		c.JSON(http.StatusOK, gin.H{
			"valid":             now.Before(cred.ExpiresAt),
			"issued_at":         cred.IssuedAt,
			"expires_at":        cred.ExpiresAt,
			"remaining_seconds": int64(cred.ExpiresAt.Sub(now).Seconds()),
		})
	}
}

// Server runs the router on an address.
type Server struct {
	srv *http.Server
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, d Deps) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[INFO] status server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ERROR] status server: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
