// Package statusd serves the agent's loopback status and metrics endpoint.
package statusd

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/probectl/internal/boot"
	"github.com/danmuck/probectl/internal/commands"
	"github.com/danmuck/probectl/internal/config"
	"github.com/danmuck/probectl/internal/dynamic"
	"github.com/danmuck/probectl/internal/remote"
	"github.com/danmuck/probectl/internal/tools"
)

// Kind identifies the status server in the boot registry.
const Kind = "status-server"

const listenAttempts = 5

// Server exposes /healthz, /status, and /metrics on the configured local
// address. It observes channel transitions as a regular listener.
type Server struct {
	cfg  *config.AgentConfig
	deps boot.Finder

	channelState atomic.Int32
	startedAt    time.Time
	srv          *http.Server
}

func NewServer(cfg *config.AgentConfig, deps boot.Finder) *Server {
	return &Server{cfg: cfg, deps: deps}
}

func (s *Server) Kind() string {
	return Kind
}

func (s *Server) Priority() int {
	return boot.PriorityLast
}

func (s *Server) Prepare() error {
	if s.cfg.Status.Addr == "" {
		return nil
	}
	if manager, ok := s.deps.Find(remote.Kind).(*remote.ChannelManager); ok {
		manager.AddListener(s)
	}
	return nil
}

func (s *Server) StatusChanged(status remote.Status) {
	s.channelState.Store(int32(status))
}

func (s *Server) Start() error {
	if s.cfg.Status.Addr == "" {
		log.Info().Msg("status server disabled, no addr configured")
		return nil
	}
	s.startedAt = time.Now()
	s.srv = &http.Server{Addr: s.cfg.Status.Addr, Handler: s.router()}
	go s.listen()
	return nil
}

func (s *Server) OnComplete() error {
	return nil
}

func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if len(s.cfg.Status.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.Status.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.startedAt).String(),
			"service":  s.cfg.ServiceName,
			"instance": s.cfg.InstanceName,
		})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) snapshot() gin.H {
	out := gin.H{
		"service":  s.cfg.ServiceName,
		"instance": s.cfg.InstanceName,
		"channel":  remote.Status(s.channelState.Load()).String(),
		"backends": s.cfg.Collector.Servers(),
	}
	if scheduler, ok := s.deps.Find(commands.Kind).(*commands.Service); ok {
		out["queue_depth"] = scheduler.QueueDepth()
	}
	if discovery, ok := s.deps.Find(dynamic.Kind).(*dynamic.Service); ok {
		out["watched_keys"] = discovery.WatchedKeys()
	}
	return out
}

// listen retries transient bind failures with backoff before giving up.
func (s *Server) listen() {
	backoff := tools.BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; attempt <= listenAttempts; attempt++ {
		err := s.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		log.Error().Err(err).Int("attempt", attempt).Str("addr", s.cfg.Status.Addr).
			Msg("status server listen failed")
		time.Sleep(tools.NextBackoffDelay(backoff, attempt, rng))
	}
}
