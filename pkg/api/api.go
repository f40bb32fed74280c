package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/apiresponses"
	"github.com/telekom/email-sender/pkg/config"
	"github.com/telekom/email-sender/pkg/metrics"
	"github.com/telekom/email-sender/pkg/queue"
	"github.com/telekom/email-sender/pkg/ratelimit"
	"github.com/telekom/email-sender/pkg/system"
	"github.com/telekom/email-sender/pkg/version"
)

// RequestIDHeader carries the per-request correlation ID in both directions.
const RequestIDHeader = "X-Request-ID"

type Server struct {
	gin     *gin.Engine
	config  config.Server
	log     *zap.SugaredLogger
	limiter *ratelimit.IPRateLimiter
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool, enqueuer Enqueuer) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Ignoring invalid trusted proxies", zap.Strings("trustedProxies", cfg.TrustedProxies), zap.Error(err))
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins:  []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods:  []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:  []string{"Origin", "Content-Type", RequestIDHeader},
				ExposeHeaders: []string{RequestIDHeader},
				MaxAge:        12 * time.Hour,
			}),
		)
	}

	rl := ratelimit.DefaultIntakeConfig()
	rl.Rate = cfg.RateLimit.Rate
	rl.Burst = cfg.RateLimit.Burst

	s := &Server{
		gin:     engine,
		config:  cfg,
		log:     log.Sugar().Named("api"),
		limiter: ratelimit.New(rl),
	}
	engine.Use(s.requestLogger())

	engine.GET("healthz", s.getHealth)
	engine.GET("version", s.getVersion)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	emails := &EmailController{queue: enqueuer, log: s.log}
	engine.POST("email", s.limiter.Middleware(), emails.postEmail)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then drains in-flight requests for at
// most ShutdownTimeout.
func (s *Server) Listen(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.log.Infow("Starting HTTPS intake server", "address", s.config.ListenAddress)
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.log.Infow("Starting HTTP intake server", "address", s.config.ListenAddress)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Infow("Shutting down intake server", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// requestLogger tags each request with an ID and stores a logger carrying it.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(queue.WithRequestID(c.Request.Context(), id))
		c.Set(system.ReqLoggerKey, s.log.With("requestID", id))
		c.Next()
	}
}

func (s *Server) getHealth(c *gin.Context) {
	apiresponses.RespondOK(c, gin.H{"status": "ok"})
}

func (s *Server) getVersion(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}
