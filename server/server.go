// Package server exposes the switch over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/vitwit/upiswitch/logger"
	"github.com/vitwit/upiswitch/settlement"
)

const (
	// ReplyToHeader carries the address the final response should go to.
	ReplyToHeader = "X-Reply-To"

	maxBodySize        = 1 << 20 // 1MB
	defaultMaxInFlight = 256
)

// Backend is the part of the switch the HTTP layer drives.
type Backend interface {
	SubmitPaymentXML(ctx context.Context, raw []byte, replyTo string) (*settlement.Ack, error)
	HandleResponseXML(ctx context.Context, raw []byte) error
	ResolveAddress(ctx context.Context, raw []byte) ([]byte, error)
	Reconciliations() []settlement.Reconciliation
	Pending() []string
}

// Server is the switch web server
type Server struct {
	backend  Backend
	router   *gin.Engine
	logger   logger.Logger
	gatherer prometheus.Gatherer
	inFlight *semaphore.Weighted
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer serves /metrics from g. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxInFlight bounds the requests handled at once; the rest get 503.
func WithMaxInFlight(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.inFlight = semaphore.NewWeighted(n)
		}
	}
}

// NewServer creates a new web server
func NewServer(backend Backend, opts ...Option) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		backend:  backend,
		router:   router,
		logger:   logger.NoopLogger{},
		inFlight: semaphore.NewWeighted(defaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(s)
	}
	router.Use(s.logRequests())

	router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/reqpay", s.limit, s.xmlBody, s.handleReqPay)
		api.POST("/resppay", s.limit, s.xmlBody, s.handleRespPay)
		api.POST("/reqvaladd", s.limit, s.xmlBody, s.handleReqValAdd)
		api.GET("/reconciliation", s.handleReconciliation)
		api.GET("/pending", s.handlePending)
	}

	return s
}

// Handler returns the routes as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("switch listening", map[string]any{"addr": addr})
	return ListenAndServe(ctx, addr, s.router)
}

// ListenAndServe serves h on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request", map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
	}
}
