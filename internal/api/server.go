package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/polybot/yolo-service/internal/api/middleware"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/datastore"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/observability"
	"github.com/polybot/yolo-service/internal/prediction"
)

// Server is the HTTP front end of the prediction service.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	processor prediction.Processor
	dataStore datastore.Interface
	metrics   *observability.Metrics
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log.Module("api")
		}
	}
}

// WithProcessor sets the processor behind POST /predict.
func WithProcessor(p prediction.Processor) ServerOption {
	return func(s *Server) { s.processor = p }
}

// WithDataStore sets the datastore behind the read endpoints.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.dataStore = ds }
}

// WithMetrics records HTTP metrics and serves the registry.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates the server. It does not start listening.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:   config,
		settings: settings,
		log:      logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.processor == nil {
		return nil, fmt.Errorf("a prediction processor is required")
	}
	if s.dataStore == nil {
		return nil, fmt.Errorf("a datastore is required")
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("metrics", config.MetricsEnabled && s.metrics != nil),
		logger.Float64("predict_rate_limit", config.RateLimit))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(mw.NewRequestLogger(s.log))
	s.echo.Use(mw.NewCORS(s.config.AllowedOrigins))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.welcome)
	s.echo.GET("/health", s.healthCheck)

	var predictMiddleware []echo.MiddlewareFunc
	if s.config.RateLimit > 0 {
		predictMiddleware = append(predictMiddleware, mw.NewRateLimiter(s.config.RateLimit, s.config.RateBurst))
	}
	s.echo.POST("/predict", s.predict, predictMiddleware...)

	s.echo.GET("/predictions/:uid", s.getPrediction)
	s.echo.GET("/predictions/score/:min_score", s.getPredictionsByScore)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

// errorHandler renders echo errors (404 route, 413 body limit, 429 rate
// limit) as ErrorResponse.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", logger.String("path", c.Path()), logger.Error(err))
	}
	if err := c.JSON(code, NewErrorResponse(c, errorCodeFor(code), message, code)); err != nil {
		s.log.Warn("failed to write error response", logger.Error(err))
	}
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "internal_error"
	}
}

// Start serves HTTP until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.log.Info("starting HTTP server", logger.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done or the configured shutdown timeout elapses.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown deadline.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.config.ShutdownTimeout
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
