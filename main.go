package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/vanish/config"
	"github.com/johnwmail/vanish/handlers"
	"github.com/johnwmail/vanish/internal/metrics"
	"github.com/johnwmail/vanish/internal/services"
	"github.com/johnwmail/vanish/static"
	"github.com/johnwmail/vanish/storage"

	// Lambda imports (only used when in Lambda mode)
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

// Lambda-specific variables
var (
	ginLambdaV1   *ginadapter.GinLambda
	ginLambdaV2   *ginadapter.GinLambdaV2
	ginLambdaOnce sync.Once
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	logger := setupLogging(cfg)
	logger.Info("Starting vanish",
		"version", Version,
		"build_time", BuildTime,
		"commit", CommitHash,
		"storage", cfg.StorageType,
		"test_mode", cfg.TestMode)
	if cfg.TestMode {
		logger.Warn("Test mode enabled: clients can override the clock with " + handlers.TestNowHeader)
	}

	gin.SetMode(cfg.GinMode)

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}

	store, err := storage.NewStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if m != nil {
		store = storage.Instrument(store, m)
	}

	// Setup router
	router, err := setupRouter(store, cfg, logger, m)
	if err != nil {
		logger.Error("Failed to set up router", "error", err)
		os.Exit(1)
	}

	// Check if running in Lambda environment
	if isLambdaEnvironment() {
		logger.Info("Starting in AWS Lambda mode")
		ginLambdaOnce.Do(func() {
			ginLambdaV1 = ginadapter.New(router)
			ginLambdaV2 = ginadapter.NewV2(router)
		})
		lambda.Start(lambdaHandler)
		return
	}

	// Run in container/server mode
	logger.Info("Starting in HTTP server mode")
	runHTTPServer(router, cfg, store, logger)
}

// setupLogging builds the process logger and installs it as the slog default
func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// lambdaHandler handles Lambda requests for both v1 and v2 formats
func lambdaHandler(ctx context.Context, event interface{}) (interface{}, error) {
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		return nil, errors.New("lambda adapters are not initialized")
	}

	// Convert event to JSON bytes for parsing
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: 500,
			Body:       "Failed to process event",
			Headers: map[string]string{
				"Content-Type": "text/plain",
			},
		}, err
	}

	// Try to parse as APIGatewayV2HTTPRequest first (for Lambda Function URLs and HTTP API)
	var reqV2 events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(eventBytes, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		slog.Debug("Handling APIGatewayV2HTTPRequest", "method", reqV2.RequestContext.HTTP.Method, "path", reqV2.RawPath)
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	// Try to parse as APIGatewayProxyRequest (for REST API and ALB)
	var reqV1 events.APIGatewayProxyRequest
	if err := json.Unmarshal(eventBytes, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		slog.Debug("Handling APIGatewayProxyRequest", "method", reqV1.HTTPMethod, "path", reqV1.Path)
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	slog.Warn("Unable to parse event as APIGateway v1 or v2 format", "type", fmt.Sprintf("%T", event))
	return events.APIGatewayV2HTTPResponse{
		StatusCode: 500,
		Body:       "Unsupported event type - this function expects API Gateway or Lambda Function URL events",
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}, fmt.Errorf("unsupported event type: %T", event)
}

// setupRouter creates and configures the Gin router
func setupRouter(store storage.PasteStore, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*gin.Engine, error) {
	// Initialize service
	pasteService := services.NewPasteService(store, cfg,
		services.WithLogger(logger),
		services.WithMetrics(m))

	// Initialize handlers
	pasteHandler := handlers.NewPasteHandler(pasteService, cfg)
	systemHandler := handlers.NewSystemHandler(pasteService)
	webuiHandler := handlers.NewWebUIHandler(cfg)

	// Create Gin router
	router := gin.New()
	if cfg.Debug() {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	// Load HTML templates
	tmpl, err := static.Templates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	// Web UI routes
	router.GET("/", webuiHandler.Index)
	router.GET("/p/:id", pasteHandler.View)

	// API routes always answer with JSON
	api := router.Group("/api")
	// canonicalErrors wraps jsonRecovery so a recovered panic body is flushed
	api.Use(canonicalErrors(logger))
	api.Use(jsonRecovery(logger))
	api.POST("/pastes", pasteHandler.Create)
	api.GET("/pastes/:id", pasteHandler.Get)
	api.GET("/healthz", systemHandler.Health)

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// Global 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	})

	return router, nil
}

// jsonRecovery returns a middleware that recovers from panics and ensures
// the response is JSON formatted so the web UI can parse error responses.
func jsonRecovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in handler", "panic", r, "path", c.Request.URL.Path)
				c.Header("Content-Type", "application/json; charset=utf-8")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// canonicalErrors ensures that if a handler did not write a body but the
// response status is an error (>=400), a small JSON error body is written.
func canonicalErrors(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Wrap the ResponseWriter so we can buffer the body and inspect it
		origWriter := c.Writer
		bcw := &bodyCaptureWriter{ResponseWriter: origWriter}
		c.Writer = bcw

		c.Next()

		status := bcw.Status()
		buf := bcw.body.Bytes()
		ct := bcw.Header().Get("Content-Type")

		if status >= 400 {
			var msg string

			// If there is JSON body, try extracting its message/error
			if len(buf) > 0 && strings.Contains(ct, "application/json") {
				var parsed map[string]interface{}
				if err := json.Unmarshal(buf, &parsed); err == nil {
					if e, ok := parsed["error"].(string); ok {
						msg = e
					} else if m, ok := parsed["message"].(string); ok {
						msg = m
					} else {
						// Structured bodies such as {"ok":false} pass through
						forward(origWriter, status, buf, logger)
						return
					}
				}
			}

			// If not found, use raw body text if present
			if msg == "" {
				if len(buf) > 0 {
					msg = string(bytes.TrimSpace(buf))
				} else if len(c.Errors) > 0 {
					msg = c.Errors.Last().Error()
				} else {
					msg = http.StatusText(status)
				}
			}

			// Write canonical JSON to the original writer
			origWriter.Header().Set("Content-Type", "application/json; charset=utf-8")
			out, _ := json.Marshal(gin.H{"error": msg})
			forward(origWriter, status, out, logger)
			return
		}

		// Non-error: forward buffered content as-is
		if len(buf) > 0 {
			forward(origWriter, status, buf, logger)
		}
	}
}

func forward(w gin.ResponseWriter, status int, body []byte, logger *slog.Logger) {
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("canonicalErrors: failed to write response body", "error", err)
	}
}

// bodyCaptureWriter buffers response body writes so middleware can inspect
// and optionally rewrite the output before sending to the client.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

// Write implements io.Writer; buffer the bytes but do not write to the
// underlying writer until the middleware decides to forward them.
func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

// WriteString keeps string writes in the buffer as well
func (w *bodyCaptureWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// runHTTPServer starts the HTTP server for container mode
func runHTTPServer(router *gin.Engine, cfg *config.Config, store storage.PasteStore, logger *slog.Logger) {
	// Ensure cleanup on exit
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing storage", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server is running", "addr", fmt.Sprintf("http://localhost:%d", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}
