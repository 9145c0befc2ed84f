// Package server exposes the receipt pipeline over HTTP.
//
// Every request belongs to a session named by the X-Session-ID header; one is
// generated and echoed back when the header is missing. Each session keeps its
// own history of totals and at most one scan in flight: starting a scan cancels
// the session's previous one, which then answers 409.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"receipts/internal/history"
	"receipts/internal/logger"
	"receipts/internal/metrics"
	"receipts/internal/ocr"
	"receipts/internal/receipt"
	"receipts/pkg/models"
)

// SessionHeader carries the session ID on requests and responses.
const SessionHeader = "X-Session-ID"

const sessionKey = "session"

// multipart framing allowance on top of the image size limit
const multipartOverhead = 1 << 20

// Options configures a Server.
type Options struct {
	// Sink additionally receives every recorded total, next to the session history.
	Sink history.Sink

	// MaxUploadSize bounds uploaded images in bytes. Default: ocr.MaxImageSizeBytes.
	MaxUploadSize int64

	// ScanTimeout bounds a single scan. Zero disables the timeout.
	ScanTimeout time.Duration

	// SessionTTL drops idle sessions. Zero keeps sessions until MaxSessions evicts them.
	SessionTTL time.Duration

	// MaxSessions caps the live sessions. Default: DefaultMaxSessions.
	MaxSessions int
}

// Server serves the receipt API.
type Server struct {
	pipeline *receipt.Pipeline
	sessions *Sessions
	opts     Options
	router   *gin.Engine
	log      zerolog.Logger
}

// New builds the server and its routes.
func New(pipeline *receipt.Pipeline, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = ocr.MaxImageSizeBytes
	}

	s := &Server{
		pipeline: pipeline,
		sessions: NewSessions(opts.MaxSessions),
		opts:     opts,
		log:      logger.WithComponent("http"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), metrics.Middleware())
	s.setupRoutes(r)
	s.router = r
	return s
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(s.sessionMiddleware())
	api.POST("/receipts", s.scanImageHandler)
	api.POST("/receipts/tokens", s.scanTokensHandler)
	api.GET("/history", s.historyHandler)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.opts.SessionTTL > 0 {
		go s.expireSessions(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) expireSessions(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SessionTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Expire(s.opts.SessionTTL); n > 0 {
				s.log.Debug().Int("expired", n).Msg("Dropped idle sessions")
			}
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(SessionHeader, id)
		c.Set(sessionKey, s.sessions.Get(id))
		c.Next()
	}
}

func session(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

func (s *Server) sinkFor(sess *Session) history.Sink {
	if s.opts.Sink == nil {
		return sess.History
	}
	return history.Multi{sess.History, s.opts.Sink}
}

// beginScan starts a cancellable scan for the session of c.
func (s *Server) beginScan(c *gin.Context) (context.Context, func()) {
	ctx, done := session(c).Begin(c.Request.Context())
	if s.opts.ScanTimeout <= 0 {
		return ctx, done
	}
	tctx, cancel := context.WithTimeout(ctx, s.opts.ScanTimeout)
	return tctx, func() {
		cancel()
		done()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	resp := gin.H{"status": "ok", "sessions": s.sessions.Len()}
	if engine := s.pipeline.Engine(); engine != nil {
		resp["engine"] = engine.Name()
	}
	c.JSON(http.StatusOK, resp)
}

type scanResponse struct {
	*models.Scan
	SessionID    string `json:"session_id"`
	HistoryError string `json:"history_error,omitempty"`
}

type historyResponse struct {
	SessionID string    `json:"session_id"`
	Totals    []float64 `json:"totals"`
}

// scanImageHandler handles POST /api/v1/receipts with a multipart "file" field.
func (s *Server) scanImageHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadSize+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, ocr.ErrImageTooLarge.Error())
			return
		}
		writeError(c, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	if fh.Size > s.opts.MaxUploadSize {
		writeError(c, http.StatusRequestEntityTooLarge, ocr.ErrImageTooLarge.Error())
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	img, err := ocr.DecodeImage(f)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, done := s.beginScan(c)
	defer done()

	scan, err := s.pipeline.Scan(ctx, img, s.sinkFor(session(c)))
	s.respondScan(c, scan, err)
}

// scanTokensHandler handles POST /api/v1/receipts/tokens with a JSON token dump.
func (s *Server) scanTokensHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadSize)

	tokens, err := ocr.ReadTokens(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, "token dump too large")
			return
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, done := s.beginScan(c)
	defer done()

	scan, err := s.pipeline.ScanTokens(ctx, tokens, s.sinkFor(session(c)))
	s.respondScan(c, scan, err)
}

// historyHandler handles GET /api/v1/history.
func (s *Server) historyHandler(c *gin.Context) {
	sess := session(c)
	totals, err := sess.History.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, historyResponse{SessionID: sess.ID, Totals: totals})
}

func (s *Server) respondScan(c *gin.Context, scan *models.Scan, err error) {
	sess := session(c)

	if err == nil {
		c.JSON(http.StatusOK, scanResponse{Scan: scan, SessionID: sess.ID})
		return
	}
	if errors.Is(err, receipt.ErrHistoryWrite) && scan != nil {
		c.JSON(http.StatusOK, scanResponse{Scan: scan, SessionID: sess.ID, HistoryError: err.Error()})
		return
	}

	status := statusFor(err)
	s.log.Warn().Err(err).Str("session_id", sess.ID).Int("status", status).Msg("Scan failed")
	writeError(c, status, err.Error())
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrInvalidToken), errors.Is(err, ocr.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, ocr.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, receipt.ErrNoEngine):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
