package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MonitorCounter reports how many mailboxes are being watched
type MonitorCounter interface {
	Count() int
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string  `json:"status"`
	Uptime         float64 `json:"uptime"` // seconds
	ActiveMonitors int     `json:"activeMonitors"`
}

// HealthServer serves liveness endpoints
type HealthServer struct {
	echo     *echo.Echo
	addr     string
	monitors MonitorCounter
	started  time.Time
	logger   *slog.Logger
}

// NewHealthServer creates a health server listening on addr
func NewHealthServer(addr string, monitors MonitorCounter, logger *slog.Logger) *HealthServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &HealthServer{
		echo:     e,
		addr:     addr,
		monitors: monitors,
		started:  time.Now(),
		logger:   logger.With("component", "health_server"),
	}

	e.GET("/health", s.health)
	e.GET("/ping", s.ping)

	return s
}

// Handler exposes the router for tests
func (s *HealthServer) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called
func (s *HealthServer) Start() error {
	s.logger.Info("health server listening", "addr", s.addr)

	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *HealthServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Uptime:         time.Since(s.started).Seconds(),
		ActiveMonitors: s.monitors.Count(),
	})
}

func (s *HealthServer) ping(c echo.Context) error {
	return c.String(http.StatusOK, "pong")
}
