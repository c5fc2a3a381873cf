// Package server is the HTTP control surface: session lifecycle, stats,
// archive queries and the detection WebSocket feed.
package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/salography/fast-alpr/internal/archive"
	"github.com/salography/fast-alpr/internal/engine"
	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/snapshot"
)

// Engine is the subset of the session engine the server drives.
type Engine interface {
	Start(ctx context.Context) (string, error)
	Stop() (*engine.Summary, error)
	Stats() engine.Stats
	LatestFrame() (model.Frame, bool)
}

// Store is the archive query surface. Nil disables the archive endpoints.
type Store interface {
	RecentDetections(ctx context.Context, limit int) ([]archive.Detection, error)
	PlateHistory(ctx context.Context, plate string, limit int) ([]archive.Detection, error)
	DistinctPlates(ctx context.Context, since time.Time) ([]archive.PlateCount, error)
	Sessions(ctx context.Context, limit int) ([]archive.Session, error)
}

// Server wires the control API onto a Fiber app.
type Server struct {
	app     *fiber.App
	eng     Engine
	store   Store
	snap    *snapshot.Writer
	hub     *Hub
	addr    string
	baseCtx context.Context
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the archive-backed query endpoints.
func WithStore(s Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithSnapshots enables the screenshot endpoint.
func WithSnapshots(w *snapshot.Writer) Option {
	return func(srv *Server) { srv.snap = w }
}

// WithHub enables the /ws/detections feed.
func WithHub(h *Hub) Option {
	return func(srv *Server) { srv.hub = h }
}

// WithBaseContext sets the context sessions started over the API inherit
// from. Defaults to context.Background; pass the process context so an
// API-started session ends with the process.
func WithBaseContext(ctx context.Context) Option {
	return func(srv *Server) { srv.baseCtx = ctx }
}

// New creates a Server listening on addr once Listen is called.
func New(addr string, eng Engine, opts ...Option) *Server {
	s := &Server{
		eng:     eng,
		addr:    addr,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "fast-alpr",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/stop", s.handleSessionStop)
	api.Post("/session/screenshot", s.handleScreenshot)
	api.Get("/session/stats", s.handleStats)

	api.Get("/plates", s.handlePlates)
	api.Get("/plates/:plate", s.handlePlateHistory)
	api.Get("/sessions", s.handleSessions)
	api.Get("/detections/recent", s.handleRecentDetections)

	if s.hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/detections", websocket.New(s.hub.Handler))
	}

	s.app = app
	return s
}

// Listen serves the control API. Blocks until Shutdown.
func (s *Server) Listen() error {
	slog.Info("control server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"state":  s.eng.Stats().State,
	})
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	id, err := s.eng.Start(s.baseCtx)
	if err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "session already running"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"session_id": id, "status": "started"})
}

func (s *Server) handleSessionStop(c *fiber.Ctx) error {
	sum, err := s.eng.Stop()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if sum == nil {
		return c.JSON(fiber.Map{"status": "idle"})
	}
	return c.JSON(sum)
}

func (s *Server) handleScreenshot(c *fiber.Ctx) error {
	if s.snap == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "screenshots disabled"})
	}
	frame, ok := s.eng.LatestFrame()
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no frame captured yet"})
	}
	path, err := s.snap.Write(frame)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"path": path, "frame_seq": frame.Seq})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.eng.Stats())
}

func (s *Server) handlePlates(c *fiber.Ctx) error {
	if s.store == nil {
		return archiveDisabled(c)
	}
	var since time.Time
	if q := c.Query("since"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be a duration like 24h"})
		}
		since = time.Now().Add(-d)
	}
	plates, err := s.store.DistinctPlates(c.Context(), since)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"plates": plates, "count": len(plates)})
}

func (s *Server) handlePlateHistory(c *fiber.Ctx) error {
	if s.store == nil {
		return archiveDisabled(c)
	}
	plate := strings.ToUpper(c.Params("plate"))
	detections, err := s.store.PlateHistory(c.Context(), plate, c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"plate": plate, "detections": detections, "count": len(detections)})
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	if s.store == nil {
		return archiveDisabled(c)
	}
	sessions, err := s.store.Sessions(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleRecentDetections(c *fiber.Ctx) error {
	if s.store == nil {
		return archiveDisabled(c)
	}
	detections, err := s.store.RecentDetections(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"detections": detections, "count": len(detections)})
}

func archiveDisabled(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "archive disabled"})
}
