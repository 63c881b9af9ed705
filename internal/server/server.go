// Package server wires the fiber app, middleware, and routes over the
// handler package (spec §6).
package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"tilestroke/internal/config"
	"tilestroke/internal/handler"
)

// Server is the fiber app wrapper.
type Server struct {
	app  *fiber.App
	cfg  *config.Config
	http *handler.HTTPHandler
	ws   *handler.WSHandler
}

// New builds the server over already-constructed handlers.
func New(cfg *config.Config, httpHandler *handler.HTTPHandler, wsHandler *handler.WSHandler) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "tilestroke",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		BodyLimit:     2 * 1024 * 1024,
	})

	return &Server{app: app, cfg: cfg, http: httpHandler, ws: wsHandler}
}

// SetupMiddleware installs recover, logger, and cors, in that order.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes installs the HTTP surface and the duplex channel upgrade
// (spec §6).
func (s *Server) SetupRoutes() {
	api := s.app.Group("/api")
	api.Get("/ping", s.http.Ping)
	api.Get("/tile-strokes", s.http.TileStrokes)
	api.Post("/tile-strokes-batch", s.http.TileStrokesBatch)
	api.Post("/stroke", s.http.PostStroke)
	api.Get("/db-status", s.http.DBStatus)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.ws.Handle, websocket.Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}))
}

// Start listens on the configured port, retrying once on an
// OS-assigned port if the first bind fails (spec §6 CLI contract), and
// blocks until shutdown.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("[server] shutting down")
		if err := s.app.ShutdownWithTimeout(15 * time.Second); err != nil {
			log.Printf("[server] shutdown error: %v", err)
		}
	}()

	addr := ":" + s.cfg.Server.Port
	log.Printf("[server] listening on %s", addr)
	if err := s.app.Listen(addr); err != nil {
		log.Printf("[server] bind to %s failed: %v; retrying on an OS-assigned port", addr, err)
		return s.app.Listen(":0")
	}
	return nil
}

// Shutdown stops the app, closing any connection still open after 15
// seconds.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(15 * time.Second)
}
