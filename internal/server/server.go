// Package server exposes the resolver and the materialized media over HTTP.
package server

import (
	"context"
	"errors"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"unfurl/internal/httputil"
	"unfurl/internal/media"
)

// Resolver produces the result envelope for a possibly repeated url parameter.
type Resolver interface {
	ResolveValues(ctx context.Context, values []string) (*media.Result, error)
}

type ServerConfig struct {
	// Resolver answers /api/resolve
	Resolver Resolver

	// Directory of materialized post media, served under /media/
	MediaDir string

	// Directory of merged fallback videos, served under /video-temp/
	TempDir string

	// Allowed CORS origins; empty allows all
	CORSOrigins []string

	// Optional HTML page served at /
	IndexFile string

	// BaseContext is the parent of every request's context. Cancelling it
	// (at shutdown) aborts in-flight yt-dlp runs and media downloads.
	// fasthttp does not report client disconnects, so apart from this only
	// the configured timeouts bound a request. Nil means context.Background().
	BaseContext context.Context
}

const notFoundMessage = "Not found"

func init() {
	// not every system mime table knows the media extensions
	_ = mime.AddExtensionType(".mp4", "video/mp4")
	_ = mime.AddExtensionType(".jpg", "image/jpeg")
}

// Server returns the fiber.App serving the resolve API and media files.
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"request": c.GetRespHeader(fiber.HeaderXRequestID),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	if config.BaseContext != nil {
		app.Use(func(c *fiber.Ctx) error {
			c.SetUserContext(config.BaseContext)
			return c.Next()
		})
	}

	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(config.CORSOrigins),
	}))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return !strings.HasPrefix(c.Path(), "/api/")
		},
	}))

	app.Get("/api/resolve", func(c *fiber.Ctx) error {
		values := queryValues(c, "url")
		if len(values) == 0 || values[0] == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing url parameter"})
		}

		res, err := config.Resolver.ResolveValues(c.UserContext(), values)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	app.Get(media.MediaPathPrefix+":filename", serveFile(config.MediaDir, anyName))
	app.Get(media.VideoTempPathPrefix+":filename", serveFile(config.TempDir, mergedVideoName))

	if config.IndexFile != "" {
		app.Get("/", func(c *fiber.Ctx) error {
			if _, err := os.Stat(config.IndexFile); err != nil {
				return fiber.ErrNotFound
			}
			return c.SendFile(config.IndexFile)
		})
	}

	return app
}

// errorHandler renders every error, including recovered panics and unknown
// routes, as {"error": msg}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	msg := err.Error()
	if code == fiber.StatusNotFound {
		msg = notFoundMessage
	}
	if code >= fiber.StatusInternalServerError {
		log.WithFields(log.Fields{"path": c.Path(), "error": err}).Error("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// queryValues returns every value of a repeated query parameter in order.
func queryValues(c *fiber.Ctx, key string) []string {
	raw := c.Context().QueryArgs().PeekMulti(key)
	values := make([]string, len(raw))
	for i, v := range raw {
		values[i] = string(v)
	}
	return values
}

func anyName(string) bool { return true }

// mergedVideoName accepts only the {uuid}.mp4 names the extractor writes, so
// nothing else in a shared temp directory is reachable.
func mergedVideoName(name string) bool {
	id, ok := strings.CutSuffix(name, ".mp4")
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func serveFile(dir string, allowed func(string) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("filename")
		if strings.HasPrefix(name, ".") || !allowed(name) {
			return fiber.ErrNotFound
		}
		path, err := httputil.ServablePath(dir, name)
		if err != nil {
			return fiber.ErrNotFound
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return fiber.ErrNotFound
		}
		return c.SendFile(path)
	}
}

func corsOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ",")
}
