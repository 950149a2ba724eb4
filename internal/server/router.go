package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/loader"
)

// AppOptions 描述 HTTP 服务依赖。
type AppOptions struct {
	Logger              *logrus.Logger
	Loader              *loader.Loader
	Cache               *fetchcache.Cache
	PrefetchConcurrency int
}

const contextKeyRequestID = "_imgcache_request_id"

// NewApp builds a Fiber application with request-ID middleware and the image
// endpoints.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("loader is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("fetch cache is required")
	}
	if opts.PrefetchConcurrency <= 0 {
		opts.PrefetchConcurrency = 1
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	h := &imageHandler{
		logger:      opts.Logger,
		loader:      opts.Loader,
		cache:       opts.Cache,
		concurrency: opts.PrefetchConcurrency,
	}
	app.Get("/image", h.get)
	app.Delete("/image", h.evict)
	app.Post("/-/prefetch", h.prefetch)

	return app, nil
}

// requestContextMiddleware 生成请求 ID 并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "http_request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Info("request handled")
		return err
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
