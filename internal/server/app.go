package server

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/mediapro/api/internal/config"
	"github.com/mediapro/api/internal/handler"
	"github.com/mediapro/api/internal/middleware"
	"github.com/mediapro/api/internal/service"
	ws "github.com/mediapro/api/internal/websocket"
	"github.com/mediapro/api/pkg/response"
)

// Deps are the components the HTTP layer routes to.
type Deps struct {
	Config    *config.Config
	Jobs      *service.JobService
	System    *service.SystemService
	Hub       *ws.Hub
	Redis     *redis.Client // nil disables rate limiting
	Validator *validator.Validate
	Logger    *slog.Logger
	// AccessLog enables the request log middleware.
	AccessLog bool
}

// New builds the Fiber application with every route registered.
func New(d Deps) *fiber.App {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Validator == nil {
		d.Validator = handler.NewValidator()
	}

	mediaHandler := handler.NewMediaHandler(d.Jobs, d.Validator, d.Logger)
	jobHandler := handler.NewJobHandler(d.Jobs, d.Hub)
	systemHandler := handler.NewSystemHandler(d.System)
	rateLimiter := middleware.NewRateLimiter(d.Redis, d.Logger)

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             d.Config.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept",
		ExposeHeaders: "Content-Disposition,X-Job-Id",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "mediapro", "timestamp": time.Now().Unix()})
	})
	app.Get("/health", systemHandler.Health)

	infoLimit := rateLimiter.InfoLimit(d.Config.RateLimit.InfoPerMin)
	jobLimit := rateLimiter.JobLimit(d.Config.RateLimit.JobsPerHour)

	// Media routes, served under /api and at the root
	for _, r := range []fiber.Router{app.Group("/api"), app} {
		r.Post("/info", infoLimit, mediaHandler.Info)
		r.Post("/download", jobLimit, mediaHandler.Download)
		r.Post("/extract-audio", jobLimit, mediaHandler.ExtractAudio)
		r.Post("/process-video", jobLimit, mediaHandler.ProcessVideo)
	}

	api := app.Group("/api")
	api.Get("/jobs/:jobId", jobHandler.Status)
	api.Get("/platforms", systemHandler.Platforms)
	api.Get("/stats", systemHandler.Stats)
	api.Post("/cleanup", systemHandler.Cleanup)

	// WebSocket routes
	app.Use("/ws", jobHandler.Upgrade)
	app.Get("/ws/jobs/:jobId", jobHandler.Progress())

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		errCode = response.CodeValidationError
	}

	return response.Error(c, code, errCode, message, nil)
}
