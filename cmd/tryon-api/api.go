package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/tryon/pkg/services"
	"github.com/dukex/tryon/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger         *slog.Logger
	generation     *services.Generation
	archive        *services.Archive
	maxUploadBytes int
	validate       *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	generation *services.Generation,
	archiveService *services.Archive,
	maxUploadBytes int,
) *API {
	return &API{
		logger:         logger,
		generation:     generation,
		archive:        archiveService,
		maxUploadBytes: maxUploadBytes,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.generation, a.archive, a.validate, a.logger)

	app := fiber.New(fiber.Config{
		BodyLimit:    a.maxUploadBytes,
		ErrorHandler: web.ErrorHandler,
	})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Try-on API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
