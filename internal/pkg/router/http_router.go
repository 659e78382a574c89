package router

import (
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// recovery and logging
	app.Use(recover.New(), logger.New())

	if h.deps.OpenAPIFile != "" {
		if _, err := os.Stat(h.deps.OpenAPIFile); err == nil {
			app.Use(swagger.New(swagger.Config{
				BasePath: "/docs/api/",
				FilePath: h.deps.OpenAPIFile,
				Path:     "v1",
				Title:    "PayFox API",
			}))
		} else {
			log.Warnf("[Router] OpenAPI file %s not found, docs disabled", h.deps.OpenAPIFile)
		}
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
