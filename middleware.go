package botguard

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Middleware returns a Fiber handler that feeds every request into the
// engine, serves decoy bodies on trap endpoints, and enforces throttle
// restrictions. Detection itself is asynchronous; the request path only
// queues the event.
func Middleware(engine *Engine, catalog *SignatureCatalog, throttle *ResponseThrottle) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := c.IP()

		if throttle != nil && throttle.Restricted(address) && !throttle.Allow(address) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate restricted",
			})
		}

		payload := string(c.Body())
		if payload == "" {
			payload = c.Context().QueryArgs().String()
		}
		event := ObservedEvent{
			Address:   address,
			ClientID:  c.Get(fiber.HeaderUserAgent),
			Endpoint:  c.Path(),
			Method:    c.Method(),
			Payload:   payload,
			Timestamp: time.Now(),
		}
		engine.Offer(event)

		if trap, ok := catalog.Trap(c.Path()); ok {
			// Serve the decoy so the probe looks successful.
			body := trap.Decoy
			if body == nil {
				body = map[string]any{"status": "ok"}
			}
			return c.JSON(body)
		}

		return c.Next()
	}
}

// RegisterOpsRoutes mounts the operational endpoints under /botguard.
func RegisterOpsRoutes(app *fiber.App, engine *Engine, registry *ActorRegistry, exporter *EvidenceExporter, store ActorStore, metrics MetricsCollector) {
	ops := app.Group("/botguard")

	ops.Get("/report", func(c *fiber.Ctx) error {
		return c.JSON(registry.Summary(20))
	})

	ops.Get("/evidence", func(c *fiber.Ctx) error {
		return c.JSON(exporter.Package())
	})

	ops.Get("/actors/:fingerprint", func(c *fiber.Ctx) error {
		fp := Fingerprint(c.Params("fingerprint"))
		record := registry.Get(fp)
		if record == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown actor"})
		}
		return c.JSON(fiber.Map{
			"record":   record,
			"attempts": registry.Attempts(fp),
		})
	})

	ops.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(metrics.ExportPrometheus())
	})

	ops.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok"}
		code := fiber.StatusOK
		if err := store.HealthCheck(); err != nil {
			status["status"] = "degraded"
			status["store"] = err.Error()
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(status)
	})
}
