package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/viajamx/marketplace/app/repository"
	"github.com/viajamx/marketplace/internal/pkg/audit"
	"github.com/viajamx/marketplace/internal/pkg/billing"
	"github.com/viajamx/marketplace/internal/pkg/cache"
	"github.com/viajamx/marketplace/internal/pkg/database"
	"github.com/viajamx/marketplace/internal/pkg/env"
	"github.com/viajamx/marketplace/internal/pkg/jobqueue"
	"github.com/viajamx/marketplace/internal/pkg/mail"
	"github.com/viajamx/marketplace/internal/pkg/metrics/counter"
	"github.com/viajamx/marketplace/internal/pkg/notification"
	"github.com/viajamx/marketplace/internal/pkg/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app, manager := NewApplication()

	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[Server] Shutdown error: %v", err)
	}
	manager.Stop()
}

// NewApplication wires storage, the billing core and the job queue into a fiber app.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()
	notification.Register(queue, db, mail.SendMail)
	manager.AddPeriodicTask(jobqueue.StatsTask(queue, env.GetEnvDuration("JOBQUEUE_STATS_INTERVAL", 5*time.Minute)))

	cfg := billing.ConfigFromEnv()
	service := billing.NewServiceFromDB(db, billing.NewStripeGateway(cfg), cfg,
		billing.WithNotifier(notification.NewDispatcher(db, queue)),
		billing.WithAuditLogger(audit.NewMultiLogger(audit.NewDBLogger(db), audit.NewLogLogger())),
		billing.WithInFlightGuard(cache.NewLocker(cache.GetClient(), "billing:webhook:", env.GetEnvDuration("WEBHOOK_INFLIGHT_TTL", 2*time.Minute))),
	)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := cache.GetClient().Ping(ctx).Err(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "cache": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Billing:        service,
		Repositories:   repository.GetGlobalRepositories(),
		Queue:          queue,
		WebhookCounter: counter.NewWebhookCounter(cache.GetClient()),
		LimiterStorage: router.NewLimiterStorage(),
	})

	return app, manager
}
