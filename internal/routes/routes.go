package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ars-cashier/cashier/internal/config"
	"github.com/ars-cashier/cashier/internal/ledger"
	"github.com/ars-cashier/cashier/internal/middleware"
	"github.com/ars-cashier/cashier/internal/notification"
	"github.com/ars-cashier/cashier/internal/payments"
	"github.com/ars-cashier/cashier/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var ledgerBackend ledger.Ledger
	var paymentRepo payments.Repository
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		paymentRepo = payments.NewPostgresRepository(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		paymentRepo = payments.NewMemoryRepository()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(ledgerBackend, d.Cfg.CeilingWithdraw, notifier)
	gateway := payments.StaticGateway{GatewayName: d.Cfg.Gateway}
	paymentSvc := payments.NewService(paymentRepo, gateway, notifier, d.Logger)

	walletHandler := wallet.NewHandler(walletSvc)
	paymentHandler := payments.NewHandler(paymentSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	idem := passthrough
	if d.Cache != nil {
		idem = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	callbackLimiter := middleware.CallbackRateLimit(d.Cache, 30)

	RegisterWalletRoutes(api, walletHandler, idem)
	RegisterPaymentRoutes(api, paymentHandler, idem, callbackLimiter)

	return nil
}

func passthrough(c *fiber.Ctx) error {
	return c.Next()
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
