package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"warehouse-sync-service/internal/config"
	"warehouse-sync-service/internal/email"
	"warehouse-sync-service/internal/fcm"
	"warehouse-sync-service/internal/notifier"
	"warehouse-sync-service/internal/repository"
	"warehouse-sync-service/internal/retention"
	"warehouse-sync-service/internal/service"
	"warehouse-sync-service/internal/sse"
	"warehouse-sync-service/internal/storage"
	"warehouse-sync-service/internal/transport/http"
	"warehouse-sync-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var startTime time.Time

func main() {
	startTime = time.Now()
	cfg := config.Load()
	storage.InitDB(cfg)
	db := storage.GetDB()

	repos := repository.New(db)
	txManager := repository.NewTxManager(db)

	deviceService := service.NewDeviceService(repos.Devices)
	detector := service.NewConflictDetector(cfg.ConflictWindowSeconds, cfg.ConflictScanHours)
	resolver := service.NewConflictResolver(cfg.ConflictWindowSeconds)
	if err := resolver.LoadPolicies(context.Background(), repos.Policies); err != nil {
		log.Fatalf("❌ [POLICY] Failed to load table policies: %v", err)
	}
	coordinator := service.NewSyncCoordinator(repos, txManager, deviceService, detector, resolver, cfg.PullBatchLimit)
	log.Println("✅ [SERVICE] Sync coordinator initialized")

	broker := sse.NewBroker()

	// FCM nudges are optional; without credentials only SSE is used.
	var fcmClient *fcm.FCMClient
	if fcmCredsJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON"); fcmCredsJSON != "" {
		client, err := fcm.NewFCMClient(context.Background(), []byte(fcmCredsJSON))
		if err != nil {
			log.Fatalf("❌ Failed to initialize FCM: %v", err)
		}
		fcmClient = client
		log.Println("✅ FCM client initialized")
	} else {
		log.Println("⚠️ FCM disabled (no FIREBASE_CREDENTIALS_JSON)")
	}
	coordinator.SetNotifier(notifier.New(broker, fcmClient, repos.Devices))

	// The archive is optional too; without R2 credentials aged entries are
	// deleted without an archived copy. The interface variable stays nil
	// unless a client exists, so the cleaner's nil check works.
	var archiveClient retention.Archiver
	if cfg.R2AccountID != "" {
		client, err := utils.NewArchiveR2Client(utils.ArchiveR2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			log.Fatalf("❌ [R2] Failed to initialize archive client: %v", err)
		}
		archiveClient = client
		log.Println("✅ [R2] Oplog archive client initialized")
	} else {
		log.Println("⚠️ [R2] Archive disabled (no R2_ACCOUNT_ID)")
	}

	emailSender := email.NewSender(cfg)
	cleaner := retention.NewCleaner(repos, archiveClient, emailSender, cfg.RetentionDays, cfg.CleanupIntervalHours)
	cleaner.StartScheduler()

	handler := http.NewHandler(coordinator, deviceService, broker, cleaner)

	app := fiber.New(fiber.Config{
		AppName:      "warehouse-sync-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Device-ID,X-User-ID,X-User-Roles,X-Service-Token,Cache-Control",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
	}))

	// 1. Device-facing sync routes (via Gateway — secured)
	syncRoutes := app.Group("/v1/sync", gatewayAuth())
	syncRoutes.Post("/push", handler.Push)
	syncRoutes.Get("/pull", handler.Pull)
	syncRoutes.Get("/status", handler.SyncStatus)
	syncRoutes.Get("/conflicts", handler.ListConflicts)
	syncRoutes.Post("/conflicts/:conflict_id/resolve", handler.ResolveConflict)
	syncRoutes.Post("/heartbeat", handler.Heartbeat)
	syncRoutes.Get("/events", handler.StreamEvents)
	syncRoutes.Get("/devices", handler.ListDevices)
	syncRoutes.Post("/devices/register", handler.RegisterDevice)
	syncRoutes.Patch("/devices/:device_id", handler.UpdateDevice)
	syncRoutes.Post("/devices/:device_id/deactivate", handler.DeactivateDevice)
	syncRoutes.Post("/devices/:device_id/fcm-token", handler.RegisterFCMToken)
	syncRoutes.Delete("/devices/:device_id/fcm-token", handler.UnregisterFCMToken)
	log.Println("✅ [ROUTES] Registered sync routes: /v1/sync/*")

	// 2. Admin routes (via Gateway + admin role)
	adminRoutes := app.Group("/admin", gatewayAuth(), adminRoleAuth())
	adminRoutes.Get("/conflicts", handler.AdminListConflicts)
	adminRoutes.Get("/conflicts/:conflict_id/recommendation", handler.GetRecommendation)
	adminRoutes.Get("/devices", handler.AdminListDevices)
	adminRoutes.Get("/policies", handler.ListPolicies)
	adminRoutes.Patch("/policies/:table", handler.UpdatePolicy)
	adminRoutes.Post("/cleanup", handler.TriggerCleanup)
	log.Println("✅ [ROUTES] Registered admin routes: /admin/*")

	// 3. Service-to-service routes
	serviceRoutes := app.Group("/svc/v1", serviceAuth(cfg))
	serviceRoutes.Post("/cleanup", handler.TriggerCleanup)
	log.Println("✅ [ROUTES] Registered service routes: /svc/v1/cleanup")

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		uptime := time.Since(startTime).Round(time.Second)
		return c.JSON(fiber.Map{
			"status":      "ok",
			"service":     "warehouse-sync-service",
			"uptime":      uptime.String(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"fcm_enabled": fcmClient != nil,
			"r2_enabled":  archiveClient != nil,
		})
	})
	log.Println("✅ [ROUTES] Registered /health")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
	}()

	log.Printf("🚀 warehouse-sync-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   🌐 CORS allowed origins: %s", cfg.AllowedOrigins)
	log.Printf("   ⏱️  Conflict window: %ds (secondary scan: %dh)", cfg.ConflictWindowSeconds, cfg.ConflictScanHours)
	log.Printf("   📦 Pull batch limit: %d", cfg.PullBatchLimit)
	log.Printf("   🧹 Retention: %dd, cleanup every %dh", cfg.RetentionDays, cfg.CleanupIntervalHours)
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      "something went wrong",
		"request_id": c.Get("X-Request-ID"),
	})
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		return c.Next()
	}
}

func gatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		deviceID := c.Get("X-Device-ID")
		if userID == "" || deviceID == "" {
			log.Printf("[GATEWAY-AUTH] ❌ REJECTED | IP=%s | Path=%s | UserID=%q | DeviceID=%q",
				c.IP(), c.Path(), userID, deviceID)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: missing user/device context from Gateway",
			})
		}
		return c.Next()
	}
}

func adminRoleAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userRolesHeader := c.Get("X-User-Roles")
		if userRolesHeader == "" {
			log.Printf("[ADMIN-AUTH] ❌ REJECTED (no roles) | Path=%s", c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden: missing user roles from Gateway",
			})
		}
		hasAdminRole := false
		for _, role := range strings.Split(userRolesHeader, ",") {
			if strings.ToLower(strings.TrimSpace(role)) == "admin" {
				hasAdminRole = true
				break
			}
		}
		if !hasAdminRole {
			log.Printf("[ADMIN-AUTH] ❌ REJECTED (no admin) | Roles=%s | Path=%s",
				userRolesHeader, c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden: admin role required",
			})
		}
		return c.Next()
	}
}
