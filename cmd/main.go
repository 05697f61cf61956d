package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plural-api/internal/di"
	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	appLogger := logger.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger.Info("Application configuration loaded successfully")

	container := di.NewContainer(appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Error("Failed to close container", zap.Error(err))
		}
	}()

	// Initialize MongoDB connection
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			appLogger.Error("Failed to disconnect MongoDB", zap.Error(err))
		}
	}()

	if err := mongoClient.Ping(ctx, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	appLogger.Info("MongoDB connection established successfully")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = config.NewRedisClient(&cfg.Redis)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to ping Redis: %v", err)
		}
		appLogger.Info("Redis connection established", zap.String("addr", cfg.Redis.GetAddr()))
	}

	if err := container.InitializeSocket(cfg, mongoClient.Database(cfg.Mongo.DatabaseName), redisClient); err != nil {
		log.Fatalf("Failed to initialize socket module: %v", err)
	}
	socketModule := container.GetSocketModule()

	app := fiber.New(fiber.Config{
		AppName:      "Plural API realtime",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				appLogger.Error("HTTP error", zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,HEAD,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		if err := container.HealthCheck(healthCtx); err != nil {
			appLogger.Error("Health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "UNHEALTHY",
				"error":  err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"status":    "HEALTHY",
			"timestamp": time.Now().UTC(),
			"socket":    socketModule.Health(),
		})
	})

	socketModule.RegisterRoutes(app)

	serviceCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()
	if err := socketModule.StartRealtimeServices(serviceCtx); err != nil {
		log.Fatalf("Failed to start realtime services: %v", err)
	}

	serverAddr := cfg.Server.Addr()
	appLogger.Info("Starting HTTP server", zap.String("addr", serverAddr))

	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			appLogger.Error("Server failed", zap.Error(err))
		}
	case sig := <-quit:
		appLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", zap.Error(err))
		}
		appLogger.Info("HTTP server stopped")
	}
}
