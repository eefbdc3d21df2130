package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storyreel-server/migrations"
	"storyreel-server/pkg/jobtracker"
	"storyreel-server/pkg/migration"
	sharedDatabase "storyreel-server/shared/database"
	sharedLogger "storyreel-server/shared/logger"
	sharedMessaging "storyreel-server/shared/messaging"
	"storyreel-server/story-service/internal/assembly"
	"storyreel-server/story-service/internal/config"
	"storyreel-server/story-service/internal/extractor"
	"storyreel-server/story-service/internal/handler"
	"storyreel-server/story-service/internal/messaging"
	"storyreel-server/story-service/internal/playback"
	"storyreel-server/story-service/internal/segmenter"
	"storyreel-server/story-service/internal/service"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Story Service...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.Sync()
	logger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// Подключение к PostgreSQL
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("Успешное подключение к PostgreSQL")

	// Миграции схемы
	migrator := migration.NewMigrator(migration.Config{
		MigrationsFS:   migrations.FS,
		MigrationsPath: ".",
	}, dbPool)
	if err := migrator.Up(); err != nil {
		logger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	// Подключение к Redis (кэш прогресса задач)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
		}
		cancel()
	}
	defer redisClient.Close()
	logger.Info("Успешное подключение к Redis")

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	logger.Info("Успешное подключение к RabbitMQ")

	publisher, err := sharedMessaging.NewRabbitMQPublisher(rabbitConn)
	if err != nil {
		logger.Fatal("Не удалось создать издателя задач", zap.Error(err))
	}
	defer publisher.Close()

	// Инициализация зависимостей
	characterRepo := sharedDatabase.NewPgCharacterRepository(dbPool, logger)
	sceneRepo := sharedDatabase.NewPgSceneRepository(dbPool, logger)
	jobRepo := sharedDatabase.NewPgGenerationJobRepository(dbPool, logger)
	progressCache := sharedDatabase.NewRedisJobProgressRepository(redisClient, logger)

	asm, err := assembly.New(logger)
	if err != nil {
		logger.Fatal("Не удалось инициализировать Assembler", zap.Error(err))
	}

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	wsManager := handler.NewConnectionManager(zlog)

	tracker := jobtracker.New()
	tracker.SetNotifier(wsManager)
	go func() {
		// Периодическая очистка терминальных задач из памяти.
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			tracker.Cleanup(time.Hour)
		}
	}()

	storyService := service.NewStoryService(
		characterRepo, sceneRepo, jobRepo, progressCache,
		publisher, tracker,
		extractor.New(logger), segmenter.New(logger), asm,
		logger,
	)

	// Консьюмер результатов генерации
	resultConsumer, err := messaging.NewResultConsumer(rabbitConn, storyService, logger)
	if err != nil {
		logger.Fatal("Не удалось создать консьюмер результатов", zap.Error(err))
	}
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := resultConsumer.StartConsuming(consumerCtx); err != nil && err != context.Canceled {
			logger.Error("Консьюмер результатов завершился с ошибкой", zap.Error(err))
		}
	}()

	// Настройка Gin
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws/progress", wsManager.ServeWS)

	storyHandler := handler.NewStoryHandler(storyService, playback.New(logger), logger)
	storyHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Info("Story Service слушает", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	log.Println("Story Service успешно остановлен")
}

// setupDatabase инициализирует и возвращает пул соединений с БД
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err = dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}
	return dbPool, nil
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
