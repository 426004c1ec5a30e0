package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"reels-pipeline/internal/artifact"
	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/config"
	"reels-pipeline/internal/logger"
	"reels-pipeline/internal/messaging"
	"reels-pipeline/internal/oracle"
	"reels-pipeline/internal/orchestrate"
	"reels-pipeline/internal/planner"
	"reels-pipeline/internal/provider"
	"reels-pipeline/internal/service"
	"reels-pipeline/internal/style"
	"reels-pipeline/internal/transition"
	"reels-pipeline/internal/worker"
	"reels-pipeline/pkg/taskmanager"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
)

func main() {
	// --- 1. Загрузка конфигурации ---
	cfg := config.Load()

	// --- 2. Инициализация логгера ---
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Logger initialized", zap.String("level", cfg.Logger.Level))
	appLogger.Info("Starting Reels Pipeline Worker...", zap.String("env", cfg.AppEnv))

	// --- 3. Каталог инструментов и политики стилей ---
	cat := catalog.Default()
	styles, err := style.Load(cfg.Pipeline.StylesPath, cat)
	if err != nil {
		appLogger.Fatal("Failed to load video styles", zap.String("path", cfg.Pipeline.StylesPath), zap.Error(err))
	}
	appLogger.Info("Video styles loaded", zap.String("path", cfg.Pipeline.StylesPath))

	// --- 4. Оракул маршрутизации ---
	advisor, err := oracle.New(oracle.Config{
		APIKey:     cfg.Oracle.APIKey,
		BaseURL:    cfg.Oracle.BaseURL,
		ModelName:  cfg.Oracle.ModelName,
		Timeout:    cfg.Oracle.TimeoutSec,
		MaxRetries: cfg.Oracle.MaxRetries,
	}, cat, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize routing oracle", zap.Error(err))
	}

	// --- 5. Адаптеры провайдеров и хранилище артефактов ---
	providerTimeout := time.Duration(cfg.Providers.RequestTimeoutSec) * time.Second
	adapters := []provider.Adapter{
		provider.NewReplicate(cfg.Providers.ReplicateBaseURL, cfg.Providers.ReplicateToken, providerTimeout, appLogger),
		provider.NewFal(cfg.Providers.FalBaseURL, cfg.Providers.FalKey, providerTimeout, appLogger),
		provider.NewApiframe(cfg.Providers.ApiframeBaseURL, cfg.Providers.ApiframeToken, providerTimeout, appLogger),
	}

	store, err := artifact.NewStore(
		cfg.Artifacts.Dir,
		cfg.Artifacts.PublicBaseURL,
		time.Duration(cfg.Artifacts.FetchTimeoutSec)*time.Second,
		appLogger,
	)
	if err != nil {
		appLogger.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	// --- 6. Сборка конвейера ---
	orchCfg := orchestrate.Config{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		BaseRetryDelay: time.Duration(cfg.Pipeline.RetryDelaySec) * time.Second,
		CallTimeout:    time.Duration(cfg.Pipeline.CallTimeoutSec) * time.Second,
		MaxConcurrent:  cfg.Pipeline.MaxConcurrent,
	}
	trCfg := transition.Config{
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		BaseRetryDelay:  time.Duration(cfg.Pipeline.RetryDelaySec) * time.Second,
		CallTimeout:     time.Duration(cfg.Pipeline.CallTimeoutSec) * time.Second,
		ClipDurationSec: cfg.Pipeline.ClipDurationSec,
	}
	pipeline := service.NewPipeline(
		planner.New(advisor, styles, cat, appLogger),
		orchestrate.New(cat, adapters, store, orchCfg, appLogger),
		transition.New(cat, adapters, store, trCfg, appLogger),
		styles,
		appLogger,
	)
	appLogger.Info("Pipeline initialized")

	// --- 7. Менеджер запусков ---
	runs, err := taskmanager.New(taskmanager.Config{MaxRuns: cfg.Pipeline.MaxRuns})
	if err != nil {
		appLogger.Fatal("Failed to initialize run manager", zap.Error(err))
	}

	cleanupAge := time.Duration(cfg.Pipeline.RunCleanupAgeSec) * time.Second
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(cleanupAge)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runs.CleanupRuns(cleanupAge)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	// --- 8. Инициализация RabbitMQ ---
	// Используем отдельный контекст для управления подключением RabbitMQ
	mqCtx, mqCancel := context.WithCancel(context.Background())
	defer mqCancel()

	var wg sync.WaitGroup
	var conn *amqp091.Connection
	var resultPublisher messaging.Publisher

	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, resultPublisher = manageRabbitMQConnection(mqCtx, appLogger, cfg.RabbitMQ)
		appLogger.Info("RabbitMQ connection manager exited")
	}()

	// Ждем, пока publisher будет инициализирован (первое подключение)
	for resultPublisher == nil {
		appLogger.Info("Waiting for RabbitMQ result publisher initialization...")
		time.Sleep(1 * time.Second)
		if mqCtx.Err() != nil {
			appLogger.Fatal("Failed to initialize RabbitMQ publisher within context deadline")
		}
	}

	// --- 9. Обработчик сообщений и консьюмер ---
	messageHandler := worker.NewHandler(appLogger, pipeline, runs, resultPublisher, cfg.PushGatewayURL)
	appLogger.Info("Message handler initialized")

	consumer := messaging.NewConsumer(conn, cfg.RabbitMQ.TaskQueue, cfg.RabbitMQ.ConsumerName, messageHandler, appLogger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(mqCtx); err != nil {
			appLogger.Error("Consumer stopped with error", zap.Error(err))
		}
		appLogger.Info("RabbitMQ consumer exited")
	}()

	appLogger.Info("Reels Pipeline Worker started successfully")

	// --- 10. Ожидание сигнала завершения ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Reels Pipeline Worker...")

	// --- 11. Graceful Shutdown ---
	mqCancel()
	cleanupCancel()

	appLogger.Info("Waiting for background tasks to finish...")
	wg.Wait()

	shutdownCtx, shutdownCancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancelFn()
	if err := runs.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Run manager shutdown timed out", zap.Error(err))
	}

	appLogger.Info("Reels Pipeline Worker shut down gracefully")
}

// manageRabbitMQConnection управляет подключением и переподключением к
// RabbitMQ, а также инициализирует resultPublisher.
func manageRabbitMQConnection(ctx context.Context, logger *zap.Logger, cfg config.RabbitMQConfig) (*amqp091.Connection, messaging.Publisher) {
	var conn *amqp091.Connection
	var err error
	var publisher messaging.Publisher

	for attempt := 1; ; attempt++ {
		conn, err = amqp091.Dial(cfg.URL)
		if err == nil {
			logger.Info("RabbitMQ connected successfully")

			publisher, err = messaging.NewRabbitMQPublisher(conn, cfg.ResultExchange, cfg.ResultRoutingKey, cfg.ResultQueueName, logger)
			if err != nil {
				logger.Error("Failed to create RabbitMQ publisher", zap.Error(err))
				conn.Close()
				conn = nil
			} else {
				logger.Info("RabbitMQ result publisher initialized")
				break
			}
		}

		logger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= maxReconnectAttempts {
			logger.Fatal("Max reconnect attempts reached, shutting down")
			return nil, nil
		}

		select {
		case <-time.After(reconnectDelay):
			logger.Info("Retrying RabbitMQ connection...")
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping RabbitMQ connection attempts")
			return nil, nil
		}
	}

	// Следим за разрывом соединения
	notifyClose := make(chan *amqp091.Error)
	conn.NotifyClose(notifyClose)

	select {
	case closeErr := <-notifyClose:
		logger.Warn("RabbitMQ connection closed", zap.Error(closeErr))
		return manageRabbitMQConnection(ctx, logger, cfg)
	case <-ctx.Done():
		logger.Info("Context cancelled, closing RabbitMQ connection")
		if conn != nil {
			conn.Close()
		}
		if publisher != nil {
			publisher.Close()
		}
		return nil, nil
	}
}
