package config

import (
	"log"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"reels-pipeline/internal/logger"
	"reels-pipeline/internal/messaging"
)

// Config структура для хранения всей конфигурации приложения.
type Config struct {
	AppEnv         string `env:"APP_ENV" env-default:"development"`
	Logger         logger.Config
	RabbitMQ       RabbitMQConfig
	Oracle         OracleConfig
	Providers      ProvidersConfig
	Artifacts      ArtifactsConfig
	Pipeline       PipelineConfig
	PushGatewayURL string `env:"PUSHGATEWAY_URL" env-default:""`
}

// RabbitMQConfig конфигурация для подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL              string                `env:"RABBITMQ_URL" env-required:"true"`
	ConsumerName     string                `env:"RABBITMQ_CONSUMER_NAME" env-default:"reels_pipeline_worker"`
	TaskQueue        messaging.QueueConfig `env-prefix:"RABBITMQ_PIPELINE_TASK_QUEUE_"`
	ResultQueueName  string                `env:"ASSEMBLY_RESULT_QUEUE" env-default:"reels_assembly_tasks"`
	ResultExchange   string                `env:"RABBITMQ_RESULT_EXCHANGE" env-default:""`
	ResultRoutingKey string                `env:"RABBITMQ_RESULT_ROUTING_KEY" env-default:""`
}

// OracleConfig конфигурация LLM-оракула для advisory-маршрутизации.
// Сбой оракула не фатален: планировщик остается на дефолтах пресета и
// правилах стиля.
type OracleConfig struct {
	APIKey     string `env:"ORACLE_API_KEY" env-required:"true"`
	BaseURL    string `env:"ORACLE_BASE_URL" env-default:""`
	ModelName  string `env:"ORACLE_MODEL" env-default:"gpt-4o-mini"`
	TimeoutSec int    `env:"ORACLE_TIMEOUT_SEC" env-default:"60"`
	MaxRetries int    `env:"ORACLE_MAX_RETRIES" env-default:"3"`
}

// ProvidersConfig ключи и адреса генеративных провайдеров.
type ProvidersConfig struct {
	ReplicateToken    string `env:"REPLICATE_API_TOKEN" env-required:"true"`
	ReplicateBaseURL  string `env:"REPLICATE_BASE_URL" env-default:"https://api.replicate.com"`
	FalKey            string `env:"FAL_KEY" env-required:"true"`
	FalBaseURL        string `env:"FAL_BASE_URL" env-default:"https://queue.fal.run"`
	ApiframeToken     string `env:"APIFRAME_API_TOKEN" env-required:"true"`
	ApiframeBaseURL   string `env:"APIFRAME_BASE_URL" env-default:"https://api.apiframe.pro"`
	RequestTimeoutSec int    `env:"PROVIDER_REQUEST_TIMEOUT_SEC" env-default:"600"`
}

// ArtifactsConfig локальное хранилище артефактов и их публичные адреса.
type ArtifactsConfig struct {
	Dir             string `env:"ARTIFACT_SAVE_PATH" env-required:"true"`
	PublicBaseURL   string `env:"ARTIFACT_PUBLIC_BASE_URL" env-required:"true"`
	FetchTimeoutSec int    `env:"ARTIFACT_FETCH_TIMEOUT_SEC" env-default:"120"`
}

// PipelineConfig параметры исполнения пайплайна.
type PipelineConfig struct {
	StylesPath       string  `env:"VIDEO_STYLES_PATH" env-default:"config/video_styles.yaml"`
	MaxAttempts      int     `env:"SCENE_MAX_ATTEMPTS" env-default:"3"`
	RetryDelaySec    int     `env:"SCENE_RETRY_DELAY_SEC" env-default:"2"`
	CallTimeoutSec   int     `env:"SCENE_CALL_TIMEOUT_SEC" env-default:"300"`
	MaxConcurrent    int     `env:"MAX_CONCURRENT_LINEAGES" env-default:"4"`
	ClipDurationSec  float64 `env:"TRANSITION_CLIP_DURATION_SEC" env-default:"1.0"`
	MaxRuns          int     `env:"MAX_ACTIVE_RUNS" env-default:"10"`
	RunCleanupAgeSec int     `env:"RUN_CLEANUP_AGE_SEC" env-default:"3600"`
}

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() *Config {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	return &cfg
}
