package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storyreel-server/shared/logger"
	"storyreel-server/shared/utils"
)

// Config структура для хранения всей конфигурации воркера.
type Config struct {
	AppEnv         string `env:"APP_ENV" env-default:"development"`
	Logger         logger.Config
	RabbitMQ       RabbitMQConfig
	SanaServer     SanaServerConfig
	Pollinations   PollinationsConfig
	OpenAI         OpenAIConfig
	PushGatewayURL string `env:"PUSHGATEWAY_URL" env-required:"true"`

	// PromptStyleSuffix добавляется к каждому промпту изображения для
	// единообразия стиля портретов в рамках одной истории.
	PromptStyleSuffix string `env:"MEDIA_PROMPT_STYLE_SUFFIX" env-default:", cinematic portrait, moody atmospheric lighting, soft shadows, minimal background, cohesive color grading"`

	MediaSavePath      string `env:"MEDIA_SAVE_PATH" env-required:"true"`
	MediaPublicBaseURL string `env:"MEDIA_PUBLIC_BASE_URL" env-required:"true"`

	// ValidationThreshold - минимальная уверенность, с которой
	// сгенерированный портрет считается соответствующим запросу.
	ValidationThreshold float64 `env:"VALIDATION_CONFIDENCE_THRESHOLD" env-default:"0.70"`

	// Параметры опроса асинхронных провайдеров.
	PollIntervalSec int `env:"PROVIDER_POLL_INTERVAL_SEC" env-default:"3"`
	PollMaxAttempts int `env:"PROVIDER_POLL_MAX_ATTEMPTS" env-default:"60"`

	// BatchItemDelayMs - пауза между элементами пакета, чтобы не
	// перегружать локальные генераторы.
	BatchItemDelayMs int `env:"BATCH_ITEM_DELAY_MS" env-default:"500"`
}

// RabbitMQConfig конфигурация для подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL          string      `env:"RABBITMQ_URL" env-required:"true"`
	ConsumerName string      `env:"RABBITMQ_CONSUMER_NAME" env-default:"media_generator_worker"`
	TaskQueue    QueueConfig `env-prefix:"RABBITMQ_MEDIA_TASK_QUEUE_"`
}

// QueueConfig настройки для конкретной очереди RabbitMQ.
type QueueConfig struct {
	Name       string `env:"NAME" env-default:"media_generation_tasks"`
	Durable    bool   `env:"DURABLE" env-default:"true"`
	AutoDelete bool   `env:"AUTO_DELETE" env-default:"false"`
	Exclusive  bool   `env:"EXCLUSIVE" env-default:"false"`
	NoWait     bool   `env:"NO_WAIT" env-default:"false"`
}

// SanaServerConfig конфигурация для подключения к локальному SANA серверу.
type SanaServerConfig struct {
	BaseURL string `env:"SANA_SERVER_BASE_URL" env-default:""`
	Timeout int    `env:"SANA_SERVER_TIMEOUT_SEC" env-default:"120"` // Таймаут в секундах
}

// PollinationsConfig конфигурация асинхронного провайдера Pollinations.
type PollinationsConfig struct {
	BaseURL string `env:"POLLINATIONS_BASE_URL" env-default:""`
	Timeout int    `env:"POLLINATIONS_TIMEOUT_SEC" env-default:"30"`
}

// OpenAIConfig конфигурация платных провайдеров OpenAI.
// APIKey читается из Docker secret, поэтому без env-тега.
type OpenAIConfig struct {
	APIKey       string
	ImageModel   string `env:"OPENAI_IMAGE_MODEL" env-default:"dall-e-3"`
	SpeechModel  string `env:"OPENAI_SPEECH_MODEL" env-default:"tts-1"`
	TimeoutSec   int    `env:"OPENAI_TIMEOUT_SEC" env-default:"120"`
	ImageQuality string `env:"OPENAI_IMAGE_QUALITY" env-default:"standard"`
}

// PollInterval возвращает интервал опроса как Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// BatchItemDelay возвращает паузу между элементами пакета как Duration.
func (c *Config) BatchItemDelay() time.Duration {
	return time.Duration(c.BatchItemDelayMs) * time.Millisecond
}

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() *Config {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
	_ = godotenv.Load()

	var cfg Config

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// Ключ OpenAI опционален: без него платные провайдеры просто
	// исключаются из каскада.
	if key, err := utils.ReadSecret("openai_api_key"); err == nil {
		cfg.OpenAI.APIKey = key
	} else {
		log.Printf("OpenAI API key not available, paid providers disabled: %v", err)
	}

	return &cfg
}
