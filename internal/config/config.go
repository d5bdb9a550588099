package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// WhatsApp gateway
	WhatsAppBaseURL  string
	WhatsAppInstance string
	WhatsAppToken    string

	// Survey rendering
	SurveyURL          string
	DefaultCountryCode string

	// AWS services (SMS and email fallback channels)
	AWSRegion    string
	SNSRegion    string
	SESFromEmail string
	SESSubject   string

	// SQS outcome events
	SQSRegion   string
	SQSQueueURL string

	// Dispatcher
	DispatchPollSeconds int
	DispatchBatchSize   int

	// API rate limiting
	APIRateLimit int // requests per minute per sender
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is picked up when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "warden",
		DBPassword: "",
		DBName:     "warden",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		DefaultCountryCode: "55",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@warden.local",
		SESSubject:   "Pesquisa de satisfação",

		DispatchPollSeconds: 5,
		DispatchBatchSize:   10,

		APIRateLimit: 100,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// WhatsApp gateway config
	if url := os.Getenv("WHATSAPP_BASE_URL"); url != "" {
		cfg.WhatsAppBaseURL = url
	}

	if instance := os.Getenv("WHATSAPP_INSTANCE"); instance != "" {
		cfg.WhatsAppInstance = instance
	}

	if token := os.Getenv("WHATSAPP_TOKEN"); token != "" {
		cfg.WhatsAppToken = token
	}

	if url := os.Getenv("SURVEY_URL"); url != "" {
		cfg.SurveyURL = url
	}

	if code := os.Getenv("DEFAULT_COUNTRY_CODE"); code != "" {
		cfg.DefaultCountryCode = code
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if subject := os.Getenv("SES_SUBJECT"); subject != "" {
		cfg.SESSubject = subject
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	// Dispatcher config
	if poll := os.Getenv("DISPATCH_POLL_SECONDS"); poll != "" {
		p, err := strconv.Atoi(poll)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_POLL_SECONDS: %w", err)
		}
		cfg.DispatchPollSeconds = p
	}

	if batch := os.Getenv("DISPATCH_BATCH_SIZE"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH_SIZE: %w", err)
		}
		cfg.DispatchBatchSize = b
	}

	if limit := os.Getenv("API_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
		}
		cfg.APIRateLimit = l
	}

	return cfg, nil
}
