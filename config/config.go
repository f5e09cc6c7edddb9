package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RabbitMQConfig holds the event-bus connection settings.
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string

	Exchange                 string
	QueueName                string
	ReportCreatedRoutingKey  string
	ReportUpdatedRoutingKey  string
	AnalyzedReportRoutingKey string
	PrefetchCount            int
}

// GetAMQPURL builds the AMQP connection URL.
func (c *RabbitMQConfig) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.User, c.Password, c.Host, c.Port)
}

// Config holds all configuration for the analyze pipeline service.
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Provider configuration. Provider selects the client pair:
	// "google" (Vision + Gemini) or "stub" for CI.
	Provider     string
	VisionAPIKey string
	GeminiAPIKey string
	GeminiModel  string

	// ProviderTimeout bounds every image fetch and provider call so a
	// stalled provider cannot block a handler.
	ProviderTimeout time.Duration

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// SendGrid configuration (optional notification email channel)
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "cityfix"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Provider defaults
		Provider:        getEnv("PROVIDER", "google"),
		VisionAPIKey:    getEnv("VISION_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),

		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),

			Exchange:                 getEnv("RABBITMQ_EXCHANGE", "cityfix"),
			QueueName:                getEnv("RABBITMQ_QUEUE", "analyze-pipeline"),
			ReportCreatedRoutingKey:  getEnv("RABBITMQ_REPORT_CREATED_KEY", "report.created"),
			ReportUpdatedRoutingKey:  getEnv("RABBITMQ_REPORT_UPDATED_KEY", "report.status"),
			AnalyzedReportRoutingKey: getEnv("RABBITMQ_ANALYZED_REPORT_KEY", "report.analyzed"),
			PrefetchCount:            getIntEnv("RABBITMQ_PREFETCH", 20),
		},

		// SendGrid defaults (empty key disables the email channel)
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "CityFix"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "reports@cityfix.app"),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
