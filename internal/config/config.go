/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the savings-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                     string `mapstructure:"SERVER_PORT"`
	DatabaseURL                    string `mapstructure:"DATABASE_URL"`
	RedisURL                       string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix           string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                    string `mapstructure:"RABBITMQ_URL"`
	SupportEventQueue              string `mapstructure:"SUPPORT_EVENT_QUEUE"`
	JWKSURL                        string `mapstructure:"JWKS_URL"`
	InternalAPIKey                 string `mapstructure:"INTERNAL_API_KEY"`
	SupportAPIBaseURL              string `mapstructure:"SUPPORT_API_BASE_URL"`
	SupportAPIKey                  string `mapstructure:"SUPPORT_API_KEY"`
	DecisionRateLimitPerMinute     int    `mapstructure:"DECISION_RATE_LIMIT_PER_MINUTE"`
	WithdrawalCreateLimitPerMinute int    `mapstructure:"WITHDRAWAL_CREATE_LIMIT_PER_MINUTE"`
	ReminderCronSchedule           string `mapstructure:"REMINDER_CRON_SCHEDULE"`
	ReminderPendingAgeHours        int    `mapstructure:"REMINDER_PENDING_AGE_HOURS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SUPPORT_EVENT_QUEUE", "savings_service.support_resolutions")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "savings:rate_limit")
	viper.SetDefault("DECISION_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("WITHDRAWAL_CREATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("REMINDER_CRON_SCHEDULE", "0 * * * *")
	viper.SetDefault("REMINDER_PENDING_AGE_HOURS", 24)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SAVINGS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SUPPORT_EVENT_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SAVINGS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SUPPORT_API_BASE_URL")
	_ = viper.BindEnv("SUPPORT_API_KEY")
	_ = viper.BindEnv("DECISION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("WITHDRAWAL_CREATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REMINDER_CRON_SCHEDULE")
	_ = viper.BindEnv("REMINDER_PENDING_AGE_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SAVINGS_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "savings:rate_limit"
	}
	config.SupportAPIBaseURL = strings.TrimSpace(config.SupportAPIBaseURL)
	config.SupportAPIKey = strings.TrimSpace(config.SupportAPIKey)

	if config.DecisionRateLimitPerMinute <= 0 {
		config.DecisionRateLimitPerMinute = 30
	}
	if config.WithdrawalCreateLimitPerMinute <= 0 {
		config.WithdrawalCreateLimitPerMinute = 10
	}
	if strings.TrimSpace(config.ReminderCronSchedule) == "" {
		config.ReminderCronSchedule = "0 * * * *"
	}
	if config.ReminderPendingAgeHours <= 0 {
		config.ReminderPendingAgeHours = 24
	}

	return
}
