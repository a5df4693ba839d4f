package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort            string `mapstructure:"APP_PORT"`
	Env                string `mapstructure:"ENV"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	AdminToken         string `mapstructure:"ADMIN_TOKEN"`
	MaxRequestsPerMin  int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// Comma-separated IPs or CIDRs whose X-Forwarded-For / X-Real-IP headers are believed.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// MongoDB configuration.
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`
	CacheDriver   string `mapstructure:"CACHE_DRIVER"` // "redis" or "memory"

	// Scheduling behaviour.
	AvailabilityCacheTTL time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	IdempotencyTTL       time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	ForwardWeeks         int           `mapstructure:"FORWARD_WEEKS"`
	SeriesDefaultWeeks   int           `mapstructure:"SERIES_DEFAULT_WEEKS"`
	DefaultTimezone      string        `mapstructure:"DEFAULT_TIMEZONE"`
	CleanupCron          string        `mapstructure:"CLEANUP_CRON"`
	ReminderLead         time.Duration `mapstructure:"REMINDER_LEAD"`

	// Notifications.
	NotificationsAsync      bool   `mapstructure:"NOTIFICATIONS_ASYNC"`
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	// Automatically use environment variables where available.
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("ADMIN_TOKEN", "")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("TRUSTED_PROXIES", "127.0.0.1,::1")

	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "slotkeeper")

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 3)
	viper.SetDefault("CACHE_DRIVER", "redis")

	viper.SetDefault("AVAILABILITY_CACHE_TTL", 5*time.Minute)
	viper.SetDefault("IDEMPOTENCY_TTL", 15*time.Minute)
	viper.SetDefault("FORWARD_WEEKS", 8)
	viper.SetDefault("SERIES_DEFAULT_WEEKS", 4)
	viper.SetDefault("DEFAULT_TIMEZONE", "UTC")
	viper.SetDefault("CLEANUP_CRON", "@daily")
	viper.SetDefault("REMINDER_LEAD", 24*time.Hour)

	viper.SetDefault("NOTIFICATIONS_ASYNC", true)
	viper.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// TrustedProxyList splits TRUSTED_PROXIES. An empty value trusts no proxy, so
// the peer address is always the client.
func TrustedProxyList() []string {
	var out []string
	for _, p := range strings.Split(AppConfig.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultLocation resolves DEFAULT_TIMEZONE, falling back to UTC.
func DefaultLocation() *time.Location {
	if AppConfig.DefaultTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(AppConfig.DefaultTimezone)
	if err != nil {
		log.Printf("invalid DEFAULT_TIMEZONE %q, using UTC", AppConfig.DefaultTimezone)
		return time.UTC
	}
	return loc
}
