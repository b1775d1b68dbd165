package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	// Forwarding headers are honoured only from these addresses or CIDRs.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	// Sessions.
	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
	ReplayTTL  time.Duration `mapstructure:"REPLAY_TTL"`

	// Profile store: "mongo", "firestore" or "memory".
	ProfileStore string `mapstructure:"PROFILE_STORE"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DatabaseName string `mapstructure:"DATABASE_NAME"`

	// Redis configuration. An empty address keeps ephemeral state in process memory.
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisSessionDB int    `mapstructure:"REDIS_SESSION_DB"`
	RedisQueueDB   int    `mapstructure:"REDIS_QUEUE_DB"`

	// Firebase.
	FirebaseCredentialsFile string `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string `mapstructure:"FIREBASE_PROJECT_ID"`

	// Phone verification.
	OTPChannel         string        `mapstructure:"OTP_CHANNEL"`
	TwilioAccountSID   string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber   string        `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioLookup       bool          `mapstructure:"TWILIO_LOOKUP"`
	DefaultCountryCode string        `mapstructure:"DEFAULT_COUNTRY_CODE"`
	ChallengeTTL       time.Duration `mapstructure:"CHALLENGE_TTL"`
	OTPPerMinute       int           `mapstructure:"OTP_PER_MINUTE"`
	OTPLength          int           `mapstructure:"OTP_LENGTH"`

	// Admin API: bcrypt hash of the static admin bearer token.
	AdminTokenHash string `mapstructure:"ADMIN_TOKEN_HASH"`

	// Background jobs.
	WorkflowRetention time.Duration `mapstructure:"WORKFLOW_RETENTION"`
	JanitorSchedule   string        `mapstructure:"JANITOR_SCHEDULE"`
	JanitorGrace      time.Duration `mapstructure:"JANITOR_GRACE"`
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

	// Set default values.
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 100)
	viper.SetDefault("TRUSTED_PROXIES", []string{})
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("SESSION_TTL", 30*24*time.Hour)
	viper.SetDefault("REPLAY_TTL", 15*time.Minute)
	viper.SetDefault("PROFILE_STORE", "mongo")
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "carelink")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_SESSION_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	viper.SetDefault("FIREBASE_PROJECT_ID", "")
	viper.SetDefault("OTP_CHANNEL", "local")
	viper.SetDefault("TWILIO_LOOKUP", false)
	viper.SetDefault("DEFAULT_COUNTRY_CODE", "+91")
	viper.SetDefault("CHALLENGE_TTL", 10*time.Minute)
	viper.SetDefault("OTP_PER_MINUTE", 3)
	viper.SetDefault("OTP_LENGTH", 6)
	viper.SetDefault("ADMIN_TOKEN_HASH", "")
	viper.SetDefault("WORKFLOW_RETENTION", 2*time.Hour)
	viper.SetDefault("JANITOR_SCHEDULE", "@every 15m")
	viper.SetDefault("JANITOR_GRACE", 10*time.Minute)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if AppConfig.JWTSecret == "" {
		if IsProduction() {
			log.Fatal("JWT_SECRET must be set in production")
		}
		AppConfig.JWTSecret = "carelink-dev-secret"
	}
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

// FirebaseEnabled reports whether a service account was configured.
func FirebaseEnabled() bool {
	return AppConfig.FirebaseCredentialsFile != ""
}
