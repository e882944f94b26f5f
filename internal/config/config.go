package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseDriver         string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	EventsPrefix           string
	JWTSecret              string
	MetricsCacheTTL        time.Duration
	RubricProfile          string
	UploadMaxMB            int
	OCRImage               string
	OCRLanguages           string
	OCRTimeout             time.Duration
	DockerHost             string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	OpenAIAPIKey           string
	AIModel                string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CloudinaryEnabled reports whether scan archiving credentials are present.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("events.prefix", "grading")
	v.SetDefault("metrics.cache_ttl", "2m")
	v.SetDefault("upload.max_mb", 8)
	v.SetDefault("ocr.image", "jitesoft/tesseract-ocr:latest")
	v.SetDefault("ocr.languages", "chi_tra+eng")
	v.SetDefault("ocr.timeout", "45s")
	v.SetDefault("cloudinary.folder", "gema/grading/scans")
	v.SetDefault("ai.model", "gpt-4o-mini")

	cacheTTL, err := parseDuration(v, "metrics.cache_ttl")
	if err != nil {
		return Config{}, err
	}

	ocrTimeout, err := parseDuration(v, "ocr.timeout")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseDriver:         strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventsPrefix:           strings.Trim(v.GetString("events.prefix"), "."),
		JWTSecret:              v.GetString("jwt.secret"),
		MetricsCacheTTL:        cacheTTL,
		RubricProfile:          v.GetString("rubric.profile"),
		UploadMaxMB:            v.GetInt("upload.max_mb"),
		OCRImage:               v.GetString("ocr.image"),
		OCRLanguages:           v.GetString("ocr.languages"),
		OCRTimeout:             ocrTimeout,
		DockerHost:             v.GetString("docker_host"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		OpenAIAPIKey:           v.GetString("openai_api_key"),
		AIModel:                v.GetString("ai.model"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 8
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return duration, nil
}
