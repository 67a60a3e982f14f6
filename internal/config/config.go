package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "INKWELL"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "inkwell.db"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultTokenIssuer         = "inkwell-auth"
	defaultTokenAudience       = "inkwell-api"
	defaultTokenTTLMinutes     = 60
	defaultConnectionBuffer    = 32
	defaultPublishWorkers      = 4
	defaultPublishQueue        = 1024
	defaultRedisChannelPrefix  = "inkwell:comments:"
	defaultMessagesPerSecond   = 5.0
	defaultMessageBurst        = 10
	minimumSigningSecretLength = 16
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	LogFormat          string
	SigningSecret      string
	TokenIssuer        string
	TokenAudience      string
	TokenTTL           time.Duration
	ConnectionBuffer   int
	PublishWorkers     int
	PublishQueue       int
	RedisAddress       string
	RedisChannelPrefix string
	AllowedOrigins     []string
	MessagesPerSecond  float64
	MessageBurst       int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("realtime.connection_buffer", defaultConnectionBuffer)
	configViper.SetDefault("realtime.publish_workers", defaultPublishWorkers)
	configViper.SetDefault("realtime.publish_queue", defaultPublishQueue)
	configViper.SetDefault("realtime.redis_address", "")
	configViper.SetDefault("realtime.redis_channel_prefix", defaultRedisChannelPrefix)
	configViper.SetDefault("websocket.allowed_origins", []string{})
	configViper.SetDefault("websocket.messages_per_second", defaultMessagesPerSecond)
	configViper.SetDefault("websocket.burst", defaultMessageBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		LogFormat:          configViper.GetString("log.format"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenIssuer:        configViper.GetString("auth.issuer"),
		TokenAudience:      configViper.GetString("auth.audience"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		ConnectionBuffer:   configViper.GetInt("realtime.connection_buffer"),
		PublishWorkers:     configViper.GetInt("realtime.publish_workers"),
		PublishQueue:       configViper.GetInt("realtime.publish_queue"),
		RedisAddress:       strings.TrimSpace(configViper.GetString("realtime.redis_address")),
		RedisChannelPrefix: configViper.GetString("realtime.redis_channel_prefix"),
		AllowedOrigins:     splitOrigins(configViper.GetStringSlice("websocket.allowed_origins")),
		MessagesPerSecond:  configViper.GetFloat64("websocket.messages_per_second"),
		MessageBurst:       configViper.GetInt("websocket.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if len(strings.TrimSpace(c.SigningSecret)) < minimumSigningSecretLength {
		return fmt.Errorf("auth.signing_secret must be at least %d characters", minimumSigningSecretLength)
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" || strings.TrimSpace(c.TokenAudience) == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.ConnectionBuffer <= 0 {
		return fmt.Errorf("realtime.connection_buffer must be positive")
	}
	if c.PublishWorkers <= 0 || c.PublishQueue <= 0 {
		return fmt.Errorf("realtime.publish_workers and realtime.publish_queue must be positive")
	}
	if c.RedisAddress != "" && strings.TrimSpace(c.RedisChannelPrefix) == "" {
		return fmt.Errorf("realtime.redis_channel_prefix is required when realtime.redis_address is set")
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("websocket.messages_per_second and websocket.burst must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env string.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
