package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "COYOTE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultAllowedOrigin     = "http://localhost:3000"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "coyote.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "coyote_session"
	defaultSessionTTLMinutes = 7 * 24 * 60
	defaultSessionStore      = "database"
	defaultRedisAddress      = "localhost:6379"
	defaultStorageRoot       = "data/blobs"
	defaultPublicBaseURL     = "http://localhost:8080"
	defaultAvatarMaxBytes    = 3 * 1024 * 1024
	defaultPostImageMaxBytes = 5 * 1024 * 1024
	defaultFetchLimit        = 50
	defaultMaxContentChars   = 400
)

// Supported database drivers and session stores.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
	SessionStoreDatabase   = "database"
	SessionStoreRedis      = "redis"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	DatabaseDriver     string
	DatabaseDSN        string
	LogLevel           string
	SigningSecret      string
	AllowedEmailDomain string
	SessionCookieName  string
	SessionTTL         time.Duration
	SessionStore       string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	StorageRoot        string
	PublicBaseURL      string
	AvatarMaxBytes     int64
	PostImageMaxBytes  int64
	FeedFetchLimit     int
	MaxContentChars    int
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
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.allowed_email_domain", emailpolicy.DefaultDomain)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("session.store", defaultSessionStore)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("storage.avatar_max_bytes", defaultAvatarMaxBytes)
	configViper.SetDefault("storage.post_image_max_bytes", defaultPostImageMaxBytes)
	configViper.SetDefault("feed.fetch_limit", defaultFetchLimit)
	configViper.SetDefault("feed.max_content_chars", defaultMaxContentChars)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		AllowedOrigins:     configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		AllowedEmailDomain: configViper.GetString("auth.allowed_email_domain"),
		SessionCookieName:  configViper.GetString("session.cookie_name"),
		SessionTTL:         time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		SessionStore:       strings.ToLower(strings.TrimSpace(configViper.GetString("session.store"))),
		RedisAddress:       configViper.GetString("redis.address"),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		StorageRoot:        configViper.GetString("storage.root"),
		PublicBaseURL:      strings.TrimRight(configViper.GetString("storage.public_base_url"), "/"),
		AvatarMaxBytes:     configViper.GetInt64("storage.avatar_max_bytes"),
		PostImageMaxBytes:  configViper.GetInt64("storage.post_image_max_bytes"),
		FeedFetchLimit:     configViper.GetInt("feed.fetch_limit"),
		MaxContentChars:    configViper.GetInt("feed.max_content_chars"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	switch c.SessionStore {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis session store")
		}
	default:
		return fmt.Errorf("session.store %q is not supported", c.SessionStore)
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.AvatarMaxBytes <= 0 || c.PostImageMaxBytes <= 0 {
		return fmt.Errorf("storage upload ceilings must be positive")
	}
	if c.FeedFetchLimit <= 0 {
		return fmt.Errorf("feed.fetch_limit must be positive")
	}
	if c.MaxContentChars <= 0 {
		return fmt.Errorf("feed.max_content_chars must be positive")
	}
	return nil
}
