package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/coyote/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/config"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/database"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/emailpolicy"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/gate"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/server"
	"github.com/MarcoPoloResearchLab/coyote/backend/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coyote-api",
		Short: "Coyote Connection campus feed service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Origins allowed to call the API with credentials")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-email-domain", defaults.GetString("auth.allowed_email_domain"), "Email suffix allowed to hold an account")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session lifetime in minutes")
	cmd.PersistentFlags().String("session-store", defaults.GetString("session.store"), "Session store (database, redis)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the redis session store")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Directory holding uploaded images")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("storage.public_base_url"), "Base URL used in public image links")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.allowed_email_domain", "allowed-email-domain")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "session.store", "session-store")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "storage.public_base_url", "public-base-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessions, closeSessions, err := openSessionStore(ctx, appConfig, db, logger)
	if err != nil {
		return err
	}
	defer closeSessions.Close() //nolint:errcheck

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Database:   db,
		Sessions:   sessions,
		Tokens:     tokens,
		Validator:  validator,
		Hasher:     auth.NewPasswordHasher(bcrypt.DefaultCost),
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	policy := emailpolicy.New(appConfig.AllowedEmailDomain)
	sessionGate, err := gate.New(provider, policy, logger)
	if err != nil {
		return err
	}

	blobs, err := storage.NewBlobStore(storage.Config{
		Root:          appConfig.StorageRoot,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database:       db,
		Blobs:          blobs,
		AvatarMaxBytes: appConfig.AvatarMaxBytes,
		Clock:          time.Now,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	postService, err := posts.NewService(posts.ServiceConfig{
		Database:        db,
		Blobs:           blobs,
		IDProvider:      idProvider,
		FetchLimit:      appConfig.FeedFetchLimit,
		MaxContentChars: appConfig.MaxContentChars,
		ImageMaxBytes:   appConfig.PostImageMaxBytes,
		Clock:           time.Now,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Provider:       provider,
		Gate:           sessionGate,
		EmailPolicy:    policy,
		Profiles:       profileService,
		Posts:          postService,
		Blobs:          blobs,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("email_domain", policy.Domain()),
			zap.String("session_store", appConfig.SessionStore))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openSessionStore selects where sessions live. The redis store is pinged
// before use so a misconfigured address fails at startup.
func openSessionStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (auth.SessionStore, io.Closer, error) {
	if appConfig.SessionStore != config.SessionStoreRedis {
		return auth.NewGormSessionStore(db, time.Now), nopCloser{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("redis session store connected", zap.String("address", appConfig.RedisAddress))
	return auth.NewRedisSessionStore(client, time.Now), client, nil
}
