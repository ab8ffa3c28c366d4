package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusdesk/servicedesk/internal/auth"
	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/config"
	"github.com/campusdesk/servicedesk/internal/coordinator"
	"github.com/campusdesk/servicedesk/internal/database"
	"github.com/campusdesk/servicedesk/internal/desk"
	"github.com/campusdesk/servicedesk/internal/events"
	"github.com/campusdesk/servicedesk/internal/ids"
	"github.com/campusdesk/servicedesk/internal/logging"
	"github.com/campusdesk/servicedesk/internal/remote"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/server"
	"github.com/campusdesk/servicedesk/internal/session"
	"github.com/campusdesk/servicedesk/internal/users"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "servicedesk-agent",
		Short: "Campus service desk client agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the desk API and keep the local cache in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass against the remote store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cmd)
		},
	}
	rootCmd.AddCommand(serveCmd, reconcileCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the environment is read")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "SQLite cache path")
	cmd.PersistentFlags().Int64("cache-quota-bytes", defaults.GetInt64("cache.quota_bytes"), "Local cache storage budget in bytes")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("remote.redis_url"), "Remote replica store URL (empty runs offline)")
	cmd.PersistentFlags().String("remote-key-prefix", defaults.GetString("remote.key_prefix"), "Key prefix in the remote store")
	cmd.PersistentFlags().Duration("remote-write-timeout", defaults.GetDuration("remote.write_timeout"), "Timeout of each remote write")
	cmd.PersistentFlags().String("admin-email", defaults.GetString("admin.email"), "Reserved administrator email")
	cmd.PersistentFlags().String("admin-password", "", "Administrator password (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "cache.quota_bytes", "cache-quota-bytes")
	bindFlag(cmd, "remote.redis_url", "redis-url")
	bindFlag(cmd, "remote.key_prefix", "remote-key-prefix")
	bindFlag(cmd, "remote.write_timeout", "remote-write-timeout")
	bindFlag(cmd, "admin.email", "admin-email")
	bindFlag(cmd, "admin.password", "admin-password")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

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

// agent holds the components shared by every command.
type agent struct {
	config      config.AppConfig
	logger      *zap.Logger
	db          *gorm.DB
	remote      *remote.RedisStore
	coordinator *coordinator.Coordinator
	account     users.AdminAccount
	adminRecord users.User
	cache       *cache.Store
}

func openAgent(ctx context.Context) (*agent, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.CachePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cache.Config{
		Database:   db,
		QuotaBytes: appConfig.CacheQuotaBytes,
		Dispatcher: events.NewDispatcher(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if usage, err := store.Usage(); err == nil {
		logger.Info("local cache opened",
			zap.String("path", appConfig.CachePath),
			zap.Int64("used_bytes", usage),
			zap.Int64("quota_bytes", store.QuotaBytes()))
	}

	account := users.AdminAccount{
		ID:       appConfig.AdminID,
		Name:     appConfig.AdminName,
		Email:    appConfig.AdminEmail,
		Password: appConfig.AdminPassword,
	}
	hash, err := users.HashCredential(appConfig.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("admin.password: %w", err)
	}
	adminRecord := account.User(hash)

	a := &agent{
		config:      appConfig,
		logger:      logger,
		db:          db,
		account:     account,
		adminRecord: adminRecord,
		cache:       store,
	}

	var remoteStore remote.Store
	if appConfig.Offline() {
		logger.Warn("no remote store configured; running offline")
	} else {
		redisStore, err := remote.NewRedisStore(ctx, remote.RedisConfig{
			URL:       appConfig.RedisURL,
			KeyPrefix: appConfig.RemoteKeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("remote store unreachable; running offline", zap.Error(err))
		} else {
			a.remote = redisStore
			remoteStore = redisStore
		}
	}

	coord, err := coordinator.New(coordinator.Config{
		Cache:        store,
		Remote:       remoteStore,
		Admin:        adminRecord,
		WriteTimeout: appConfig.RemoteWriteTimeout,
		Logger:       logger,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.coordinator = coord
	return a, nil
}

// close drains the remote mirror queue and releases connections.
func (a *agent) close(ctx context.Context) {
	if a.coordinator != nil {
		if err := a.coordinator.Close(ctx); err != nil {
			a.logger.Warn("remote writes still pending at shutdown", zap.Error(err))
		}
	}
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

func runServer(ctx context.Context) error {
	a, err := openAgent(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()
	logger := a.logger

	sessions, err := session.NewManager(a.cache)
	if err != nil {
		return err
	}
	deskService, err := desk.NewService(desk.Config{
		Repository:  a.coordinator,
		Sessions:    sessions,
		IDProvider:  ids.NewUUIDProvider(),
		Admin:       a.account,
		AdminRecord: a.adminRecord,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(a.config.SigningSecret),
		TokenTTL:      a.config.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Desk:           deskService,
		TokenManager:   tokenManager,
		Snapshots:      a.coordinator,
		AllowedOrigins: a.config.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background subscriptions keep the cache current even with no stream clients.
	stopRequests := a.coordinator.SubscribeRequests(signalCtx, func(list []requests.Request) {
		logger.Debug("requests snapshot applied", zap.Int("count", len(list)))
	})
	defer stopRequests()
	stopUsers := a.coordinator.SubscribeUsers(signalCtx, func(list []users.User) {
		logger.Debug("users snapshot applied", zap.Int("count", len(list)))
	})
	defer stopUsers()

	httpServer := &http.Server{
		Addr:    a.config.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", a.config.HTTPAddress), zap.Bool("online", a.coordinator.Online()))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runReconcile(ctx context.Context, cmd *cobra.Command) error {
	a, err := openAgent(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
	}()

	report, err := a.coordinator.ReconcileOnce(ctx)
	if err != nil {
		return err
	}
	if err := a.coordinator.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "requests: %d (seeded %d)\nusers: %d (seeded %d)\n",
		report.Requests, report.SeededRequests, report.Users, report.SeededUsers)
	return nil
}
