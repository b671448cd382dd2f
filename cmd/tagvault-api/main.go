package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tagvault/tagvault/internal/artifacts"
	"github.com/tagvault/tagvault/internal/auth"
	"github.com/tagvault/tagvault/internal/blob"
	"github.com/tagvault/tagvault/internal/config"
	"github.com/tagvault/tagvault/internal/database"
	"github.com/tagvault/tagvault/internal/ids"
	"github.com/tagvault/tagvault/internal/logging"
	"github.com/tagvault/tagvault/internal/owners"
	"github.com/tagvault/tagvault/internal/server"
	"github.com/tagvault/tagvault/internal/tags"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tagvault-api",
		Short: "TagVault artifact storage service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Token and URL signing secret (overrides env)")
	cmd.PersistentFlags().String("blob-provider", defaults.GetString("blob.provider"), "Blob provider (local or s3)")
	cmd.PersistentFlags().Int("blob-url-ttl-minutes", defaults.GetInt("blob.url_ttl_minutes"), "Signed blob URL TTL in minutes")
	cmd.PersistentFlags().String("blob-local-root", defaults.GetString("blob.local.root"), "Local blob storage root")
	cmd.PersistentFlags().String("blob-local-base-url", defaults.GetString("blob.local.base_url"), "Base URL for locally served blobs")
	cmd.PersistentFlags().String("s3-region", "", "S3 region for the s3 blob provider")
	cmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for the s3 blob provider")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "blob.provider", "blob-provider")
	bindFlag(cmd, "blob.url_ttl_minutes", "blob-url-ttl-minutes")
	bindFlag(cmd, "blob.local.root", "blob-local-root")
	bindFlag(cmd, "blob.local.base_url", "blob-local-base-url")
	bindFlag(cmd, "blob.s3.region", "s3-region")
	bindFlag(cmd, "blob.s3.bucket", "s3-bucket")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "tagvault-auth",
		Audience:      "tagvault-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	ownerService, err := owners.NewService(owners.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var (
		blobProvider blob.Provider
		localBlobs   *blob.LocalProvider
	)
	if appConfig.IsS3() {
		blobProvider, err = blob.NewS3Provider(ctx, blob.S3Config{
			Region:          appConfig.S3Region,
			Bucket:          appConfig.S3Bucket,
			AccessKeyID:     appConfig.S3AccessKeyID,
			SecretAccessKey: appConfig.S3SecretKey,
			URLTTL:          appConfig.BlobURLTTL,
		})
	} else {
		localBlobs, err = blob.NewLocalProvider(blob.LocalConfig{
			Root:          appConfig.BlobLocalRoot,
			BaseURL:       appConfig.BlobLocalURL,
			SigningSecret: []byte(appConfig.SigningSecret),
			URLTTL:        appConfig.BlobURLTTL,
		})
		blobProvider = localBlobs
	}
	if err != nil {
		return err
	}

	idProvider := ids.NewUUIDProvider()

	tagService, err := tags.NewService(tags.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	artifactService, err := artifacts.NewService(artifacts.ServiceConfig{
		Database:   db,
		TagStore:   tagService,
		IDProvider: idProvider,
		Blobs:      blobProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenManager,
		Owners:         ownerService,
		ArtifactStore:  artifactService,
		TagStore:       tagService,
		Blobs:          blobProvider,
		LocalBlobs:     localBlobs,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("blob_provider", appConfig.BlobProvider))
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
