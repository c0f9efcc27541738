package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/auth"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/export"
	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/query/sqldb"
	"github.com/querypilot/querypilot/internal/secrets"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	credentials, err := credentialProvider(cfg)
	if err != nil {
		logger.Error("failed to open credential store", slog.Any("error", err))
		os.Exit(1)
	}

	registry := pipeline.NewRegistry(pipeline.NewSQLBuilder(pipeline.BuilderConfig{
		Target:        targetConfig(cfg),
		Mode:          cfg.AI.Mode,
		BaseURL:       cfg.AI.BaseURL,
		Model:         cfg.AI.Model,
		Temperature:   cfg.AI.Temperature,
		Timeout:       cfg.AI.Timeout,
		Credentials:   credentials,
		PromptVersion: cfg.AI.PromptVersion,
		RowLimit:      cfg.AI.TopK,
		Policy:        nl2sql.ReductionPolicy(cfg.Pipeline.ReductionPolicy),
		TableRows:     cfg.Pipeline.TableRows,
		ReadOnly:      cfg.Pipeline.ReadOnly,
	}), pipeline.RegistryConfig{
		Pipeline: pipeline.Config{
			RowLimit:     cfg.AI.TopK,
			Policy:       nl2sql.ReductionPolicy(cfg.Pipeline.ReductionPolicy),
			StageTimeout: cfg.Pipeline.StageTimeout,
		},
		SessionTTL:      cfg.Pipeline.SessionTTL,
		JanitorInterval: cfg.Pipeline.JanitorInterval,
		SessionLimit:    cfg.Pipeline.SessionLimit,
	}, logger)
	defer registry.CloseAll()

	deps := api.Dependencies{
		Logger:            logger,
		Sessions:          registry,
		DependencyTimeout: 2 * time.Second,
	}
	readiness := []api.ReadinessCheck{api.CheckExportConfig(cfg)}
	if cfg.Export.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Exporter = &export.Exporter{
			Store: objectStore,
			Config: export.Config{
				PresignExpiry:  cfg.Export.PresignExpiry,
				KeepPerSession: cfg.Export.KeepPerSession,
			},
			Logger: logger,
		}
		readiness = append(readiness, api.CheckExportBucket(objectStore))
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := registry.Run(ctx); err != nil {
			logger.Error("session janitor stopped", slog.Any("error", err))
		}
	}()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("mode", cfg.AI.Mode),
			slog.String("default_dialect", cfg.Target.Dialect),
			slog.Bool("export_enabled", cfg.Export.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func targetConfig(cfg config.Config) sqldb.Config {
	return sqldb.Config{
		Dialect:         query.Dialect(cfg.Target.Dialect),
		DSN:             cfg.Target.DSN,
		Host:            cfg.Target.Host,
		Port:            cfg.Target.Port,
		Database:        cfg.Target.Database,
		User:            cfg.Target.User,
		Password:        cfg.Target.Password,
		SSLMode:         cfg.Target.SSLMode,
		SampleRows:      cfg.Target.SampleRows,
		MaxOpenConns:    cfg.Target.MaxOpenConns,
		MaxIdleConns:    cfg.Target.MaxIdleConns,
		ConnMaxLifetime: cfg.Target.ConnMaxLifetime,
	}
}

// credentialProvider is the server-wide fallback for sessions whose connect
// request carries no key.
func credentialProvider(cfg config.Config) (secrets.CredentialProvider, error) {
	if cfg.AI.CredentialSource != config.CredentialSourceKeyring {
		return secrets.Static(cfg.AI.APIKey), nil
	}
	ring, err := secrets.OpenKeyring(secrets.KeyringConfig{
		ServiceName:  cfg.AI.KeyringService,
		Backend:      cfg.AI.KeyringBackend,
		FileDir:      cfg.AI.KeyringFileDir,
		FilePassword: cfg.AI.KeyringFilePassword,
	})
	if err != nil {
		return nil, err
	}
	return secrets.Chain(secrets.Static(cfg.AI.APIKey), ring), nil
}
