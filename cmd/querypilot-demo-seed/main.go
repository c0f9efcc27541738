package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/demo/tshirts"
	"github.com/querypilot/querypilot/internal/query/sqldb"
)

func main() {
	_ = godotenv.Load()

	cfg, err := tshirts.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := sqldb.Open(ctx, sqldb.Config{Dialect: cfg.Dialect, DSN: cfg.DSN, Database: cfg.Database})
	if err != nil {
		logger.Error("failed to open demo database", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	dsn, _ := sqldb.BuildDSN(sqldb.Config{Dialect: cfg.Dialect, DSN: cfg.DSN, Database: cfg.Database})
	logger.Info(
		"seeding demo dataset",
		slog.String("dialect", string(cfg.Dialect)),
		slog.String("dsn", sqldb.MaskDSN(dsn)),
		slog.Int("t_shirts", cfg.TShirts),
		slog.Int64("seed", cfg.Seed),
		slog.Bool("drop_existing", cfg.DropExisting),
	)

	seeder := tshirts.NewSeeder(conn.DB(), cfg.Dialect, logger)
	if err := seeder.Seed(ctx, tshirts.Generate(cfg.Seed, cfg.TShirts), cfg.DropExisting); err != nil {
		logger.Error("demo seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}
