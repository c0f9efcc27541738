package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/querypilot/querypilot/internal/cli/querypilotctl"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/secrets"
)

func main() {
	_ = godotenv.Load()

	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYPILOT_CLI_TIMEOUT")), 90*time.Second)
	options := querypilotctl.Options{
		BaseURL:         envOr("QUERYPILOT_API_URL", "http://localhost:8080"),
		APIKey:          strings.TrimSpace(os.Getenv("QUERYPILOT_API_KEY")),
		TenantID:        strings.TrimSpace(os.Getenv("QUERYPILOT_TENANT_ID")),
		Timeout:         timeout,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		Stdin:           os.Stdin,
		OpenCredentials: openKeyring,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := querypilotctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

// openKeyring uses the same keyring settings as the API server so a key
// stored here is the one the server falls back to.
func openKeyring() (querypilotctl.CredentialStore, error) {
	cfg, err := config.LoadFromEnv("querypilotctl")
	if err != nil {
		return nil, err
	}
	return secrets.OpenKeyring(secrets.KeyringConfig{
		ServiceName:  cfg.AI.KeyringService,
		Backend:      cfg.AI.KeyringBackend,
		FileDir:      cfg.AI.KeyringFileDir,
		FilePassword: cfg.AI.KeyringFilePassword,
	})
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYPILOT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
