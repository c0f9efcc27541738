package tshirts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/query"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Dialect      query.Dialect
	DSN          string
	Database     string
	TShirts      int
	Seed         int64
	DropExisting bool
}

func DefaultConfig() Config {
	return Config{
		Dialect:      query.DialectSQLite,
		Database:     "atliq_tshirts.db",
		TShirts:      MaxTShirts,
		Seed:         1,
		DropExisting: true,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	dialect := string(cfg.Dialect)
	applyString(lookup, "QUERYPILOT_DEMO_DIALECT", &dialect)
	applyString(lookup, "QUERYPILOT_DEMO_DSN", &cfg.DSN)
	applyString(lookup, "QUERYPILOT_DEMO_DATABASE", &cfg.Database)
	if err := applyInt(lookup, "QUERYPILOT_DEMO_TSHIRTS", &cfg.TShirts); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "QUERYPILOT_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "QUERYPILOT_DEMO_DROP_EXISTING", &cfg.DropExisting); err != nil {
		return Config{}, err
	}

	parsed, err := query.ParseDialect(dialect)
	if err != nil {
		return Config{}, fmt.Errorf("invalid QUERYPILOT_DEMO_DIALECT: %w", err)
	}
	cfg.Dialect = parsed
	if cfg.TShirts <= 0 || cfg.TShirts > MaxTShirts {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_TSHIRTS must be between 1 and %d", MaxTShirts)
	}
	if cfg.DSN == "" && cfg.Database == "" && cfg.Dialect != query.DialectSQLite && cfg.Dialect != query.DialectDuckDB {
		return Config{}, fmt.Errorf("QUERYPILOT_DEMO_DSN is required for %s", cfg.Dialect)
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) {
	if raw, ok := lookup(key); ok {
		*dst = strings.TrimSpace(raw)
	}
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
