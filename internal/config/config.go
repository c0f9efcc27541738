package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/query"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Target        TargetConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TargetConfig is the database a session connects to when the connect
// request names none. An empty Dialect means requests must always carry one.
type TargetConfig struct {
	Dialect         string
	DSN             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SampleRows      int
}

const (
	CredentialSourceConfig  = "config"
	CredentialSourceKeyring = "keyring"
)

type AIConfig struct {
	Mode                string
	BaseURL             string
	APIKey              string
	CredentialSource    string
	KeyringService      string
	KeyringBackend      string
	KeyringFileDir      string
	KeyringFilePassword string
	Model               string
	Temperature         float64
	Timeout             time.Duration
	TopK                int
	PromptVersion       string
}

type PipelineConfig struct {
	ReductionPolicy string
	TableRows       int
	ReadOnly        bool
	StageTimeout    time.Duration
	SessionTTL      time.Duration
	SessionLimit    int
	JanitorInterval time.Duration
}

type ExportConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	PresignExpiry    time.Duration
	KeepPerSession   int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYPILOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYPILOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "QUERYPILOT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYPILOT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYPILOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "QUERYPILOT_TARGET_DIALECT", &cfg.Target.Dialect) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_DSN", &cfg.Target.DSN) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_HOST", &cfg.Target.Host) },
		func() error { return applyInt(lookup, "QUERYPILOT_TARGET_PORT", &cfg.Target.Port) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_DATABASE", &cfg.Target.Database) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_USER", &cfg.Target.User) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_PASSWORD", &cfg.Target.Password) },
		func() error { return applyString(lookup, "QUERYPILOT_TARGET_SSLMODE", &cfg.Target.SSLMode) },
		func() error { return applyInt(lookup, "QUERYPILOT_TARGET_MAX_OPEN_CONNS", &cfg.Target.MaxOpenConns) },
		func() error { return applyInt(lookup, "QUERYPILOT_TARGET_MAX_IDLE_CONNS", &cfg.Target.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "QUERYPILOT_TARGET_CONN_MAX_LIFETIME", &cfg.Target.ConnMaxLifetime)
		},
		func() error { return applyInt(lookup, "QUERYPILOT_TARGET_SAMPLE_ROWS", &cfg.Target.SampleRows) },

		func() error { return applyString(lookup, "QUERYPILOT_AI_MODE", &cfg.AI.Mode) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_CREDENTIAL_SOURCE", &cfg.AI.CredentialSource) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_KEYRING_SERVICE", &cfg.AI.KeyringService) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_KEYRING_BACKEND", &cfg.AI.KeyringBackend) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_KEYRING_FILE_DIR", &cfg.AI.KeyringFileDir) },
		func() error {
			return applyString(lookup, "QUERYPILOT_AI_KEYRING_FILE_PASSWORD", &cfg.AI.KeyringFilePassword)
		},
		func() error { return applyString(lookup, "QUERYPILOT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "QUERYPILOT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "QUERYPILOT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "QUERYPILOT_AI_TOP_K", &cfg.AI.TopK) },
		func() error { return applyString(lookup, "QUERYPILOT_AI_PROMPT_VERSION", &cfg.AI.PromptVersion) },

		func() error {
			return applyString(lookup, "QUERYPILOT_PIPELINE_REDUCTION_POLICY", &cfg.Pipeline.ReductionPolicy)
		},
		func() error { return applyInt(lookup, "QUERYPILOT_PIPELINE_TABLE_ROWS", &cfg.Pipeline.TableRows) },
		func() error { return applyBool(lookup, "QUERYPILOT_PIPELINE_READ_ONLY", &cfg.Pipeline.ReadOnly) },
		func() error {
			return applyDuration(lookup, "QUERYPILOT_PIPELINE_STAGE_TIMEOUT", &cfg.Pipeline.StageTimeout)
		},
		func() error {
			return applyDuration(lookup, "QUERYPILOT_PIPELINE_SESSION_TTL", &cfg.Pipeline.SessionTTL)
		},
		func() error { return applyInt(lookup, "QUERYPILOT_PIPELINE_SESSION_LIMIT", &cfg.Pipeline.SessionLimit) },
		func() error {
			return applyDuration(lookup, "QUERYPILOT_PIPELINE_JANITOR_INTERVAL", &cfg.Pipeline.JanitorInterval)
		},

		func() error { return applyBool(lookup, "QUERYPILOT_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_ENDPOINT", &cfg.Export.Endpoint) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_REGION", &cfg.Export.Region) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_BUCKET", &cfg.Export.Bucket) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey) },
		func() error { return applyBool(lookup, "QUERYPILOT_EXPORT_USE_SSL", &cfg.Export.UseSSL) },
		func() error { return applyString(lookup, "QUERYPILOT_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYPILOT_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket)
		},
		func() error {
			return applyDuration(lookup, "QUERYPILOT_EXPORT_PRESIGN_EXPIRY", &cfg.Export.PresignExpiry)
		},
		func() error {
			return applyInt(lookup, "QUERYPILOT_EXPORT_KEEP_PER_SESSION", &cfg.Export.KeepPerSession)
		},

		func() error { return applyBool(lookup, "QUERYPILOT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYPILOT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "QUERYPILOT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "QUERYPILOT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Target.Dialect != "" {
		dialect, err := query.ParseDialect(c.Target.Dialect)
		if err != nil {
			return fmt.Errorf("invalid QUERYPILOT_TARGET_DIALECT: %w", err)
		}
		c.Target.Dialect = string(dialect)
	}

	c.AI.Mode = strings.ToLower(c.AI.Mode)
	switch c.AI.Mode {
	case "llm", "lookup":
	default:
		return fmt.Errorf("invalid QUERYPILOT_AI_MODE: %q (supported: llm, lookup)", c.AI.Mode)
	}
	c.AI.CredentialSource = strings.ToLower(c.AI.CredentialSource)
	switch c.AI.CredentialSource {
	case CredentialSourceConfig, CredentialSourceKeyring:
	default:
		return fmt.Errorf("invalid QUERYPILOT_AI_CREDENTIAL_SOURCE: %q (supported: config, keyring)", c.AI.CredentialSource)
	}
	if c.AI.TopK <= 0 {
		return fmt.Errorf("QUERYPILOT_AI_TOP_K must be > 0")
	}
	if _, err := nl2sql.LoadPrompt(nl2sql.PromptSQLQuery, c.AI.PromptVersion); err != nil {
		return fmt.Errorf("invalid QUERYPILOT_AI_PROMPT_VERSION: %w", err)
	}

	policy, err := nl2sql.ParseReductionPolicy(c.Pipeline.ReductionPolicy)
	if err != nil {
		return fmt.Errorf("invalid QUERYPILOT_PIPELINE_REDUCTION_POLICY: %w", err)
	}
	c.Pipeline.ReductionPolicy = string(policy)
	if c.Pipeline.SessionLimit <= 0 {
		return fmt.Errorf("QUERYPILOT_PIPELINE_SESSION_LIMIT must be > 0")
	}
	if c.Pipeline.SessionTTL <= 0 {
		return fmt.Errorf("QUERYPILOT_PIPELINE_SESSION_TTL must be > 0")
	}
	if c.Export.KeepPerSession < 0 {
		return fmt.Errorf("QUERYPILOT_EXPORT_KEEP_PER_SESSION must be >= 0")
	}
	if c.Export.Enabled && c.Export.Bucket == "" {
		return fmt.Errorf("QUERYPILOT_EXPORT_BUCKET is required when export is enabled")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querypilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Target: TargetConfig{
			Dialect:         string(query.DialectSQLite),
			Database:        "atliq_tshirts.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			SampleRows:      3,
		},
		AI: AIConfig{
			Mode:             "llm",
			BaseURL:          nl2sql.DefaultBaseURL,
			CredentialSource: CredentialSourceConfig,
			KeyringService:   "querypilot",
			Model:            nl2sql.DefaultModel,
			Temperature:      0,
			Timeout:          30 * time.Second,
			TopK:             nl2sql.DefaultRowLimit,
			PromptVersion:    nl2sql.DefaultPromptVersion,
		},
		Pipeline: PipelineConfig{
			ReductionPolicy: string(nl2sql.ReduceFirstValue),
			TableRows:       nl2sql.DefaultTableRows,
			ReadOnly:        true,
			StageTimeout:    60 * time.Second,
			SessionTTL:      30 * time.Minute,
			SessionLimit:    64,
			JanitorInterval: time.Minute,
		},
		Export: ExportConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querypilot",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "exports",
			AutoCreateBucket: true,
			PresignExpiry:    15 * time.Minute,
			KeepPerSession:   10,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Target.Database = ""
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Target = TargetConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute, SampleRows: 3}
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
