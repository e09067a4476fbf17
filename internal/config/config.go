package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr   string             `yaml:"listen_addr"`
	Constitution ConstitutionConfig `yaml:"constitution"`
	Workspace    string             `yaml:"workspace"`
	DB           DBConfig           `yaml:"db"`
	SigningKey   SigningKeyConfig   `yaml:"signing_key"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Log          LogConfig          `yaml:"log"`
	Risk         RiskConfig         `yaml:"risk"`
}

// ConstitutionConfig locates the signed document. The public key comes
// from here and never from the document itself.
type ConstitutionConfig struct {
	Path          string `yaml:"path"`
	SignaturePath string `yaml:"signature_path"`
	PublicKeyPath string `yaml:"public_key_path"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SigningKeyConfig struct {
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

type AuthConfig struct {
	Tokens      []string `yaml:"tokens"`
	JWTSecret   string   `yaml:"jwt_secret"`
	JWTIssuer   string   `yaml:"jwt_issuer"`
	JWTAudience string   `yaml:"jwt_audience"`
}

// Enabled reports whether any credential is configured.
func (a AuthConfig) Enabled() bool {
	return len(a.Tokens) > 0 || a.JWTSecret != ""
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RiskConfig struct {
	SensitiveSessionKinds []string `yaml:"sensitive_session_kinds"`
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Constitution.Path == "" {
		return fmt.Errorf("constitution.path is required")
	}
	if c.Constitution.PublicKeyPath == "" {
		return fmt.Errorf("constitution.public_key_path is required")
	}

	switch c.DB.Driver {
	case "", "memory":
	case "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is set")
		}
	default:
		return fmt.Errorf("unsupported db.driver: %s", c.DB.Driver)
	}

	if (c.Auth.JWTIssuer != "" || c.Auth.JWTAudience != "") && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when jwt_issuer or jwt_audience is set")
	}
	for i, tok := range c.Auth.Tokens {
		if strings.TrimSpace(tok) == "" {
			return fmt.Errorf("auth.tokens[%d] is empty", i)
		}
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit.burst is required when requests_per_second is set")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log.format: %s", c.Log.Format)
	}

	return nil
}

// SlogLevel maps log.level onto slog; empty means info.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("unsupported log.level: %s", l.Level)
	}
	return level, nil
}

// NewLogger builds the process logger described by log.
func (l LogConfig) NewLogger(w *os.File) *slog.Logger {
	level, err := l.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
