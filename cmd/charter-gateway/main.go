package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidahmann/charter/internal/api"
	"github.com/davidahmann/charter/internal/auth"
	"github.com/davidahmann/charter/internal/config"
	"github.com/davidahmann/charter/internal/crypto"
	"github.com/davidahmann/charter/internal/ledger"
	"github.com/davidahmann/charter/internal/ledger/pgstore"
	"github.com/davidahmann/charter/internal/ledger/sqlstore"
	"github.com/davidahmann/charter/internal/policy"
	"github.com/davidahmann/charter/internal/risk"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runFn(ctx, os.Args[1:], os.Getenv, listenAndServe); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, args []string, getenv envFn, listen listenFn) error {
	cfg, err := loadConfig(args, getenv)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, gw.service, logger)

	if gw.limiter != nil {
		go gw.limiter.Run(ctx, time.Minute)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := gw.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("charter-gateway listening", "addr", cfg.ListenAddr, "db", firstNonEmpty(cfg.DB.Driver, "memory"))
	if err := listen(gw.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadConfig reads the config file named by -config or CHARTER_CONFIG_PATH
// and applies CHARTER_* overrides.
func loadConfig(args []string, getenv envFn) (config.Config, error) {
	fs := flag.NewFlagSet("charter-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to charter gateway config file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	var cfg config.Config
	if path := firstNonEmpty(*configPath, getenv("CHARTER_CONFIG_PATH")); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("CHARTER_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.Constitution.Path = firstNonEmpty(getenv("CHARTER_CONSTITUTION_PATH"), cfg.Constitution.Path)
	cfg.Constitution.SignaturePath = firstNonEmpty(getenv("CHARTER_SIGNATURE_PATH"), cfg.Constitution.SignaturePath)
	cfg.Constitution.PublicKeyPath = firstNonEmpty(getenv("CHARTER_PUBLIC_KEY_PATH"), cfg.Constitution.PublicKeyPath)
	cfg.Workspace = firstNonEmpty(getenv("CHARTER_WORKSPACE"), cfg.Workspace)
	cfg.DB.Driver = firstNonEmpty(getenv("CHARTER_DB_DRIVER"), cfg.DB.Driver)
	cfg.DB.DSN = firstNonEmpty(getenv("CHARTER_DB_DSN"), cfg.DB.DSN)
	cfg.SigningKey.PrivateKeyPath = firstNonEmpty(getenv("CHARTER_SIGNING_KEY_PATH"), cfg.SigningKey.PrivateKeyPath)
	cfg.Log.Level = firstNonEmpty(getenv("CHARTER_LOG_LEVEL"), cfg.Log.Level)
	if secret := getenv("CHARTER_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if cfg.Constitution.Path != "" && cfg.Constitution.SignaturePath == "" {
		cfg.Constitution.SignaturePath = cfg.Constitution.Path + ".sig.json"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type gateway struct {
	server  *http.Server
	service *api.Service
	limiter *api.RateLimiter
	close   func()
}

func newGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gateway, error) {
	docPub, err := crypto.LoadEd25519PublicKey(cfg.Constitution.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("constitution public key: %w", err)
	}

	store, closeStore, err := openLedger(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}
	signer, receiptPub, err := receiptSigner(cfg.SigningKey, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	if err := store.PutKey(ledger.KeyRecord{
		KeyID:     signer.KeyID(),
		PublicKey: receiptPub,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		closeStore()
		return nil, fmt.Errorf("record receipt key: %w", err)
	}

	riskCfg := risk.DefaultConfig()
	if len(cfg.Risk.SensitiveSessionKinds) > 0 {
		riskCfg.SensitiveSessionKinds = cfg.Risk.SensitiveSessionKinds
	}
	engine := policy.NewEngine(policy.NewStore(logger), policy.EngineConfig{Workspace: cfg.Workspace, Risk: riskCfg})

	service, err := api.NewService(api.ServiceInput{
		Engine:    engine,
		Ledger:    store,
		Signer:    signer,
		PublicKey: receiptPub,
		Source: &api.Source{
			DocPath:   cfg.Constitution.Path,
			SigPath:   cfg.Constitution.SignaturePath,
			PublicKey: docPub,
		},
		Log: logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	// A gateway without a valid constitution still starts and denies
	// every call until a reload succeeds.
	if _, err := service.Reload(); err != nil {
		logger.Error("initial constitution load failed", "path", cfg.Constitution.Path, "error", err)
	}

	var limiter *api.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	h := &api.Handler{
		Auth:    auth.NewAuthenticator(cfg.Auth),
		Service: service,
		Limiter: limiter,
		Log:     logger,
	}
	if !cfg.Auth.Enabled() {
		logger.Warn("gateway auth disabled; every /v1 request is accepted")
	}

	return &gateway{
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.NewRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: service,
		limiter: limiter,
		close:   closeStore,
	}, nil
}

func openLedger(ctx context.Context, db config.DBConfig, logger *slog.Logger) (ledger.Store, func(), error) {
	switch db.Driver {
	case "", "memory":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		applied, err := ledger.MigrateContext(ctx, store.DB(), ledger.DBSQLite)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("ledger ready", "driver", db.Driver, "migrations_applied", len(applied))
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		store, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		applied, err := ledger.MigrateContext(ctx, store.DB(), ledger.DBPostgres)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("ledger ready", "driver", db.Driver, "migrations_applied", len(applied))
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db.driver: %s", db.Driver)
	}
}

// receiptSigner loads the receipt signing key. Without one an ephemeral
// key is generated, so receipts only verify for the life of the process.
func receiptSigner(cfg config.SigningKeyConfig, logger *slog.Logger) (ledger.KeySigner, ed25519.PublicKey, error) {
	keyID := crypto.NormalizeKeyID(firstNonEmpty(cfg.KeyID, "gateway"))
	if cfg.PrivateKeyPath != "" {
		priv, pub, err := crypto.LoadEd25519PrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return ledger.KeySigner{}, nil, fmt.Errorf("receipt signing key: %w", err)
		}
		return ledger.KeySigner{ID: keyID, Priv: priv}, pub, nil
	}

	seed, err := crypto.GenerateSeed()
	if err != nil {
		return ledger.KeySigner{}, nil, err
	}
	priv, pub, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return ledger.KeySigner{}, nil, err
	}
	logger.Warn("no signing_key configured; using an ephemeral receipt key", "key_id", keyID)
	return ledger.KeySigner{ID: keyID, Priv: priv}, pub, nil
}

func reloadOnSignal(ctx context.Context, sigs <-chan os.Signal, service *api.Service, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			snap, err := service.Reload()
			if err != nil {
				logger.Error("constitution reload failed; keeping current snapshot", "error", err)
				continue
			}
			logger.Info("constitution reloaded", "doc_hash", snap.Document().DocHash, "generation", snap.Generation)
		}
	}
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
