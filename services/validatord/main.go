package validatord

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fraudproof/config"
	"fraudproof/core/events"
	"fraudproof/gateway/middleware"
	"fraudproof/native/bond"
	"fraudproof/native/epoch"
	"fraudproof/native/params"
	paramstate "fraudproof/native/params/state"
	"fraudproof/native/validation"
	"fraudproof/observability"
	"fraudproof/observability/logging"
	telemetry "fraudproof/observability/otel"
	"fraudproof/storage"
)

const serviceName = "validatord"

// Main runs the dispute validation daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "validatord.toml", "path to validatord config (TOML or YAML)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup(logging.Config{
		Service:     serviceName,
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	node, err := Assemble(cfg, db, logger)
	if err != nil {
		return err
	}
	defer node.Close()

	logger.Info("validatord starting",
		logging.MaskField("listen", cfg.ListenAddress),
		logging.MaskField("backend", cfg.Storage.Backend),
		logging.MaskField("archive", cfg.Archive.Driver),
		logging.MaskField("bond_pool", cfg.BondPool),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		logging.MaskField("archive_dsn", cfg.Archive.DSN))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(node.Server, serviceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("validatord listening", slog.String("listen", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		logger.Info("validatord stopped")
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Node bundles the wired components of a running daemon.
type Node struct {
	Params  *params.Store
	Vault   *bond.Vault
	Oracle  *epoch.Oracle
	Engine  *validation.Engine
	Archive *Archive
	Stream  *events.Stream
	Server  *Server

	closers []func()
}

// Close releases the archive and beacon connections.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
}

// Assemble wires the engine and HTTP server on top of db. Genesis parameters
// are seeded only where governance has not already set them.
func Assemble(cfg *config.Config, db storage.Database, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	node := &Node{}

	node.Params = params.NewStore(paramstate.NewDB(db))
	genesis, err := cfg.Genesis.Values()
	if err != nil {
		return nil, err
	}
	if err := node.Params.Seed(genesis); err != nil {
		return nil, fmt.Errorf("seed params: %w", err)
	}

	pool, err := cfg.BondPoolAddress()
	if err != nil {
		return nil, fmt.Errorf("bond pool: %w", err)
	}
	node.Vault = bond.NewVault(db, pool)

	var caller epoch.BeaconCaller
	if rpc := strings.TrimSpace(cfg.BeaconRPC); rpc != "" {
		client, err := epoch.DialBeaconCaller(rpc)
		if err != nil {
			return nil, fmt.Errorf("dial beacon rpc: %w", err)
		}
		node.closers = append(node.closers, client.Close)
		caller = client
	}
	node.Oracle = epoch.NewOracle(node.Params, caller)

	node.Stream = events.NewStream(0)
	emitters := events.Fanout{observability.Events(), node.Stream}
	if driver := strings.ToLower(cfg.Archive.Driver); driver != "none" {
		if driver == "sqlite" {
			if err := ensureParentDir(cfg.Archive.DSN); err != nil {
				node.Close()
				return nil, fmt.Errorf("archive dir: %w", err)
			}
		}
		archive, err := OpenArchive(driver, cfg.Archive.DSN, logger)
		if err != nil {
			node.Close()
			return nil, err
		}
		node.closers = append(node.closers, func() { _ = archive.Close() })
		node.Archive = archive
		emitters = append(emitters, archive)
	}

	node.Engine = validation.NewEngine(validation.NewStore(db), node.Params, node.Vault)
	node.Engine.SetWindowChecker(node.Oracle)
	node.Engine.SetEmitter(emitters)
	node.Engine.SetLogger(logger)
	node.Engine.SetMetrics(observability.Validation())
	active, err := cfg.ActiveValidatorAddresses()
	if err != nil {
		node.Close()
		return nil, err
	}
	if len(active) > 0 {
		node.Engine.SetRegistry(validation.NewAllowlist(active...))
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, limit := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RatePerSecond: limit.RatePerSecond, Burst: limit.Burst}
	}
	node.Server, err = NewServer(ServerConfig{
		Engine:  node.Engine,
		Vault:   node.Vault,
		Oracle:  node.Oracle,
		Archive: node.Archive,
		Stream:  node.Stream,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimits:  limits,
		LogRequests: true,
		Logger:      logger,
	})
	if err != nil {
		node.Close()
		return nil, err
	}
	return node, nil
}

func openDatabase(cfg config.Storage) (storage.Database, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "validatord.bolt"), nil)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	}
}

func ensureParentDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
