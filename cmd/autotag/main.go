// Command autotag is the administrative CLI for the per-company
// transaction tagging engine (spec §6). All rule management and tagging
// operations run through its subcommands; the only HTTP surface the
// process exposes is the health/ready pair started by `serve`.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/txntag/autotag/internal/bus"
	"github.com/txntag/autotag/internal/cache"
	"github.com/txntag/autotag/internal/domain"
	"github.com/txntag/autotag/internal/ops"
	"github.com/txntag/autotag/internal/repository"
	"github.com/txntag/autotag/internal/rules"
	"github.com/txntag/autotag/internal/tagging"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("AUTOTAG_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := loadConfig()

	var err error
	switch os.Args[1] {
	case "import-rules":
		err = runImportRules(os.Args[2:], cfg)
	case "tag-transactions":
		err = runTagTransactions(os.Args[2:], cfg)
	case "test-rule":
		err = runTestRule(os.Args[2:], cfg)
	case "serve":
		err = runServe(cfg)
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: autotag <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  import-rules <file_path> [--create-company] [--generate-sample]")
	fmt.Println("  tag-transactions <company_code> [--transaction-ids id...] [--all] [--retag] [--batch-size N] [--workers N]")
	fmt.Println("  test-rule <company_code> <rule_name> [--transaction-id id] [--sample-size N] [--dry-run]")
	fmt.Println("  serve")
}

// loadConfig resolves tier selection and environment overrides the same
// way the teacher's process entrypoint does (spec §2.13 "configuration
// via environment, no compiled-in secrets").
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()

	switch strings.ToLower(strings.TrimSpace(os.Getenv("AUTOTAG_TIER"))) {
	case "", "community":
	case "pro":
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	default:
		slog.Warn("unsupported AUTOTAG_TIER value; falling back to community tier", "value", os.Getenv("AUTOTAG_TIER"))
	}

	applyEnvOverrides(cfg)
	return cfg
}

func applyEnvOverrides(cfg *domain.Config) {
	if driver := os.Getenv("AUTOTAG_DB_DRIVER"); driver != "" {
		cfg.Repository.Driver = driver
	}
	if path := os.Getenv("AUTOTAG_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}
	if host := os.Getenv("AUTOTAG_POSTGRES_HOST"); host != "" {
		cfg.Repository.PostgresHost = host
	}
	if port := os.Getenv("AUTOTAG_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if user := os.Getenv("AUTOTAG_POSTGRES_USER"); user != "" {
		cfg.Repository.PostgresUser = user
	}
	if password := os.Getenv("AUTOTAG_POSTGRES_PASSWORD"); password != "" {
		cfg.Repository.PostgresPassword = password
	}
	if db := os.Getenv("AUTOTAG_POSTGRES_DB"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if sslMode := os.Getenv("AUTOTAG_POSTGRES_SSLMODE"); sslMode != "" {
		cfg.Repository.PostgresSSLMode = sslMode
	}
	if cacheType := os.Getenv("AUTOTAG_CACHE_TYPE"); cacheType != "" {
		cfg.Cache.Type = cacheType
	}
	if addr := os.Getenv("AUTOTAG_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("AUTOTAG_REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}
	if busType := os.Getenv("AUTOTAG_BUS_TYPE"); busType != "" {
		cfg.EventBus.Type = busType
	}
	if url := os.Getenv("AUTOTAG_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}
	if port := os.Getenv("AUTOTAG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("AUTOTAG_HOST"); host != "" {
		cfg.Server.Host = host
	}
}

// components bundles every piece a subcommand needs, wired the same
// sequential way the teacher's main() builds them (spec §9 "shared
// process-wide instances, no per-request construction").
type components struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	service *tagging.Service
}

func newComponents(ctx context.Context, cfg *domain.Config) (*components, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("initialize event bus: %w", err)
	}

	securityLogger := ops.NewSecurityLogger(busImpl)

	engine, err := rules.NewEngine(repo, securityLogger, cfg.Tagging.RespectManualOverride, cacheImpl)
	if err != nil {
		busImpl.Close()
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("initialize rule engine: %w", err)
	}

	return &components{
		repo:    repo,
		cache:   cacheImpl,
		bus:     busImpl,
		engine:  engine,
		service: tagging.NewService(repo, engine),
	}, nil
}

func (c *components) Close() {
	c.bus.Close()
	c.cache.Close()
	c.repo.Close()
}
