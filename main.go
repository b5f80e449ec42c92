package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource"
	_ "github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource/mysql"
	_ "github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource/oracle"
	_ "github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource/postgres"
	_ "github.com/sqlsage-io/sqlsage-engine/pkg/adapters/datasource/sqlite"
	"github.com/sqlsage-io/sqlsage-engine/pkg/budget"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/engine"
	"github.com/sqlsage-io/sqlsage-engine/pkg/graph"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
	"github.com/sqlsage-io/sqlsage-engine/pkg/logging"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/retrieval"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	var (
		configPath = flag.String("config", "config.yml", "path to the configuration file")
		dialect    = flag.String("dialect", "postgres", "database dialect: postgres, mysql, oracle, sqlite")
		host       = flag.String("host", "localhost", "database host")
		port       = flag.Int("port", 5432, "database port")
		database   = flag.String("database", "", "database name")
		user       = flag.String("user", "", "database user")
		filePath   = flag.String("file", "", "sqlite file path")
		service    = flag.String("service", "", "oracle service name")
		tables     = flag.String("tables", "", "comma-separated table subset")
		question   = flag.String("question", "", "natural language question")
	)
	flag.Parse()

	if *question == "" {
		fmt.Fprintln(os.Stderr, "usage: sqlsage-engine -question \"...\" [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting sqlsage-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := datasource.ParseDialect(*dialect)
	if err != nil {
		logger.Fatal("invalid dialect", zap.Error(err))
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:   cfg.Datasource.ConnectionTTLMinutes,
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)
	defer connMgr.Close() //nolint:errcheck

	adapter, err := datasource.Open(ctx, datasource.Config{
		Dialect:     d,
		Host:        *host,
		Port:        *port,
		Database:    *database,
		User:        *user,
		Password:    os.Getenv("DB_PASSWORD"),
		ServiceName: *service,
		FilePath:    *filePath,
	}, connMgr)
	if err != nil {
		logger.Fatal("failed to open datasource", zap.String("error", logging.Err(err)))
	}
	defer adapter.Close() //nolint:errcheck

	if err := adapter.TestConnection(ctx); err != nil {
		logger.Fatal("connection test failed", zap.String("error", logging.Err(err)))
	}

	provider, err := llm.NewProvider(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to create llm provider", zap.Error(err))
	}
	embedder, err := llm.NewEmbedder(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to create embedder", zap.Error(err))
	}

	cfgStore := config.NewStore(cfg)
	budgeter := budget.New(cfg.LLM.MaxContextTokens, cfg.Budget.StrategyOverride)
	snapshots := schema.NewCache(time.Duration(cfg.Datasource.SnapshotTTLMinutes)*time.Minute, logger)
	ontologySvc := ontology.NewService(cfg.Ontology, provider, logger)
	graphSvc := graph.NewService(ctx, cfg.Graph, logger)
	defer graphSvc.Close(context.Background()) //nolint:errcheck
	vectorBackend := retrieval.NewMemoryVectorBackend()
	retrievalStore := retrieval.NewStore(cfg.Retrieval, vectorBackend, embedder, logger)

	eng := engine.New(cfgStore, provider, budgeter, ontologySvc, graphSvc, retrievalStore, snapshots, logger)
	defer eng.Shutdown()
	defer eng.ReleaseHandle(adapter.Handle().ConnectionID())

	var subset []string
	if *tables != "" {
		subset = strings.Split(*tables, ",")
		snapshots.SetSubset(adapter.Handle().ConnectionID(), subset)
	}

	// Graph sync happens out-of-band, never on the query path.
	if cfg.Graph.Enabled {
		if snap, err := adapter.Introspect(ctx); err == nil {
			snapshots.Put(adapter.Handle().ConnectionID(), snap)
			o, _ := ontologySvc.Cached(adapter.Handle().ConnectionID())
			if _, err := graphSvc.Sync(ctx, adapter.Handle().ConnectionID(), snap, o); err != nil {
				logger.Warn("graph sync failed", zap.Error(err))
			}
		}
	}

	result, err := eng.Run(ctx, adapter, *question, engine.Options{Tables: subset})
	if err != nil {
		out, _ := json.MarshalIndent(err, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
