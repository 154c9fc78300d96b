// Package cli implements the recordctl command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"metarecord/internal/config"
	appctx "metarecord/internal/core/context"
	"metarecord/internal/core/query"
	"metarecord/internal/infrastructure/audit"
	"metarecord/internal/infrastructure/metrics"
	"metarecord/internal/infrastructure/storage/postgres"
	"metarecord/internal/infrastructure/storage/sqlite"
	"metarecord/internal/model"
	"metarecord/pkg/logger"
)

var (
	configPath string
	pkFlag     string
	userFlag   string
	showStats  bool
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   config.Config
	Log      *logger.Logger
	Conns    *query.Connections
	Registry *model.Registry
	Recorder *audit.Recorder
	Metrics  *prometheus.Registry

	exec    func(ctx context.Context, sql string) error
	closers []func()
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// commandContext returns the context of one command run.
func commandContext() context.Context {
	ctx := context.Background()
	ctx = appctx.WithTrace(ctx, appctx.NewTraceContext(ctx))
	if userFlag != "" {
		ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: userFlag})
	}
	return ctx
}

// initContext loads config, opens the default connection and builds the registry
func initContext(ctx context.Context) *cmdContext {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}

	log, err := logger.New(cfg.Logger())
	if err != nil {
		exitError("failed to initialize logger: %v", err)
	}
	c := &cmdContext{Config: cfg, Log: log}
	c.closers = append(c.closers, func() { _ = log.Sync() })

	conn, err := c.openConn(ctx)
	if err != nil {
		c.Close()
		exitError("failed to open database: %v", err)
	}
	c.Conns = query.NewConnections(conn)

	opts := []model.Option{
		model.WithLogger(log),
		model.WithDefaults(cfg.ModelDefaults()),
	}
	if cfg.Metrics.Enabled || showStats {
		c.Metrics = prometheus.NewRegistry()
		obs, err := metrics.NewObserver(c.Metrics, cfg.Metrics.Namespace)
		if err != nil {
			c.Close()
			exitError("failed to register metrics: %v", err)
		}
		opts = append(opts, model.WithObserver(obs))
	}
	c.Registry = model.NewRegistry(c.Conns, opts...)

	if cfg.Audit.Enabled {
		rec, err := audit.NewRecorder(c.Conns,
			audit.WithLogger(log),
			audit.WithCompressThreshold(cfg.Audit.CompressThreshold),
		)
		if err != nil {
			c.Close()
			exitError("failed to create audit recorder: %v", err)
		}
		c.closers = append(c.closers, rec.Close)
		rec.Attach(c.Registry)
		c.Recorder = rec
	}
	return c
}

func (c *cmdContext) openConn(ctx context.Context) (query.Conn, error) {
	cfg := c.Config.Database
	switch cfg.Driver {
	case config.DriverPostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.DSN)
		if cfg.ApplicationName != "" {
			poolCfg.ApplicationName = cfg.ApplicationName
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			poolCfg.MinConns = cfg.MinConns
		}
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		postgres.LogPoolStats(logger.WithLogger(ctx, c.Log), pool.Pool)

		c.exec = func(ctx context.Context, sql string) error {
			_, err := pool.Exec(ctx, sql)
			return err
		}
		txOpts := postgres.DefaultTxOptions()
		if cfg.StatementTimeout > 0 {
			txOpts.StatementTimeout = time.Duration(cfg.StatementTimeout)
		}
		return postgres.NewConn(pool, txOpts), nil
	default:
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { _ = db.Close() })

		c.exec = func(ctx context.Context, sql string) error {
			_, err := db.DB().ExecContext(ctx, sql)
			return err
		}
		return db, nil
	}
}

// model registers an ad-hoc model over table.
func (c *cmdContext) model(table string) *model.Model {
	m, err := c.Registry.Register(model.Definition{
		Name:  table,
		Table: table,
		PK:    primaryKey(),
	})
	if err != nil {
		exitError("%v", err)
	}
	return m
}

var rootCmd = &cobra.Command{
	Use:   "recordctl",
	Short: "Inspect and maintain records stored by metarecord",
	Long: `recordctl opens the configured database and runs record operations
against plain tables: list live and trashed rows, restore soft-deleted rows,
delete rows and read their audit history.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("METARECORD_CONFIG"), "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&pkFlag, "pk", "id", "Primary key column(s), comma separated")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", os.Getenv("USER"), "User recorded in the audit log")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "Print operation counters after the command")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(fieldsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(historyCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func primaryKey() []string {
	var pk []string
	for _, f := range strings.Split(pkFlag, ",") {
		if f = strings.TrimSpace(f); f != "" {
			pk = append(pk, f)
		}
	}
	return pk
}

// parseValue keeps integers numeric so they compare against integer columns.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// keyPredicate turns a command-line key into a predicate. Composite keys are
// written as comma separated values in --pk order.
func keyPredicate(pk []string, arg string) (squirrel.Eq, error) {
	parts := []string{arg}
	if len(pk) > 1 {
		parts = strings.Split(arg, ",")
	}
	if len(parts) != len(pk) {
		return nil, fmt.Errorf("key %q: expected %d values for %s", arg, len(pk), strings.Join(pk, ","))
	}
	eq := make(squirrel.Eq, len(pk))
	for i, f := range pk {
		eq[f] = parseValue(parts[i])
	}
	return eq, nil
}

func keysPredicate(pk []string, args []string) (squirrel.Sqlizer, error) {
	or := make(squirrel.Or, 0, len(args))
	for _, arg := range args {
		eq, err := keyPredicate(pk, arg)
		if err != nil {
			return nil, err
		}
		or = append(or, eq)
	}
	return or, nil
}
