package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	root := &cobra.Command{
		Use:          "mirror",
		Short:        "DEX pool and position mirror",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and optionally run the refresh scheduler",
		RunE:  runServe,
	}

	addCommonFlags(serveCmd.Flags())
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Duration("request-timeout", 30*time.Second, "per-request timeout")
	serveCmd.Flags().Bool("schedule", false, "run periodic refresh rounds")
	serveCmd.Flags().Duration("interval", 5*time.Minute, "refresh interval per source")
	serveCmd.Flags().String("state-backend", "db", "scheduler state backend (db, file)")
	serveCmd.Flags().String("state-file", "./data/scheduler.json", "scheduler state file for the file backend")
	serveCmd.Flags().Int("max-retries", 3, "maximum retry attempts per reconcile call")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().Int("concurrency", 4, "position refreshes in flight per source")

	root.AddCommand(serveCmd)

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile the mirror against a source once",
	}

	refreshPoolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "Refresh every pool of a source",
		RunE:  runRefreshPools,
	}
	addCommonFlags(refreshPoolsCmd.Flags())
	refreshPoolsCmd.Flags().String("source", "tapp", "source dex tag")

	refreshPoolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Refresh a single pool",
		RunE:  runRefreshPool,
	}
	addCommonFlags(refreshPoolCmd.Flags())
	refreshPoolCmd.Flags().String("source", "tapp", "source dex tag")
	refreshPoolCmd.Flags().String("pool", "", "pool id")

	refreshPositionsCmd := &cobra.Command{
		Use:   "positions",
		Short: "Refresh the positions of a stored pool",
		RunE:  runRefreshPositions,
	}
	addCommonFlags(refreshPositionsCmd.Flags())
	refreshPositionsCmd.Flags().String("pool", "", "pool id")

	refreshTokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Refresh token metadata of a source",
		RunE:  runRefreshTokens,
	}
	addCommonFlags(refreshTokensCmd.Flags())
	refreshTokensCmd.Flags().String("source", "tapp", "source dex tag")

	refreshCmd.AddCommand(refreshPoolsCmd, refreshPoolCmd, refreshPositionsCmd, refreshTokensCmd)
	root.AddCommand(refreshCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Print pools matching the criteria as JSON",
		RunE:  runQuery,
	}

	addCommonFlags(queryCmd.Flags())
	queryCmd.Flags().String("token", "", "token id in either slot")
	queryCmd.Flags().String("fee", "", "exact fee tier")
	queryCmd.Flags().String("fee-min", "", "minimum fee")
	queryCmd.Flags().String("fee-max", "", "maximum fee")
	queryCmd.Flags().String("volume-min", "", "minimum volume for the period")
	queryCmd.Flags().String("volume-max", "", "maximum volume for the period")
	queryCmd.Flags().String("volume-period", "", "volume period (day, week, month, prevday)")
	queryCmd.Flags().String("tvl-min", "", "minimum tvl")
	queryCmd.Flags().String("tvl-max", "", "maximum tvl")
	queryCmd.Flags().String("apr-min", "", "minimum apr")
	queryCmd.Flags().String("apr-max", "", "maximum apr")
	queryCmd.Flags().String("apr-type", "", "apr used by the range (trading, bonus, total)")
	queryCmd.Flags().String("order-by", "", "order key")
	queryCmd.Flags().String("order-dir", "", "order direction (asc, desc)")
	queryCmd.Flags().String("limit", "", "page size")
	queryCmd.Flags().String("offset", "", "page offset")

	root.AddCommand(queryCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the mirror schema",
		RunE:  runMigrate,
	}

	addCommonFlags(migrateCmd.Flags())

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.String("store", "sqlite", "store driver (sqlite, postgres)")
	fs.String("sqlite-path", "./data/mirror.db", "SQLite database path")
	fs.String("pg-dsn", "", "Postgres DSN")
	fs.StringSlice("sources", []string{"tapp"}, "enabled adapters (tapp, hyperion, evm, file)")
	fs.Duration("source-timeout", 20*time.Second, "upstream request timeout")

	fs.String("tapp-api-url", "", "TAPP JSON-RPC endpoint")
	fs.String("tapp-node-url", "", "Aptos node REST endpoint")
	fs.String("tapp-view-address", "", "TAPP view module address")
	fs.Int("tapp-page-size", 0, "TAPP pool page size")
	fs.Int("tapp-max-pages", 0, "TAPP page cap")
	fs.Float64("tapp-rps", 5, "TAPP requests per second")

	fs.String("hyperion-url", "", "Hyperion GraphQL endpoint")
	fs.Float64("hyperion-rps", 5, "Hyperion requests per second")

	fs.String("evm-rpc", "", "EVM RPC URL")
	fs.String("evm-dex", "", "dex tag for the EVM pools")
	fs.StringSlice("evm-pools", nil, "EVM pool addresses (comma-separated)")
	fs.Float64("evm-rps", 10, "EVM calls per second")

	fs.String("file-dir", "./data/seed", "directory of JSONL snapshots")
	fs.String("file-dex", "", "dex tag for the file snapshots")

	fs.String("redis-addr", "", "Redis address for the distributed scope lock")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database")
	fs.String("redis-prefix", "poolmirror:lock:", "Redis lock key prefix")
	fs.Duration("redis-ttl", 30*time.Second, "Redis lock ttl")

	fs.StringSlice("kafka-brokers", nil, "Kafka brokers for reconcile events")
	fs.String("kafka-topic", "poolmirror.reconcile", "Kafka topic")

	fs.String("archive", "", "optional JSONL archive of fetched snapshots")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "optional rotating log file")
}
