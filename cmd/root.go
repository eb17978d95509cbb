package cmd

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/eviltransform-go/internal/config"
	"github.com/wegman-software/eviltransform-go/internal/logger"
	"github.com/wegman-software/eviltransform-go/internal/metrics"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	configFile      string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "eviltransform",
	Short: "Convert coordinates between WGS84, GCJ02 and BD09",
	Long: `eviltransform converts coordinates between the WGS84, GCJ02 and BD09
systems used by Chinese map providers.

It works on single points, on EWKB geometries (hex or raw files), on PostGIS
table columns and on Parquet files. GCJ02 and BD09 are exposed as the custom
SRIDs 990001 and 990002.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		logger.Init(logger.Options{Debug: verbose, File: logFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML job file (database settings and table jobs)")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (0 disables)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

// startMetrics logs system metrics until the returned stop function is
// called. It is a no-op when the interval is 0.
func startMetrics(ctx context.Context, counters *metrics.Counters) (stop func()) {
	if cfg.MetricsInterval <= 0 {
		return func() {}
	}
	log := logger.Get()
	metricsCtx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(cfg.MetricsInterval, log, counters)
	go collector.Start(metricsCtx)
	log.Info("System metrics collection started", zap.Duration("interval", cfg.MetricsInterval))
	return cancel
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
