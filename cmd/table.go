package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/eviltransform-go/internal/config"
	"github.com/wegman-software/eviltransform-go/internal/logger"
	"github.com/wegman-software/eviltransform-go/internal/metrics"
	"github.com/wegman-software/eviltransform-go/internal/pgrewrite"
	"github.com/wegman-software/eviltransform-go/internal/proj"
)

var tableJob config.TableJob

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Rewrite a geometry column of a PostGIS table",
	Long: `Convert a PostGIS geometry column in place.

Rows are read in batches ordered by a unique key, converted by a pool of
workers and written back with COPY and UPDATE, one transaction per batch.
Reprojections PostGIS must perform (anything other than 4326 and 3857) are
delegated to ST_Transform around the conversion.

Without --table, every job of the --config file is run in order.`,
	Example: `  eviltransform table -d gis --table poi --to GCJ02
  eviltransform table --table roads --key gid --geom way --from 3857 --to BD09 --where "city = 'Beijing'"
  eviltransform table --config jobs.yaml --dry-run`,
	Run: runTable,
}

func init() {
	rootCmd.AddCommand(tableCmd)

	tableCmd.Flags().StringVar(&tableJob.Table, "table", "", "Table to rewrite")
	tableCmd.Flags().StringVar(&tableJob.Key, "key", "id", "Unique, orderable key column")
	tableCmd.Flags().StringVar(&tableJob.Geom, "geom", "geom", "Geometry column")
	tableCmd.Flags().StringVar(&tableJob.From, "from", "", "Source SRID or system (default: SRID of the column)")
	tableCmd.Flags().StringVar(&tableJob.To, "to", "", "Target SRID or system")
	tableCmd.Flags().StringVar(&tableJob.Where, "where", "", "Extra SQL filter on the rows to rewrite")
	tableCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Rows per batch")
	tableCmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "Print the plan and row count without writing")
}

func runTable(cmd *cobra.Command, args []string) {
	log := logger.Get()

	jobs, err := tableJobs(cmd)
	if err != nil {
		exitWithError("invalid job", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting table rewrite",
		zap.String("database", cfg.DBName),
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("schema", cfg.DBSchema),
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", cfg.Workers),
		zap.Bool("dry_run", cfg.DryRun),
	)

	var counters metrics.Counters
	stopMetrics := startMetrics(ctx, &counters)
	defer stopMetrics()

	rw, err := pgrewrite.NewRewriter(ctx, cfg, &counters)
	if err != nil {
		exitWithError("failed to create rewriter", err)
	}
	defer rw.Close()

	start := time.Now()
	var total pgrewrite.Stats
	for _, job := range jobs {
		stats, err := rw.Run(ctx, job)
		if err != nil {
			exitWithError(fmt.Sprintf("rewrite of %s failed", job.Table), err)
		}
		total.Rows += stats.Rows
		total.Tuples += stats.Tuples
		total.Batches += stats.Batches
	}

	elapsed := time.Since(start)
	log.Info("Table rewrite complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.Int64("rows", total.Rows),
		zap.Int64("tuples", total.Tuples),
		zap.String("throughput", metrics.FormatThroughput(float64(total.Rows)/elapsed.Seconds())),
	)
}

// tableJobs builds the job list from the flags or the config file
func tableJobs(cmd *cobra.Command) ([]pgrewrite.Job, error) {
	var entries []config.TableJob

	if configFile != "" {
		jf, err := config.LoadJobFile(configFile)
		if err != nil {
			return nil, err
		}
		applyJobFile(cmd, jf)
		entries = jf.Tables
	}
	if tableJob.Table != "" {
		entries = []config.TableJob{tableJob}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("--table or a --config file with tables is required")
	}

	jobs := make([]pgrewrite.Job, 0, len(entries))
	for _, s := range entries {
		j, err := toJob(s)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// applyJobFile takes the file's settings unless the matching flag was set
func applyJobFile(cmd *cobra.Command, jf *config.JobFile) {
	saved := *cfg
	jf.Apply(cfg)
	flags := cmd.Flags()
	restore := map[string]func(){
		"workers":     func() { cfg.Workers = saved.Workers },
		"batch-size":  func() { cfg.BatchSize = saved.BatchSize },
		"db-host":     func() { cfg.DBHost = saved.DBHost },
		"db-port":     func() { cfg.DBPort = saved.DBPort },
		"db-name":     func() { cfg.DBName = saved.DBName },
		"db-user":     func() { cfg.DBUser = saved.DBUser },
		"db-password": func() { cfg.DBPassword = saved.DBPassword },
		"db-schema":   func() { cfg.DBSchema = saved.DBSchema },
	}
	for name, fn := range restore {
		if flags.Changed(name) {
			fn()
		}
	}
}

func toJob(s config.TableJob) (pgrewrite.Job, error) {
	if s.To == "" {
		return pgrewrite.Job{}, fmt.Errorf("--to is required for table %s", s.Table)
	}
	dst, err := proj.ParseSRID(s.To)
	if err != nil {
		return pgrewrite.Job{}, err
	}
	var src int
	if s.From != "" {
		if src, err = proj.ParseSRID(s.From); err != nil {
			return pgrewrite.Job{}, err
		}
	}
	return pgrewrite.Job{
		Schema:     s.Schema,
		Table:      s.Table,
		KeyColumn:  s.Key,
		GeomColumn: s.Geom,
		SourceSRID: src,
		TargetSRID: dst,
		Where:      s.Where,
	}, nil
}
