package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cabinetbench/internal/banner"
	"cabinetbench/internal/cli"
	"cabinetbench/internal/cluster"
	"cabinetbench/internal/export"
	"cabinetbench/internal/failover"
	"cabinetbench/internal/logging"
	"cabinetbench/internal/metrics"
	"cabinetbench/internal/monitor"
	"cabinetbench/internal/runner"
	"cabinetbench/internal/storage"
	"cabinetbench/internal/tracing"
	"cabinetbench/internal/tui"
)

// errAborted has already been reported to the operator.
var errAborted = errors.New("aborted")

var defaultTargets = []string{
	"localhost:8081", "localhost:8082", "localhost:8083", "localhost:8084", "localhost:8085",
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cabinetbench",
	Short: "Load and failover benchmark for cabinet clusters",
	Long: `
cabinetbench drives concurrent PUT traffic against a replicated KV cluster
running in leader-based (cabinet) or leaderless (cabinet++) mode, optionally
kills the leader mid-run and times the re-election.

Examples:
  cabinetbench --mode leader-based --concurrency 4 --ops 1000
  cabinetbench --mode leader-based --ops 5000 --kill-leader-after 3
  cabinetbench --mode leaderless --targets localhost:8081,localhost:8082 --tui`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd.Context())
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errAborted) {
			fmt.Fprintln(os.Stderr, "❌", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(dummyCmd, statusCmd, historyCmd, monitorCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cabinetbench.yaml)")
	pf.String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	pf.Bool("log-json", false, "Log as JSON")
	pf.StringSlice("targets", defaultTargets, "Cluster members as host:port (repeatable or comma-separated)")
	pf.Duration("probe-timeout", cluster.DefaultProbeTimeout, "Timeout for leader/mode probes")
	pf.String("history-db", "", "Run history database (default is $HOME/.cabinetbench/history.db)")

	f := rootCmd.Flags()
	f.StringP("mode", "m", "", "Cluster mode: leader-based (cabinet) or leaderless (cabinet++)")
	f.IntP("concurrency", "c", 1, "Number of concurrent workers")
	f.IntP("ops", "n", 100, "Total PUT operations across all workers")
	f.Float64("kill-leader-after", 0, "Seconds after start to kill the leader (enables failover measurement)")
	f.Duration("request-timeout", cluster.DefaultRequestTimeout, "Timeout for each PUT")
	f.Int("leader-retries", cluster.DefaultLeaderRetries, "Leader lookups a worker tries before skipping an op")
	f.Duration("leader-backoff", cluster.DefaultLeaderBackoff, "Pause between worker leader lookups")
	f.Duration("failover-poll", failover.DefaultPollInterval, "Leader poll interval while waiting for re-election")
	f.Duration("failover-timeout", failover.DefaultTimeout, "Give up waiting for a new leader after this long")
	f.String("runtime-command", "docker", "Container runtime CLI used to kill the leader")
	f.StringToString("runtime-ids", nil, "Port to container name map, e.g. 8081=node0 (default node0..node4 on 8081..8085)")
	f.StringP("out", "o", "", "Output filename prefix for outcome and summary exports")
	f.String("format", "csv", "Export format: csv, json or yaml")
	f.Bool("save-history", false, "Store the run summary in the history database")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	f.Bool("trace", false, "Print OpenTelemetry spans to stderr")
	f.Bool("tui", false, "Show the live dashboard instead of the progress line")
	f.String("cpu-log", "", "Sample host CPU into this CSV file while the benchmark runs")
	f.Duration("cpu-interval", monitor.DefaultInterval, "CPU sampling interval")

	bind := map[string]string{
		"log_level":         "log-level",
		"log_json":          "log-json",
		"targets":           "targets",
		"probe_timeout":     "probe-timeout",
		"history_db":        "history-db",
		"mode":              "mode",
		"concurrency":       "concurrency",
		"ops":               "ops",
		"kill_leader_after": "kill-leader-after",
		"request_timeout":   "request-timeout",
		"leader_retries":    "leader-retries",
		"leader_backoff":    "leader-backoff",
		"failover_poll":     "failover-poll",
		"failover_timeout":  "failover-timeout",
		"runtime.command":   "runtime-command",
		"runtime.ids":       "runtime-ids",
		"out":               "out",
		"format":            "format",
		"save_history":      "save-history",
		"metrics_addr":      "metrics-addr",
		"trace":             "trace",
		"tui":               "tui",
		"cpu_log":           "cpu-log",
		"cpu_interval":      "cpu-interval",
	}
	for key, flag := range bind {
		fl := f.Lookup(flag)
		if fl == nil {
			fl = pf.Lookup(flag)
		}
		viper.BindPFlag(key, fl)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".cabinetbench")
		}
	}
	viper.SetEnvPrefix("CABINETBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		newLogger().Debug("using config file", "path", viper.ConfigFileUsed())
	}
}

func newLogger() hclog.Logger {
	return logging.New(logging.Options{
		Level: viper.GetString("log_level"),
		JSON:  viper.GetBool("log_json"),
	})
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func targetsFromConfig() ([]cluster.Target, error) {
	return cluster.ParseTargets(viper.GetStringSlice("targets"))
}

// loadRunConfig turns the merged flag/env/file settings into a runner config.
func loadRunConfig() (runner.Config, error) {
	raw := viper.GetString("mode")
	if raw == "" {
		return runner.Config{}, fmt.Errorf("%w: --mode is required (leader-based or leaderless)", runner.ErrInvalidConfig)
	}
	mode, err := cluster.ParseMode(raw)
	if err != nil {
		return runner.Config{}, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}
	targets, err := targetsFromConfig()
	if err != nil {
		return runner.Config{}, fmt.Errorf("%w: %v", runner.ErrInvalidConfig, err)
	}

	var ids failover.IdentityTable
	if m := viper.GetStringMapString("runtime.ids"); len(m) > 0 {
		ids = failover.IdentityTable(m)
	}

	cfg := runner.Config{
		Mode:            mode,
		Targets:         targets,
		Concurrency:     viper.GetInt("concurrency"),
		Ops:             viper.GetInt("ops"),
		KillLeaderAfter: time.Duration(viper.GetFloat64("kill_leader_after") * float64(time.Second)),
		Identities:      ids,
		RequestTimeout:  viper.GetDuration("request_timeout"),
		ProbeTimeout:    viper.GetDuration("probe_timeout"),
		LeaderRetries:   viper.GetInt("leader_retries"),
		LeaderBackoff:   viper.GetDuration("leader_backoff"),
		FailoverPoll:    viper.GetDuration("failover_poll"),
		FailoverTimeout: viper.GetDuration("failover_timeout"),
	}
	return cfg, cfg.Validate()
}

func historyPath() (string, error) {
	if p := viper.GetString("history_db"); p != "" {
		return p, nil
	}
	return storage.DefaultPath()
}

func runBenchmark(parent context.Context) error {
	logger := newLogger()

	cfg, err := loadRunConfig()
	if err != nil {
		fmt.Println(cli.AbortMessage(err))
		return errAborted
	}
	format, err := export.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	shutdownTracing, err := tracing.Setup(viper.GetBool("trace"), os.Stderr)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	if addr := viper.GetString("metrics_addr"); addr != "" {
		srv := metrics.Serve(addr, func(err error) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		})
		defer srv.Close()
		logger.Info("serving metrics", "addr", addr)
	}

	killer := failover.DockerKiller{Command: viper.GetString("runtime.command")}
	r := runner.NewRunner(cfg, killer, logger, make(runner.StatsUpdateChan, 100))

	if path := viper.GetString("cpu_log"); path != "" {
		stopMonitor, err := startCPUMonitor(ctx, path, viper.GetDuration("cpu_interval"), logger)
		if err != nil {
			return err
		}
		defer stopMonitor()
	}

	onDone := func(res *runner.Result) []string {
		return saveResult(res, format, logger)
	}

	var res *runner.Result
	if viper.GetBool("tui") {
		res, err = tui.Run(ctx, r, onDone)
	} else {
		status, _, lerr := cluster.Liveness(ctx, r.Client, cfg.Targets)
		cli.PrintLiveness(os.Stdout, status, lerr)
		res, err = cli.Start(ctx, r, cli.Options{Out: os.Stdout, OnDone: onDone})
	}
	if res == nil {
		if err == nil {
			return nil
		}
		fmt.Println(cli.AbortMessage(err))
		return errAborted
	}
	return nil
}

// startCPUMonitor samples into path until the returned func is called.
func startCPUMonitor(ctx context.Context, path string, interval time.Duration, logger hclog.Logger) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cpu log: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	mon := monitor.New(f, interval, logger)
	go func() {
		defer close(done)
		if err := mon.Run(ctx); err != nil {
			logger.Warn("cpu monitor stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		f.Close()
	}, nil
}

// saveResult writes the requested exports and history entry. Failures are
// logged; the benchmark itself already succeeded.
func saveResult(res *runner.Result, format export.Format, logger hclog.Logger) []string {
	var saved []string
	if prefix := viper.GetString("out"); prefix != "" {
		paths, err := export.WriteAll(prefix, format, res.Report, res.Workers)
		if err != nil {
			logger.Error("export failed", "prefix", prefix, "error", err)
		}
		saved = append(saved, paths...)
	}
	if viper.GetBool("save_history") {
		path, err := saveHistory(res)
		if err != nil {
			logger.Error("saving history failed", "error", err)
		} else {
			saved = append(saved, path)
		}
	}
	return saved
}

func saveHistory(res *runner.Result) (string, error) {
	path, err := historyPath()
	if err != nil {
		return "", err
	}
	store, err := storage.NewStore(path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	id := res.Report.RunID
	if id == "" {
		id = uuid.New().String()
	}
	targets := viper.GetStringSlice("targets")
	item := storage.HistoryItem{
		ID:              id,
		Timestamp:       time.Now(),
		Targets:         targets,
		Concurrency:     res.Report.Workers,
		KillLeaderAfter: viper.GetFloat64("kill_leader_after"),
		Report:          res.Report,
	}
	if err := store.Save(item); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (run %s)", path, id), nil
}
