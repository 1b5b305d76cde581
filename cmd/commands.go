package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"cabinetbench/internal/cli"
	"cabinetbench/internal/cluster"
	"cabinetbench/internal/dummy"
	"cabinetbench/internal/monitor"
	"cabinetbench/internal/storage"
)

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run an in-process fake cluster for local smoke runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		nodes, _ := f.GetInt("nodes")
		basePort, _ := f.GetInt("base-port")
		mode, _ := f.GetString("cluster-mode")
		minLat, _ := f.GetDuration("min-latency")
		maxLat, _ := f.GetDuration("max-latency")
		failRate, _ := f.GetFloat64("fail-rate")
		election, _ := f.GetDuration("election-delay")

		c, err := dummy.Start(dummy.ServerConfig{
			Nodes:         nodes,
			BasePort:      basePort,
			Mode:          mode,
			MinLatency:    minLat,
			MaxLatency:    maxLat,
			FailRate:      failRate,
			ElectionDelay: election,
			Logger:        newLogger(),
		})
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(shutdownCtx)
		fmt.Println("\n👋 Dummy cluster stopped")
		return nil
	},
}

// --- Status Subcommand ---
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show member liveness, reported mode and leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := targetsFromConfig()
		if err != nil {
			return err
		}
		client := cluster.NewClient(cluster.ClientConfig{ProbeTimeout: viper.GetDuration("probe_timeout")})
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		status, from, err := cluster.Liveness(ctx, client, targets)
		cli.PrintLiveness(os.Stdout, status, err)
		if err == nil {
			fmt.Printf("   (as seen by %s)\n", from)
		}

		fmt.Println("\n📡 Members")
		for _, t := range targets {
			mode, merr := client.Mode(ctx, t)
			leader, lerr := client.Leader(ctx, t)
			switch {
			case merr != nil && lerr != nil:
				fmt.Printf("  %-22s 🔴 unreachable\n", t)
			default:
				if leader == "" {
					leader = "-"
				}
				fmt.Printf("  %-22s mode=%-13s leader=%s\n", t, mode, leader)
			}
		}

		loc := cluster.NewLocator(client, targets, newLogger())
		if t, ok := loc.Locate(ctx); ok {
			fmt.Printf("\n👑 Leader: %s\n", t)
		} else {
			fmt.Println("\n⚠️  No leader reported")
		}
		return nil
	},
}

// --- History Subcommand ---
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List saved runs, or print one run's summary",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := historyPath()
		if err != nil {
			return err
		}
		store, err := storage.NewStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			var out []byte
			if asJSON {
				out, err = json.MarshalIndent(item, "", "  ")
			} else {
				out, err = yaml.Marshal(item)
			}
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		items, err := store.List(limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No saved runs. Use --save-history to record one.")
			return nil
		}
		fmt.Printf("%-8s  %-19s  %-12s  %9s  %10s  %8s  %s\n", "ID", "TIME", "MODE", "SUCCESS", "OPS/SEC", "P99(ms)", "FAILOVER")
		for _, it := range items {
			fo := "-"
			if f := it.Report.Failover; f != nil {
				fo = fmt.Sprintf("%.2fs", f.ReelectionSec)
				if f.TimedOut {
					fo = "timed out"
				}
			}
			id := it.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%-8s  %-19s  %-12s  %9s  %10.2f  %8.2f  %s\n",
				id,
				it.Timestamp.Local().Format("2006-01-02 15:04:05"),
				it.Report.Mode,
				fmt.Sprintf("%d/%d", it.Report.TotalSuccess, it.Report.TotalOps),
				it.Report.Throughput,
				it.Report.P99LatencyMs,
				fo,
			)
		}
		return nil
	},
}

// --- Monitor Subcommand ---
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Sample host CPU usage into a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		interval, _ := f.GetDuration("interval")
		duration, _ := f.GetDuration("duration")
		out, _ := f.GetString("out")

		file, err := os.Create(out)
		if err != nil {
			return err
		}
		defer file.Close()

		mon := monitor.New(file, interval, newLogger())
		mon.Duration = duration
		mon.OnSample = func(s monitor.Sample) {
			fmt.Printf("[CPU MONITOR] %.1fs: %.1f%% (mem %.1f%%)\n", s.Offset.Seconds(), s.CPUPercent, s.MemPercent)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		if err := mon.Run(ctx); err != nil {
			return err
		}
		fmt.Printf("💾 CPU log saved to %s\n", out)
		return nil
	},
}

func init() {
	df := dummyCmd.Flags()
	df.Int("nodes", 5, "Number of fake members")
	df.Int("base-port", 8081, "Port of node0; node i listens on base-port+i")
	df.String("cluster-mode", "leader-based", "Mode reported by /api/mode (leader-based, leaderless, cabinet, cabinet++)")
	df.Duration("min-latency", time.Millisecond, "Minimum PUT service time")
	df.Duration("max-latency", 5*time.Millisecond, "Maximum PUT service time")
	df.Float64("fail-rate", 0, "Fraction of PUTs rejected with 409")
	df.Duration("election-delay", 2*time.Second, "Time without a leader after the leader is killed (negative: never re-elect)")

	hf := historyCmd.Flags()
	hf.Int("limit", 20, "Number of runs to list (0 for all)")
	hf.Bool("json", false, "Print a run as JSON instead of YAML")

	mf := monitorCmd.Flags()
	mf.Duration("interval", monitor.DefaultInterval, "Sampling interval")
	mf.Duration("duration", 60*time.Second, "How long to sample (0 until interrupted)")
	mf.StringP("out", "o", "cpu_log.txt", "CSV output file")
}
