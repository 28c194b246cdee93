package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"swarm/internal/kvserver"
	"swarm/internal/runner"
	"swarm/internal/storage"
	"swarm/internal/sweep"
	"swarm/internal/tui"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "swarm - closed-loop TCP load-generation harness",
	Long: `
swarm drives a target server with N concurrent simulated clients issuing a
fixed total number of requests and reports throughput and tail latency.

Subcommands:
  run     one measured run, one machine-parseable result line on stdout
  sweep   repeat runs across concurrency levels, chart and persist results
  serve   built-in key/value target server for local benchmarking`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		// Diagnostics must never touch stdout; the result line owns it.
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(lvl)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.swarm.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".swarm")
		}
	}
	viper.SetEnvPrefix("swarm")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// --- run ---

var (
	runTimeout        time.Duration
	runDialTimeout    time.Duration
	runRequestTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <concurrency> <total-requests> <target-addr>",
	Short: "Execute one closed-loop run and print its result line",
	Long: `Executes one fixed-budget run: the request total is split near-equally
across the given number of concurrent clients. The only stdout output is a
single result line, written after the run reaches a terminal state:

  rps,p99_ms,completed,failed

The exit code is non-zero when the run timed out or produced no successful
requests; the result line is printed either way.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, err := parsePositive(args[0], "concurrency")
		if err != nil {
			return err
		}
		total, err := parsePositive(args[1], "total-requests")
		if err != nil {
			return err
		}

		r, err := runner.New(runner.Config{
			Concurrency:    concurrency,
			TotalRequests:  total,
			Target:         args[2],
			Timeout:        runTimeout,
			DialTimeout:    runDialTimeout,
			RequestTimeout: runRequestTimeout,
		}, logrus.StandardLogger())
		if err != nil {
			return err
		}

		res, runErr := r.Run(cmd.Context())
		fmt.Fprintln(os.Stdout, res.Line())
		if runErr != nil {
			logrus.WithError(runErr).Error("run failed")
			return runErr
		}
		return nil
	},
	SilenceErrors: true,
}

func parsePositive(s, name string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return n, nil
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", runner.DefaultTimeout, "overall run timeout")
	runCmd.Flags().DurationVar(&runDialTimeout, "dial-timeout", runner.DefaultDialTimeout, "per-worker connect timeout")
	runCmd.Flags().DurationVar(&runRequestTimeout, "request-timeout", runner.DefaultRequestTimeout, "per-request timeout")
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the benchmark across a list of concurrency levels",
	Long: `Runs one fixed-budget run per concurrency level, optionally restarting
the target process between levels. Results are persisted to history and,
with --out, exported as a PNG chart plus CSV and JSON files.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := sweep.Config{
			Levels:        viper.GetIntSlice("levels"),
			TotalRequests: viper.GetInt("requests"),
			Target:        viper.GetString("target"),
			StartupGrace:  viper.GetDuration("startup-grace"),
			TeardownGrace: viper.GetDuration("teardown-grace"),
			RunTimeout:    viper.GetDuration("timeout"),
			OutPrefix:     viper.GetString("out"),
		}
		if tc := viper.GetString("target-cmd"); tc != "" {
			cfg.TargetCmd = strings.Fields(tc)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var item storage.SweepItem
		if viper.GetBool("live") {
			item, err = tui.RunSweep(ctx, cfg, store, logrus.StandardLogger())
		} else {
			var s *sweep.Sweep
			s, err = sweep.New(cfg, store, logrus.StandardLogger())
			if err != nil {
				return err
			}
			item, err = s.Run(ctx)
		}
		if len(item.Records) > 0 {
			fmt.Fprintln(os.Stderr, sweep.SummaryTable(item))
		}
		return err
	},
}

func openStore() (*storage.Store, error) {
	dir := viper.GetString("history-dir")
	if dir == "" {
		var err error
		dir, err = storage.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	return storage.Open(dir)
}

func init() {
	sweepCmd.Flags().IntSlice("levels", []int{1, 10, 50, 100, 200, 500, 1000}, "concurrency levels to sweep")
	sweepCmd.Flags().Int("requests", 1000000, "total requests per level")
	sweepCmd.Flags().StringP("target", "t", "127.0.0.1:1234", "target address")
	sweepCmd.Flags().String("target-cmd", "", "command to (re)start the target around each level")
	sweepCmd.Flags().Duration("startup-grace", 500*time.Millisecond, "wait after starting the target")
	sweepCmd.Flags().Duration("teardown-grace", 500*time.Millisecond, "wait after stopping the target")
	sweepCmd.Flags().Duration("timeout", runner.DefaultTimeout, "per-level run timeout")
	sweepCmd.Flags().StringP("out", "o", "", "output prefix for chart/CSV/JSON exports")
	sweepCmd.Flags().Bool("live", false, "show the live dashboard")
	sweepCmd.Flags().String("history-dir", "", "history location (default $HOME/.swarm)")
	viper.BindPFlags(sweepCmd.Flags())
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the built-in key/value target server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		latency, _ := cmd.Flags().GetDuration("latency")
		jitter, _ := cmd.Flags().GetDuration("jitter")
		errorRate, _ := cmd.Flags().GetFloat64("error-rate")

		srv := kvserver.New(kvserver.Config{
			Addr:      addr,
			Latency:   latency,
			Jitter:    jitter,
			ErrorRate: errorRate,
		}, logrus.StandardLogger())
		if err := srv.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return srv.Close()
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:1234", "listen address")
	serveCmd.Flags().Duration("latency", 0, "fixed artificial latency per request")
	serveCmd.Flags().Duration("jitter", 0, "random extra latency in [0, jitter)")
	serveCmd.Flags().Float64("error-rate", 0, "fraction of requests answered with an error status")
}
