package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/studiowebux/taskload/internal/cli"
	"github.com/studiowebux/taskload/internal/config"
	"github.com/studiowebux/taskload/internal/filter"
	"github.com/studiowebux/taskload/internal/logging"
	"github.com/studiowebux/taskload/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrThresholdsFailed) {
			os.Exit(cli.ExitThresholdsFailed)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taskload",
	Short: "taskload - load test for the task manager API",
	Long: `taskload runs the task type scenario against a task manager API with
concurrent virtual users: create a task type, read it back individually and
through the listing, then delete it.

The base URL comes from --base-url, TASK_MANAGER_API, the config file, or
defaults to https://wenet.u-hopper.com/dev/task_manager.

Examples:
  taskload                                   # One iteration, one VU
  taskload run --vus 10 --duration 30s       # 10 VUs for 30 seconds
  taskload run --iterations 100 --vus 5      # 100 iterations shared by 5 VUs
  taskload run --threshold 'checks > 0.99'   # Exit 99 when the check rate drops
  taskload runs                              # List stored runs
  taskload fake --addr :8080                 # Serve an in-memory task manager`,
	Version:       version.String(),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoad,
}

var runCmd = &cobra.Command{
	Use:           "run",
	Short:         "Run the task type scenario under load",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLoad,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagRunsQuery != "" && !filter.IsValidJMESPath(flagRunsQuery) {
			return fmt.Errorf("invalid JMESPath query %q", flagRunsQuery)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := storePath()
		if err != nil {
			return err
		}
		return cli.ListRuns(runsOptions(dbPath), cmd.OutOrStdout())
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored run with its checks and thresholds",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		dbPath, err := storePath()
		if err != nil {
			return err
		}
		return cli.ShowRun(runsOptions(dbPath), id, cmd.OutOrStdout())
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		dbPath, err := storePath()
		if err != nil {
			return err
		}
		if err := cli.DeleteRun(dbPath, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %d\n", id)
		return nil
	},
}

var fakeCmd = &cobra.Command{
	Use:   "fake",
	Short: "Serve an in-memory task manager",
	Long: `Serve an in-memory task manager implementing the endpoints the scenario
uses, with offset/limit pagination on the listing. Useful to try taskload
without a real deployment:

  taskload fake --addr :8080 &
  TASK_MANAGER_API=http://localhost:8080 taskload run --vus 5 --iterations 50`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logging.New(logging.Options{Level: flagLogLevel, Format: flagLogFormat})
		logger.Info("serving fake task manager", "addr", flagFakeAddr, "seed", flagFakeSeed)
		return cli.ServeFake(ctx, flagFakeAddr, flagFakeSeed, logger)
	},
}

// Flags for root/run command
var (
	flagConfig        string
	flagEnvFile       string
	flagName          string
	flagBaseURL       string
	flagVUs           int
	flagIterations    int
	flagDuration      time.Duration
	flagRampUp        time.Duration
	flagGracefulStop  time.Duration
	flagTimeout       time.Duration
	flagCompare       string
	flagArrayOrder    string
	flagPagePolicy    string
	flagPageLimit     int
	flagVerifyDeleted bool
	flagThresholds    []string
	flagNoStore       bool
	flagInsecure      bool
	flagQuiet         bool
)

// Shared logging flags
var (
	flagLogLevel  string
	flagLogFormat string
)

// Flags for runs
var (
	flagRunsLimit  int
	flagRunsOutput string
	flagRunsQuery  string
	flagRunsStatus []string
	flagRunsName   string
)

// Flags for fake
var (
	flagFakeAddr string
	flagFakeSeed int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text/json)")

	addRunFlags(rootCmd)
	addRunFlags(runCmd)

	runsCmd.PersistentFlags().IntVarP(&flagRunsLimit, "limit", "n", 20, "Number of runs to list")
	runsCmd.PersistentFlags().StringVarP(&flagRunsOutput, "output", "o", "text", "Output format (text/json/yaml)")
	runsCmd.PersistentFlags().StringVarP(&flagRunsQuery, "query", "q", "", "JMESPath query on the JSON output (e.g. 'Checks[?Fails > `0`].Name')")
	runsCmd.Flags().StringSliceVar(&flagRunsStatus, "status", nil, "Only runs with these statuses (completed/failed/cancelled/running)")
	runsCmd.Flags().StringVar(&flagRunsName, "name", "", "Only runs whose name matches this glob")

	fakeCmd.Flags().StringVar(&flagFakeAddr, "addr", ":8080", "Listen address")
	fakeCmd.Flags().IntVar(&flagFakeSeed, "seed", 0, "Number of task types to create at startup")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(fakeCmd)
}

// addRunFlags registers the load run flags; root and run share them
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file (default ./taskload.yaml when present)")
	cmd.Flags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file (default ./.env when present)")
	cmd.Flags().StringVar(&flagName, "name", "", "Run name")
	cmd.Flags().StringVarP(&flagBaseURL, "base-url", "u", "", "Task manager base URL (overrides "+config.EnvBaseURL+")")
	cmd.Flags().IntVar(&flagVUs, "vus", 1, "Number of concurrent virtual users")
	cmd.Flags().IntVarP(&flagIterations, "iterations", "i", 1, "Total iterations shared by all VUs (0 = until duration)")
	cmd.Flags().DurationVarP(&flagDuration, "duration", "d", 0, "Maximum run duration")
	cmd.Flags().DurationVar(&flagRampUp, "ramp-up", 0, "Time over which VUs are started")
	cmd.Flags().DurationVar(&flagGracefulStop, "graceful-stop", 30*time.Second, "Time left to running iterations once the run ends")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "Per-request timeout")
	cmd.Flags().StringVar(&flagCompare, "compare", "deep", "Equivalence (deep/deep-unordered/charset)")
	cmd.Flags().StringVar(&flagArrayOrder, "array-order", "strict", "Array order for deep comparison (strict/ignore)")
	cmd.Flags().StringVar(&flagPagePolicy, "page-policy", "scan", "Listing policy when the page is truncated (lenient/scan)")
	cmd.Flags().IntVar(&flagPageLimit, "page-limit", 10, "Page size requested while scanning")
	cmd.Flags().BoolVar(&flagVerifyDeleted, "verify-deleted", false, "Check that the task type is gone after delete")
	cmd.Flags().StringArrayVarP(&flagThresholds, "threshold", "t", []string{}, "Threshold expression, can be repeated")
	cmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not store the run in the local database")
	cmd.Flags().BoolVarP(&flagInsecure, "insecure", "k", false, "Skip TLS certificate verification")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Do not print progress lines")
}

// runLoad loads the configuration, applies explicit flags and runs the scenario
func runLoad(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cfg, err := config.Load(flagConfig, flagEnvFile)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = cli.Run(ctx, cli.RunOptions{
		Config:   cfg,
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
		Progress: !flagQuiet,
	})
	return err
}

// applyRunFlags overrides configuration values with flags set on the command line
func applyRunFlags(cmd *cobra.Command, cfg *config.Options) error {
	flags := cmd.Flags()

	if flags.Changed("name") {
		cfg.Name = flagName
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = flagBaseURL
	}
	if flags.Changed("vus") {
		cfg.VUs = flagVUs
	}
	if flags.Changed("iterations") {
		cfg.Iterations = flagIterations
	}
	if flags.Changed("duration") {
		cfg.Duration = flagDuration
		// A duration alone means run until it elapses
		if !flags.Changed("iterations") {
			cfg.Iterations = 0
		}
	}
	if flags.Changed("ramp-up") {
		cfg.RampUp = flagRampUp
	}
	if flags.Changed("graceful-stop") {
		cfg.GracefulStop = flagGracefulStop
	}
	if flags.Changed("timeout") {
		cfg.Timeout = flagTimeout
	}
	if flags.Changed("compare") {
		cfg.Compare = flagCompare
	}
	if flags.Changed("array-order") {
		switch flagArrayOrder {
		case "ignore":
			if cfg.Compare != "deep" && cfg.Compare != "deep-unordered" {
				return fmt.Errorf("--array-order applies to deep comparison, not %q", cfg.Compare)
			}
			cfg.Compare = "deep-unordered"
		case "strict":
			if cfg.Compare == "deep-unordered" {
				cfg.Compare = "deep"
			}
		default:
			return fmt.Errorf("invalid --array-order %q (use strict or ignore)", flagArrayOrder)
		}
	}
	if flags.Changed("page-policy") {
		cfg.PagePolicy = flagPagePolicy
	}
	if flags.Changed("page-limit") {
		cfg.PageLimit = flagPageLimit
	}
	if flags.Changed("verify-deleted") {
		cfg.VerifyDeleted = flagVerifyDeleted
	}
	if flags.Changed("threshold") {
		cfg.Thresholds = append(cfg.Thresholds, flagThresholds...)
	}
	if flagNoStore {
		cfg.Store = false
	}
	if flagInsecure {
		cfg.TLS.InsecureSkipVerify = true
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
	return nil
}

// storePath returns the run database, initializing the config directory
func storePath() (string, error) {
	if err := config.Initialize(); err != nil {
		return "", fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load("", "")
	if err != nil {
		return "", err
	}
	return cfg.ResolveDBPath(), nil
}

func runsOptions(dbPath string) cli.RunsOptions {
	return cli.RunsOptions{
		DBPath:      dbPath,
		Limit:       flagRunsLimit,
		Format:      flagRunsOutput,
		Query:       flagRunsQuery,
		Statuses:    flagRunsStatus,
		NamePattern: flagRunsName,
	}
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
