package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/config"
	"github.com/corralhq/corral/pkg/engine"
	"github.com/corralhq/corral/pkg/queue"
	"github.com/corralhq/corral/pkg/registry"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/trace"
	"github.com/corralhq/corral/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	flagJSON            bool
	flagAgent           string
	flagTimeout         time.Duration
	flagCoordinationDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - file-mediated work coordination for agent swarms",
	Long: `Corral coordinates concurrent agents over a shared directory of
JSON state documents. Agents register, claim work items under an
exclusive lock, report progress, and complete or fail them; every
operation is recorded as a span in an append-only trace log.

No server, no database: the coordination directory is the system.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Corral version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Corral version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit the JSON response envelope")
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "acting agent ID (defaults to AGENT_ID)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "overall operation timeout")
	rootCmd.PersistentFlags().StringVar(&flagCoordinationDir, "coordination-dir", "", "coordination directory (defaults to COORDINATION_DIR)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(deregisterCmd)
	rootCmd.AddCommand(listAgentsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(claimNextCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(failCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(listWorkCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(versionCmd)
}

// app wires one CLI invocation: config, store, engine, and views share
// a deadline context and a trace carried in from the environment.
type app struct {
	cfg      config.Config
	store    *store.Store
	writer   *trace.Writer
	engine   *engine.Engine
	registry *registry.Registry
	view     *queue.View
	ctx      context.Context
	cancel   context.CancelFunc
	out      *emitter
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagCoordinationDir != "" {
		cfg.CoordinationDir = flagCoordinationDir
	}
	if flagAgent != "" {
		cfg.AgentID = flagAgent
	}
	if flagJSON {
		cfg.OutputFormat = "json"
	}

	var mode store.Mode
	switch cfg.Mode {
	case "fast":
		mode = store.ModeFast
	case "safe":
		mode = store.ModeSafe
	case "auto", "":
		// probe at Open
	default:
		return nil, types.NewError(types.ErrInvalidArg, "unknown coordination mode %q", cfg.Mode)
	}

	st, err := store.Open(cfg.CoordinationDir, store.Options{
		Mode:     mode,
		LockWait: cfg.LockWait,
	})
	if err != nil {
		return nil, err
	}

	clk := clock.Default()
	writer := trace.NewWriter(cfg.CoordinationDir, clk)
	eng := engine.New(st, writer, clk, engine.Options{RetryAttempts: cfg.RetryAttempts})

	// Join the caller's trace when TRACE_ID is set, otherwise start one
	// so the whole invocation shares a trace
	ctx := trace.FromEnv(context.Background())
	if trace.TraceIDFrom(ctx) == "" {
		ctx = trace.WithTrace(ctx, clk.NewTraceID(), "")
	}
	ctx, cancel := context.WithTimeout(ctx, flagTimeout)

	return &app{
		cfg:      cfg,
		store:    st,
		writer:   writer,
		engine:   eng,
		registry: registry.New(eng),
		view:     queue.New(st, cfg.HeartbeatTimeout),
		ctx:      ctx,
		cancel:   cancel,
		out:      newEmitter(cfg.OutputFormat == "json", cfg.AgentID, trace.TraceIDFrom(ctx)),
	}, nil
}

func (a *app) Close() {
	a.cancel()
	a.writer.Close()
}

// agentID resolves the acting agent for commands that require one
func (a *app) agentID() (string, error) {
	if a.cfg.AgentID == "" {
		return "", types.NewError(types.ErrInvalidArg, "agent ID required: pass --agent or set AGENT_ID")
	}
	return a.cfg.AgentID, nil
}

// run wires an app into a command body and routes the result through
// the output emitter
func run(operation string, fn func(a *app, cmd *cobra.Command, args []string) (any, string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			newEmitter(flagJSON, flagAgent, "").emit(operation, nil, "", err)
			return err
		}
		defer a.Close()

		data, text, err := fn(a, cmd, args)
		a.out.emit(operation, data, text, err)
		return err
	}
}
