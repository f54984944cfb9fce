package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corralhq/corral/pkg/maintenance"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/types"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance [job]",
	Short: "Run a maintenance job, or the maintenance daemon",
	Long: `Run one maintenance job now, or start the daemon that runs every
job on its configured cadence.

Jobs: ` + strings.Join(maintenance.JobNames, ", "),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		daemon, _ := cmd.Flags().GetBool("daemon")
		if daemon {
			return runDaemon(cmd)
		}
		if len(args) == 0 {
			err := types.NewError(types.ErrInvalidArg,
				"name a job or pass --daemon (jobs: %s)", strings.Join(maintenance.JobNames, ", "))
			newEmitter(flagJSON, flagAgent, "").emit("maintenance", nil, "", err)
			return err
		}

		job := args[0]
		return run("maintenance."+job, func(a *app, cmd *cobra.Command, args []string) (any, string, error) {
			runner, cache, err := newRunner(a)
			if err != nil {
				return nil, "", err
			}
			if cache != nil {
				defer cache.Close()
			}
			if err := runner.RunJob(a.ctx, job); err != nil {
				return nil, "", err
			}
			return map[string]string{"job": job}, fmt.Sprintf("%s done", job), nil
		})(cmd, args)
	},
}

// newRunner builds the job runner. The bbolt cache is best effort: a
// locked or unreadable cache degrades to running without history.
func newRunner(a *app) (*maintenance.Runner, *maintenance.Cache, error) {
	cache, err := maintenance.OpenCache(a.cfg.CoordinationDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corral: maintenance cache unavailable: %v\n", err)
		cache = nil
	}
	return maintenance.NewRunner(a.engine, a.view, cache, a.cfg), cache, nil
}

// runDaemon runs the maintenance scheduler until interrupted
func runDaemon(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		newEmitter(flagJSON, flagAgent, "").emit("maintenance.daemon", nil, "", err)
		return err
	}
	// The daemon outlives the one-shot timeout
	a.cancel()
	defer a.writer.Close()

	runner, cache, err := newRunner(a)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	// Optional scrape endpoint for the collectors
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "corral: metrics server: %v\n", err)
			}
		}()
	}

	sched := maintenance.NewScheduler(runner, a.cfg.Maintenance)
	sched.Start(cmd.Context())
	fmt.Printf("maintenance daemon running on %s. Press Ctrl+C to stop.\n", a.cfg.CoordinationDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	sched.Stop()
	return nil
}

func init() {
	maintenanceCmd.Flags().Bool("daemon", false, "run every job on its cadence until interrupted")
	maintenanceCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (daemon only)")
}
