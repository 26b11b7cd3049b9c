package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"viva/config"
	"viva/log"
)

var version = "dev"

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logPath    string
	profile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	run := newRunCmd(g)

	root := &cobra.Command{
		Use:          "viva",
		Short:        "Spoken mock interviews with an AI interviewer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup()
		},
		// A bare `viva` runs an interview.
		RunE: run.RunE,
	}
	root.Flags().AddFlagSet(run.Flags())

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	pf.StringVar(&g.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	pf.StringVar(&g.profile, "profile", "", "enable pprof profiling server (e.g. localhost:6060)")

	root.AddCommand(
		run,
		newDoctorCmd(g),
		newServeCmd(g),
		newRecordingsCmd(g),
		newVersionCmd(),
	)
	return root
}

// setup resolves the log directory and installs the crash log before any
// command touches audio.
func (g *globals) setup() error {
	dir, err := log.ResolveDir(g.logPath)
	if err != nil {
		return fmt.Errorf("resolve log directory: %w", err)
	}
	log.SetDir(dir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
		return nil
	}
	initCrashLog(filepath.Join(dir, "crash_log.txt"))

	if g.profile != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", g.profile)
			if err := http.ListenAndServe(g.profile, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}
	return nil
}

func initCrashLog(path string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

// loadConfig reads the layered configuration and starts file logging.
// The returned func closes the log.
func (g *globals) loadConfig() (config.Config, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, func() {}, err
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
		return cfg, func() {}, nil
	}
	return cfg, log.Close, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "viva %s\n", version)
		},
	}
}

// contextOf returns the command context, falling back to Background when
// the command was executed without one.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
