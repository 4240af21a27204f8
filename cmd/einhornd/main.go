// Command einhornd is the supervisor's CLI front-end. It parses flags,
// validates the resulting configuration, prepares the inherited sockets,
// and hands control to the supervisor loop.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ankit-kulkarni/einhornd/internal/config"
	"github.com/ankit-kulkarni/einhornd/internal/control"
	"github.com/ankit-kulkarni/einhornd/internal/observability"
	"github.com/ankit-kulkarni/einhornd/internal/signals"
	"github.com/ankit-kulkarni/einhornd/internal/socketprep"
	"github.com/ankit-kulkarni/einhornd/internal/supervisor"
	"github.com/ankit-kulkarni/einhornd/internal/timer"
)

var version = "dev"

type flags struct {
	verbose   bool
	syslog    bool
	ipv4Only  bool
	ipv6Only  bool
	manual    bool
	number    int
	binds     []string
	dropEnv   []string
	socket    string
	retries   int
	childhood time.Duration
	grace     time.Duration
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var f flags

	root := &cobra.Command{
		Use:           "einhornd -- PROGRAM [ARGS...]",
		Short:         "socket-inheriting process supervisor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().BoolVar(&f.syslog, "syslog", false, "use syslog-style log formatting")
	root.Flags().BoolVarP(&f.ipv4Only, "ipv4-only", "4", false, "restrict binds to IPv4")
	root.Flags().BoolVarP(&f.ipv6Only, "ipv6-only", "6", false, "restrict binds to IPv6")
	root.Flags().BoolVarP(&f.manual, "manual", "m", false, "require workers to worker:ack before childhood elapses")
	root.Flags().IntVarP(&f.number, "number", "n", 1, "number of workers to maintain")
	root.Flags().StringArrayVarP(&f.binds, "bind", "b", nil, "bind spec host:port[,r][,n] (repeatable)")
	root.Flags().StringArrayVar(&f.dropEnv, "drop-env-var", nil, "environment variable to strip from workers (repeatable)")
	root.Flags().StringVarP(&f.socket, "socket-path", "d", config.DefaultSocketPath, "control socket path")
	root.Flags().IntVarP(&f.retries, "retries", "r", config.DefaultRetries, "consecutive spawn-failure budget per lineage")
	root.Flags().DurationVar(&f.childhood, "childhood", 3*time.Second, "time a new worker has to become healthy")
	root.Flags().DurationVar(&f.grace, "grace", 5*time.Second, "time a notified worker has before forced termination")

	root.RunE = func(cmd *cobra.Command, progArgs []string) error {
		return bootstrap(f, progArgs)
	}

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "einhornd:", err)
		return -1
	}
	return 0
}

func bootstrap(f flags, progArgs []string) error {
	if f.ipv4Only && f.ipv6Only {
		return fmt.Errorf("--ipv4-only and --ipv6-only are mutually exclusive")
	}
	if len(progArgs) == 0 {
		return fmt.Errorf("no worker program given; usage: einhornd [flags] -- PROGRAM [ARGS...]")
	}

	family := socketprep.FamilyAny
	switch {
	case f.ipv4Only:
		family = socketprep.FamilyV4Only
	case f.ipv6Only:
		family = socketprep.FamilyV6Only
	}

	binds := make([]socketprep.BindSpec, 0, len(f.binds))
	for _, raw := range f.binds {
		spec, err := socketprep.ParseBindSpec(raw)
		if err != nil {
			return err
		}
		binds = append(binds, spec)
	}

	cfg := &config.Config{
		Program:    progArgs[0],
		Args:       progArgs[1:],
		Count:      f.number,
		Childhood:  f.childhood,
		Grace:      f.grace,
		Retries:    f.retries,
		ManualAck:  f.manual,
		Family:     family,
		Binds:      binds,
		DropEnv:    f.dropEnv,
		SocketPath: f.socket,
		Verbose:    f.verbose,
		Syslog:     f.syslog,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.New(cfg.Verbose, cfg.Syslog)
	bootLog := observability.For(logger, "bootstrap")

	// Signal intake must be registered before any worker is spawned so
	// SIGCHLD is never missed.
	sigIntake := signals.New()
	defer sigIntake.Stop()

	template, err := socketprep.Prepare(cfg.Program, cfg.Args, cfg.Binds, cfg.Family, cfg.DropEnv, cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("preparing sockets: %w", err)
	}

	controlSrv, err := control.NewServer(cfg.SocketPath, observability.For(logger, "control"))
	if err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer controlSrv.Close()

	timerSvc := timer.New()
	defer timerSvc.Stop()

	sup := supervisor.New(cfg, template, timerSvc, sigIntake.C(), controlSrv.Jobs(), observability.For(logger, "supervisor"))

	group := &errgroup.Group{}
	group.Go(controlSrv.Serve)
	group.Go(func() error {
		runErr := sup.Run()
		closeErr := controlSrv.Close()
		if runErr != nil {
			return runErr
		}
		return closeErr
	})

	bootLog.WithFields(map[string]any{
		"count":  cfg.Count,
		"binds":  len(cfg.Binds),
		"socket": cfg.SocketPath,
	}).Info("einhornd started")

	if err := group.Wait(); err != nil {
		return err
	}
	return nil
}
