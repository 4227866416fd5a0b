// Command oneiric is the minimum CLI surface named in §6.4: list, explain,
// status, swap, pause, drain, resume, health, remote-sync, and orchestrate,
// each delegating straight into the orchestrator/bridge/lifecycle APIs this
// module exposes. It follows the teacher's cmd/slctl flag-subcommand
// dispatch shape (flag.NewFlagSet per subcommand, explicit exit codes)
// rather than a third-party CLI framework, since the teacher itself hand-
// rolls this dispatch with the standard library.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oneiric/oneiric/bridge"
	"github.com/oneiric/oneiric/internal/config"
	"github.com/oneiric/oneiric/internal/errs"
	"github.com/oneiric/oneiric/internal/logging"
	"github.com/oneiric/oneiric/internal/telemetry"
	"github.com/oneiric/oneiric/lifecycle"
	"github.com/oneiric/oneiric/orchestrator"
	"github.com/oneiric/oneiric/registry"
)

// Exit codes per §6.4.
const (
	exitOK            = 0
	exitOther         = 1
	exitUsage         = 2
	exitNotFound      = 3
	exitHealthFailure = 4
	exitSwapFailure   = 5
	exitRemoteFailure = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: oneiric <list|explain|status|swap|pause|drain|resume|health|remote-sync|orchestrate> ...")
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: loading config: %v\n", err)
		return exitOther
	}
	log := logging.New("cmd", cfg.LogLevel, cfg.LogFormat)

	orc, err := orchestrator.New(cfg, orchestrator.WithLogger(log), orchestrator.WithSink(telemetry.NoopSink{}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: building orchestrator: %v\n", err)
		return exitOther
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "list":
		return cmdList(orc, args[1:])
	case "explain":
		return cmdExplain(orc, args[1:])
	case "status":
		return cmdStatus(cfg, args[1:])
	case "swap":
		return cmdSwap(ctx, orc, args[1:])
	case "pause":
		return cmdPause(orc, args[1:])
	case "drain":
		return cmdDrain(orc, args[1:])
	case "resume":
		return cmdResume(orc, args[1:])
	case "health":
		return cmdHealth(ctx, orc, args[1:])
	case "remote-sync":
		return cmdRemoteSync(ctx, orc, args[1:])
	case "orchestrate":
		return cmdOrchestrate(ctx, orc, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "oneiric: unknown command %q\n", args[0])
		return exitUsage
	}
}

func cmdList(orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: oneiric list <domain>")
		return exitUsage
	}
	domain := registry.Domain(fs.Arg(0))
	b, ok := orc.Bridge(domain)
	if !ok {
		fmt.Fprintf(os.Stderr, "oneiric: unknown domain %q\n", domain)
		return exitNotFound
	}
	results, err := b.ListActive(bridge.UseOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitOther
	}
	for key, res := range results {
		if res.Selected.Provider != "" {
			fmt.Printf("%s\t%s\n", key, res.Selected.Provider)
		}
	}
	return exitOK
}

func cmdExplain(orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric explain <domain> <key>")
		return exitUsage
	}
	domain, key := registry.Domain(fs.Arg(0)), fs.Arg(1)
	b, ok := orc.Bridge(domain)
	if !ok {
		fmt.Fprintf(os.Stderr, "oneiric: unknown domain %q\n", domain)
		return exitNotFound
	}
	trace, err := b.Explain(key, bridge.UseOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		if kind, ok := errs.KindOf(err); ok && kind == errs.NoCandidate {
			return exitNotFound
		}
		return exitOther
	}
	data, err := trace.MarshalJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitOther
	}
	fmt.Println(string(data))
	return exitOK
}

func cmdStatus(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric status <domain> <key>")
		return exitUsage
	}
	statusDir := filepath.Join(filepath.Dir(cfg.Activity.StorePath), "status")
	snap, err := lifecycle.ReadStatus(statusDir, fs.Arg(0), fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitNotFound
	}
	fmt.Printf("%+v\n", snap)
	return exitOK
}

func cmdSwap(ctx context.Context, orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("swap", flag.ContinueOnError)
	force := fs.Bool("force", false, "bypass rollback on failure, tearing down the previous instance regardless")
	if err := fs.Parse(args); err != nil || fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "usage: oneiric swap <domain> <key> <provider> [-force]")
		return exitUsage
	}
	domain := registry.Domain(fs.Arg(0))
	b, ok := orc.Bridge(domain)
	if !ok {
		fmt.Fprintf(os.Stderr, "oneiric: unknown domain %q\n", domain)
		return exitNotFound
	}
	if _, err := b.Swap(ctx, fs.Arg(1), fs.Arg(2), *force); err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: swap failed: %v\n", err)
		return exitSwapFailure
	}
	return exitOK
}

func cmdPause(orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	note := fs.String("note", "", "operator note")
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric pause <domain> <key> [-note text]")
		return exitUsage
	}
	b, ok := orc.Bridge(registry.Domain(fs.Arg(0)))
	if !ok {
		return exitNotFound
	}
	if err := b.Pause(fs.Arg(1), *note); err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitOther
	}
	return exitOK
}

func cmdDrain(orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("drain", flag.ContinueOnError)
	note := fs.String("note", "", "operator note")
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric drain <domain> <key> [-note text]")
		return exitUsage
	}
	b, ok := orc.Bridge(registry.Domain(fs.Arg(0)))
	if !ok {
		return exitNotFound
	}
	if err := b.Drain(fs.Arg(1), *note); err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitOther
	}
	return exitOK
}

func cmdResume(orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric resume <domain> <key>")
		return exitUsage
	}
	b, ok := orc.Bridge(registry.Domain(fs.Arg(0)))
	if !ok {
		return exitNotFound
	}
	if err := b.Resume(fs.Arg(1)); err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: %v\n", err)
		return exitOther
	}
	return exitOK
}

func cmdHealth(ctx context.Context, orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: oneiric health <domain> <key>")
		return exitUsage
	}
	b, ok := orc.Bridge(registry.Domain(fs.Arg(0)))
	if !ok {
		return exitNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	healthy, err := b.Probe(ctx, fs.Arg(1))
	if err != nil || !healthy {
		fmt.Fprintf(os.Stderr, "oneiric: health check failed: %v\n", err)
		return exitHealthFailure
	}
	return exitOK
}

func cmdRemoteSync(ctx context.Context, orc *orchestrator.Orchestrator, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: oneiric remote-sync <once|watch> [-url URL]")
		return exitUsage
	}
	mode := args[0]
	fs := flag.NewFlagSet("remote-sync", flag.ContinueOnError)
	url := fs.String("url", "", "override remote.manifest_url for this run")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "usage: oneiric remote-sync <once|watch> [-url URL]")
		return exitUsage
	}
	switch mode {
	case "once":
		if _, err := orc.RemoteSync(ctx, *url); err != nil {
			fmt.Fprintf(os.Stderr, "oneiric: remote sync failed: %v\n", err)
			return exitRemoteFailure
		}
		return exitOK
	case "watch":
		if err := orc.RunRemoteWatch(ctx, *url); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "oneiric: remote sync failed: %v\n", err)
			return exitRemoteFailure
		}
		return exitOK
	default:
		fmt.Fprintln(os.Stderr, "usage: oneiric remote-sync <once|watch> [-url URL]")
		return exitUsage
	}
}

func cmdOrchestrate(ctx context.Context, orc *orchestrator.Orchestrator, args []string) int {
	fs := flag.NewFlagSet("orchestrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "usage: oneiric orchestrate")
		return exitUsage
	}
	runErr := orc.Run(ctx)
	if err := orc.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "oneiric: shutdown cleanup: %v\n", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "oneiric: orchestrator exited: %v\n", runErr)
		return exitOther
	}
	return exitOK
}
