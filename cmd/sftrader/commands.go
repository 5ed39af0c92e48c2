package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/aristath/sftrader/internal/di"
	"github.com/aristath/sftrader/internal/domain"
	"github.com/aristath/sftrader/internal/modules/rebalancing"
	"github.com/aristath/sftrader/internal/scheduler"
	"github.com/aristath/sftrader/internal/server"
)

var commands = []subcommands.Command{
	&runCmd{},
	&serveCmd{},
	&cancelCmd{},
	&summaryCmd{},
}

const dateLayout = "2006-01-02"

// parseDate parses a YYYY-MM-DD flag value. Empty means today (UTC).
func parseDate(value string) (time.Time, error) {
	if value == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return date, nil
}

// exitStatus maps an error to the process exit status. Configuration errors
// are usage errors.
func exitStatus(err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, domain.ErrConfig) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

type runCmd struct {
	date    string
	execute bool
	asJSON  bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the rebalancing pipeline once" }
func (*runCmd) Usage() string {
	return `sftrader run [-date YYYY-MM-DD] [-execute] [-json]

  Computes alphas, targets and orders for the trade date and prints the
  report. Orders are only submitted with -execute.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "trade date (defaults to today, UTC)")
	f.BoolVar(&c.execute, "execute", false, "submit the generated orders to the broker")
	f.BoolVar(&c.asJSON, "json", false, "print the full result as JSON instead of the report")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	tradeDate, err := parseDate(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	_, container, _, err := setup()
	if err != nil {
		return exitStatus(err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := container.Rebalancing.Run(ctx, tradeDate, !c.execute)
	if res != nil {
		c.print(res)
	}
	return exitStatus(err)
}

func (c *runCmd) print(res *rebalancing.Result) {
	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if res.Report != "" {
		printMarkdown(res.Report)
	}
}

type serveCmd struct {
	port int
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the HTTP API and run scheduled jobs" }
func (*serveCmd) Usage() string {
	return `sftrader serve [-port n]

  Starts the HTTP API, the event stream and the job scheduler. The rebalance
  job runs on REBALANCE_SCHEDULE when it is set.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.port, "port", 0, "listen port (defaults to PORT)")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, container, log, err := setup()
	if err != nil {
		return exitStatus(err)
	}
	defer container.Close()

	port := cfg.Port
	if c.port > 0 {
		port = c.port
	}

	sched := scheduler.New(container.EventManager, log)
	if _, err := di.RegisterJobs(container, cfg, sched, log); err != nil {
		return exitStatus(fmt.Errorf("failed to register jobs: %w", err))
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        port,
		DevMode:     cfg.DevMode,
		DataDir:     cfg.DataDir,
		Version:     version,
		Databases:   container.Databases(),
		Rebalancing: container.Rebalancing,
		EventBus:    container.EventBus,
		Metrics:     container.Metrics,
		Jobs:        sched,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	sched.Start()

	log.Info().
		Int("port", port).
		Str("version", version).
		Bool("dry_run", cfg.DryRun).
		Msg("sftrader started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("HTTP server failed")
	}

	log.Info().Msg("Shutting down...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	if runErr != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type cancelCmd struct{}

func (*cancelCmd) Name() string     { return "cancel" }
func (*cancelCmd) Synopsis() string { return "cancel every open order at the broker" }
func (*cancelCmd) Usage() string {
	return `sftrader cancel

  Cancels all open orders and prints the outcome of each.
`
}

func (*cancelCmd) SetFlags(f *flag.FlagSet) {}

func (*cancelCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	_, container, _, err := setup()
	if err != nil {
		return exitStatus(err)
	}
	defer container.Close()

	outcomes, err := container.Rebalancing.CancelOpenOrders(ctx)
	if err != nil {
		return exitStatus(err)
	}

	if len(outcomes) == 0 {
		fmt.Println("No open orders.")
		return subcommands.ExitSuccess
	}
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
			fmt.Printf("%s\t%s\t%s\t%s\n", o.OrderID, o.Ticker, o.Status, o.Error)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", o.OrderID, o.Ticker, o.Status)
	}
	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type summaryCmd struct {
	date string
	top  int
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "summarize current holdings against the benchmark" }
func (*summaryCmd) Usage() string {
	return `sftrader summary [-date YYYY-MM-DD] [-top n]

  Prints exposure, risk and the largest active weights of the current
  broker holdings.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "risk date (defaults to today, UTC)")
	f.IntVar(&c.top, "top", 10, "number of active weights to show")
}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	date, err := parseDate(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	_, container, _, err := setup()
	if err != nil {
		return exitStatus(err)
	}
	defer container.Close()

	summary, warnings, err := container.Rebalancing.Summarize(ctx, date)
	if err != nil {
		return exitStatus(err)
	}

	printMarkdown(summaryMarkdown("Holdings on "+date.Format(dateLayout), summary, warnings, c.top))
	return subcommands.ExitSuccess
}
