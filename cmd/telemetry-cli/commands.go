package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/app"
	"github.com/samijaber1/aegis-telemetry/internal/config"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/ingest"
	"github.com/samijaber1/aegis-telemetry/internal/logging"
	"github.com/samijaber1/aegis-telemetry/internal/report"
	"github.com/samijaber1/aegis-telemetry/internal/retention"
	"github.com/samijaber1/aegis-telemetry/internal/storage"
	"github.com/samijaber1/aegis-telemetry/internal/storage/postgres"
)

const timeLayout = "2006-01-02 15:04:05"

type env struct {
	cfg    *config.Config
	store  storage.EventStore
	logger *zap.Logger
}

// open loads the config and opens its store. Logs go to stderr at warn level unless configured lower.
func (c *cli) open(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return nil, err
	}
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, store: store, logger: logger}, nil
}

func (e *env) close() {
	e.store.Close()
	e.logger.Sync()
}

func (c *cli) writeJSON(v interface{}) int {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail("encode output: %v", err)
	}
	return 0
}

func (c *cli) runRecord(args []string) int {
	fs, configPath := c.newFlagSet("record")
	errType := fs.String("type", "", "error type")
	msg := fs.String("message", "", "error message")
	severity := fs.String("severity", "", "warning, error or critical (default error)")
	user := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	id, err := ingest.NewIngestor(e.store, e.logger, nil).RecordError(ctx, ingest.ErrorReport{
		Type:     *errType,
		Message:  *msg,
		Severity: *severity,
		UserID:   *user,
	})
	if err != nil {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "Recorded error event %d\n", id)
	return 0
}

func (c *cli) runSummary(args []string) int {
	fs, configPath := c.newFlagSet("summary")
	days := fs.Int("days", 0, "window in days (default summary_window_days)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	if *days == 0 {
		*days = e.cfg.SummaryWindowDays
	}
	sum, err := report.NewReporter(e.store).Summarize(ctx, *days)
	if err != nil {
		return c.fail("%v", err)
	}
	if *asJSON {
		return c.writeJSON(sum)
	}

	c.p.Fprintf(c.out, "Errors in the last %d days: %d\n", sum.PeriodDays, sum.TotalErrors)
	c.printKeyCounts("By type", sum.ByType)
	c.printKeyCounts("By severity", sum.BySeverity)

	if len(sum.RecentErrors) > 0 {
		fmt.Fprintln(c.out, "\nRecent:")
		c.printEvents(sum.RecentErrors)
	}
	if len(sum.APIErrors) > 0 {
		fmt.Fprintln(c.out, "\nAPI errors:")
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, st := range sum.APIErrors {
			c.p.Fprintf(tw, "  %s\t%d\t%.1f ms\n", st.Endpoint, st.Count, st.AvgResponseTime)
		}
		tw.Flush()
	}
	return 0
}

func (c *cli) printKeyCounts(title string, counts []storage.KeyCount) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n%s:\n", title)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, kc := range counts {
		c.p.Fprintf(tw, "  %s\t%d\n", kc.Key, kc.Count)
	}
	tw.Flush()
}

func (c *cli) printEvents(events []event.ErrorEvent) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, ev := range events {
		resolved := ""
		if ev.Resolved {
			resolved = "resolved"
		}
		fmt.Fprintf(tw, "  #%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.Timestamp.UTC().Format(timeLayout), ev.Severity, ev.ErrorType, ev.Message, resolved)
	}
	tw.Flush()
}

func (c *cli) runTrends(args []string) int {
	fs, configPath := c.newFlagSet("trends")
	days := fs.Int("days", 0, "window in days (default trend_window_days)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	if *days == 0 {
		*days = e.cfg.TrendWindowDays
	}
	trends, err := report.NewReporter(e.store).Trends(ctx, *days)
	if err != nil {
		return c.fail("%v", err)
	}
	if *asJSON {
		return c.writeJSON(trends)
	}

	dates := trends.Dates()
	if len(dates) == 0 {
		fmt.Fprintf(c.out, "No errors in the last %d days\n", trends.PeriodDays)
		return 0
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, d := range dates {
		c.p.Fprintf(tw, "%s\t%d\t", d, trends.DailyErrors[d])
		types := trends.TypeTrends[d]
		names := make([]string, 0, len(types))
		for name := range types {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.p.Fprintf(tw, "%s=%d ", name, types[name])
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
	return 0
}

func (c *cli) runCritical(args []string) int {
	fs, configPath := c.newFlagSet("critical")
	limit := fs.Int("limit", report.DefaultCriticalLimit, "maximum events to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	events, err := report.NewReporter(e.store).CriticalUnresolved(ctx, *limit)
	if err != nil {
		return c.fail("%v", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "No unresolved critical errors")
		return 0
	}
	c.p.Fprintf(c.out, "%d unresolved critical errors:\n", len(events))
	c.printEvents(events)
	return 0
}

func (c *cli) runResolve(args []string) int {
	fs, configPath := c.newFlagSet("resolve")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.errOut, "Error: resolve takes exactly one event id")
		fs.Usage()
		return 2
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return c.fail("invalid event id %q", fs.Arg(0))
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	if err := report.NewReporter(e.store).MarkResolved(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.fail("no error event with id %d", id)
		}
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.out, "Resolved error event %d\n", id)
	return 0
}

func (c *cli) runDaily(args []string) int {
	fs, configPath := c.newFlagSet("daily")
	days := fs.Int("days", 0, "number of days including today (default summary_window_days)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	if *days == 0 {
		*days = e.cfg.SummaryWindowDays
	}
	counts, err := report.NewReporter(e.store).DailyCounts(ctx, *days)
	if err != nil {
		return c.fail("%v", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, row := range counts {
		c.p.Fprintf(tw, "%s\t%s\t%s\t%d\n", row.Date, row.ErrorType, row.Severity, row.Count)
	}
	tw.Flush()
	return 0
}

func (c *cli) runPurge(args []string) int {
	fs, configPath := c.newFlagSet("purge")
	days := fs.Int("days", 0, "purge resolved errors older than n days (default retention_days)")
	samples := fs.Bool("samples", false, "also purge samples older than sample_retention_days")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	mgr := retention.NewManager(e.store, retention.Config{
		EventDays:  e.cfg.RetentionDays,
		SampleDays: e.cfg.SampleRetentionDays,
	}, e.logger, nil)

	n, err := mgr.Purge(ctx, *days)
	if err != nil {
		return c.fail("%v", err)
	}
	horizon := *days
	if horizon == 0 {
		horizon = mgr.EventDays()
	}
	c.p.Fprintf(c.out, "Deleted %d resolved error events older than %d days\n", n, horizon)

	if *samples {
		n, err := mgr.PurgeSamples(ctx, 0)
		if err != nil {
			return c.fail("%v", err)
		}
		c.p.Fprintf(c.out, "Deleted %d samples\n", n)
	}
	return 0
}

// build wires the full pipeline against a private registry
func (c *cli) build(e *env) (*app.App, error) {
	return app.New(e.cfg, e.store, prometheus.NewRegistry(), e.logger)
}

func (c *cli) runPerf(args []string) int {
	fs, configPath := c.newFlagSet("perf")
	hours := fs.Int("hours", 0, "window in hours (default report_window_hours)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	a, err := c.build(e)
	if err != nil {
		return c.fail("%v", err)
	}

	window := e.cfg.ReportWindow()
	if *hours > 0 {
		window = time.Duration(*hours) * time.Hour
	}
	rep, err := a.Reporter.PerformanceReport(ctx, window)
	if err != nil {
		return c.fail("%v", err)
	}
	alerts := a.Evaluator.Evaluate(rep)

	if *asJSON {
		return c.writeJSON(struct {
			Report *report.PerformanceReport `json:"report"`
			Alerts []alert.Alert             `json:"alerts"`
		}{rep, alerts})
	}

	fmt.Fprintf(c.out, "Performance over the last %d hours\n", rep.WindowHours)
	if len(rep.Endpoints) > 0 {
		fmt.Fprintln(c.out, "\nEndpoints:")
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, ep := range rep.Endpoints {
			c.p.Fprintf(tw, "  %s\t%d requests\tavg %.1f ms\tmax %.1f ms\t%.2f%% ok\n",
				ep.Endpoint, ep.Total, ep.AvgResponseTime, ep.MaxResponseTime, ep.SuccessRate)
		}
		tw.Flush()
	}
	if rep.System.Samples > 0 {
		c.p.Fprintf(c.out, "\nSystem (%d samples): cpu %.1f%% avg, memory %.1f%% avg, disk %.1f%% avg\n",
			rep.System.Samples, rep.System.AvgCPU, rep.System.AvgMemory, rep.System.AvgDisk)
	}
	c.printAlerts(alerts)
	return 0
}

func (c *cli) printAlerts(alerts []alert.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(c.out, "\nNo alerts")
		return
	}
	fmt.Fprintf(c.out, "\nAlerts:\n")
	for _, a := range alerts {
		fmt.Fprintf(c.out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func (c *cli) runCycle(args []string) int {
	fs, configPath := c.newFlagSet("cycle")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, err := c.open(ctx, *configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	defer e.close()

	a, err := c.build(e)
	if err != nil {
		return c.fail("%v", err)
	}
	result, err := a.Scheduler.RunCycle(ctx)
	if err != nil {
		return c.fail("cycle %s failed: %v", result.ID, err)
	}

	c.p.Fprintf(c.out, "Cycle %s probed %d endpoints in %s\n",
		result.ID, len(result.Samples), result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	c.printAlerts(result.Alerts)
	if result.SinkError != "" {
		fmt.Fprintf(c.errOut, "Warning: alert delivery failed: %s\n", result.SinkError)
	}
	return 0
}

func (c *cli) runValidateRules(args []string) int {
	fs := flag.NewFlagSet("validate-rules", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	file := fs.String("file", "", "alert rules file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		fmt.Fprintln(c.errOut, "Error: -file flag is required")
		fs.Usage()
		return 1
	}

	loader, err := alert.NewRuleLoader()
	if err != nil {
		return c.fail("failed to initialize rule loader: %v", err)
	}

	rules, err := loader.LoadFile(*file)
	if err == nil {
		fmt.Fprintf(c.out, "✓ %d alert rules are valid\n", len(rules))
		return 0
	}

	var fileErr *alert.RuleFileError
	if !errors.As(err, &fileErr) {
		return c.fail("%v", err)
	}
	fmt.Fprintf(c.errOut, "✗ Validation failed with %d error(s):\n\n", len(fileErr.Errors))
	for _, re := range fileErr.Errors {
		if re.Path != "" {
			fmt.Fprintf(c.errOut, "%s: %s: %s\n", filepath.Base(re.File), re.Path, re.Message)
		} else {
			fmt.Fprintf(c.errOut, "%s: %s\n", filepath.Base(re.File), re.Message)
		}
	}
	return 1
}

func (c *cli) runMigrate(args []string) int {
	fs, configPath := c.newFlagSet("migrate")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return c.fail("%v", err)
	}
	ctx := context.Background()

	if cfg.Storage.Driver == "postgres" {
		logger, err := logging.New(cfg.Log.Level, "console")
		if err != nil {
			return c.fail("%v", err)
		}
		defer logger.Sync()
		if err := postgres.Migrate(ctx, cfg.Storage.PostgresDSN, logger); err != nil {
			return c.fail("%v", err)
		}
	} else {
		// sqlite applies its schema on open
		e, err := c.open(ctx, *configPath)
		if err != nil {
			return c.fail("%v", err)
		}
		e.close()
	}
	fmt.Fprintf(c.out, "Schema up to date (%s)\n", cfg.Storage.Driver)
	return 0
}
