package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"mythicwp/config"
	"mythicwp/diag"
	"mythicwp/drift"
	"mythicwp/events"
	"mythicwp/inventory"
	"mythicwp/logger"
	"mythicwp/notice"
	"mythicwp/output"
	"mythicwp/report"
	"mythicwp/scanner"
	"mythicwp/server"
	"mythicwp/state"
	"mythicwp/tracing"
	"mythicwp/utils"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"
)

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	switch cfg.Mode {
	case config.ModeReport:
		return runReport(ctx, cfg, out)
	case config.ModeServe:
		return runServe(ctx, cfg, out)
	case config.ModeActivate:
		return runActivate(ctx, cfg, out)
	case config.ModeDeactivate:
		return runDeactivate(ctx, cfg)
	case config.ModeNotices:
		return runNotices(ctx, cfg, out)
	case config.ModeDrift:
		return runDrift(cfg, out)
	default:
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
}

func openState(cfg *config.Config) (*state.Manager, state.Store, error) {
	store, err := state.OpenStore(cfg.StateBackend, cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open key state: %w", err)
	}
	return state.NewManager(store), store, nil
}

// inventorySource reloads the inventory document with command line
// overrides applied.
func inventorySource(cfg *config.Config) func() (*inventory.Inventory, error) {
	return func() (*inventory.Inventory, error) {
		inv, err := inventory.Load(cfg.InventoryFile)
		if err != nil {
			return nil, err
		}
		inv.Override(cfg.ServerAddr, cfg.DocumentRoot, cfg.InstallPath)
		inv.FillDefaults()
		return inv, nil
	}
}

func newScanner(cfg *config.Config, progress func(string)) *scanner.Scanner {
	opts := scanner.Options{
		Algorithm: cfg.HashAlgorithm,
		Progress:  progress,
	}
	if len(cfg.ExcludePatterns) > 0 {
		matcher := utils.NewPatternMatcher(nil, cfg.ExcludePatterns)
		for _, p := range matcher.Invalid() {
			logger.Warnf("Ignoring invalid exclude pattern %q", p)
		}
		opts.Exclude = matcher
	}
	if cfg.MaxIOPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.MaxIOPerSecond), cfg.MaxIOPerSecond)
	}
	return scanner.New(opts)
}

func newWatchdog(cfg *config.Config, s *scanner.Scanner) *diag.Watchdog {
	return diag.NewWatchdog(diag.Options{
		StallThreshold: cfg.DiagSlowScanThreshold,
		Dir:            cfg.DiagDir,
		Progress:       s.Hashed,
		Busy:           s.Active,
		FlightDump:     tracing.WriteFlightRecorder,
	})
}

func openExporter(cfg *config.Config) *output.Exporter {
	exporter, err := output.NewExporter(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
		return nil
	}
	if endpoint := exporter.Endpoint(); endpoint != "" {
		logger.Infof("Exporting reports to OTLP endpoint %s", endpoint)
	}
	return exporter
}

// storedTimes returns the timestamps a report prints. A missing key is not
// an error for a local report.
func storedTimes(ctx context.Context, cfg *config.Config) (state.KeyState, error) {
	mgr, store, err := openState(cfg)
	if err != nil {
		return state.KeyState{}, err
	}
	defer store.Close()
	st, err := mgr.Load(ctx)
	if errors.Is(err, state.ErrNoKey) {
		return state.KeyState{}, nil
	}
	return st, err
}

func runReport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	inv, err := inventorySource(cfg)()
	if err != nil {
		return err
	}
	st, err := storedTimes(ctx, cfg)
	if err != nil {
		logger.Warnf("Key state unavailable, reporting as never queried: %v", err)
	}

	var bar *progressbar.ProgressBar
	var progress func(string)
	if cfg.ShowProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Hashing files"),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		progress = func(string) { _ = bar.Add(1) }
	}
	sc := newScanner(cfg, progress)

	watchdog := newWatchdog(cfg, sc)
	watchdog.Start(ctx)
	defer watchdog.Close()

	exporter := openExporter(cfg)
	defer exporter.Shutdown()

	dst := out
	if cfg.OutputFileName != "-" {
		f, err := output.Open(cfg.OutputFileName)
		if err != nil {
			return err
		}
		defer f.Close()
		dst = f
	}

	lw := output.NewLineWriter(dst)
	var lines []output.Line
	if exporter != nil {
		lw.Observe = func(l output.Line) { lines = append(lines, l) }
	}
	gen := report.NewGenerator(report.Options{Scanner: sc})
	err = gen.Emit(ctx, lw, report.Request{
		Inventory:     inv,
		IncludeHashes: cfg.IncludeHashes,
		LastQuery:     strconv.FormatInt(st.LastQuery, 10),
		LastCron:      strconv.FormatInt(st.LastCron, 10),
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	exporter.ExportReport(lines)
	logger.Infof("Report written (%d lines, %d files hashed)", lw.Count(), sc.Hashed())
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, out io.Writer) error {
	mgr, store, err := openState(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := events.NewDispatcher()
	scheduler := events.NewScheduler(dispatcher, cfg.CronInterval)
	defer scheduler.Stop()
	subscribe(ctx, dispatcher, scheduler, mgr)

	if _, err := mgr.Load(ctx); errors.Is(err, state.ErrNoKey) {
		st, err := mgr.Activate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, st.Key)
		logger.Info("No key found, generated a new one")
	} else if err != nil {
		return err
	}
	if err := dispatcher.Fire(ctx, events.EventActivate, time.Now()); err != nil {
		return err
	}

	exporter := openExporter(cfg)
	defer exporter.Shutdown()

	sc := newScanner(cfg, nil)
	watchdog := newWatchdog(cfg, sc)
	watchdog.Start(ctx)
	defer watchdog.Close()

	srv := server.New(server.Options{
		Generator:       report.NewGenerator(report.Options{Scanner: sc}),
		State:           mgr,
		Inventory:       inventorySource(cfg),
		Dispatcher:      dispatcher,
		Exporter:        exporter,
		AllowedOrigins:  cfg.CORSOrigins,
		ReportTimeout:   cfg.ReportTimeout,
		DeepHashTimeout: cfg.DeepHashTimeout,
	})
	logger.Infof("Listening on %s", cfg.ListenAddr)
	err = srv.ListenAndServe(ctx, cfg.ListenAddr)
	_ = dispatcher.Fire(context.Background(), events.EventDeactivate, time.Now())
	return err
}

// subscribe builds the serve-mode subscription table.
func subscribe(ctx context.Context, d *events.Dispatcher, s *events.Scheduler, mgr *state.Manager) {
	d.Subscribe(events.EventActivate, func(context.Context, time.Time) error {
		s.Start(ctx)
		return nil
	})
	d.Subscribe(events.EventCronTick, func(ctx context.Context, at time.Time) error {
		err := mgr.TouchCron(ctx, at)
		if !errors.Is(err, state.ErrNoKey) {
			return err
		}
		// The key was removed by another process. Fire deactivation off the
		// tick goroutine, since stopping the scheduler waits for it.
		logger.Info("Key state removed, stopping the cron schedule")
		go func() { _ = d.Fire(context.Background(), events.EventDeactivate, at) }()
		return nil
	})
	d.Subscribe(events.EventDeactivate, func(context.Context, time.Time) error {
		s.Stop()
		return nil
	})
	d.Subscribe(events.EventReportServed, func(_ context.Context, at time.Time) error {
		logger.Debugf("Report served at %s", at.UTC().Format(time.RFC3339))
		return nil
	})
}

func runActivate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	mgr, store, err := openState(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	st, err := mgr.Activate(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, st.Key)
	return err
}

func runDeactivate(ctx context.Context, cfg *config.Config) error {
	mgr, store, err := openState(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return mgr.Deactivate(ctx)
}

func runNotices(ctx context.Context, cfg *config.Config, out io.Writer) error {
	st, err := storedTimes(ctx, cfg)
	if err != nil {
		return err
	}
	notices := notice.Select(st.LastQuery, time.Now(), cfg.NoticePage)
	if notices == nil {
		notices = []notice.Notice{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(notices)
}

func runDrift(cfg *config.Config, out io.Writer) error {
	if len(cfg.Args) != 2 {
		return fmt.Errorf("drift needs two report files")
	}
	old, err := parseReportFile(cfg.Args[0])
	if err != nil {
		return err
	}
	cur, err := parseReportFile(cfg.Args[1])
	if err != nil {
		return err
	}
	compared, err := drift.Compare(old, cur)
	if err != nil {
		return err
	}
	changes := []drift.Change{}
	for _, c := range compared {
		if !c.Empty() {
			changes = append(changes, c)
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(changes); err != nil {
		return err
	}
	if len(changes) > 0 {
		logger.Warnf("Drift detected in %d field(s)", len(changes))
	}
	return nil
}

func parseReportFile(path string) (*report.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rep, err := report.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}
