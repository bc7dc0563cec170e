// Command mrfscrape fetches hospital price-transparency files for every
// hospital in the dim/urls catalog, normalizes CPT4/HCPCS prices into
// data/<STATE>/<CCN>.jsonl, and writes per-state status tables plus a
// summary and badge under status/.
//
// The same binary is both the orchestrator and the worker: the parent
// re-execs itself with -worker once per hospital so a wedged parse can be
// killed at the process boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nathansutton/mrfscrape/internal/config"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
	"github.com/nathansutton/mrfscrape/internal/orchestrator"
	"github.com/nathansutton/mrfscrape/internal/registry"
	"github.com/nathansutton/mrfscrape/internal/scrapelog"
	"github.com/nathansutton/mrfscrape/internal/scrapemetrics"
	"github.com/nathansutton/mrfscrape/internal/scraperesult"
	"github.com/nathansutton/mrfscrape/internal/skipledger"
	"github.com/nathansutton/mrfscrape/internal/statuswriter"
	"github.com/nathansutton/mrfscrape/internal/summary"
	"github.com/nathansutton/mrfscrape/internal/worker"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Printf("load .env: %v", err)
	}
	cfg := config.Load()

	state := flag.String("state", "", "Scrape only this two-letter state")
	ccn := flag.String("ccn", "", "Scrape only this CCN (six characters)")
	validateOnly := flag.Bool("validate-only", false, "Check catalog URL accessibility; scrape nothing")
	dryRun := flag.Bool("dry-run", false, "Run the full pipeline but write no data or status files")
	maxAgeDays := flag.Int("max-age-days", cfg.MaxAgeDays, "Skip hospitals whose output is newer than this many days (0 disables)")
	parallel := flag.Int("parallel", cfg.Parallel, "Concurrent worker processes")
	timeoutSecs := flag.Int("timeout", int(cfg.TaskTimeout.Seconds()), "Per-hospital hard timeout in seconds")
	jsonLogs := flag.Bool("json-logs", cfg.JSONLogs, "Emit one JSON object per log line")
	verbose := flag.Bool("verbose", false, "Forward worker stderr chatter to the log")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Serve Prometheus /metrics on this address (empty disables)")
	ledgerPath := flag.String("skip-ledger", cfg.SkipLedgerPath, "Optional sqlite skip-ledger path (empty disables)")
	workerMode := flag.Bool("worker", false, "Internal: run as a single-hospital worker child")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *workerMode {
		os.Exit(runWorker(ctx, cfg, *state, *ccn, *maxAgeDays, *dryRun, *ledgerPath))
	}

	logger := scrapelog.Stdout(*jsonLogs)
	hospitals := loadCatalog(cfg, *state, *ccn)

	if *validateOnly {
		os.Exit(runValidate(ctx, logger, hospitals))
	}

	os.Exit(runScrape(ctx, cfg, logger, hospitals, runOptions{
		dryRun:      *dryRun,
		maxAgeDays:  *maxAgeDays,
		parallel:    *parallel,
		taskTimeout: time.Duration(*timeoutSecs) * time.Second,
		verbose:     *verbose,
		jsonLogs:    *jsonLogs,
		metricsAddr: *metricsAddr,
		ledgerPath:  *ledgerPath,
	}))
}

// loadCatalog reads the requested catalog slice, treating an unknown state
// or CCN as a fatal configuration error.
func loadCatalog(cfg *config.Config, state, ccn string) []hospital.Hospital {
	var hospitals []hospital.Hospital
	var err error
	if state != "" {
		hospitals, err = hospital.LoadState(cfg.UrlsDir(), state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mrfscrape: unknown state %q: %v\n", state, err)
			os.Exit(2)
		}
	} else {
		hospitals, err = hospital.LoadAll(cfg.UrlsDir())
		if err != nil {
			fmt.Fprintf(os.Stderr, "mrfscrape: load catalog: %v\n", err)
			os.Exit(2)
		}
	}
	if ccn != "" {
		hospitals = hospital.FilterCCN(hospitals, ccn)
		if len(hospitals) == 0 {
			fmt.Fprintf(os.Stderr, "mrfscrape: unknown CCN %q\n", ccn)
			os.Exit(2)
		}
	}
	return hospitals
}

// runWorker is the child side of the process boundary: scrape exactly one
// hospital and print the result as the last line of stdout for the parent
// to parse.
func runWorker(ctx context.Context, cfg *config.Config, state, ccn string, maxAgeDays int, dryRun bool, ledgerPath string) int {
	if state == "" || ccn == "" {
		fmt.Fprintln(os.Stderr, "mrfscrape: -worker requires -state and -ccn")
		return 2
	}
	hospitals, err := hospital.LoadState(cfg.UrlsDir(), state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfscrape: worker: %v\n", err)
		return 2
	}
	hospitals = hospital.FilterCCN(hospitals, ccn)
	if len(hospitals) == 0 {
		fmt.Fprintf(os.Stderr, "mrfscrape: worker: CCN %s not in state %s\n", ccn, state)
		return 2
	}

	ledger, err := skipledger.Open(ledgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfscrape: worker: %v (continuing without ledger)\n", err)
	}
	defer ledger.Close()

	result := worker.Scrape(ctx, worker.Options{
		Cfg:        cfg,
		MaxAgeDays: maxAgeDays,
		DryRun:     dryRun,
		Ledger:     ledger,
	}, hospitals[0])

	line, err := orchestrator.EncodeWorkerResult(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfscrape: worker: encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(line))
	return 0
}

// runValidate is the --validate-only path: probe every catalog URL and
// report accessibility without scraping anything.
func runValidate(ctx context.Context, logger scrapelog.Logger, hospitals []hospital.Hospital) int {
	f := fetch.New()
	inaccessible := 0
	for _, h := range hospitals {
		ok, reason := f.CheckURL(ctx, h.FileURL)
		fields := map[string]any{"ccn": h.CCN, "state": h.State, "url": h.FileURL, "accessible": ok}
		if !ok {
			fields["reason"] = reason
			inaccessible++
		}
		logger.Event("validate", fields)
	}
	logger.Printf("validated %d URLs, %d inaccessible", len(hospitals), inaccessible)
	if inaccessible > 0 {
		return 1
	}
	return 0
}

type runOptions struct {
	dryRun      bool
	maxAgeDays  int
	parallel    int
	taskTimeout time.Duration
	verbose     bool
	jsonLogs    bool
	metricsAddr string
	ledgerPath  string
}

func runScrape(ctx context.Context, cfg *config.Config, logger scrapelog.Logger, hospitals []hospital.Hospital, opt runOptions) int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mrfscrape: locate own executable: %v\n", err)
		return 2
	}

	metrics := scrapemetrics.New()
	go scrapemetrics.Serve(ctx, opt.metricsAddr)
	for _, h := range hospitals {
		metrics.ExtractorSelectedTotal.WithLabelValues(string(registry.Select(h))).Inc()
	}

	logLine := func(line string) {
		if !opt.verbose && strings.HasPrefix(line, "[") {
			return // worker stderr chatter; only the result lines matter
		}
		logger.Printf("%s", line)
	}

	logger.Printf("scraping %d hospitals (parallel=%d timeout=%s dry-run=%v)",
		len(hospitals), opt.parallel, opt.taskTimeout, opt.dryRun)

	byState := orchestrator.Run(ctx, orchestrator.Config{
		Exe:         exe,
		Args:        workerArgs(opt),
		Parallel:    opt.parallel,
		TaskTimeout: opt.taskTimeout,
		LogLine:     logLine,
	}, hospitals)
	orchestrator.SweepTempFiles()

	for _, results := range byState {
		for _, r := range results {
			outcome := strings.ToLower(string(r.Disposition))
			metrics.TasksTotal.WithLabelValues(outcome).Inc()
			metrics.TaskDurationSeconds.WithLabelValues(outcome).Observe(r.Duration.Seconds())
		}
	}

	if !opt.dryRun {
		for state, results := range byState {
			path := filepath.Join(cfg.StatusDir, strings.ToUpper(state)+".csv")
			if err := statuswriter.WriteStatusCSV(path, results); err != nil {
				logger.Printf("write status: %v", err)
			}
		}
		if rows, badge, err := summary.Build(cfg.DataDir, cfg.StatusDir); err != nil {
			logger.Printf("build summary: %v", err)
		} else {
			if err := summary.WriteCSV(cfg.StatusDir, rows); err != nil {
				logger.Printf("write summary: %v", err)
			}
			if err := summary.WriteBadge(cfg.StatusDir, badge); err != nil {
				logger.Printf("write badge: %v", err)
			}
		}
	}

	printRunSummary(logger, byState)
	if orchestrator.AnyFailure(byState) {
		return 1
	}
	return 0
}

// workerArgs builds the argv the parent passes when re-execing itself as a
// single-hospital worker.
func workerArgs(opt runOptions) orchestrator.ArgsFor {
	return func(h hospital.Hospital) []string {
		args := []string{
			"-worker",
			"-state", h.State,
			"-ccn", h.CCN,
			"-max-age-days", strconv.Itoa(opt.maxAgeDays),
			"-skip-ledger", opt.ledgerPath,
		}
		if opt.dryRun {
			args = append(args, "-dry-run")
		}
		return args
	}
}

// printRunSummary emits the end-of-run block: per-state
// counts plus overall totals and success rate.
func printRunSummary(logger scrapelog.Logger, byState map[string][]scraperesult.Result) {
	var total, success, failed, skipped int
	for state, results := range byState {
		var s, f, k int
		for _, r := range results {
			switch r.Disposition {
			case scraperesult.Success:
				s++
			case scraperesult.Skipped:
				k++
			default:
				f++
			}
		}
		logger.Event("state_summary", map[string]any{
			"state": state, "total": len(results), "success": s, "failed": f, "skipped": k,
		})
		total += len(results)
		success += s
		failed += f
		skipped += k
	}
	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total) * 100
	}
	logger.Event("run_summary", map[string]any{
		"total": total, "success": success, "failed": failed, "skipped": skipped,
		"success_rate": fmt.Sprintf("%.1f%%", rate),
	})
}
