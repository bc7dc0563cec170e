// Package orchestrator implements the scrape orchestrator: per-hospital
// task isolation via OS subprocess, a bounded worker pool, per-state
// result aggregation, and the orchestrator side of the incremental-skip
// policy. Task isolation is the only way to recover from a native parser
// wedged on malformed input — no goroutine-level cancellation can
// interrupt that, so every hospital runs in its own child process,
// terminated and then killed on timeout.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/hospital"
	"github.com/nathansutton/mrfscrape/internal/scraperesult"
)

// ArgsFor builds the argv (excluding argv[0]) the parent uses to re-exec
// itself as a single-hospital worker for h.
type ArgsFor func(h hospital.Hospital) []string

// Config configures one orchestrator run.
type Config struct {
	// Exe is the path to this program's own executable (os.Executable()),
	// re-invoked once per hospital in worker mode.
	Exe string
	// Args builds the worker-mode argv for a given hospital.
	Args ArgsFor
	// Parallel bounds the number of concurrently running child processes.
	// 1 runs strictly sequentially with the same isolation policy.
	Parallel int
	// TaskTimeout is the per-hospital hard timeout (default 1200s upstream
	// in internal/config; Config itself applies no default).
	TaskTimeout time.Duration
	// LogLine receives each line a child writes to stderr (prefixed with its
	// CCN) and the one-line result per hospital, for the caller to route
	// through internal/scrapelog. Child stdout is kept for the result and
	// not forwarded. A nil LogLine
	// falls back to the standard logger.
	LogLine func(string)
}

// Run executes every hospital in hospitals (in no particular order), each
// in its own child process bounded by Config.TaskTimeout, with up to
// Config.Parallel running at once. It returns results bucketed by state;
// submission order is not preserved.
func Run(ctx context.Context, cfg Config, hospitals []hospital.Hospital) map[string][]scraperesult.Result {
	parallel := cfg.Parallel
	if parallel < 1 {
		parallel = 1
	}

	sem := make(chan struct{}, parallel)
	var mu sync.Mutex
	byState := make(map[string][]scraperesult.Result)
	var wg sync.WaitGroup

	for _, h := range hospitals {
		h := h
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			result := runOne(ctx, cfg, h)
			mu.Lock()
			byState[h.State] = append(byState[h.State], result)
			mu.Unlock()
			logOneLine(cfg, result)
		}()
	}
	wg.Wait()

	for state := range byState {
		sort.Slice(byState[state], func(i, j int) bool {
			return byState[state][i].CCN < byState[state][j].CCN
		})
	}
	return byState
}

// runOne runs a single hospital's child process to completion and turns
// its outcome into a scraperesult.Result, synthesizing one when the child
// was killed or exited without printing a parseable result.
func runOne(ctx context.Context, cfg Config, h hospital.Hospital) scraperesult.Result {
	start := time.Now()
	args := cfg.Args(h)
	outcome := runChild(ctx, cfg.Exe, args, cfg.TaskTimeout, h.CCN, cfg.LogLine)
	duration := time.Since(start)

	if outcome.Killed {
		return scraperesult.Result{
			CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
			Disposition: scraperesult.Failure,
			ErrorType:   string(errkind.TimeoutError),
			ErrorMsg:    fmt.Sprintf("worker exceeded %s timeout", cfg.TaskTimeout),
			Duration:    duration,
			CompletedAt: time.Now().UTC(),
		}
	}

	result, ok := parseWorkerResult(outcome.Stdout)
	if !ok {
		errMsg := "worker produced no parseable result"
		if outcome.Err != nil {
			errMsg = outcome.Err.Error()
		}
		return scraperesult.Result{
			CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
			Disposition: scraperesult.Failure,
			ErrorType:   string(errkind.WorkerCrashed),
			ErrorMsg:    errkind.Truncate(errMsg),
			Duration:    duration,
			CompletedAt: time.Now().UTC(),
		}
	}
	// The child doesn't know its own wall-clock duration as seen by the
	// parent (it only timed its own pipeline); the parent's measurement,
	// inclusive of process startup, is authoritative for the status row.
	result.Duration = duration
	return result
}

// parseWorkerResult reads the result line a worker prints to stdout: the
// last JSON line carrying a result wins, so incidental stdout noise (a
// library that writes a banner, say) can't corrupt the result as long as
// the worker's own result line is written last.
func parseWorkerResult(stdout []byte) (scraperesult.Result, bool) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line[0] != '{' {
			continue
		}
		var wr workerResultWire
		if err := json.Unmarshal([]byte(line), &wr); err != nil {
			continue
		}
		if wr.CCN == "" {
			continue
		}
		return wr.toResult(), true
	}
	return scraperesult.Result{}, false
}

// workerResultWire mirrors scraperesult.Result with an explicit duration
// encoding (nanoseconds as int64, matching time.Duration's underlying
// type) so the parent and child agree on the wire shape independent of
// either side's internal representation changing.
type workerResultWire struct {
	CCN         string `json:"ccn"`
	Hospital    string `json:"hospital"`
	State       string `json:"state"`
	FileURL     string `json:"file_url"`
	Disposition string `json:"disposition"`
	Records     int    `json:"records"`
	ErrorType   string `json:"error_type"`
	ErrorMsg    string `json:"error_message"`
	SkipReason  string `json:"skip_reason"`
	DurationNS  int64  `json:"duration_ns"`
}

func (w workerResultWire) toResult() scraperesult.Result {
	return scraperesult.Result{
		CCN:         w.CCN,
		Hospital:    w.Hospital,
		State:       w.State,
		FileURL:     w.FileURL,
		Disposition: scraperesult.Disposition(w.Disposition),
		Records:     w.Records,
		ErrorType:   w.ErrorType,
		ErrorMsg:    w.ErrorMsg,
		SkipReason:  w.SkipReason,
		Duration:    time.Duration(w.DurationNS),
		CompletedAt: time.Now().UTC(),
	}
}

// EncodeWorkerResult is the child-side counterpart to parseWorkerResult:
// it marshals r to the wire shape the parent scans for, a single line of
// JSON ready to be the last thing printed to stdout.
func EncodeWorkerResult(r scraperesult.Result) ([]byte, error) {
	wire := workerResultWire{
		CCN:         r.CCN,
		Hospital:    r.Hospital,
		State:       r.State,
		FileURL:     r.FileURL,
		Disposition: string(r.Disposition),
		Records:     r.Records,
		ErrorType:   r.ErrorType,
		ErrorMsg:    r.ErrorMsg,
		SkipReason:  r.SkipReason,
		DurationNS:  int64(r.Duration),
	}
	return json.Marshal(wire)
}

func logOneLine(cfg Config, r scraperesult.Result) {
	line := fmt.Sprintf("%s %s/%s: %s", r.Disposition, r.State, r.CCN, oneLineDetail(r))
	if cfg.LogLine != nil {
		cfg.LogLine(line)
		return
	}
	log.Print(line)
}

func oneLineDetail(r scraperesult.Result) string {
	switch r.Disposition {
	case scraperesult.Success:
		return fmt.Sprintf("%d records in %s", r.Records, r.Duration.Round(time.Millisecond))
	case scraperesult.Skipped:
		return r.SkipReason
	default:
		return fmt.Sprintf("%s: %s", r.ErrorType, r.ErrorMsg)
	}
}

// SweepTempFiles removes temp files left in the OS temp directory by
// workers that were killed before their own cleanup could run. Live
// children are gone by the time this runs, so any
// surviving mrfscrape-* entry is an orphan.
func SweepTempFiles() {
	patterns := []string{"mrfscrape-*", "mrfscrape-unzip-*"}
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(os.TempDir(), pat))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				log.Printf("orchestrator: sweep %s: %v", m, err)
			}
		}
	}
}

// AnyFailure reports whether any result in byState ended in FAILURE,
// driving the orchestrator's exit code.
func AnyFailure(byState map[string][]scraperesult.Result) bool {
	for _, results := range byState {
		for _, r := range results {
			if r.IsFailure() {
				return true
			}
		}
	}
	return false
}
