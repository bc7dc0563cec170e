// Package worker runs one hospital's full scrape pipeline inside a child
// process: incremental-skip check, extractor dispatch, fetch, extraction,
// normalization, and the output write. Everything here executes on the far
// side of the orchestrator's process boundary, so an uncaught panic or a
// wedged native parser costs exactly one hospital, never the run.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nathansutton/mrfscrape/internal/config"
	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
	"github.com/nathansutton/mrfscrape/internal/normalize"
	"github.com/nathansutton/mrfscrape/internal/registry"
	"github.com/nathansutton/mrfscrape/internal/scraperesult"
	"github.com/nathansutton/mrfscrape/internal/skipledger"
	"github.com/nathansutton/mrfscrape/internal/statuswriter"
	"github.com/nathansutton/mrfscrape/internal/vocabulary"
)

// Options configures one worker invocation.
type Options struct {
	Cfg *config.Config
	// MaxAgeDays enables the incremental skip when > 0:
	// a fresh-enough prior output file short-circuits the scrape before any
	// fetching happens.
	MaxAgeDays int
	// DryRun executes the full pipeline but writes neither the output JSONL
	// nor (in the parent) any status files.
	DryRun bool
	// Ledger is the optional sqlite pre-check for the skip decision; nil
	// disables it. The output file's mtime remains authoritative.
	Ledger *skipledger.Ledger
	// Vocab lets callers (tests, mostly) inject a pre-built index. When nil
	// the worker loads its own copy from Cfg.ConceptPath; every child pays
	// for its own load rather than sharing memory with the parent.
	Vocab *vocabulary.Index
}

// Scrape runs h's pipeline to completion and returns the result the parent
// will aggregate. It never returns an error: every failure mode is folded
// into the result's disposition/error fields.
func Scrape(ctx context.Context, opt Options, h hospital.Hospital) (result scraperesult.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = failure(h, start, errkind.Unknown, fmt.Sprintf("panic: %v", r))
		}
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now().UTC()
	}()

	outPath := opt.Cfg.OutputPath(h.State, h.CCN)
	if reason, ok := shouldSkipFresh(opt, h, outPath); ok {
		return scraperesult.Result{
			CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
			Disposition: scraperesult.Skipped,
			SkipReason:  reason,
		}
	}

	extractor, name, ok := registry.Lookup(h)
	if !ok {
		return scraperesult.Result{
			CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
			Disposition: scraperesult.Skipped,
			ErrorType:   string(errkind.NoExtractor),
			SkipReason:  "no extractor",
		}
	}

	idx := opt.Vocab
	if idx == nil {
		var err error
		idx, err = vocabulary.Load(opt.Cfg.ConceptPath())
		if err != nil {
			return failure(h, start, errkind.Unknown, err.Error())
		}
	}

	table, err := extractor(ctx, fetch.New(), h)
	if err != nil {
		return failure(h, start, errkind.Of(err), err.Error())
	}

	rows, stats := normalize.Normalize(table, idx)
	if len(rows) == 0 {
		return failure(h, start, errkind.NoCharges,
			fmt.Sprintf("extractor %s yielded %d raw rows, 0 valid charges", name, stats.InputRows))
	}

	if !opt.DryRun {
		if err := statuswriter.WriteJSONL(outPath, rows); err != nil {
			return failure(h, start, errkind.Unknown, err.Error())
		}
		if err := opt.Ledger.RecordSuccess(h.CCN, time.Now(), ""); err != nil {
			// The ledger is a pre-check, never authoritative; a write error
			// must not fail a scrape that produced good output.
			fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		}
	}

	return scraperesult.Result{
		CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
		Disposition: scraperesult.Success,
		Records:     len(rows),
	}
}

// shouldSkipFresh implements the incremental-skip check, inside the child
// and before any fetching. The ledger, when present, is
// consulted first as a cheaper pre-check; the output file's mtime decides.
func shouldSkipFresh(opt Options, h hospital.Hospital, outPath string) (string, bool) {
	if opt.MaxAgeDays <= 0 {
		return "", false
	}
	cutoff := time.Now().Add(-time.Duration(opt.MaxAgeDays) * 24 * time.Hour)

	if last := opt.Ledger.LastSuccess(h.CCN); !last.IsZero() && last.After(cutoff) {
		if info, err := os.Stat(outPath); err == nil && info.ModTime().After(cutoff) {
			return skipReason(info.ModTime()), true
		}
	}

	info, err := os.Stat(outPath)
	if err != nil || !info.ModTime().After(cutoff) {
		return "", false
	}
	return skipReason(info.ModTime()), true
}

func skipReason(mtime time.Time) string {
	days := int(time.Since(mtime).Hours() / 24)
	return fmt.Sprintf("data is %d days old", days)
}

func failure(h hospital.Hospital, start time.Time, kind errkind.Kind, msg string) scraperesult.Result {
	return scraperesult.Result{
		CCN: h.CCN, Hospital: h.Hospital, State: h.State, FileURL: h.FileURL,
		Disposition: scraperesult.Failure,
		ErrorType:   string(kind),
		ErrorMsg:    errkind.Truncate(msg),
	}
}
