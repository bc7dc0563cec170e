// Package statuswriter implements the data-file writer and per-state status
// emitter: one JSONL file per hospital and one CSV
// per state, both written with a temp-file-then-rename so readers never see
// a partial file. Temp names carry a uuid so concurrent writers in the
// same directory can never collide.
package statuswriter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nathansutton/mrfscrape/internal/normalize"
	"github.com/nathansutton/mrfscrape/internal/scraperesult"
)

// priceLine is the on-disk shape of one data/<STATE>/<CCN>.jsonl row.
type priceLine struct {
	CPT   string  `json:"cpt"`
	Type  string  `json:"type"`
	Price float64 `json:"price"`
}

// WriteJSONL serializes rows (already sorted and deduplicated by
// internal/normalize) to path as line-delimited JSON, replacing any
// existing file atomically. An empty rows slice still writes an empty
// file, matching "empty files count as failure" downstream in
// internal/summary rather than silently skipping the write.
func WriteJSONL(path string, rows []normalize.Row) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statuswriter: mkdir %s: %w", dir, err)
	}
	tmpName := filepath.Join(dir, ".tmp-"+uuid.NewString()+".jsonl")
	f, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("statuswriter: create temp: %w", err)
	}

	var writeErr error
	for _, r := range rows {
		line := priceLine{CPT: r.Code, Type: string(r.Kind), Price: r.Price}
		b, mErr := json.Marshal(line)
		if mErr != nil {
			writeErr = mErr
			break
		}
		b = append(b, '\n')
		if _, wErr := f.Write(b); wErr != nil {
			writeErr = wErr
			break
		}
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: close %s: %w", path, closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: rename into %s: %w", path, err)
	}
	return nil
}

// statusHeader is the fixed nine-column status schema.
var statusHeader = []string{
	"date", "ccn", "hospital", "status", "file_url",
	"records", "error_type", "error_message", "duration",
}

// WriteStatusCSV overwrites status/<STATE>.csv with one row per result,
// the fixed nine-column schema, no append history.
func WriteStatusCSV(path string, results []scraperesult.Result) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statuswriter: mkdir %s: %w", dir, err)
	}
	tmpName := filepath.Join(dir, ".tmp-"+uuid.NewString()+".csv")
	f, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("statuswriter: create temp: %w", err)
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(statusHeader)
	if writeErr == nil {
		for _, r := range results {
			writeErr = w.Write(statusRow(r))
			if writeErr != nil {
				break
			}
		}
	}
	if writeErr == nil {
		w.Flush()
		writeErr = w.Error()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: close %s: %w", path, closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statuswriter: rename into %s: %w", path, err)
	}
	return nil
}

func statusRow(r scraperesult.Result) []string {
	errMsg := r.ErrorMsg
	if r.Disposition == scraperesult.Skipped {
		errMsg = r.SkipReason
	}
	return []string{
		r.CompletedAt.UTC().Format(time.RFC3339),
		r.CCN,
		r.Hospital,
		string(r.Disposition),
		r.FileURL,
		strconv.Itoa(r.Records),
		r.ErrorType,
		truncate500(errMsg),
		strconv.FormatFloat(r.Duration.Seconds(), 'f', 3, 64),
	}
}

func truncate500(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max]
}
