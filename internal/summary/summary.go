// Package summary implements the summary aggregator:
// file-scan mode over data/<STATE>/<CCN>.jsonl plus status/<STATE>.csv for
// the attempted CCNs and their recorded dispositions, producing
// status/summary.csv and status/badge.json. File-scan mode is authoritative
// because it reflects the actual corpus — a non-empty JSONL file is
// success, an empty or missing one is failure, independent of what the
// last run's status row happened to say.
package summary

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StateSummary is one row of status/summary.csv.
type StateSummary struct {
	State       string
	Total       int
	Success     int
	Failed      int
	Skipped     int
	Records     int
	LastUpdated time.Time
}

// SuccessRate returns success/total as a fraction in [0,1], or 0 if total is 0.
func (s StateSummary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Success) / float64(s.Total)
}

// Badge is the shields.io endpoint-badge schema.
type Badge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	NamedLogo     string `json:"namedLogo"`
	CacheSeconds  int    `json:"cacheSeconds"`
}

// catalogHospital is the subset of a status row this package needs to know
// a hospital was attempted in the run, even if its data file is empty.
type catalogHospital struct {
	ccn      string
	hospital string
	fileURL  string
}

// Build scans dataDir/<STATE>/*.jsonl and statusDir/<STATE>.csv for every
// state present in either directory, and returns one StateSummary per
// state plus the overall badge.
func Build(dataDir, statusDir string) ([]StateSummary, Badge, error) {
	states, err := discoverStates(dataDir, statusDir)
	if err != nil {
		return nil, Badge{}, err
	}

	var out []StateSummary
	var totalAll, successAll int
	for _, state := range states {
		s, err := buildState(dataDir, statusDir, state)
		if err != nil {
			return nil, Badge{}, err
		}
		out = append(out, s)
		totalAll += s.Total
		successAll += s.Success
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })

	badge := buildBadge(successAll, totalAll)
	return out, badge, nil
}

func discoverStates(dataDir, statusDir string) ([]string, error) {
	seen := map[string]struct{}{}

	if entries, err := os.ReadDir(dataDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				seen[strings.ToUpper(e.Name())] = struct{}{}
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("summary: read %s: %w", dataDir, err)
	}

	if entries, err := os.ReadDir(statusDir); err == nil {
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".csv") {
				continue
			}
			state := strings.TrimSuffix(name, ".csv")
			if strings.EqualFold(state, "summary") {
				continue
			}
			seen[strings.ToUpper(state)] = struct{}{}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("summary: read %s: %w", statusDir, err)
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func buildState(dataDir, statusDir, state string) (StateSummary, error) {
	hospitals, err := readStatusRows(filepath.Join(statusDir, state+".csv"))
	if err != nil {
		return StateSummary{}, err
	}

	s := StateSummary{State: state, LastUpdated: time.Now().UTC()}
	stateDataDir := filepath.Join(dataDir, state)

	// Every CCN attempted per the status CSV is scored against the on-disk
	// file, not against the status row's own disposition. The disposition is
	// only consulted for the informational skipped count, which file-scan
	// mode cannot derive from the corpus alone.
	for ccn, disposition := range hospitals {
		if disposition == "SKIPPED" {
			s.Skipped++
		}
		path := filepath.Join(stateDataDir, ccn+".jsonl")
		lines, err := countNonEmptyLines(path)
		s.Total++
		switch {
		case err != nil:
			s.Failed++
		case lines == 0:
			s.Failed++
		default:
			s.Success++
			s.Records += lines
		}
	}

	// A data file with no matching status row (e.g. a prior run's leftover
	// output after a hospital was removed from the catalog) still counts
	// toward the corpus file-scan is meant to reflect.
	if entries, err := os.ReadDir(stateDataDir); err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			ccn := strings.TrimSuffix(e.Name(), ".jsonl")
			if _, ok := hospitals[ccn]; ok {
				continue
			}
			lines, err := countNonEmptyLines(filepath.Join(stateDataDir, e.Name()))
			s.Total++
			if err == nil && lines > 0 {
				s.Success++
				s.Records += lines
			} else {
				s.Failed++
			}
		}
	}

	return s, nil
}

// readStatusRows maps each attempted CCN to its recorded disposition.
func readStatusRows(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("summary: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("summary: parse %s: %w", path, err)
	}
	out := map[string]string{}
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue // header
		}
		ccn := strings.ToUpper(strings.TrimSpace(row[1]))
		if ccn != "" {
			out[ccn] = strings.ToUpper(strings.TrimSpace(row[3]))
		}
	}
	return out, nil
}

func countNonEmptyLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

var summaryHeader = []string{
	"state", "total", "success", "failed", "skipped", "success_rate", "records", "last_updated",
}

// WriteCSV overwrites statusDir/summary.csv, atomically.
func WriteCSV(statusDir string, rows []StateSummary) error {
	path := filepath.Join(statusDir, "summary.csv")
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		return fmt.Errorf("summary: mkdir %s: %w", statusDir, err)
	}
	tmpName := filepath.Join(statusDir, ".tmp-"+uuid.NewString()+".csv")
	f, err := os.Create(tmpName)
	if err != nil {
		return fmt.Errorf("summary: create temp: %w", err)
	}
	w := csv.NewWriter(f)
	writeErr := w.Write(summaryHeader)
	if writeErr == nil {
		for _, r := range rows {
			writeErr = w.Write([]string{
				r.State,
				strconv.Itoa(r.Total),
				strconv.Itoa(r.Success),
				strconv.Itoa(r.Failed),
				strconv.Itoa(r.Skipped),
				strconv.FormatFloat(r.SuccessRate()*100, 'f', 1, 64),
				strconv.Itoa(r.Records),
				r.LastUpdated.Format(time.RFC3339),
			})
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
		return fmt.Errorf("summary: write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("summary: close %s: %w", path, closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("summary: rename into %s: %w", path, err)
	}
	return nil
}

func buildBadge(success, total int) Badge {
	pct := 0.0
	if total > 0 {
		pct = float64(success) / float64(total) * 100
	}
	return Badge{
		SchemaVersion: 1,
		Label:         "hospitals scraped",
		Message:       fmt.Sprintf("%d/%d (%s%%)", success, total, strconv.FormatFloat(pct, 'f', 1, 64)),
		Color:         badgeColor(pct),
		NamedLogo:     "data",
		CacheSeconds:  3600,
	}
}

func badgeColor(pct float64) string {
	switch {
	case pct >= 90:
		return "brightgreen"
	case pct >= 75:
		return "green"
	case pct >= 50:
		return "yellow"
	default:
		return "red"
	}
}

// WriteBadge overwrites statusDir/badge.json, atomically.
func WriteBadge(statusDir string, b Badge) error {
	path := filepath.Join(statusDir, "badge.json")
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		return fmt.Errorf("summary: mkdir %s: %w", statusDir, err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("summary: marshal badge: %w", err)
	}
	tmpName := filepath.Join(statusDir, ".tmp-"+uuid.NewString()+".json")
	if err := os.WriteFile(tmpName, data, 0o644); err != nil {
		return fmt.Errorf("summary: write temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("summary: rename into %s: %w", path, err)
	}
	return nil
}
