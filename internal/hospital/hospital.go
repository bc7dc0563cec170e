// Package hospital defines the input catalog record and loads it from the
// per-state URL JSON files produced by the (out-of-scope) directory-discovery
// crawler. Hospital records are read-only to the rest of the system; nothing
// in this module ever mutates a Hospital after it is loaded.
package hospital

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is an explicit data-format hint, either carried by the catalog row
// or inferred from the URL.
type Format string

const (
	FormatCSV     Format = "CSV"
	FormatJSON    Format = "JSON"
	FormatXLSX    Format = "XLSX"
	FormatXML     Format = "XML"
	FormatZIP     Format = "ZIP"
	FormatUnknown Format = ""
)

// Hospital is one hospital's catalog record: required fields (CCN, name,
// state, file URL) plus optional hints consumed by the extractor registry
// and format extractors.
type Hospital struct {
	CCN         string `json:"ccn"`
	Hospital    string `json:"hospital"`
	Address     string `json:"address,omitempty"`
	State       string `json:"state"`
	FileURL     string `json:"file_url"`
	ParentURL   string `json:"parent_url,omitempty"`
	IDN         string `json:"idn,omitempty"`
	Type        Format `json:"type,omitempty"`
	ScraperType string `json:"scraper_type,omitempty"`

	// Per-file column-mapping hints; zero values mean "let the extractor
	// decide".
	SkipRow int    `json:"skiprow,omitempty"`
	Gross   string `json:"gross,omitempty"`
	Cash    string `json:"cash,omitempty"`
	Code    string `json:"cpt,omitempty"`
}

// Identifier returns the CCN; kept as a method (rather than a bare field
// access at call sites) because the legacy NPI-based identifier from the
// original implementation was dropped — see DESIGN.md.
func (h Hospital) Identifier() string { return h.CCN }

// catalogEntry mirrors the JSON shape written by the external directory
// crawler (dim/urls/<state>.json): hospital_name/transparency_page instead
// of hospital/parent_url.
type catalogEntry struct {
	CCN               string `json:"ccn"`
	HospitalName      string `json:"hospital_name"`
	Address           string `json:"address"`
	FileURL           string `json:"file_url"`
	TransparencyPage  string `json:"transparency_page"`
	IDN               string `json:"idn"`
	Type              string `json:"type"`
	ScraperType       string `json:"scraper_type"`
	SkipRow           int    `json:"skiprow"`
	Gross             string `json:"gross"`
	Cash              string `json:"cash"`
	CPT               string `json:"cpt"`
}

// LoadState reads dim/urls/<state>.json (lowercase filename) and returns one
// Hospital per entry that carries both a CCN and a file_url. Entries missing
// either are silently skipped, matching the original loader's tolerance for
// partially-populated discovery output.
func LoadState(urlsDir, state string) ([]Hospital, error) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" {
		return nil, fmt.Errorf("hospital: state required")
	}
	path := filepath.Join(urlsDir, strings.ToLower(state)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hospital: read %s: %w", path, err)
	}
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("hospital: parse %s: %w", path, err)
	}

	out := make([]Hospital, 0, len(entries))
	for _, e := range entries {
		ccn := strings.ToUpper(strings.TrimSpace(e.CCN))
		url := strings.TrimSpace(e.FileURL)
		if ccn == "" || url == "" {
			continue
		}
		out = append(out, Hospital{
			CCN:         ccn,
			Hospital:    e.HospitalName,
			Address:     e.Address,
			State:       state,
			FileURL:     url,
			ParentURL:   e.TransparencyPage,
			IDN:         e.IDN,
			Type:        detectFormatHint(e.Type, url),
			ScraperType: e.ScraperType,
			SkipRow:     e.SkipRow,
			Gross:       e.Gross,
			Cash:        e.Cash,
			Code:        e.CPT,
		})
	}
	return out, nil
}

// LoadAll reads every dim/urls/*.json file in urlsDir.
func LoadAll(urlsDir string) ([]Hospital, error) {
	entries, err := os.ReadDir(urlsDir)
	if err != nil {
		return nil, fmt.Errorf("hospital: read dir %s: %w", urlsDir, err)
	}
	var all []Hospital
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		state := strings.TrimSuffix(e.Name(), ".json")
		hs, err := LoadState(urlsDir, state)
		if err != nil {
			return nil, err
		}
		all = append(all, hs...)
	}
	return all, nil
}

// FilterCCN returns the subset of hs whose CCN matches ccn (case-insensitive).
func FilterCCN(hs []Hospital, ccn string) []Hospital {
	ccn = strings.ToUpper(strings.TrimSpace(ccn))
	if ccn == "" {
		return hs
	}
	out := make([]Hospital, 0, 1)
	for _, h := range hs {
		if h.CCN == ccn {
			out = append(out, h)
		}
	}
	return out
}

// detectFormatHint honors an explicit type string from the catalog row, else
// falls back to a URL-extension heuristic.
// It never consults the URL-pattern table — that is the registry's job.
func detectFormatHint(explicit, url string) Format {
	if explicit != "" {
		switch strings.ToUpper(strings.TrimSpace(explicit)) {
		case "CSV":
			return FormatCSV
		case "JSON":
			return FormatJSON
		case "XLSX", "XLS":
			return FormatXLSX
		case "XML":
			return FormatXML
		case "ZIP":
			return FormatZIP
		}
	}
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".json"):
		return FormatJSON
	case strings.Contains(lower, ".csv"):
		return FormatCSV
	case strings.Contains(lower, ".xlsx"), strings.Contains(lower, ".xls"):
		return FormatXLSX
	case strings.Contains(lower, ".xml"):
		return FormatXML
	case strings.Contains(lower, ".zip"):
		return FormatZIP
	}
	return FormatUnknown
}
