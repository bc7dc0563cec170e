// Package registry implements the extractor registry: a
// single select_extractor lookup that applies, in order, an explicit
// override, a CCN table, a URL-pattern table, an IDN label table, and a
// file-extension fallback. It is intentionally a flat ordered list rather
// than a class hierarchy — new vendor quirks slot in as one-line entries.
package registry

import (
	"context"
	"regexp"
	"strings"

	"github.com/nathansutton/mrfscrape/internal/extract"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// Extractor is the uniform signature every format extractor implements.
type Extractor func(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (extract.Table, error)

// Name identifies an extractor independent of the function value, so it can
// be logged, compared in tests, and used as an explicit hospital.ScraperType.
type Name string

const (
	CSV  Name = "CSV"
	JSON Name = "JSON"
	XLSX Name = "XLSX"
	ZIP  Name = "ZIP"
	None Name = ""
)

var byName = map[Name]Extractor{
	CSV:  extract.ExtractCSV,
	JSON: extract.ExtractJSON,
	XLSX: extract.ExtractXLSX,
	ZIP:  extract.ExtractZIP,
}

// urlRule is one entry in the URL-pattern table: pattern matched
// case-insensitively, either as a substring or (if re is non-nil) a regex.
type urlRule struct {
	substr string
	re     *regexp.Regexp
	name   Name
}

// urlTable is a closed set of known vendor URL shapes; order matters,
// first match wins.
var urlTable = []urlRule{
	{re: regexp.MustCompile(`(?i)claraprice\.net.*machine-readable`), name: JSON},
	{re: regexp.MustCompile(`(?i)craneware\.com/api-pricing-transparency`), name: CSV},
	{substr: "sthpiprd.blob.core.windows.net", name: CSV},
	{substr: "pricetransparency.accureg.net", name: CSV},
	{substr: "uhsfilecdn.eskycity.net", name: CSV},
	{substr: "encompasshealth.com", name: CSV},
	{substr: "edge.sitecorecloud.io/encompasshee", name: CSV},
	{substr: "resources.selectmedical.com", name: CSV},
	{substr: "panaceainc.com", name: ZIP},
	{re: regexp.MustCompile(`(?i)sun(behavioral|delaware)\.com.*\.xlsx`), name: XLSX},
	{substr: "www.hcadam.com/api/public/content", name: JSON},
	{substr: "machine-readable-files.com", name: CSV},
	{re: regexp.MustCompile(`(?i)centaurihs\.com/ptapp/api/cdm/export`), name: CSV},
	{substr: "res.cloudinary.com/dpmykpsih", name: CSV},
	{substr: "apps.para-hcfs.com", name: CSV},
	{substr: "hospitalpricedisclosure.com", name: JSON},
	{substr: "drive.google.com", name: CSV},
}

// ccnTable is reserved for per-hospital patches; empty by default.
var ccnTable = map[string]Name{}

// idnTable maps a catalog row's IDN label to an extractor for hospital
// systems that consistently serve one format across all their facilities.
var idnTable = map[string]Name{
	"Covenant Health":    CSV,
	"Memorial":           JSON,
	"Tennova Healthcare": CSV,
	"Parkridge":          JSON,
	"Mission Health":     JSON,
}

// Select applies the five dispatch rules in priority order, returning
// None if nothing matches — a valid, observable "no extractor" outcome.
func Select(h hospital.Hospital) Name {
	if n := explicitName(h.ScraperType); n != None {
		return n
	}
	if n, ok := ccnTable[strings.ToUpper(h.CCN)]; ok {
		return n
	}
	if n, ok := matchURL(h.FileURL); ok {
		return n
	}
	if n, ok := idnTable[h.IDN]; ok {
		return n
	}
	return formatFallback(h.Type)
}

// Lookup resolves a hospital record directly to an Extractor function, or
// (nil, false) if the registry has no match.
func Lookup(h hospital.Hospital) (Extractor, Name, bool) {
	name := Select(h)
	if name == None {
		return nil, None, false
	}
	ex, ok := byName[name]
	return ex, name, ok
}

func explicitName(s string) Name {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CSV":
		return CSV
	case "JSON":
		return JSON
	case "XLSX", "XLS":
		return XLSX
	case "ZIP":
		return ZIP
	}
	return None
}

func matchURL(url string) (Name, bool) {
	if url == "" {
		return None, false
	}
	lower := strings.ToLower(url)
	for _, rule := range urlTable {
		if rule.re != nil {
			if rule.re.MatchString(url) {
				return rule.name, true
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(rule.substr)) {
			return rule.name, true
		}
	}
	return None, false
}

// formatFallback maps a format hint to an extractor; XML is named but
// unsupported, so it maps to no extractor.
func formatFallback(f hospital.Format) Name {
	switch f {
	case hospital.FormatJSON:
		return JSON
	case hospital.FormatCSV:
		return CSV
	case hospital.FormatXLSX:
		return XLSX
	case hospital.FormatZIP:
		return ZIP
	default:
		return None
	}
}
