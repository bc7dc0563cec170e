package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/nathansutton/mrfscrape/internal/archive"
	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// csvChunkSize bounds how many data rows are buffered into a single Table
// append when streaming a large file from disk. It doesn't change the result, only the rate at which
// memory for the growing Table is grown.
const csvChunkSize = 50_000

// validCodeTypes are the CMS-mode code_type values that select cpt/hcpcs.
var validCodeTypes = map[string]Vocabulary{
	"CPT":   VocabCPT,
	"CPT4":  VocabCPT,
	"HCPCS": VocabHCPCS,
}

// vendorCodeColumns maps a literal column name to the vocabulary it
// carries (Craneware and similar vendor dialects). Ordered: when a row
// populates more than one of these, the first match wins, so output is
// stable across runs.
var vendorCodeColumns = []struct {
	col   string
	vocab Vocabulary
}{
	{"hcpcs", VocabHCPCS},
	{"medicare_hcpcs", VocabHCPCS},
	{"cpt", VocabCPT},
	{"cpt4", VocabCPT},
}

var fiveDigitCode = regexp.MustCompile(`^\d{5}$`)

// ExtractCSV is the CMS CSV extractor: it tolerates
// the published CMS v2/v3 tabular schema plus several vendor dialects, a
// ZIP served with a .csv URL, and streams to a temp file above the
// streaming threshold.
func ExtractCSV(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (Table, error) {
	size, err := f.ProbeContentLength(ctx, h.FileURL)
	if err == nil && size > fetch.StreamThreshold {
		path, err := f.FetchToTempFile(ctx, h.FileURL)
		if err != nil {
			return nil, err
		}
		defer os.Remove(path)
		return extractCSVFromFile(path, h)
	}

	raw, err := f.Fetch(ctx, h.FileURL)
	if err != nil {
		return nil, err
	}
	return extractCSVBytes(raw, h)
}

// extractCSVBytes handles the in-memory path: ZIP-as-.csv detection, HTML
// detection, decode, and parse.
func extractCSVBytes(raw []byte, h hospital.Hospital) (Table, error) {
	raw, err := unwrapCSVZip(raw)
	if err != nil {
		return nil, err
	}
	if archive.LooksLikeHTML(raw) {
		return nil, errkind.Wrap(errkind.HTMLInsteadOfData, fmt.Errorf("extract: %s: server returned HTML", h.FileURL))
	}
	text := archive.DecodeText(raw)
	return parseCSVTable(text, h)
}

// extractCSVFromFile parses a large CSV (or ZIP-wrapped CSV) that was
// streamed to disk. The whole file is read and decoded in memory; extracted
// rows are appended to the result in chunks of csvChunkSize.
func extractCSVFromFile(path string, h hospital.Hospital) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, fmt.Errorf("extract: read temp file: %w", err))
	}
	if archive.LooksLikeZIP(raw) {
		return extractCSVBytes(raw, h)
	}
	if archive.LooksLikeHTML(raw) {
		return nil, errkind.Wrap(errkind.HTMLInsteadOfData, fmt.Errorf("extract: %s: server returned HTML", h.FileURL))
	}
	text := archive.DecodeText(raw)
	return parseCSVTableChunked(text, h)
}

// unwrapCSVZip detects a ZIP served with a .csv URL (or genuinely a .zip
// URL routed here) and extracts the preferred member's bytes; non-ZIP input
// passes through unchanged.
func unwrapCSVZip(raw []byte) ([]byte, error) {
	if !archive.LooksLikeZIP(raw) {
		return raw, nil
	}
	members, err := archive.ExtractAll(raw)
	if err != nil {
		var uc *archive.ErrUnsupportedCompression
		if !asUnsupportedCompression(err, &uc) {
			return nil, errkind.Wrap(errkind.BadZipFile, err)
		}
		members, err = archive.ExtractAllViaSystemUnzip(raw)
		if err != nil {
			return nil, errkind.Wrap(errkind.UnsupportedCompress, err)
		}
	}
	member, ok := archive.PreferredMember(members)
	if !ok {
		return nil, errkind.Wrap(errkind.BadZipFile, fmt.Errorf("extract: zip has no members"))
	}
	return member.Data, nil
}

func asUnsupportedCompression(err error, target **archive.ErrUnsupportedCompression) bool {
	uc, ok := err.(*archive.ErrUnsupportedCompression)
	if ok {
		*target = uc
	}
	return ok
}

// normalizeHeader collapses whitespace around '|' so "code | 1 | type"
// (CMS 3.0) and "code|1|type" (CMS 2.0) are indistinguishable.
func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, " | ", "|")
	h = strings.ReplaceAll(h, "| ", "|")
	h = strings.ReplaceAll(h, " |", "|")
	return strings.TrimSpace(h)
}

// decideHeaderSkip inspects the raw first line of the payload (before any
// rows are skipped) to decide how many metadata rows precede the header.
func decideHeaderSkip(delim rune, firstLine string) int {
	if delim == '|' {
		return 0
	}
	lower := strings.ToLower(firstLine)
	if strings.Contains(lower, "service_code") || strings.Contains(lower, "hcpcs") {
		return 0
	}
	if strings.Contains(lower, "hospital_name") {
		return 2
	}
	return 0
}

func parseCSVTable(text string, h hospital.Hospital) (Table, error) {
	return parseCSVImpl(text, h, -1)
}

func parseCSVTableChunked(text string, h hospital.Hospital) (Table, error) {
	return parseCSVImpl(text, h, csvChunkSize)
}

// parseCSVImpl is shared by the in-memory and streaming paths; chunkSize <=
// 0 means "no chunking, just parse everything".
func parseCSVImpl(text string, h hospital.Hospital, chunkSize int) (Table, error) {
	lines := strings.SplitN(text, "\n", 2)
	firstLine := ""
	if len(lines) > 0 {
		firstLine = lines[0]
	}
	delim := archive.DetectDelimiter(text)
	skip := decideHeaderSkip(delim, firstLine)
	if h.SkipRow > 0 {
		skip = h.SkipRow
	}

	records, err := readCSVRecords(text, delim, skip)
	if err != nil {
		// Fallback: normalize embedded CR inside fields (a bare \r that
		// survived quoting confuses the strict reader) and retry once.
		cleaned := strings.ReplaceAll(text, "\r\n", "\n")
		cleaned = strings.ReplaceAll(cleaned, "\r", "")
		records, err = readCSVRecords(cleaned, delim, skip)
		if err != nil {
			return nil, errkind.Wrap(errkind.ParserError, fmt.Errorf("extract: csv parse: %w", err))
		}
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = normalizeHeader(col)
	}
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(col)] = i
	}

	var out Table
	flush := func(rows Table) { out = append(out, rows...) }
	var pending Table
	for _, rec := range records[1:] {
		rows := extractCSVRow(rec, header, colIdx, h)
		pending = append(pending, rows...)
		if chunkSize > 0 && len(pending) >= chunkSize {
			flush(pending)
			pending = nil
		}
	}
	flush(pending)
	return out, nil
}

// readCSVRecords applies the configured delimiter and skip count with
// lenient settings: ragged rows and embedded quotes are tolerated.
func readCSVRecords(text string, delim rune, skip int) ([][]string, error) {
	allLines := strings.Split(text, "\n")
	if skip > len(allLines) {
		skip = len(allLines)
	}
	remaining := strings.Join(allLines[skip:], "\n")

	r := csv.NewReader(strings.NewReader(remaining))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// extractCSVRow applies the three code-recognition modes (CMS, vendor,
// minimal) and the gross/cash substring picker to one data row.
func extractCSVRow(rec []string, header []string, colIdx map[string]int, h hospital.Hospital) Table {
	get := func(col string) string {
		i, ok := colIdx[strings.ToLower(col)]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	codes := cmsModeCodes(get)
	if len(codes) == 0 {
		codes = vendorModeCodes(get, h)
	}
	if len(codes) == 0 {
		codes = minimalModeCodes(get, h)
	}
	if len(codes) == 0 {
		return nil
	}

	gross, cash := pickGrossCash(rec, header, h)

	out := make(Table, 0, len(codes))
	for _, c := range codes {
		out = append(out, Row{Vocabulary: c.vocab, Code: c.code, Gross: gross, Cash: cash})
	}
	return out
}

type codeHit struct {
	code  string
	vocab Vocabulary
}

// cmsModeCodes iterates code|N / code|N|type for N=1..9.
func cmsModeCodes(get func(string) string) []codeHit {
	var hits []codeHit
	for i := 1; i <= 9; i++ {
		code := get(fmt.Sprintf("code|%d", i))
		codeType := strings.ToUpper(get(fmt.Sprintf("code|%d|type", i)))
		if code == "" || codeType == "" {
			continue
		}
		vocab, ok := validCodeTypes[codeType]
		if !ok {
			continue
		}
		hits = append(hits, codeHit{code: code, vocab: vocab})
	}
	return hits
}

// vendorModeCodes checks for a literal hcpcs/medicare_hcpcs/cpt/cpt4 column
//; an explicit
// hospital.Code hint column is checked first when present.
func vendorModeCodes(get func(string) string, h hospital.Hospital) []codeHit {
	if h.Code != "" {
		if code := get(h.Code); len(code) == 5 {
			return []codeHit{{code: code, vocab: VocabCPT}}
		}
	}
	for _, vc := range vendorCodeColumns {
		code := get(vc.col)
		if len(code) == 5 {
			return []codeHit{{code: code, vocab: vc.vocab}}
		}
	}
	return nil
}

// minimalModeCodes accepts a lone "code" column of 5-digit numeric values;
// the normalizer, not this extractor, enforces vocabulary membership.
func minimalModeCodes(get func(string) string, h hospital.Hospital) []codeHit {
	code := get("code")
	if code == "" {
		return nil
	}
	if !fiveDigitCode.MatchString(code) {
		return nil
	}
	return []codeHit{{code: code, vocab: VocabCPT}}
}

// pickGrossCash applies the case-insensitive substring rules over every
// remaining column: the first numeric parse
// wins per kind. Explicit hospital.Gross/Cash column-name hints are tried
// first when present.
func pickGrossCash(rec []string, header []string, h hospital.Hospital) (*float64, *float64) {
	var gross, cash *float64

	if h.Gross != "" {
		if v, ok := findColumn(rec, header, h.Gross); ok {
			if f, ok := parsePrice(v); ok {
				gross = ptr(f)
			}
		}
	}
	if h.Cash != "" {
		if v, ok := findColumn(rec, header, h.Cash); ok {
			if f, ok := parsePrice(v); ok {
				cash = ptr(f)
			}
		}
	}

	for i, col := range header {
		if i >= len(rec) {
			break
		}
		lower := strings.ToLower(col)
		val := rec[i]

		if gross == nil && isGrossColumn(lower) {
			if f, ok := parsePrice(val); ok {
				gross = ptr(f)
			}
		}
		if cash == nil && isCashColumn(lower) {
			if f, ok := parsePrice(val); ok {
				cash = ptr(f)
			}
		}
	}
	return gross, cash
}

func findColumn(rec []string, header []string, name string) (string, bool) {
	for i, col := range header {
		if strings.EqualFold(col, name) && i < len(rec) {
			return rec[i], true
		}
	}
	return "", false
}

// isGrossColumn: gross if the column name contains gross|price|charge|amount
// and does not contain cash|discounted|negotiated.
func isGrossColumn(lower string) bool {
	if strings.Contains(lower, "cash") || strings.Contains(lower, "discounted") || strings.Contains(lower, "negotiated") {
		return false
	}
	return strings.Contains(lower, "gross") || strings.Contains(lower, "price") ||
		strings.Contains(lower, "charge") || strings.Contains(lower, "amount")
}

// isCashColumn: cash if the column name contains cash|discounted|self_pay.
func isCashColumn(lower string) bool {
	return strings.Contains(lower, "cash") || strings.Contains(lower, "discounted") || strings.Contains(lower, "self_pay")
}

func parsePrice(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
