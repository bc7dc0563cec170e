package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// ExtractXLSX is the XLSX extractor: it is a decoder
// in front of the CSV extractor, not a peer — it reads the first worksheet
// into an all-strings grid, re-serializes it to CSV text, and hands that to
// the same row-recognition logic extractCSVBytes uses. Some vendor URLs
// advertise .xlsx but actually serve CSV bytes; that case is short-circuited
// before ever touching excelize.
func ExtractXLSX(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (Table, error) {
	raw, err := f.Fetch(ctx, h.FileURL)
	if err != nil {
		return nil, err
	}
	if looksLikeCSVMasqueradingAsXLSX(raw) {
		return extractCSVBytes(raw, h)
	}
	return extractXLSXWorkbookBytes(raw, h)
}

// extractXLSXWorkbookBytes reads raw as an XLSX workbook already in hand —
// shared by ExtractXLSX (after fetching) and ExtractZIP (after unwrapping
// an OOXML archive, avoiding a second network round-trip).
func extractXLSXWorkbookBytes(raw []byte, h hospital.Hospital) (Table, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errkind.Wrap(errkind.ParserError, fmt.Errorf("extract: %s: open xlsx: %w", h.FileURL, err))
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errkind.Wrap(errkind.NoCharges, fmt.Errorf("extract: %s: workbook has no sheets", h.FileURL))
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, errkind.Wrap(errkind.ParserError, fmt.Errorf("extract: %s: read sheet %s: %w", h.FileURL, sheets[0], err))
	}

	csvText, err := rowsToCSV(rows)
	if err != nil {
		return nil, errkind.Wrap(errkind.ParserError, err)
	}
	return parseCSVTable(csvText, h)
}

// looksLikeCSVMasqueradingAsXLSX detects a CSV payload wrongly served with
// an .xlsx URL: a UTF-8 BOM, a leading double-quote, or a printable-dense,
// comma-bearing leading byte run with no ZIP magic.
func looksLikeCSVMasqueradingAsXLSX(raw []byte) bool {
	if bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) {
		return true
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '"' {
		return true
	}
	if bytes.HasPrefix(raw, []byte{'P', 'K', 0x03, 0x04}) {
		return false
	}
	lead := trimmed
	if len(lead) > 256 {
		lead = lead[:256]
	}
	if !utf8.Valid(lead) {
		return false
	}
	printable := 0
	for _, r := range string(lead) {
		if r >= 0x20 && r < 0x7f {
			printable++
		}
	}
	density := float64(printable) / float64(utf8.RuneCountInString(string(lead)))
	return density > 0.95 && bytes.ContainsRune(lead, ',')
}

// rowsToCSV serializes an all-strings grid back to CSV text so the existing
// CSV row-recognition logic can run over it unmodified.
func rowsToCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("extract: serialize xlsx rows: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("extract: serialize xlsx rows: %w", err)
	}
	return buf.String(), nil
}

