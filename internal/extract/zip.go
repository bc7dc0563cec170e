package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/nathansutton/mrfscrape/internal/archive"
	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// ExtractZIP is the ZIP-wrapping extractor. It
// classifies the fetched bytes and dispatches to the extractor for whatever
// is actually inside: an XLSX workbook (OOXML), a preferred CSV or JSON
// member, or — if the bytes aren't a ZIP at all — straight to CSV or JSON
// by leading-character inspection.
func ExtractZIP(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (Table, error) {
	raw, err := f.Fetch(ctx, h.FileURL)
	if err != nil {
		return nil, err
	}
	return extractZIPBytes(ctx, f, h, raw)
}

func extractZIPBytes(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital, raw []byte) (Table, error) {
	if !archive.LooksLikeZIP(raw) {
		return dispatchNonZIPBytes(raw, h)
	}
	if archive.IsOOXML(raw) {
		return extractXLSXBytes(raw, h)
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
		return nil, errkind.Wrap(errkind.BadZipFile, fmt.Errorf("extract: %s: zip has no members", h.FileURL))
	}
	return dispatchNonZIPBytes(member.Data, h)
}

// dispatchNonZIPBytes inspects leading characters to decide between the
// CSV and JSON extractors, matching the registry's own extension-based
// dispatch but operating on bytes already in hand.
func dispatchNonZIPBytes(raw []byte, h hospital.Hospital) (Table, error) {
	if archive.LooksLikeHTML(raw) {
		return nil, errkind.Wrap(errkind.HTMLInsteadOfData, fmt.Errorf("extract: %s: server returned HTML", h.FileURL))
	}
	if looksLikeJSON(raw) {
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, errkind.Wrap(errkind.JSONDecodeError, fmt.Errorf("extract: %s: %w", h.FileURL, err))
		}
		return extractJSONValue(v)
	}
	text := archive.DecodeText(raw)
	return parseCSVTable(text, h)
}

func looksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// extractXLSXBytes lets ExtractZIP hand an OOXML archive straight to the
// XLSX decoding path without a second network round-trip.
func extractXLSXBytes(raw []byte, h hospital.Hospital) (Table, error) {
	if looksLikeCSVMasqueradingAsXLSX(raw) {
		return extractCSVBytes(raw, h)
	}
	return extractXLSXWorkbookBytes(raw, h)
}
