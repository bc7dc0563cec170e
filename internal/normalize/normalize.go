// Package normalize implements the normalizer: it turns
// an extractor's raw intermediate table into the canonical, deduplicated
// long-form (code, kind, price) rows the rest of the system writes out.
// Extractors never filter by vocabulary or de-duplicate; that discipline
// lives here, in one place, so every producer format is held to the same
// rules.
package normalize

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/nathansutton/mrfscrape/internal/extract"
	"github.com/nathansutton/mrfscrape/internal/vocabulary"
)

// Kind is the price column a Row carries.
type Kind string

const (
	KindGross Kind = "gross"
	KindCash  Kind = "cash"
)

// Row is one canonical output record: a vocabulary-validated five-character
// code, which price column it is, and a non-negative price rounded to two
// decimal places.
type Row struct {
	Code  string
	Kind  Kind
	Price float64
}

// Stats counts what happened to the input rows, for logging and for the
// NoCharges decision at the worker boundary: a completely
// empty normalized table is a semantic failure, not a quietly empty success.
type Stats struct {
	InputRows       int
	DroppedBadVocab int
	DroppedNoMatch  int
	DroppedNoPrice  int
	DroppedBadCode  int
	OutputRows      int
}

var codePattern = regexp.MustCompile(`^[0-9A-Z]{5}$`)

var acceptedVocab = map[string]struct{}{
	"cpt": {}, "cpt4": {}, "hcpcs": {},
}

type groupKey struct {
	code string
}

type accum struct {
	gross *float64
	cash  *float64
}

// Normalize runs the full cleaning pipeline:
// leading-zero strip, vocabulary lowercasing/filtering, vocabulary-index
// join, per-code max (a code seen under both cpt and hcpcs forms a single
// group, so each (code, kind) is emitted at most once), wide-to-long
// reshape, null/non-positive
// drop with rounding, code-shape validation, and a final deterministic sort.
func Normalize(table extract.Table, idx *vocabulary.Index) ([]Row, Stats) {
	stats := Stats{InputRows: len(table)}
	groups := make(map[groupKey]*accum)
	order := make([]groupKey, 0, len(table))

	for _, row := range table {
		vocab := strings.ToLower(string(row.Vocabulary))
		if _, ok := acceptedVocab[vocab]; !ok {
			stats.DroppedBadVocab++
			continue
		}
		code := stripLeadingZero(strings.TrimSpace(row.Code))
		if idx != nil && !idx.Valid(code) {
			stats.DroppedNoMatch++
			continue
		}

		key := groupKey{code: code}
		a, ok := groups[key]
		if !ok {
			a = &accum{}
			groups[key] = a
			order = append(order, key)
		}
		a.gross = maxPtr(a.gross, row.Gross)
		a.cash = maxPtr(a.cash, row.Cash)
	}

	out := make([]Row, 0, len(order)*2)
	for _, key := range order {
		a := groups[key]
		for _, candidate := range []struct {
			kind Kind
			val  *float64
		}{
			{KindGross, a.gross},
			{KindCash, a.cash},
		} {
			if candidate.val == nil || *candidate.val <= 0 {
				stats.DroppedNoPrice++
				continue
			}
			if !codePattern.MatchString(key.code) {
				stats.DroppedBadCode++
				continue
			}
			out = append(out, Row{
				Code:  key.code,
				Kind:  candidate.kind,
				Price: round2(*candidate.val),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Kind < out[j].Kind
	})
	stats.OutputRows = len(out)
	return out, stats
}

// stripLeadingZero implements step 1: some vendors zero-pad a 5-character
// code to six, never more or less.
func stripLeadingZero(code string) string {
	if len(code) == 6 && code[0] == '0' {
		return code[1:]
	}
	return code
}

// maxPtr returns the element-wise maximum of a and b, treating a nil operand
// as absent rather than zero.
func maxPtr(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		m := math.Max(*a, *b)
		return &m
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
