// Package extract implements the format-dispatch extraction engine
//: one extractor per producer family, all yielding the
// same four-column intermediate table. Extractors never filter by
// vocabulary or de-duplicate — that is internal/normalize's job.
package extract

// Vocabulary is the procedure-code system a Row's Code belongs to, before
// normalization validates it against the loaded vocabulary index.
type Vocabulary string

const (
	VocabCPT   Vocabulary = "cpt"
	VocabHCPCS Vocabulary = "hcpcs"
)

// Row is one entry in an extractor's intermediate table: a raw code paired
// with whatever gross/cash figures were found on the same record. Gross and
// Cash are nil when the source row didn't carry that figure at all,
// distinct from a zero price.
type Row struct {
	Vocabulary Vocabulary
	Code       string
	Gross      *float64
	Cash       *float64
}

// Table is the uniform shape every extractor emits.
type Table []Row

// ptr is a small helper for building Row literals from a parsed float.
func ptr(f float64) *float64 { return &f }
