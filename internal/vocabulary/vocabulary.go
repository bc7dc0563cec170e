// Package vocabulary loads the OHDSI Athena CPT4/HCPCS concept code index.
//
// The index is process-wide and read-only once built: every worker loads its
// own copy on startup (see internal/worker) rather than sharing memory
// with the parent. The vocabulary is tens of MB at most, a cheap price for
// keeping children fully isolated.
package vocabulary

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"strings"
)

// Index is an immutable set of valid five-character procedure codes.
type Index struct {
	codes map[string]struct{}
}

// Valid reports whether code is present in the vocabulary.
func (idx *Index) Valid(code string) bool {
	if idx == nil {
		return false
	}
	_, ok := idx.codes[code]
	return ok
}

// Len returns the number of distinct codes loaded.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.codes)
}

// wantedVocabularies restricts the OHDSI Athena CONCEPT table to the two
// vocabularies this system cares about.
var wantedVocabularies = map[string]struct{}{
	"CPT4":  {},
	"HCPCS": {},
}

// Load reads a gzipped tab-separated CONCEPT.csv.gz (OHDSI Athena schema)
// and returns an Index of concept_code values whose vocabulary_id is CPT4
// or HCPCS. The file is expected to carry a header row naming its columns;
// column order is not assumed.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("vocabulary: gunzip %s: %w", path, err)
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 8*1024*1024)

	var codeCol, vocabCol = -1, -1
	idx := &Index{codes: make(map[string]struct{}, 1<<16)}

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		fields := strings.Split(line, "\t")
		if lineNo == 1 {
			for i, h := range fields {
				switch strings.ToLower(strings.TrimSpace(h)) {
				case "concept_code":
					codeCol = i
				case "vocabulary_id":
					vocabCol = i
				}
			}
			if codeCol == -1 || vocabCol == -1 {
				return nil, fmt.Errorf("vocabulary: %s: missing concept_code/vocabulary_id columns", path)
			}
			continue
		}
		if codeCol >= len(fields) || vocabCol >= len(fields) {
			continue
		}
		vocab := strings.ToUpper(strings.TrimSpace(fields[vocabCol]))
		if _, ok := wantedVocabularies[vocab]; !ok {
			continue
		}
		code := strings.TrimSpace(fields[codeCol])
		if code == "" {
			continue
		}
		idx.codes[code] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocabulary: read %s: %w", path, err)
	}
	return idx, nil
}

// FromCodes builds an Index directly from a slice of codes; used by tests
// and by callers that already have a vocabulary in memory.
func FromCodes(codes []string) *Index {
	idx := &Index{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		idx.codes[c] = struct{}{}
	}
	return idx
}
