package archive

import "strings"

var candidateDelimiters = []rune{',', '|', '\t', ';'}

// DetectDelimiter samples the first ~10 lines of text and picks the
// delimiter whose per-line field count is both present and most stable
// across those lines. Ties default to comma.
func DetectDelimiter(text string) rune {
	lines := sampleLines(text, 10)
	if len(lines) == 0 {
		return ','
	}

	bestDelim := ','
	bestScore := -1.0
	for _, d := range candidateDelimiters {
		counts := make([]int, 0, len(lines))
		for _, line := range lines {
			counts = append(counts, strings.Count(line, string(d)))
		}
		score := stabilityScore(counts)
		// Prefer the incumbent comma on an exact tie, so only a strictly
		// better score displaces it.
		if score > bestScore {
			bestScore = score
			bestDelim = d
		}
	}
	return bestDelim
}

// stabilityScore rewards a delimiter that appears a consistent, non-zero
// number of times on every sampled line: the mean count penalized by the
// variance across lines.
func stabilityScore(counts []int) float64 {
	if len(counts) == 0 {
		return -1
	}
	var sum, zero int
	for _, c := range counts {
		sum += c
		if c == 0 {
			zero++
		}
	}
	if zero == len(counts) {
		return -1
	}
	mean := float64(sum) / float64(len(counts))
	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	return mean - variance
}

func sampleLines(text string, n int) []string {
	all := strings.Split(text, "\n")
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, 0, len(all))
	for _, l := range all {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// LooksLikeHTML checks the leading bytes of a supposedly-data payload for an
// HTML doctype or tag.
func LooksLikeHTML(raw []byte) bool {
	trimmed := strings.TrimSpace(string(firstN(raw, 512)))
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

func firstN(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
