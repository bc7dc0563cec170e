package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// itemsArrayAliases are, in priority order, the field names producers use
// for the top-level charge-items array.
var itemsArrayAliases = []string{
	"standard_charge_information", "charges", "standard_charges",
	"items", "chargemaster", "charge_information",
}

var codeContainerAliases = []string{
	"code_information", "billing_code_information", "billing_codes",
	"codes", "code_info", "billing_code",
}

var codeValueAliases = []string{"code", "billing_code", "code_value", "cpt", "hcpcs"}

var codeTypeAliases = []string{"type", "code_type", "billing_code_type", "code_system"}

var grossAliases = []string{
	"gross_charge", "gross", "gross_charges", "standard_charge",
	"charge", "list_price", "chargemaster_price", "maximum",
}

var cashAliases = []string{
	"discounted_cash", "discounted_cash_price", "cash", "cash_price",
	"self_pay", "self_pay_price", "minimum", "cash_discount",
}

var validJSONCodeTypes = map[string]Vocabulary{
	"CPT":   VocabCPT,
	"CPT4":  VocabCPT,
	"HCPCS": VocabHCPCS,
	"HCPC":  VocabHCPCS,
}

// ExtractJSON is the CMS JSON extractor: it tolerates
// field-name drift across producers via ordered alias lists and, above the
// streaming threshold, probes candidate item-array paths with an
// incremental tokenizer instead of buffering the whole document.
func ExtractJSON(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (Table, error) {
	size, err := f.ProbeContentLength(ctx, h.FileURL)
	if err == nil && size > fetch.StreamThreshold {
		return extractJSONStreaming(ctx, f, h)
	}
	v, err := f.FetchJSON(ctx, h.FileURL)
	if err != nil {
		return nil, err
	}
	return extractJSONValue(v)
}

// extractJSONValue implements the in-memory path shared by both the small
// and the streaming-probe-failed fallback case.
func extractJSONValue(v any) (Table, error) {
	items := findChargesArray(v)
	if len(items) == 0 {
		return nil, nil
	}
	var out Table
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, extractJSONItem(item)...)
	}
	return out, nil
}

// findChargesArray locates the items array by walking itemsArrayAliases,
// falling back to the root itself when it is already a list of item-shaped
// objects.
func findChargesArray(v any) []any {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			if first, ok := t[0].(map[string]any); ok {
				if looksLikeChargeItem(first) {
					return t
				}
				for _, alias := range itemsArrayAliases {
					if nested, ok := first[alias].([]any); ok {
						return nested
					}
				}
			}
		}
		return t
	case map[string]any:
		for _, alias := range itemsArrayAliases {
			if arr, ok := t[alias].([]any); ok {
				return arr
			}
		}
		for _, alias := range itemsArrayAliases {
			if nested, ok := t[alias].(map[string]any); ok {
				for _, inner := range itemsArrayAliases {
					if arr, ok := nested[inner].([]any); ok {
						return arr
					}
				}
			}
		}
	}
	return nil
}

func looksLikeChargeItem(m map[string]any) bool {
	for _, alias := range codeContainerAliases {
		if _, ok := m[alias]; ok {
			return true
		}
	}
	_, hasCode := m["code"]
	_, hasDesc := m["description"]
	return hasCode || hasDesc
}

func firstMatch(m map[string]any, aliases []string) (any, bool) {
	for _, a := range aliases {
		if v, ok := m[a]; ok {
			return v, true
		}
	}
	return nil, false
}

// extractJSONItem extracts every (code, vocabulary) pair from one charge
// item plus the gross/cash prices: the item's own code-container first,
// then a direct code field, each paired with prices from the item itself
// or its standard_charges array.
func extractJSONItem(item map[string]any) Table {
	codes := jsonItemCodes(item)
	if len(codes) == 0 {
		return nil
	}
	gross, cash := jsonItemPrices(item)

	out := make(Table, 0, len(codes))
	for _, c := range codes {
		out = append(out, Row{Vocabulary: c.vocab, Code: c.code, Gross: gross, Cash: cash})
	}
	return out
}

func jsonItemCodes(item map[string]any) []codeHit {
	var hits []codeHit
	raw, ok := firstMatch(item, codeContainerAliases)
	var containers []any
	switch t := raw.(type) {
	case []any:
		containers = t
	case map[string]any:
		containers = []any{t}
	}
	if ok {
		for _, c := range containers {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if hit, ok := codeHitFrom(cm); ok {
				hits = append(hits, hit)
			}
		}
	}
	if len(hits) == 0 {
		if hit, ok := codeHitFrom(item); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}

func codeHitFrom(m map[string]any) (codeHit, bool) {
	codeVal, ok := firstMatch(m, codeValueAliases)
	if !ok || codeVal == nil {
		return codeHit{}, false
	}
	code := strings.TrimSpace(fmt.Sprint(codeVal))
	if code == "" {
		return codeHit{}, false
	}
	typeVal, _ := firstMatch(m, codeTypeAliases)
	codeType := strings.ToUpper(strings.ReplaceAll(fmt.Sprint(typeVal), "-", ""))
	vocab, ok := validJSONCodeTypes[codeType]
	if !ok {
		return codeHit{}, false
	}
	return codeHit{code: code, vocab: vocab}, true
}

func jsonItemPrices(item map[string]any) (*float64, *float64) {
	gross := jsonNumericField(item, grossAliases)
	cash := jsonNumericField(item, cashAliases)

	if sc, ok := item["standard_charges"].([]any); ok {
		for _, entry := range sc {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if gross == nil {
				gross = jsonNumericField(m, grossAliases)
			}
			if cash == nil {
				cash = jsonNumericField(m, cashAliases)
			}
		}
	}
	return gross, cash
}

func jsonNumericField(m map[string]any, aliases []string) *float64 {
	v, ok := firstMatch(m, aliases)
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return ptr(n)
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return ptr(f)
		}
	case string:
		if f, ok := parsePrice(n); ok {
			return ptr(f)
		}
	}
	return nil
}

// candidateItemPaths are the top-level keys probed, in priority order,
// when streaming a large JSON document; the trailing "" entry covers a
// root-level array.
var candidateItemPaths = append(append([]string{}, itemsArrayAliases...), "")

// extractJSONStreaming tokenizes the document incrementally, probing
// candidate item-array paths in priority order; the first path whose array
// yields a decodable first item is used for the whole file. If no probe
// succeeds the extractor falls back to a full in-memory parse.
func extractJSONStreaming(ctx context.Context, f *fetch.Fetcher, h hospital.Hospital) (Table, error) {
	path, err := f.FetchToTempFile(ctx, h.FileURL)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	for _, alias := range candidateItemPaths {
		table, ok, err := streamItemsAtPath(path, alias)
		if err != nil {
			return nil, err
		}
		if ok {
			return table, nil
		}
	}

	// No probe succeeded; fall back to a full in-memory parse.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, fmt.Errorf("extract: read temp file: %w", err))
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errkind.Wrap(errkind.JSONDecodeError, fmt.Errorf("extract: %s: %w", h.FileURL, err))
	}
	return extractJSONValue(v)
}

// streamItemsAtPath reopens the file and tokenizes looking for the named
// top-level key (or, when alias is "", a root-level array); it decodes each
// array element individually rather than the whole array at once.
func streamItemsAtPath(path, alias string) (Table, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, false, nil
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, false, nil
	}

	switch delim {
	case '[':
		if alias != "" {
			return nil, false, nil
		}
		return decodeItemArray(dec)
	case '{':
		if alias == "" {
			return nil, false, nil
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, false, nil
			}
			key, _ := keyTok.(string)
			if key != alias {
				if err := dec.Decode(new(json.RawMessage)); err != nil {
					return nil, false, nil
				}
				continue
			}
			arrTok, err := dec.Token()
			if err != nil {
				return nil, false, nil
			}
			if d, ok := arrTok.(json.Delim); !ok || d != '[' {
				return nil, false, nil
			}
			return decodeItemArray(dec)
		}
	}
	return nil, false, nil
}

// decodeItemArray reads [-terminated array elements one at a time; the
// first decoded item must look like a charge item or the whole path is
// rejected so the caller moves on to the next candidate.
func decodeItemArray(dec *json.Decoder) (Table, bool, error) {
	var out Table
	first := true
	for dec.More() {
		var item map[string]any
		if err := dec.Decode(&item); err != nil {
			if first {
				return nil, false, nil
			}
			return nil, false, errkind.Wrap(errkind.JSONDecodeError, err)
		}
		if first {
			first = false
			if !looksLikeChargeItem(item) {
				return nil, false, nil
			}
		}
		out = append(out, extractJSONItem(item)...)
	}
	if first {
		// An empty array yields no first item, so this path is not used.
		return nil, false, nil
	}
	return out, true, nil
}

