package scrapelog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextLoggerDeterministicFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.Event("scrape", map[string]any{"state": "VT", "ccn": "470011", "records": 4})
	line := buf.String()
	if !strings.Contains(line, "scrape ccn=470011 records=4 state=VT") {
		t.Errorf("line = %q, want sorted key order", line)
	}
}

func TestJSONLoggerEmitsValidJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)
	l.Event("scrape", map[string]any{"ccn": "470011", "records": 4})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not valid JSON: %v: %q", err, buf.String())
	}
	if rec["event"] != "scrape" || rec["ccn"] != "470011" {
		t.Errorf("record = %v", rec)
	}
}

func TestJSONLoggerPrintf(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)
	l.Printf("scraping %d hospitals", 12)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if rec["message"] != "scraping 12 hospitals" {
		t.Errorf("record = %v", rec)
	}
}
