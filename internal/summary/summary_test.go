package summary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFixture lays out a data/status tree: one state with a good file, an
// empty file, and a status row whose data file is missing entirely.
func writeFixture(t *testing.T) (dataDir, statusDir string) {
	t.Helper()
	root := t.TempDir()
	dataDir = filepath.Join(root, "data")
	statusDir = filepath.Join(root, "status")

	tn := filepath.Join(dataDir, "TN")
	if err := os.MkdirAll(tn, 0o755); err != nil {
		t.Fatal(err)
	}
	good := "{\"cpt\":\"99213\",\"type\":\"gross\",\"price\":100}\n{\"cpt\":\"99213\",\"type\":\"cash\",\"price\":80}\n"
	if err := os.WriteFile(filepath.Join(tn, "440001.jsonl"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tn, "440002.jsonl"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		t.Fatal(err)
	}
	status := "date,ccn,hospital,status,file_url,records,error_type,error_message,duration\n" +
		"2026-08-01T12:00:00Z,440001,A,SUCCESS,https://a,2,,,1.0\n" +
		"2026-08-01T12:00:00Z,440002,B,SUCCESS,https://b,9,,,1.0\n" +
		"2026-08-01T12:00:00Z,440003,C,FAILURE,https://c,0,Timeout,slow,1200.0\n"
	if err := os.WriteFile(filepath.Join(statusDir, "TN.csv"), []byte(status), 0o644); err != nil {
		t.Fatal(err)
	}
	return dataDir, statusDir
}

// File-scan mode is authoritative: 440002's status row says SUCCESS but its
// file is empty, so it scores as failure; 440003 has no file at all.
func TestBuildFileScanAuthoritative(t *testing.T) {
	dataDir, statusDir := writeFixture(t)
	rows, badge, err := Build(dataDir, statusDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("states = %d, want 1: %+v", len(rows), rows)
	}
	s := rows[0]
	if s.State != "TN" || s.Total != 3 || s.Success != 1 || s.Failed != 2 {
		t.Errorf("summary = %+v, want TN total=3 success=1 failed=2", s)
	}
	if s.Records != 2 {
		t.Errorf("records = %d, want 2", s.Records)
	}
	if badge.Message != "1/3 (33.3%)" {
		t.Errorf("badge message = %q", badge.Message)
	}
	if badge.Color != "red" {
		t.Errorf("badge color = %q, want red", badge.Color)
	}
}

// A leftover data file with no status row still counts toward the corpus.
func TestBuildCountsOrphanDataFiles(t *testing.T) {
	dataDir, statusDir := writeFixture(t)
	orphan := filepath.Join(dataDir, "TN", "440099.jsonl")
	if err := os.WriteFile(orphan, []byte("{\"cpt\":\"99215\",\"type\":\"gross\",\"price\":1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, _, err := Build(dataDir, statusDir)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Total != 4 || rows[0].Success != 2 {
		t.Errorf("summary = %+v, want total=4 success=2", rows[0])
	}
}

func TestBadgeColors(t *testing.T) {
	tests := []struct {
		success, total int
		want           string
	}{
		{95, 100, "brightgreen"},
		{80, 100, "green"},
		{50, 100, "yellow"},
		{10, 100, "red"},
		{0, 0, "red"},
	}
	for _, tt := range tests {
		b := buildBadge(tt.success, tt.total)
		if b.Color != tt.want {
			t.Errorf("buildBadge(%d, %d).Color = %q, want %q", tt.success, tt.total, b.Color, tt.want)
		}
	}
}

func TestWriteBadgeSchema(t *testing.T) {
	statusDir := t.TempDir()
	if err := WriteBadge(statusDir, buildBadge(9, 10)); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(statusDir, "badge.json"))
	if err != nil {
		t.Fatal(err)
	}
	var b Badge
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatal(err)
	}
	if b.SchemaVersion != 1 || b.Label != "hospitals scraped" || b.NamedLogo != "data" || b.CacheSeconds != 3600 {
		t.Errorf("badge = %+v", b)
	}
	if b.Message != "9/10 (90.0%)" || b.Color != "brightgreen" {
		t.Errorf("badge = %+v", b)
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	statusDir := t.TempDir()
	dataDir, fixtureStatus := writeFixture(t)
	rows, _, err := Build(dataDir, fixtureStatus)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteCSV(statusDir, rows); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(statusDir, "summary.csv"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.HasPrefix(got, "state,total,success,failed,skipped,success_rate,records,last_updated\n") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "\nTN,3,1,2,0,33.3,2,") {
		t.Errorf("missing TN row:\n%s", got)
	}
}
