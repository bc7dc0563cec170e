package hospital

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, dir, state, body string) {
	t.Helper()
	path := filepath.Join(dir, state+".json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadStateSkipsIncompleteEntries(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "vt", `[
		{"ccn":"470011","hospital_name":"Test Medical Center","file_url":"https://example.com/mrf.csv"},
		{"ccn":"","hospital_name":"Missing CCN","file_url":"https://example.com/a.csv"},
		{"ccn":"470012","hospital_name":"Missing URL","file_url":""}
	]`)

	hs, err := LoadState(dir, "vt")
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 1 {
		t.Fatalf("got %d hospitals, want 1", len(hs))
	}
	if hs[0].CCN != "470011" {
		t.Errorf("CCN = %q", hs[0].CCN)
	}
	if hs[0].State != "VT" {
		t.Errorf("State = %q, want VT", hs[0].State)
	}
	if hs[0].Type != FormatCSV {
		t.Errorf("Type = %q, want inferred CSV", hs[0].Type)
	}
}

func TestLoadStateHonorsExplicitType(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "me", `[
		{"ccn":"200001","hospital_name":"X","file_url":"https://example.com/file?id=1","type":"json"}
	]`)

	hs, err := LoadState(dir, "me")
	if err != nil {
		t.Fatal(err)
	}
	if hs[0].Type != FormatJSON {
		t.Errorf("Type = %q, want JSON", hs[0].Type)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeCatalog(t, dir, "vt", `[{"ccn":"470011","file_url":"https://example.com/a.csv"}]`)
	writeCatalog(t, dir, "nh", `[{"ccn":"300001","file_url":"https://example.com/b.csv"}]`)

	hs, err := LoadAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 2 {
		t.Fatalf("got %d hospitals, want 2", len(hs))
	}
}

func TestFilterCCN(t *testing.T) {
	hs := []Hospital{{CCN: "470011"}, {CCN: "470012"}}
	got := FilterCCN(hs, "470012")
	if len(got) != 1 || got[0].CCN != "470012" {
		t.Fatalf("FilterCCN = %+v", got)
	}
	if got := FilterCCN(hs, ""); len(got) != 2 {
		t.Errorf("FilterCCN with empty ccn should return all, got %d", len(got))
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadState(dir, "zz"); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}
