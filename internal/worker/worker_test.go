package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nathansutton/mrfscrape/internal/config"
	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/hospital"
	"github.com/nathansutton/mrfscrape/internal/scraperesult"
	"github.com/nathansutton/mrfscrape/internal/vocabulary"
)

const cmsCSV = `hospital_name,last_updated_on,version
General Hospital,2024-01-01,2.0.0
code|1,code|1|type,standard_charge|gross,standard_charge|discounted_cash
99213,CPT,100,80
99214,CPT,150,120
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		ProjectRoot: root,
		DimDir:      root + "/dim",
		DataDir:     root + "/data",
		StatusDir:   root + "/status",
	}
}

func testVocab() *vocabulary.Index {
	return vocabulary.FromCodes([]string{"99213", "99214"})
}

func serveCSV(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeSuccessWritesJSONL(t *testing.T) {
	cfg := testConfig(t)
	srv := serveCSV(t, cmsCSV)
	h := hospital.Hospital{
		CCN: "470011", Hospital: "General Hospital", State: "VT",
		FileURL: srv.URL, ScraperType: "CSV",
	}

	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab()}, h)
	if r.Disposition != scraperesult.Success {
		t.Fatalf("result = %+v", r)
	}
	if r.Records != 4 {
		t.Errorf("records = %d, want 4", r.Records)
	}

	data, err := os.ReadFile(cfg.OutputPath("VT", "470011"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"cpt":"99213","type":"cash","price":80}
{"cpt":"99213","type":"gross","price":100}
{"cpt":"99214","type":"cash","price":120}
{"cpt":"99214","type":"gross","price":150}
`
	if string(data) != want {
		t.Errorf("output:\n%s\nwant:\n%s", data, want)
	}
}

func TestScrapeDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	srv := serveCSV(t, cmsCSV)
	h := hospital.Hospital{CCN: "470011", State: "VT", FileURL: srv.URL, ScraperType: "CSV"}

	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab(), DryRun: true}, h)
	if r.Disposition != scraperesult.Success || r.Records != 4 {
		t.Fatalf("result = %+v", r)
	}
	if _, err := os.Stat(cfg.OutputPath("VT", "470011")); !os.IsNotExist(err) {
		t.Error("dry run must not write the output file")
	}
}

func TestScrapeNoExtractorIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	h := hospital.Hospital{CCN: "470011", State: "VT", FileURL: "https://example.org/charges"}

	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab()}, h)
	if r.Disposition != scraperesult.Skipped {
		t.Fatalf("result = %+v, want SKIPPED", r)
	}
	if r.SkipReason != "no extractor" || r.ErrorType != string(errkind.NoExtractor) {
		t.Errorf("result = %+v", r)
	}
}

// Data reached the extractor but nothing survived normalization: a failure,
// not an empty success.
func TestScrapeNoChargesIsFailure(t *testing.T) {
	cfg := testConfig(t)
	srv := serveCSV(t, "code,description,price\n11111,unknown code,50\n")
	h := hospital.Hospital{CCN: "470011", State: "VT", FileURL: srv.URL, ScraperType: "CSV"}

	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab()}, h)
	if r.Disposition != scraperesult.Failure {
		t.Fatalf("result = %+v, want FAILURE", r)
	}
	if r.ErrorType != string(errkind.NoCharges) {
		t.Errorf("error_type = %q, want NoCharges", r.ErrorType)
	}
}

func TestScrapeFetchFailureCarriesKind(t *testing.T) {
	cfg := testConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	h := hospital.Hospital{CCN: "470011", State: "VT", FileURL: srv.URL, ScraperType: "CSV"}

	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab()}, h)
	if r.Disposition != scraperesult.Failure {
		t.Fatalf("result = %+v", r)
	}
	if r.ErrorType != string(errkind.PermanentHTTPError) {
		t.Errorf("error_type = %q, want PermanentHTTPError", r.ErrorType)
	}
}

func TestScrapeSkipsFreshOutput(t *testing.T) {
	cfg := testConfig(t)
	srv := serveCSV(t, cmsCSV)
	h := hospital.Hospital{CCN: "470011", State: "VT", FileURL: srv.URL, ScraperType: "CSV"}

	// First pass writes the output.
	r := Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab()}, h)
	if r.Disposition != scraperesult.Success {
		t.Fatalf("first pass = %+v", r)
	}

	// Second pass with an age window must skip before fetching.
	r = Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab(), MaxAgeDays: 7}, h)
	if r.Disposition != scraperesult.Skipped {
		t.Fatalf("second pass = %+v, want SKIPPED", r)
	}
	if !strings.Contains(r.SkipReason, "days old") {
		t.Errorf("skip reason = %q", r.SkipReason)
	}

	// Stale output scrapes again.
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(cfg.OutputPath("VT", "470011"), old, old); err != nil {
		t.Fatal(err)
	}
	r = Scrape(context.Background(), Options{Cfg: cfg, Vocab: testVocab(), MaxAgeDays: 7}, h)
	if r.Disposition != scraperesult.Success {
		t.Errorf("stale pass = %+v, want SUCCESS", r)
	}
}
