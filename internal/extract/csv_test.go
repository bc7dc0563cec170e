package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nathansutton/mrfscrape/internal/fetch"
	"github.com/nathansutton/mrfscrape/internal/hospital"
)

// cmsCSV is the CMS v2-shaped fixture behind several tests: two metadata
// rows, then the real header, then two data rows for 99213/99214.
const cmsCSV = `hospital_name,last_updated_on,version
General Hospital,2024-01-01,2.0.0
code|1,code|1|type,standard_charge|gross,standard_charge|discounted_cash
99213,CPT,100,80
99214,CPT,150,120
`

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hospitalFor(url string) hospital.Hospital {
	return hospital.Hospital{CCN: "470011", Hospital: "General Hospital", State: "VT", FileURL: url}
}

func checkCMSTable(t *testing.T, table Table) {
	t.Helper()
	if len(table) != 2 {
		t.Fatalf("rows = %d, want 2: %+v", len(table), table)
	}
	want := []struct {
		code  string
		gross float64
		cash  float64
	}{
		{"99213", 100, 80},
		{"99214", 150, 120},
	}
	for i, w := range want {
		row := table[i]
		if row.Code != w.code || row.Vocabulary != VocabCPT {
			t.Errorf("row %d = %+v, want code %s cpt", i, row, w.code)
		}
		if row.Gross == nil || *row.Gross != w.gross {
			t.Errorf("row %d gross = %v, want %v", i, row.Gross, w.gross)
		}
		if row.Cash == nil || *row.Cash != w.cash {
			t.Errorf("row %d cash = %v, want %v", i, row.Cash, w.cash)
		}
	}
}

func TestExtractCSVCMSSchema(t *testing.T) {
	srv := serveBytes(t, []byte(cmsCSV))
	table, err := ExtractCSV(context.Background(), fetch.New(), hospitalFor(srv.URL+"/prices.csv"))
	if err != nil {
		t.Fatal(err)
	}
	checkCMSTable(t, table)
}

func zipOf(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// A ZIP served with a .csv URL must be detected by magic and unwrapped
// transparently.
func TestExtractCSVZipServedAsCSV(t *testing.T) {
	srv := serveBytes(t, zipOf(t, "prices.csv", []byte(cmsCSV)))
	table, err := ExtractCSV(context.Background(), fetch.New(), hospitalFor(srv.URL+"/prices.csv"))
	if err != nil {
		t.Fatal(err)
	}
	checkCMSTable(t, table)
}

func TestExtractCSVPipeDelimitedVendorDialect(t *testing.T) {
	body := "hcpcs|description|gross_charge|cash_price\n" +
		"99213|office visit|100|80\n" +
		"99214|office visit ext|150|120\n"
	srv := serveBytes(t, []byte(body))
	table, err := ExtractCSV(context.Background(), fetch.New(), hospitalFor(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != 2 {
		t.Fatalf("rows = %d, want 2: %+v", len(table), table)
	}
	if table[0].Vocabulary != VocabHCPCS {
		t.Errorf("vocabulary = %s, want hcpcs (column name decides kind)", table[0].Vocabulary)
	}
	if table[0].Gross == nil || *table[0].Gross != 100 || table[0].Cash == nil || *table[0].Cash != 80 {
		t.Errorf("row 0 prices = %+v", table[0])
	}
}

// A row carrying both an hcpcs and a cpt value must resolve the same way
// on every run: hcpcs is first in the vendor column order.
func TestExtractCSVVendorColumnOrderDeterministic(t *testing.T) {
	body := "hcpcs,cpt,gross_charge\nJ1100,99213,100\n"
	srv := serveBytes(t, []byte(body))
	for i := 0; i < 5; i++ {
		table, err := ExtractCSV(context.Background(), fetch.New(), hospitalFor(srv.URL))
		if err != nil {
			t.Fatal(err)
		}
		if len(table) != 1 {
			t.Fatalf("rows = %d, want 1", len(table))
		}
		if table[0].Code != "J1100" || table[0].Vocabulary != VocabHCPCS {
			t.Fatalf("run %d: row = %+v, want the hcpcs column to win", i, table[0])
		}
	}
}

// A UTF-8 BOM must not change parse results.
func TestExtractCSVWithBOM(t *testing.T) {
	body := "code,description,price\n99213,visit,100\n"
	plain := serveBytes(t, []byte(body))
	bom := serveBytes(t, append([]byte{0xEF, 0xBB, 0xBF}, body...))

	f := fetch.New()
	t1, err := ExtractCSV(context.Background(), f, hospitalFor(plain.URL))
	if err != nil {
		t.Fatal(err)
	}
	t2, err := ExtractCSV(context.Background(), f, hospitalFor(bom.URL))
	if err != nil {
		t.Fatal(err)
	}
	if len(t1) != 1 || len(t2) != 1 {
		t.Fatalf("rows = %d/%d, want 1/1", len(t1), len(t2))
	}
	if t1[0].Code != t2[0].Code || *t1[0].Gross != *t2[0].Gross {
		t.Errorf("BOM changed result: %+v vs %+v", t1[0], t2[0])
	}
}

func TestExtractCSVHTMLIsPermanentFailure(t *testing.T) {
	srv := serveBytes(t, []byte("<!doctype html><html><body>moved</body></html>"))
	_, err := ExtractCSV(context.Background(), fetch.New(), hospitalFor(srv.URL))
	if err == nil {
		t.Fatal("expected HTML detection failure")
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct{ in, want string }{
		{"code | 1 | type", "code|1|type"},
		{"code|1|type", "code|1|type"},
		{"code |1| type", "code|1|type"},
		{"  standard_charge | gross ", "standard_charge|gross"},
	}
	for _, tt := range tests {
		if got := normalizeHeader(tt.in); got != tt.want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecideHeaderSkip(t *testing.T) {
	tests := []struct {
		name  string
		delim rune
		first string
		want  int
	}{
		{"pipe dialect", '|', "hcpcs|gross", 0},
		{"service_code header", ',', "service_code,price", 0},
		{"hcpcs header", ',', "HCPCS,Gross Charge", 0},
		{"cms metadata", ',', "hospital_name,last_updated_on", 2},
		{"plain", ',', "code,price", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decideHeaderSkip(tt.delim, tt.first); got != tt.want {
				t.Errorf("decideHeaderSkip = %d, want %d", got, tt.want)
			}
		})
	}
}

// A column named standard_charge_negotiated_gross is rejected by the
// "negotiated" exclusion even though it contains "gross"; this mirrors the
// documented upstream behavior and must not be "fixed".
func TestGrossCashColumnPicker(t *testing.T) {
	tests := []struct {
		col       string
		wantGross bool
		wantCash  bool
	}{
		{"standard_charge|gross", true, false},
		{"gross_charge", true, false},
		{"price", true, false},
		{"amount", true, false},
		{"standard_charge_negotiated_gross", false, false},
		{"discounted_cash", false, true},
		{"self_pay_price", false, true},
		{"cash price", false, true},
	}
	for _, tt := range tests {
		lower := tt.col
		if got := isGrossColumn(lower); got != tt.wantGross {
			t.Errorf("isGrossColumn(%q) = %v, want %v", tt.col, got, tt.wantGross)
		}
		if got := isCashColumn(lower); got != tt.wantCash {
			t.Errorf("isCashColumn(%q) = %v, want %v", tt.col, got, tt.wantCash)
		}
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,234.56", 1234.56, true},
		{"100", 100, true},
		{" 80.5 ", 80.5, true},
		{"N/A", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePrice(tt.in)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parsePrice(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExtractCSVExplicitColumnHints(t *testing.T) {
	body := "charge_code,list,discount\n99213,100,80\n"
	srv := serveBytes(t, []byte(body))
	h := hospitalFor(srv.URL)
	h.Code = "charge_code"
	h.Gross = "list"
	h.Cash = "discount"
	table, err := ExtractCSV(context.Background(), fetch.New(), h)
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != 1 {
		t.Fatalf("rows = %d, want 1", len(table))
	}
	if table[0].Code != "99213" || table[0].Gross == nil || *table[0].Gross != 100 ||
		table[0].Cash == nil || *table[0].Cash != 80 {
		t.Errorf("row = %+v", table[0])
	}
}
