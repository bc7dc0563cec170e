package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New()
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestFetchPermanentErrorOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New()
	_, err := f.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFetchJSONDetectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!doctype html><html><body>down for maintenance</body></html>"))
	}))
	defer srv.Close()

	f := New()
	_, err := f.FetchJSON(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected HTML detection error")
	}
}

func TestProbeContentLengthFallsBackFromHEAD(t *testing.T) {
	body := strings.Repeat("x", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := New()
	n, err := f.ProbeContentLength(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(body)) {
		t.Errorf("ProbeContentLength = %d, want %d", n, len(body))
	}
}

func TestFetchToTempFileCleansUpOnWriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("abc"))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	t.Setenv("TMPDIR", tmpDir)

	f := New()
	path, err := f.FetchToTempFile(context.Background(), srv.URL)
	if err == nil {
		os.Remove(path)
		t.Fatal("expected an error for a body cut short of its Content-Length")
	}
	if path != "" {
		t.Fatalf("path = %q, want empty on failure", path)
	}
	if entries, _ := os.ReadDir(tmpDir); len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries[0].Name())
	}
}

func TestCheckURLReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New()
	ok, reason := f.CheckURL(context.Background(), srv.URL)
	if !ok {
		t.Fatalf("expected reachable, reason=%q", reason)
	}
}

func TestCheckURLRejectsBadScheme(t *testing.T) {
	f := New()
	ok, reason := f.CheckURL(context.Background(), "file:///etc/passwd")
	if ok {
		t.Fatal("expected unreachable for file:// scheme")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestHeaderProfileSelection(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://www.sundelaware.com/file.xlsx", nil)
	applyHeaders(req)
	if ua := req.Header.Get("User-Agent"); ua != curlUserAgent {
		t.Errorf("User-Agent = %q, want curl profile", ua)
	}

	req2, _ := http.NewRequest(http.MethodGet, "https://example.com/file.csv", nil)
	applyHeaders(req2)
	if ua := req2.Header.Get("User-Agent"); ua != desktopUserAgent {
		t.Errorf("User-Agent = %q, want desktop profile", ua)
	}
}

func TestRewriteGoogleDrive(t *testing.T) {
	in := "https://drive.google.com/file/d/1a2b3c/view?usp=sharing"
	got := rewriteGoogleDrive(in)
	want := "https://drive.google.com/uc?export=download&id=1a2b3c"
	if got != want {
		t.Errorf("rewriteGoogleDrive = %q, want %q", got, want)
	}
}

func TestRewriteGoogleDriveLeavesOtherURLsUnchanged(t *testing.T) {
	in := "https://example.com/file.csv"
	if got := rewriteGoogleDrive(in); got != in {
		t.Errorf("rewriteGoogleDrive modified non-Drive URL: %q", got)
	}
}

func TestDriveVirusScanPageDetectionAndConfirm(t *testing.T) {
	page := []byte(`<!doctype html><html><body>
		<form id="download-form" action="https://drive.usercontent.google.com/download" method="get">
		<input type="hidden" name="id" value="1a2b3c">
		<input type="hidden" name="export" value="download">
		<input type="hidden" name="confirm" value="t">
		<input type="hidden" name="uuid" value="deadbeef-1234">
		</form></body></html>`)

	if !isDriveVirusScanPage(page) {
		t.Fatal("expected page to be detected as the Drive virus-scan interstitial")
	}

	url, ok := driveConfirmedURL("https://drive.google.com/file/d/1a2b3c/view", page)
	if !ok {
		t.Fatal("expected driveConfirmedURL to succeed")
	}
	if !strings.Contains(url, "id=1a2b3c") || !strings.Contains(url, "uuid=deadbeef-1234") || !strings.Contains(url, "confirm=t") {
		t.Errorf("driveConfirmedURL = %q, missing expected params", url)
	}
}

func TestDriveVirusScanPageNotDetectedForPlainData(t *testing.T) {
	if isDriveVirusScanPage([]byte(`code,gross,cash` + "\n" + `99213,100,80`)) {
		t.Error("plain CSV bytes should not be detected as the Drive interstitial")
	}
}
