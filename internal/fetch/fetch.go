// Package fetch is the resilient HTTP layer: retrying GETs, Google-Drive
// download-gate bypass, streaming-to-disk above a size threshold, and a
// cheap accessibility probe for catalog validation.
//
// It wraps internal/httpclient's retry/backoff engine and per-host
// semaphore rather than re-implementing them; the only policy added here is
// domain-specific (headers, URL rewrites, streaming threshold).
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/nathansutton/mrfscrape/internal/errkind"
	"github.com/nathansutton/mrfscrape/internal/httpclient"
	"github.com/nathansutton/mrfscrape/internal/safeurl"
)

// StreamThreshold is the content-length above which a response body is
// streamed to a temp file instead of buffered in memory.
const StreamThreshold = 100 * 1024 * 1024 // 100 MiB

// Fetcher performs HTTP requests against hospital-controlled servers. The
// zero value is not usable; construct with New.
type Fetcher struct {
	client *http.Client
	// streaming has no overall client timeout: a multi-gigabyte download
	// legitimately outlives Default's 60s cap, and the orchestrator's
	// per-task hard timeout already bounds the worst case. Used only by
	// FetchToTempFile.
	streaming *http.Client
	policy    httpclient.RetryPolicy
}

// New returns a Fetcher using httpclient's Default transport (legacy TLS
// tolerance, renegotiation) and the standard retry policy.
func New() *Fetcher {
	return &Fetcher{
		client:    httpclient.Default(),
		streaming: httpclient.ForStreaming(),
		policy:    httpclient.DefaultRetryPolicy,
	}
}

func (f *Fetcher) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	if !safeurl.IsHTTPOrHTTPS(rawURL) {
		return nil, errkind.Wrap(errkind.PermanentHTTPError,
			fmt.Errorf("fetch: invalid URL scheme (only http/https allowed): %s", rawURL))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConnectionError, err)
	}
	applyHeaders(req)
	return req, nil
}

func classifyDoError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "context deadline exceeded") || strings.Contains(err.Error(), "Timeout") {
		return errkind.Wrap(errkind.Timeout, err)
	}
	return errkind.Wrap(errkind.ConnectionError, err)
}

// Fetch retrieves url and returns the full response body. Google Drive
// share links are rewritten before the first request; if the response is
// the Drive virus-scan interstitial, the UUID is parsed from it and the
// real download URL is fetched in a second request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = rewriteGoogleDrive(rawURL)

	body, err := f.fetchOnce(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if isDriveVirusScanPage(body) {
		if confirmed, ok := driveConfirmedURL(rawURL, body); ok {
			return f.fetchOnce(ctx, confirmed)
		}
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := httpclient.DoWithRetry(ctx, f.client, req, f.policy)
	if err != nil {
		return nil, classifyDoError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode >= 500 && resp.StatusCode < 600) {
		return nil, errkind.Wrap(errkind.RetryableHTTPError,
			fmt.Errorf("fetch: %s: HTTP %d after retries", rawURL, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errkind.Wrap(errkind.PermanentHTTPError,
			fmt.Errorf("fetch: %s: HTTP %d", rawURL, resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConnectionError, err)
	}
	return data, nil
}

// looksLikeHTML checks the leading bytes for an HTML doctype/tag, the
// detection used whenever a supposedly-data response needs validating.
func looksLikeHTML(body []byte) bool {
	lead := bytes.TrimSpace(body)
	if len(lead) > 512 {
		lead = lead[:512]
	}
	lower := strings.ToLower(string(lead))
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}

// FetchJSON retrieves url and decodes it as JSON, tolerating a leading BOM
// and failing with HTMLInsteadOfData if the server served a page instead.
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string) (any, error) {
	body, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	if looksLikeHTML(body) {
		return nil, errkind.Wrap(errkind.HTMLInsteadOfData,
			fmt.Errorf("fetch: %s: server returned HTML", rawURL))
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, errkind.Wrap(errkind.JSONDecodeError, fmt.Errorf("fetch: %s: %w", rawURL, err))
	}
	return v, nil
}

// ProbeContentLength issues a HEAD request and returns the advertised
// Content-Length, or -1 if unknown. If the server rejects HEAD (405), it
// falls back to a streamed GET whose body is discarded after headers.
func (f *Fetcher) ProbeContentLength(ctx context.Context, rawURL string) (int64, error) {
	rawURL = rewriteGoogleDrive(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return -1, errkind.Wrap(errkind.ConnectionError, err)
	}
	applyHeaders(req)
	resp, err := f.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusMethodNotAllowed {
			return f.probeViaGet(ctx, rawURL)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
	}
	return f.probeViaGet(ctx, rawURL)
}

func (f *Fetcher) probeViaGet(ctx context.Context, rawURL string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return -1, errkind.Wrap(errkind.ConnectionError, err)
	}
	applyHeaders(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return -1, classifyDoError(err)
	}
	defer resp.Body.Close()
	if resp.ContentLength >= 0 {
		return resp.ContentLength, nil
	}
	return -1, nil
}

// guessExtension picks a temp-file suffix from the URL path, defaulting to
// .bin when nothing recognizable is present.
func guessExtension(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, ext := range []string{".csv", ".json", ".zip", ".xlsx", ".xls", ".xml"} {
		if strings.Contains(lower, ext) {
			return ext
		}
	}
	return ".bin"
}

// FetchToTempFile streams url's body to a temp file and returns its path.
// The caller owns the returned file and must remove it; on any write error
// the partial file is removed before returning.
func (f *Fetcher) FetchToTempFile(ctx context.Context, rawURL string) (string, error) {
	rawURL = rewriteGoogleDrive(rawURL)
	req, err := f.newRequest(ctx, rawURL)
	if err != nil {
		return "", err
	}
	resp, err := httpclient.DoWithRetry(ctx, f.streaming, req, f.policy)
	if err != nil {
		return "", classifyDoError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		kind := errkind.PermanentHTTPError
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = errkind.RetryableHTTPError
		}
		return "", errkind.Wrap(kind, fmt.Errorf("fetch: %s: HTTP %d", rawURL, resp.StatusCode))
	}

	tmp, err := os.CreateTemp("", "mrfscrape-*"+guessExtension(rawURL))
	if err != nil {
		return "", errkind.Wrap(errkind.Unknown, err)
	}
	path := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(path)
		return "", errkind.Wrap(errkind.ConnectionError, fmt.Errorf("fetch: streaming %s: %w", rawURL, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", errkind.Wrap(errkind.Unknown, err)
	}

	peek, err := peekFile(path)
	if err == nil && isDriveVirusScanPage(peek) {
		if confirmed, ok := driveConfirmedURL(rawURL, peek); ok {
			os.Remove(path)
			return f.FetchToTempFile(ctx, confirmed)
		}
	}
	return path, nil
}

func peekFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	return buf[:n], nil
}

// CheckURL reports whether url is reachable and, if not, a short
// human-readable reason. Used by --validate-only and by the external
// triage tooling's interface contract.
func (f *Fetcher) CheckURL(ctx context.Context, rawURL string) (bool, string) {
	if !safeurl.IsHTTPOrHTTPS(rawURL) {
		return false, "invalid URL scheme"
	}
	req, err := f.newRequest(ctx, rewriteGoogleDrive(rawURL))
	if err != nil {
		return false, "invalid URL"
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, "unreachable: " + err.Error()
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, ""
	}
	return false, "HTTP " + strconv.Itoa(resp.StatusCode)
}
