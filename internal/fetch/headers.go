package fetch

import (
	"net/http"
	"strings"
)

// desktopUserAgent impersonates a current desktop browser; this is the
// default header profile for every request.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// curlUserAgent is substituted for the small allow-list of origins known to
// block browser-shaped headers.
const curlUserAgent = "curl/8.7.1"

// curlAllowlist names hosts that reject the desktop profile outright.
var curlAllowlist = []string{
	"sundelaware.com",
	"sunbehavioral.com",
}

func wantsCurlProfile(host string) bool {
	host = strings.ToLower(host)
	for _, d := range curlAllowlist {
		if strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}

// applyHeaders sets the request's User-Agent and surrounding browser-like
// headers, switching profile based on the request's destination host.
func applyHeaders(req *http.Request) {
	if wantsCurlProfile(req.URL.Host) {
		req.Header.Set("User-Agent", curlUserAgent)
		req.Header.Set("Accept", "*/*")
		return
	}
	req.Header.Set("User-Agent", desktopUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}
