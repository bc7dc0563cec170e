package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// mrfTLSConfig tolerates the legacy renegotiation and self-signed/expired
// certificates hospital transparency pages are frequently served behind.
// Hospital IT vendors are not held to the same certificate hygiene as the
// rest of the web; failing closed here would simply mean most of the
// directory never gets scraped.
func mrfTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		Renegotiation:      tls.RenegotiateOnceAsClient,
	}
}

// Default returns an HTTP client with timeouts so that a dead hospital
// server doesn't hang a worker slot forever. Use for catalog validation and
// small-file fetches.
func Default() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:       mrfTLSConfig(),
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       30 * time.Second,
		},
	}
}

// ForStreaming returns a client with no overall timeout (MRF downloads can
// run long) but a ResponseHeaderTimeout so a wedged connection still fails
// fast enough for the retry loop to take over.
func ForStreaming() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:       mrfTLSConfig(),
			ResponseHeaderTimeout: 15 * time.Second,
			ExpectContinueTimeout: 5 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
