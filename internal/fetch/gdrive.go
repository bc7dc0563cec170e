package fetch

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// driveFileRe matches the share-link form drive.google.com/file/d/{id}/view.
var driveFileRe = regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)/view`)
var driveIDFromUCRe = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)

// rewriteGoogleDrive rewrites a Drive "view" share link into the
// direct-download form. Non-Drive URLs pass through unchanged.
func rewriteGoogleDrive(rawURL string) string {
	m := driveFileRe.FindStringSubmatch(rawURL)
	if m == nil {
		return rawURL
	}
	id := m[1]
	return "https://drive.google.com/uc?export=download&id=" + id
}

// isDriveVirusScanPage reports whether body is the HTML interstitial Google
// serves instead of file bytes for large or flagged files: an HTML page
// whose confirmation form carries a uuid field.
func isDriveVirusScanPage(body []byte) bool {
	if !looksLikeHTML(body) {
		return false
	}
	_, ok := confirmFormParams(body)["uuid"]
	return ok
}

// confirmFormParams walks every hidden <input name=... value=...> on the
// page using an HTML tokenizer (rather than regexing raw bytes) so layout
// changes to Google's interstitial markup don't silently break extraction.
func confirmFormParams(body []byte) map[string]string {
	params := make(map[string]string)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return params
		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := z.TagName()
			if string(name) != "input" {
				continue
			}
			var fieldName, fieldValue string
			for attrs {
				var key, val []byte
				key, val, attrs = z.TagAttr()
				switch string(key) {
				case "name":
					fieldName = string(val)
				case "value":
					fieldValue = string(val)
				}
			}
			if fieldName != "" {
				params[fieldName] = fieldValue
			}
		}
	}
}

// driveConfirmedURL extracts the confirm/uuid parameters from the
// virus-scan page and builds the URL that actually streams the file bytes.
func driveConfirmedURL(rawURL string, body []byte) (string, bool) {
	id, idOK := driveIDFromAny(rawURL)
	params := confirmFormParams(body)
	if pid, ok := params["id"]; ok && pid != "" {
		id = pid
		idOK = true
	}
	if !idOK {
		return "", false
	}
	uuid := params["uuid"]
	confirm := params["confirm"]
	if confirm == "" {
		confirm = "t"
	}
	if uuid == "" {
		return "", false
	}
	var b strings.Builder
	b.WriteString("https://drive.usercontent.google.com/download?id=")
	b.WriteString(id)
	b.WriteString("&export=download&confirm=")
	b.WriteString(confirm)
	b.WriteString("&uuid=")
	b.WriteString(uuid)
	return b.String(), true
}

func driveIDFromAny(rawURL string) (string, bool) {
	if m := driveFileRe.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	if m := driveIDFromUCRe.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	return "", false
}
