// Package archive provides the decoder-level helpers shared by every format
// extractor: text encoding fallback, CSV delimiter sniffing, ZIP probing and
// OOXML classification, and the system-unzip fallback for compression
// methods Go's archive/zip can't read.
package archive

import (
	"bytes"
	"log"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeText tries utf-8, cp1252, latin-1, iso-8859-1 in that fixed order
// and returns the first successful decode. A UTF-16 byte-order mark is
// honored before the chain runs — some vendor MRFs are exported UTF-16 —
// since UTF-16 bytes would otherwise survive the cp1252 decode as NUL-ridden
// garbage. cp1252 and latin-1 essentially never fail since every byte maps
// to a rune, so in practice this is "valid UTF-8, else windows-1252". The
// very last resort, reached only if every named encoding inexplicably
// errors, is UTF-8 with the Unicode replacement character.
func DecodeText(raw []byte) string {
	if HasUTF16BOM(raw) {
		if s, err := DecodeUTF16(raw); err == nil {
			return s
		}
	}
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, utf8BOM))
	}
	for _, dec := range []struct {
		name string
		dec  func([]byte) (string, error)
	}{
		{"cp1252", decodeCharmap(charmap.Windows1252)},
		{"latin-1", decodeCharmap(charmap.ISO8859_1)},
		{"iso-8859-1", decodeCharmap(charmap.ISO8859_1)},
	} {
		if s, err := dec.dec(raw); err == nil {
			return s
		}
	}
	log.Printf("archive: no configured encoding matched, falling back to UTF-8 with replacement")
	return strings.ToValidUTF8(string(raw), "�")
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeCharmap(cm *charmap.Charmap) func([]byte) (string, error) {
	return func(raw []byte) (string, error) {
		out, err := cm.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// utf16BOMDecoder honors the BOM, so it handles both endiannesses.
var utf16BOMDecoder = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)

// HasUTF16BOM reports whether raw begins with a UTF-16 byte-order mark.
func HasUTF16BOM(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF})
}

// DecodeUTF16 decodes a BOM-prefixed UTF-16 buffer to a string.
func DecodeUTF16(raw []byte) (string, error) {
	out, err := utf16BOMDecoder.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
