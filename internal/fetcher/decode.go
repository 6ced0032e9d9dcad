package fetcher

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// DecodeHTML converts an HTML body to UTF-8 using the Content-Type charset,
// a <meta charset> declaration or a BOM. Undecodable input is returned as is.
func DecodeHTML(body []byte, contentType string) []byte {
	if len(body) == 0 {
		return body
	}
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(body) {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return decoded
}
