package scrape

import (
	"bytes"
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot page detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// shellMaxBytes bounds the size of a page treated as a script-only shell.
const shellMaxBytes = 2000

// bodyMarkers are checked in order; every marker in a group must appear.
var bodyMarkers = []struct {
	kind  BlockType
	all   []string
	small bool
}{
	{kind: BlockCloudflare, all: []string{"checking your browser"}},
	{kind: BlockCloudflare, all: []string{"cf-browser-verification"}},
	{kind: BlockCloudflare, all: []string{"cloudflare", "challenge"}},
	{kind: BlockCaptcha, all: []string{"g-recaptcha"}},
	{kind: BlockCaptcha, all: []string{"h-captcha"}},
	{kind: BlockCaptcha, all: []string{"please complete the captcha"}},
	{kind: BlockJSShell, all: []string{"<noscript", "enable javascript"}, small: true},
	{kind: BlockJSShell, all: []string{`meta http-equiv="refresh"`}, small: true},
}

// DetectBlock reports whether a response is an anti-bot page instead of
// the record. Challenges are often served with 200, so the body is always
// checked.
func DetectBlock(status int, header http.Header, body []byte) (bool, BlockType) {
	if edgeRejected(status, header) {
		return true, BlockCloudflare
	}

	lower := bytes.ToLower(body)
	for _, m := range bodyMarkers {
		if m.small && len(body) >= shellMaxBytes {
			continue
		}
		if containsAll(lower, m.all) {
			return true, m.kind
		}
	}
	return false, BlockNone
}

func edgeRejected(status int, header http.Header) bool {
	if header == nil || (status != http.StatusForbidden && status != http.StatusServiceUnavailable) {
		return false
	}
	return header.Get("Cf-Ray") != "" ||
		header.Get("Cf-Cache-Status") != "" ||
		strings.EqualFold(header.Get("Server"), "cloudflare")
}

func containsAll(body []byte, needles []string) bool {
	for _, n := range needles {
		if !bytes.Contains(body, []byte(n)) {
			return false
		}
	}
	return true
}
