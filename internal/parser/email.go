package parser

import (
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ParseRegistrationEmail extracts the contact email from an SMS carrier
// registration page. An obfuscated address is decoded; otherwise the
// label's sibling text is used when it looks like an email. It returns ""
// when no email is present.
func ParseRegistrationEmail(html string) (string, error) {
	doc, err := loadDocument(html)
	if err != nil {
		return "", err
	}

	var email string
	doc.Find("label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if !strings.Contains(label.Text(), "Email:") {
			return true
		}
		parent := label.Parent()
		if parent.Length() == 0 {
			return true
		}
		if enc, ok := parent.Find("[data-cfemail]").First().Attr("data-cfemail"); ok {
			email, _ = DecodeCFEmail(enc)
			return false
		}
		text := CleanText(strings.Replace(parent.Text(), "Email:", "", 1))
		if strings.Contains(text, "@") {
			email = text
			return false
		}
		return true
	})
	return email, nil
}

// DecodeCFEmail reverses the XOR email obfuscation. The first hex byte is
// the key; each remaining byte is XORed with it.
func DecodeCFEmail(encoded string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", eris.Wrap(err, "parser: decode cfemail")
	}
	if len(raw) == 0 {
		return "", eris.New("parser: empty cfemail")
	}
	key := raw[0]
	out := make([]byte, len(raw)-1)
	for i, b := range raw[1:] {
		out[i] = b ^ key
	}
	return string(out), nil
}

// EncodeCFEmail obfuscates email with key using the same scheme
// DecodeCFEmail reverses.
func EncodeCFEmail(email string, key byte) string {
	raw := make([]byte, 0, len(email)+1)
	raw = append(raw, key)
	for i := 0; i < len(email); i++ {
		raw = append(raw, email[i]^key)
	}
	return hex.EncodeToString(raw)
}
