// Package parser extracts carrier, email, safety, and insurance records
// from raw source documents. Functions here are pure: no network, no state.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a document lacks the record container.
var ErrNotFound = eris.New("parser: record not found")

// CleanText collapses non-breaking spaces and whitespace runs into single
// spaces and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

func loadDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "parser: load document")
	}
	return doc, nil
}
