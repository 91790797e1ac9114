package parser

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/carrier-cli/internal/model"
)

// Table summaries for the checkbox-style fields on the snapshot page.
const (
	summaryOperationClassification = "Operation Classification"
	summaryCarrierOperation        = "Carrier Operation"
	summaryCargoCarried            = "Cargo Carried"
)

// ParseCarrier extracts a carrier record from a SAFER company snapshot page.
// It returns ErrNotFound when the page has no <center> container, which is
// how the registry renders an unknown MC number.
func ParseCarrier(html, mcNumber string) (*model.Carrier, error) {
	doc, err := loadDocument(html)
	if err != nil {
		return nil, err
	}
	if doc.Find("center").Length() == 0 {
		return nil, ErrNotFound
	}

	val := func(label string) string { return valueByLabel(doc, label) }

	return &model.Carrier{
		MCNumber:                mcNumber,
		DOTNumber:               val("USDOT Number:"),
		LegalName:               val("Legal Name:"),
		DBAName:                 val("DBA Name:"),
		EntityType:              val("Entity Type:"),
		Status:                  val("Operating Authority Status:"),
		Phone:                   val("Phone:"),
		PowerUnits:              val("Power Units:"),
		Drivers:                 val("Drivers:"),
		PhysicalAddress:         val("Physical Address:"),
		MailingAddress:          val("Mailing Address:"),
		ScrapedAt:               time.Now().UTC(),
		MCS150Date:              val("MCS-150 Form Date:"),
		MCS150Mileage:           val("MCS-150 Mileage (Year):"),
		OperationClassification: markedCells(doc, summaryOperationClassification),
		CarrierOperation:        markedCells(doc, summaryCarrierOperation),
		CargoCarried:            markedCells(doc, summaryCargoCarried),
		OutOfServiceDate:        val("Out of Service Date:"),
		StateCarrierID:          val("State Carrier ID Number:"),
		DUNSNumber:              val("DUNS Number:"),
	}, nil
}

// valueByLabel finds the first header cell containing label and returns
// the text of its adjacent cell. The first child node is preferred so that
// trailing footnote markup in the cell is ignored.
func valueByLabel(doc *goquery.Document, label string) string {
	var out string
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(CleanText(th.Text()), label) {
			return true
		}
		td := th.Next()
		if td.Length() == 0 {
			return false
		}
		first := td.Contents().First().Text()
		if strings.TrimSpace(first) == "" {
			first = td.Text()
		}
		out = CleanText(first)
		return false
	})
	return out
}

// markedCells collects the text next to every cell marked "X" in the table
// with the given summary attribute.
func markedCells(doc *goquery.Document, summary string) []string {
	out := []string{}
	table := doc.Find(`table[summary="` + summary + `"]`).First()
	table.Find("td").Each(func(_ int, td *goquery.Selection) {
		if strings.TrimSpace(td.Text()) != "X" {
			return
		}
		if next := td.Next(); next.Length() > 0 {
			out = append(out, CleanText(next.Text()))
		}
	})
	return out
}
