package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/carrier-cli/internal/model"
)

// defaultMeasure is reported for a BASIC category with an empty cell.
const defaultMeasure = "0.00"

// ParseSafety extracts a safety profile from an SMS complete-profile page.
func ParseSafety(html string) (*model.SafetyRecord, error) {
	doc, err := loadDocument(html)
	if err != nil {
		return nil, err
	}

	rec := &model.SafetyRecord{
		Rating:      model.NotAvailable,
		RatingDate:  model.NotAvailable,
		BasicScores: []model.BasicScore{},
		OosRates:    []model.OosRate{},
	}

	if el := doc.Find("#Rating").First(); el.Length() > 0 {
		rec.Rating = CleanText(el.Text())
	}
	if el := doc.Find("#RatingDate").First(); el.Length() > 0 {
		d := CleanText(el.Text())
		d = strings.Replace(d, "Rating Date:", "", 1)
		d = strings.Replace(d, "(", "", 1)
		d = strings.Replace(d, ")", "", 1)
		rec.RatingDate = strings.TrimSpace(d)
	}

	doc.Find("tr.sumData").First().Find("td").Each(func(i int, td *goquery.Selection) {
		if i >= len(model.BasicCategories) {
			return
		}
		text := td.Text()
		if span := td.Find("span.val").First(); span.Length() > 0 {
			text = span.Text()
		}
		measure := CleanText(text)
		if measure == "" {
			measure = defaultMeasure
		}
		rec.BasicScores = append(rec.BasicScores, model.BasicScore{
			Category: model.BasicCategories[i],
			Measure:  measure,
		})
	})

	doc.Find("#SafetyRating").Find("table").First().Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cols := tr.Find("th, td")
		if cols.Length() < 3 {
			return
		}
		rec.OosRates = append(rec.OosRates, model.OosRate{
			Type:        CleanText(cols.Eq(0).Text()),
			Rate:        CleanText(cols.Eq(1).Text()),
			NationalAvg: CleanText(cols.Eq(2).Text()),
		})
	})

	return rec, nil
}
