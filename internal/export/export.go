// Package export renders carrier datasets as CSV or XLSX tables.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/carrier-cli/internal/model"
)

// Table is a header plus rows of string cells.
type Table struct {
	Header []string
	Rows   [][]string
}

var carrierColumns = []string{
	"MC",
	"DOT",
	"Legal Name",
	"Email",
	"Phone",
	"Status",
	"Physical Address",
	"MCS-150 Date",
}

var enrichedColumns = []string{
	"DOT",
	"Legal Name",
	"Safety Rating",
	"Rating Date",
	"OOS Rate",
	"Insurance Carrier",
	"Coverage",
	"Type",
}

// CarrierTable builds the registration export, one row per carrier.
func CarrierTable(carriers []model.Carrier) Table {
	t := Table{Header: carrierColumns, Rows: make([][]string, 0, len(carriers))}
	for _, c := range carriers {
		t.Rows = append(t.Rows, []string{
			c.MCNumber,
			c.DOTNumber,
			c.LegalName,
			c.Email,
			c.Phone,
			c.Status,
			c.PhysicalAddress,
			c.MCS150Date,
		})
	}
	return t
}

// EnrichedTable builds the enrichment export. Carriers with neither
// policies nor a safety rating are skipped. Each policy gets its own row;
// a carrier without policies gets a single row of N/A insurance cells.
func EnrichedTable(carriers []model.Carrier) Table {
	t := Table{Header: enrichedColumns}
	for _, c := range carriers {
		if len(c.InsurancePolicies) == 0 && c.SafetyRating == "" {
			continue
		}
		oos := model.NotAvailable
		if len(c.OosRates) > 0 && c.OosRates[0].Rate != "" {
			oos = c.OosRates[0].Rate
		}
		base := []string{c.DOTNumber, c.LegalName, orNA(c.SafetyRating), orNA(c.SafetyRatingDate), oos}

		if len(c.InsurancePolicies) == 0 {
			t.Rows = append(t.Rows, append(base, model.NotAvailable, model.NotAvailable, model.NotAvailable))
			continue
		}
		for _, p := range c.InsurancePolicies {
			row := append([]string(nil), base...)
			t.Rows = append(t.Rows, append(row, p.Carrier, p.CoverageAmount, p.Type))
		}
	}
	return t
}

func orNA(s string) string {
	if s == "" {
		return model.NotAvailable
	}
	return s
}

// WriteCSV writes t to w.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// WriteXLSX saves t as a single-sheet workbook at path.
func WriteXLSX(path, sheetName string, t Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	for _, cells := range append([][]string{t.Header}, t.Rows...) {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrap(f.Save(path), "export: save workbook")
}

// WriteFile writes t to path, choosing XLSX for a .xlsx extension and CSV
// otherwise.
func WriteFile(path string, t Table) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, "Carriers", t)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close()
	return WriteCSV(f, t)
}
