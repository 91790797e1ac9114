package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sells-group/carrier-cli/internal/model"
)

const notSpecified = "NOT SPECIFIED"

// Field aliases observed across insurance payload variants, in priority order.
var (
	carrierAliases  = []string{"name_company", "insurance_company", "insurance_company_name", "company_name"}
	policyAliases   = []string{"policy_no", "policy_number", "pol_num"}
	coverageAliases = []string{"max_cov_amount", "coverage_to", "coverage_amount"}
)

var (
	typeCodes  = map[string]string{"1": "BI&PD", "2": "CARGO", "3": "BOND"}
	classCodes = map[string]string{"P": "PRIMARY", "E": "EXCESS"}
)

var currencyPrinter = message.NewPrinter(language.English)

// InsuranceResult is the normalized insurance lookup for one DOT number.
// Raw keeps the source payload for callers that archive it.
type InsuranceResult struct {
	Policies []model.InsurancePolicy `json:"policies"`
	Raw      json.RawMessage         `json:"raw,omitempty"`
}

// ParseInsurance normalizes an insurance filings payload into policies. The
// payload is either a bare array or an object with a "data" array.
func ParseInsurance(payload []byte, dot string) ([]model.InsurancePolicy, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, eris.Wrap(err, "parser: decode insurance payload")
	}

	var items []any
	switch v := root.(type) {
	case []any:
		items = v
	case map[string]any:
		if arr, ok := v["data"].([]any); ok {
			items = arr
		}
	}

	policies := make([]model.InsurancePolicy, 0, len(items))
	for _, item := range items {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		policies = append(policies, normalizePolicy(p, dot))
	}
	return policies, nil
}

func normalizePolicy(p map[string]any, dot string) model.InsurancePolicy {
	effective := model.NotAvailable
	if v, ok := firstTruthy(p, "effective_date"); ok {
		effective = strings.SplitN(v, " ", 2)[0]
	}

	insType := model.NotAvailable
	if v, ok := firstTruthy(p, "ins_type_code"); ok {
		insType = v
	}
	if mapped, ok := typeCodes[insType]; ok {
		insType = mapped
	}

	class := model.NotAvailable
	if v, ok := firstTruthy(p, "ins_class_code"); ok {
		class = strings.ToUpper(v)
	}
	if mapped, ok := classCodes[class]; ok {
		class = mapped
	}

	return model.InsurancePolicy{
		DOT:            dot,
		Carrier:        strings.ToUpper(valueOr(p, notSpecified, carrierAliases...)),
		PolicyNumber:   strings.ToUpper(valueOr(p, model.NotAvailable, policyAliases...)),
		EffectiveDate:  effective,
		CoverageAmount: FormatCoverage(valueOr(p, model.NotAvailable, coverageAliases...)),
		Type:           strings.ToUpper(insType),
		Class:          class,
	}
}

// FormatCoverage renders a coverage amount as a dollar string. Numeric
// amounts below 10,000 are taken to be in thousands. Non-numeric values
// pass through unchanged.
func FormatCoverage(raw string) string {
	if raw == model.NotAvailable {
		return raw
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	if n > 0 && n < 10000 {
		n *= 1000
	}
	return "$" + currencyPrinter.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(3)))
}

func valueOr(p map[string]any, def string, keys ...string) string {
	if v, ok := firstTruthy(p, keys...); ok {
		return v
	}
	return def
}

// firstTruthy returns the first key whose value is present and non-empty.
// Zero, false, and empty strings count as absent.
func firstTruthy(p map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case json.Number:
			if f, err := v.Float64(); err == nil && f != 0 {
				return v.String(), true
			}
		case bool:
			if v {
				return "true", true
			}
		case nil:
		default:
			b, err := json.Marshal(v)
			if err == nil {
				return string(b), true
			}
		}
	}
	return "", false
}
