package model

// NotAvailable is the placeholder for a field the source did not report.
const NotAvailable = "N/A"

// BasicCategories is the fixed, ordered set of BASIC compliance categories.
// Scraped score cells map onto it positionally.
var BasicCategories = []string{
	"Unsafe Driving",
	"Crash Indicator",
	"HOS Compliance",
	"Vehicle Maintenance",
	"Controlled Substances",
	"Hazmat Compliance",
	"Driver Fitness",
}

// InsurancePolicy is one insurance filing belonging to a carrier by DOT.
type InsurancePolicy struct {
	DOT            string `json:"dot"`
	Carrier        string `json:"carrier"`
	PolicyNumber   string `json:"policyNumber"`
	EffectiveDate  string `json:"effectiveDate"`
	CoverageAmount string `json:"coverageAmount"`
	Type           string `json:"type"`
	Class          string `json:"class"`
}

// BasicScore is a single BASIC category measure.
type BasicScore struct {
	Category string `json:"category"`
	Measure  string `json:"measure"`
}

// OosRate is an out-of-service rate for one inspection type.
type OosRate struct {
	Type        string `json:"type"`
	Rate        string `json:"rate"`
	NationalAvg string `json:"nationalAvg"`
}

// SafetyRecord is a carrier's safety profile.
type SafetyRecord struct {
	Rating      string       `json:"rating"`
	RatingDate  string       `json:"ratingDate"`
	BasicScores []BasicScore `json:"basicScores"`
	OosRates    []OosRate    `json:"oosRates"`
}

// Found reports whether the profile carried an actual rating.
func (s *SafetyRecord) Found() bool {
	return s != nil && s.Rating != "" && s.Rating != NotAvailable
}
