package model

import (
	"strings"
	"time"
)

// UnknownDOT is the placeholder some sources emit in place of a DOT number.
const UnknownDOT = "UNKNOWN"

// Carrier is a motor-carrier registration record. MCNumber is the upsert
// key for creation; DOTNumber is the key for enrichment updates.
type Carrier struct {
	MCNumber        string    `json:"mcNumber"`
	DOTNumber       string    `json:"dotNumber"`
	LegalName       string    `json:"legalName"`
	DBAName         string    `json:"dbaName"`
	EntityType      string    `json:"entityType"`
	Status          string    `json:"status"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	PowerUnits      string    `json:"powerUnits"`
	Drivers         string    `json:"drivers"`
	PhysicalAddress string    `json:"physicalAddress"`
	MailingAddress  string    `json:"mailingAddress"`
	ScrapedAt       time.Time `json:"dateScraped"`

	MCS150Date              string   `json:"mcs150Date"`
	MCS150Mileage           string   `json:"mcs150Mileage"`
	OperationClassification []string `json:"operationClassification"`
	CarrierOperation        []string `json:"carrierOperation"`
	CargoCarried            []string `json:"cargoCarried"`
	OutOfServiceDate        string   `json:"outOfServiceDate"`
	StateCarrierID          string   `json:"stateCarrierId"`
	DUNSNumber              string   `json:"dunsNumber"`

	// Enrichment attributes, populated by the insurance and safety stages.
	InsurancePolicies []InsurancePolicy `json:"insurancePolicies,omitempty"`
	SafetyRating      string            `json:"safetyRating,omitempty"`
	SafetyRatingDate  string            `json:"safetyRatingDate,omitempty"`
	BasicScores       []BasicScore      `json:"basicScores,omitempty"`
	OosRates          []OosRate         `json:"oosRates,omitempty"`
}

// HasValidDOT reports whether the record carries a DOT number usable for
// enrichment lookups.
func (c *Carrier) HasValidDOT() bool {
	return ValidDOT(c.DOTNumber)
}

// ValidDOT reports whether dot is non-empty and not the UNKNOWN placeholder.
func ValidDOT(dot string) bool {
	d := strings.TrimSpace(dot)
	return d != "" && !strings.EqualFold(d, UnknownDOT)
}

// ApplySafety merges a safety profile into the record.
func (c *Carrier) ApplySafety(s *SafetyRecord) {
	if s == nil {
		return
	}
	c.SafetyRating = s.Rating
	c.SafetyRatingDate = s.RatingDate
	c.BasicScores = s.BasicScores
	c.OosRates = s.OosRates
}

// SearchCarriers returns the records whose MC number, legal name, or DOT
// number contains term, case-insensitively. An empty term returns all.
func SearchCarriers(carriers []Carrier, term string) []Carrier {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return carriers
	}
	var out []Carrier
	for _, c := range carriers {
		if strings.Contains(strings.ToLower(c.MCNumber), term) ||
			strings.Contains(strings.ToLower(c.LegalName), term) ||
			strings.Contains(strings.ToLower(c.DOTNumber), term) {
			out = append(out, c)
		}
	}
	return out
}
