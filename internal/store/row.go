package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
)

// carrierColumns lists the carriers table columns in carrierRow.args order.
var carrierColumns = []string{
	"mc_number", "dot_number", "legal_name", "dba_name", "entity_type", "status",
	"email", "phone", "power_units", "drivers", "physical_address", "mailing_address",
	"date_scraped", "mcs150_date", "mcs150_mileage",
	"operation_classification", "carrier_operation", "cargo_carried",
	"out_of_service_date", "state_carrier_id", "duns_number",
	"insurance_policies", "safety_rating", "safety_rating_date", "basic_scores", "oos_rates",
}

// carrierRow is the snake_case storage shape of a carrier. List-valued
// fields are JSON text.
type carrierRow struct {
	MCNumber                string
	DOTNumber               string
	LegalName               string
	DBAName                 string
	EntityType              string
	Status                  string
	Email                   string
	Phone                   string
	PowerUnits              string
	Drivers                 string
	PhysicalAddress         string
	MailingAddress          string
	DateScraped             time.Time
	MCS150Date              string
	MCS150Mileage           string
	OperationClassification string
	CarrierOperation        string
	CargoCarried            string
	OutOfServiceDate        string
	StateCarrierID          string
	DUNSNumber              string
	InsurancePolicies       string
	SafetyRating            string
	SafetyRatingDate        string
	BasicScores             string
	OosRates                string
}

func toCarrierRow(c model.Carrier) (carrierRow, error) {
	r := carrierRow{
		MCNumber:         c.MCNumber,
		DOTNumber:        c.DOTNumber,
		LegalName:        c.LegalName,
		DBAName:          c.DBAName,
		EntityType:       c.EntityType,
		Status:           c.Status,
		Email:            c.Email,
		Phone:            c.Phone,
		PowerUnits:       c.PowerUnits,
		Drivers:          c.Drivers,
		PhysicalAddress:  c.PhysicalAddress,
		MailingAddress:   c.MailingAddress,
		DateScraped:      c.ScrapedAt.UTC(),
		MCS150Date:       c.MCS150Date,
		MCS150Mileage:    c.MCS150Mileage,
		OutOfServiceDate: c.OutOfServiceDate,
		StateCarrierID:   c.StateCarrierID,
		DUNSNumber:       c.DUNSNumber,
		SafetyRating:     c.SafetyRating,
		SafetyRatingDate: c.SafetyRatingDate,
	}
	if r.DateScraped.IsZero() {
		r.DateScraped = now()
	}

	var err error
	if r.OperationClassification, err = jsonText(c.OperationClassification); err != nil {
		return r, err
	}
	if r.CarrierOperation, err = jsonText(c.CarrierOperation); err != nil {
		return r, err
	}
	if r.CargoCarried, err = jsonText(c.CargoCarried); err != nil {
		return r, err
	}
	if r.InsurancePolicies, err = jsonText(c.InsurancePolicies); err != nil {
		return r, err
	}
	if r.BasicScores, err = jsonText(c.BasicScores); err != nil {
		return r, err
	}
	if r.OosRates, err = jsonText(c.OosRates); err != nil {
		return r, err
	}
	return r, nil
}

func (r *carrierRow) args() []any {
	return []any{
		r.MCNumber, r.DOTNumber, r.LegalName, r.DBAName, r.EntityType, r.Status,
		r.Email, r.Phone, r.PowerUnits, r.Drivers, r.PhysicalAddress, r.MailingAddress,
		r.DateScraped, r.MCS150Date, r.MCS150Mileage,
		r.OperationClassification, r.CarrierOperation, r.CargoCarried,
		r.OutOfServiceDate, r.StateCarrierID, r.DUNSNumber,
		r.InsurancePolicies, r.SafetyRating, r.SafetyRatingDate, r.BasicScores, r.OosRates,
	}
}

func (r *carrierRow) dest() []any {
	return []any{
		&r.MCNumber, &r.DOTNumber, &r.LegalName, &r.DBAName, &r.EntityType, &r.Status,
		&r.Email, &r.Phone, &r.PowerUnits, &r.Drivers, &r.PhysicalAddress, &r.MailingAddress,
		&r.DateScraped, &r.MCS150Date, &r.MCS150Mileage,
		&r.OperationClassification, &r.CarrierOperation, &r.CargoCarried,
		&r.OutOfServiceDate, &r.StateCarrierID, &r.DUNSNumber,
		&r.InsurancePolicies, &r.SafetyRating, &r.SafetyRatingDate, &r.BasicScores, &r.OosRates,
	}
}

func (r *carrierRow) toModel() (model.Carrier, error) {
	c := model.Carrier{
		MCNumber:         r.MCNumber,
		DOTNumber:        r.DOTNumber,
		LegalName:        r.LegalName,
		DBAName:          r.DBAName,
		EntityType:       r.EntityType,
		Status:           r.Status,
		Email:            r.Email,
		Phone:            r.Phone,
		PowerUnits:       r.PowerUnits,
		Drivers:          r.Drivers,
		PhysicalAddress:  r.PhysicalAddress,
		MailingAddress:   r.MailingAddress,
		ScrapedAt:        r.DateScraped,
		MCS150Date:       r.MCS150Date,
		MCS150Mileage:    r.MCS150Mileage,
		OutOfServiceDate: r.OutOfServiceDate,
		StateCarrierID:   r.StateCarrierID,
		DUNSNumber:       r.DUNSNumber,
		SafetyRating:     r.SafetyRating,
		SafetyRatingDate: r.SafetyRatingDate,
	}
	fields := []struct {
		name string
		text string
		into any
	}{
		{"operation_classification", r.OperationClassification, &c.OperationClassification},
		{"carrier_operation", r.CarrierOperation, &c.CarrierOperation},
		{"cargo_carried", r.CargoCarried, &c.CargoCarried},
		{"insurance_policies", r.InsurancePolicies, &c.InsurancePolicies},
		{"basic_scores", r.BasicScores, &c.BasicScores},
		{"oos_rates", r.OosRates, &c.OosRates},
	}
	for _, f := range fields {
		if f.text == "" || f.text == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.text), f.into); err != nil {
			return c, eris.Wrapf(err, "store: decode %s for mc %s", f.name, r.MCNumber)
		}
	}
	if c.OperationClassification == nil {
		c.OperationClassification = []string{}
	}
	if c.CarrierOperation == nil {
		c.CarrierOperation = []string{}
	}
	if c.CargoCarried == nil {
		c.CargoCarried = []string{}
	}
	return c, nil
}

// safetyArgs returns the safety column values for a SafetyPatch.
func safetyArgs(rec *model.SafetyRecord) (rating, date, scores, rates string, err error) {
	if scores, err = jsonText(rec.BasicScores); err != nil {
		return
	}
	if rates, err = jsonText(rec.OosRates); err != nil {
		return
	}
	return rec.Rating, rec.RatingDate, scores, rates, nil
}

// jsonText encodes v as JSON text. Nil slices encode as "[]".
func jsonText[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: encode json column")
	}
	return string(b), nil
}

// userColumns lists the users table columns in userArgs order.
var userColumns = []string{
	"id", "name", "email", "role", "plan", "daily_limit", "records_extracted_today",
	"last_active", "ip_address", "is_online", "is_blocked", "password_hash",
}

func userArgs(u model.User) []any {
	return []any{
		u.ID, u.Name, model.NormalizeEmail(u.Email), string(u.Role), string(u.Plan),
		u.DailyLimit, u.RecordsExtractedToday, u.LastActive.UTC(), u.IPAddress,
		u.IsOnline, u.IsBlocked, u.PasswordHash,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (model.User, error) {
	var u model.User
	var role, plan string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &plan, &u.DailyLimit,
		&u.RecordsExtractedToday, &u.LastActive, &u.IPAddress, &u.IsOnline,
		&u.IsBlocked, &u.PasswordHash)
	u.Role = model.Role(role)
	u.Plan = model.Plan(plan)
	return u, err
}
