package care

import (
	"time"
	"unicode/utf8"

	"github.com/medapp/medapp/internal/platform/apperr"
)

// MaxFieldLength bounds names, email and record titles.
const MaxFieldLength = 64

// DateLayout is the wire format of every record date.
const DateLayout = "2006-01-02"

// Kind tells practitioners and patients apart in the shared person table.
type Kind string

const (
	KindPractitioner Kind = "practitioner"
	KindPatient      Kind = "patient"
)

// Depth selects how far the serializer expands relationships.
type Depth int

const (
	// Long embeds related persons, themselves rendered Short.
	Long Depth = iota
	// Short renders related persons as id lists.
	Short
)

func (d Depth) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// Person holds the identity fields shared by practitioners and patients.
// Ids come from one sequence, so a practitioner and a patient never share
// an id.
type Person struct {
	ID        int64     `db:"id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p *Person) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"first_name", p.FirstName},
		{"last_name", p.LastName},
		{"email", p.Email},
	} {
		if f.value == "" {
			return apperr.Validation("%s must not be empty", f.name)
		}
		if utf8.RuneCountInString(f.value) > MaxFieldLength {
			return apperr.Validation("%s must be at most %d characters", f.name, MaxFieldLength)
		}
	}
	return nil
}

// Practitioner's patients are read from the care_link table, never stored
// on the struct.
type Practitioner struct {
	Person
}

// Patient's practitioners and records are read from their tables.
type Patient struct {
	Person
}

// Link is one practitioner/patient association.
type Link struct {
	PractitionerID int64
	PatientID      int64
}

// Record is a clinical entry owned by exactly one patient. A nil
// DateSymptomOffset means the symptoms are ongoing.
type Record struct {
	ID                int64      `db:"id"`
	PatientID         int64      `db:"patient_id"`
	Title             string     `db:"title"`
	Description       string     `db:"description"`
	DateDiagnosis     time.Time  `db:"date_diagnosis"`
	DateSymptomOnset  time.Time  `db:"date_symptom_onset"`
	DateSymptomOffset *time.Time `db:"date_symptom_offset"`
	CreatedAt         time.Time  `db:"created_at"`
}

func (r *Record) Validate() error {
	if r.Title == "" {
		return apperr.Validation("title must not be empty")
	}
	if utf8.RuneCountInString(r.Title) > MaxFieldLength {
		return apperr.Validation("title must be at most %d characters", MaxFieldLength)
	}
	if r.Description == "" {
		return apperr.Validation("description must not be empty")
	}
	if r.DateSymptomOffset != nil && r.DateSymptomOffset.Before(r.DateSymptomOnset) {
		return apperr.Validation("dateSymptomOffset must not precede dateSymptomOnset")
	}
	return nil
}

// PractitionerInput is the body of POST /practitioners.
type PractitionerInput struct {
	FirstName  string  `json:"firstName"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email"`
	PatientIDs []int64 `json:"patientIds"`
}

// PatientInput is the body of POST /patients.
type PatientInput struct {
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	Email           string  `json:"email"`
	PractitionerIDs []int64 `json:"practitionerIds"`
}

// RecordInput is the body of POST /patients/:id/records. Dates are
// YYYY-MM-DD strings; PatientID is optional and must match the path.
type RecordInput struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	DateDiagnosis     string `json:"dateDiagnosis"`
	DateSymptomOnset  string `json:"dateSymptomOnset"`
	DateSymptomOffset string `json:"dateSymptomOffset"`
	PatientID         *int64 `json:"patientId"`
}

// Record parses and validates the input as a record of patientID.
func (in RecordInput) Record(patientID int64) (*Record, error) {
	if in.PatientID != nil && *in.PatientID != patientID {
		return nil, apperr.Validation("patientId %d does not match patient %d", *in.PatientID, patientID)
	}

	diagnosis, err := parseDate("dateDiagnosis", in.DateDiagnosis, true)
	if err != nil {
		return nil, err
	}
	onset, err := parseDate("dateSymptomOnset", in.DateSymptomOnset, true)
	if err != nil {
		return nil, err
	}
	offset, err := parseDate("dateSymptomOffset", in.DateSymptomOffset, false)
	if err != nil {
		return nil, err
	}

	r := &Record{
		PatientID:         patientID,
		Title:             in.Title,
		Description:       in.Description,
		DateDiagnosis:     *diagnosis,
		DateSymptomOnset:  *onset,
		DateSymptomOffset: offset,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func parseDate(field, value string, required bool) (*time.Time, error) {
	if value == "" {
		if required {
			return nil, apperr.Validation("%s is required", field)
		}
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, apperr.Validation("%s must be a date in YYYY-MM-DD format", field)
	}
	return &t, nil
}
