package care

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

type PersonRepository interface {
	// EmailTaken reports whether any person other than exceptID uses email.
	EmailTaken(ctx context.Context, email string, exceptID int64) (bool, error)
}

type PractitionerRepository interface {
	Create(ctx context.Context, p *Practitioner) error
	GetByID(ctx context.Context, id int64) (*Practitioner, error)
	// GetByIDs returns the practitioners that exist among ids, ordered by id.
	GetByIDs(ctx context.Context, ids []int64) ([]*Practitioner, error)
	List(ctx context.Context, limit, offset int) ([]*Practitioner, error)
	Update(ctx context.Context, p *Practitioner) error
	Delete(ctx context.Context, id int64) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
}

// LinkRepository is the association registry. Both directions are answered
// from the same pairs, so they cannot disagree.
type LinkRepository interface {
	// Link is idempotent.
	Link(ctx context.Context, practitionerID, patientID int64) error
	Unlink(ctx context.Context, practitionerID, patientID int64) error
	UnlinkPractitioner(ctx context.Context, practitionerID int64) error
	UnlinkPatient(ctx context.Context, patientID int64) error
	// PatientIDs maps each practitioner to its linked patient ids, ascending.
	PatientIDs(ctx context.Context, practitionerIDs []int64) (map[int64][]int64, error)
	// PractitionerIDs maps each patient to its linked practitioner ids, ascending.
	PractitionerIDs(ctx context.Context, patientIDs []int64) (map[int64][]int64, error)
}

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	// Find returns every record with recordID under patientID. More than one
	// result means the schema invariant is broken.
	Find(ctx context.Context, patientID, recordID int64) ([]*Record, error)
	// ByPatients maps each patient to its records ordered by id.
	ByPatients(ctx context.Context, patientIDs []int64) (map[int64][]*Record, error)
	Delete(ctx context.Context, id int64) error
	DeleteByPatient(ctx context.Context, patientID int64) error
}

// Repositories bundles the storage the service needs.
type Repositories struct {
	Persons       PersonRepository
	Practitioners PractitionerRepository
	Patients      PatientRepository
	Links         LinkRepository
	Records       RecordRepository
}
