package care

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/medapp/medapp/internal/platform/apperr"
	"github.com/medapp/medapp/pkg/pagination"
)

const (
	relationPatients      = "patient_ids"
	relationPractitioners = "practitioner_ids"
)

// Transactor runs fn as one unit of work, committing when fn returns nil and
// rolling back otherwise. *db.TxManager implements it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the transactional mutator of the care graph. Every operation
// runs in a single transaction and returns its rendered result only after
// commit.
type Service struct {
	tx     Transactor
	repos  Repositories
	ser    *Serializer
	logger zerolog.Logger
}

func NewService(tx Transactor, repos Repositories, logger zerolog.Logger) *Service {
	return &Service{
		tx:     tx,
		repos:  repos,
		ser:    NewSerializer(RepoGraph{Repos: repos}),
		logger: logger.With().Str("component", "care").Logger(),
	}
}

// inTx runs fn in a transaction. Domain errors pass through unchanged; any
// other failure is logged and surfaced as a persistence error after the
// rollback.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	if err == nil || apperr.IsDomain(err) {
		return err
	}
	s.logger.Error().Err(err).Str("op", op).Msg("operation rolled back")
	return apperr.Persistence(err, "%s failed", op)
}

// -- Practitioners --

func (s *Service) CreatePractitioner(ctx context.Context, in PractitionerInput) (Resource, error) {
	p := &Practitioner{Person: Person{FirstName: in.FirstName, LastName: in.LastName, Email: in.Email}}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	patientIDs := uniqueIDs(in.PatientIDs)

	var out Resource
	err := s.inTx(ctx, "create practitioner", func(ctx context.Context) error {
		if err := s.checkEmail(ctx, p.Email, 0); err != nil {
			return err
		}
		if err := s.requirePatients(ctx, patientIDs); err != nil {
			return err
		}
		if err := s.repos.Practitioners.Create(ctx, p); err != nil {
			return err
		}
		for _, id := range patientIDs {
			if err := s.repos.Links.Link(ctx, p.ID, id); err != nil {
				return err
			}
		}
		var err error
		out, err = s.ser.Practitioner(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("practitioner_id", p.ID).Int("patients", len(patientIDs)).Msg("practitioner created")
	return out, nil
}

func (s *Service) GetPractitioner(ctx context.Context, id int64) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "get practitioner", func(ctx context.Context) error {
		p, err := s.practitioner(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.ser.Practitioner(ctx, p, Long)
		return err
	})
	return out, err
}

func (s *Service) ListPractitioners(ctx context.Context, page pagination.Params) ([]Resource, error) {
	var out []Resource
	err := s.inTx(ctx, "list practitioners", func(ctx context.Context) error {
		ps, err := s.repos.Practitioners.List(ctx, page.Limit, page.Offset)
		if err != nil {
			return err
		}
		out, err = s.ser.Practitioners(ctx, ps, Long)
		return err
	})
	return out, err
}

// UpdatePractitioner applies a partial update. The practitioner must exist
// before the body is looked at.
func (s *Service) UpdatePractitioner(ctx context.Context, id int64, body map[string]interface{}) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "update practitioner", func(ctx context.Context) error {
		p, err := s.practitioner(ctx, id)
		if err != nil {
			return err
		}
		patch, err := ParsePatch(body, relationPatients)
		if err != nil {
			return err
		}
		if err := s.applyPerson(ctx, &p.Person, patch); err != nil {
			return err
		}
		if patch.Related != nil {
			if err := s.requirePatients(ctx, *patch.Related); err != nil {
				return err
			}
		}
		if err := s.repos.Practitioners.Update(ctx, p); err != nil {
			return err
		}
		if patch.Related != nil {
			current, err := s.repos.Links.PatientIDs(ctx, []int64{id})
			if err != nil {
				return err
			}
			if err := s.replaceLinks(ctx, current[id], *patch.Related, func(other int64) [2]int64 {
				return [2]int64{id, other}
			}); err != nil {
				return err
			}
		}
		out, err = s.ser.Practitioner(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("practitioner_id", id).Msg("practitioner updated")
	return out, nil
}

// DeletePractitioner severs every link of the practitioner and deletes it.
// Linked patients are left in place.
func (s *Service) DeletePractitioner(ctx context.Context, id int64) (int64, error) {
	err := s.inTx(ctx, "delete practitioner", func(ctx context.Context) error {
		if _, err := s.practitioner(ctx, id); err != nil {
			return err
		}
		if err := s.repos.Links.UnlinkPractitioner(ctx, id); err != nil {
			return err
		}
		return s.repos.Practitioners.Delete(ctx, id)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("practitioner_id", id).Msg("practitioner deleted")
	return id, nil
}

// LinkPatient links a patient to the practitioner and renders the
// practitioner.
func (s *Service) LinkPatient(ctx context.Context, practitionerID, patientID int64) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "link patient", func(ctx context.Context) error {
		p, err := s.practitioner(ctx, practitionerID)
		if err != nil {
			return err
		}
		if _, err := s.patient(ctx, patientID); err != nil {
			return err
		}
		if err := s.repos.Links.Link(ctx, practitionerID, patientID); err != nil {
			return err
		}
		out, err = s.ser.Practitioner(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("practitioner_id", practitionerID).Int64("patient_id", patientID).Msg("patient linked")
	return out, nil
}

// ListPractitionerPatients pages through the patients linked to a
// practitioner, rendered at Short depth.
func (s *Service) ListPractitionerPatients(ctx context.Context, id int64, page pagination.Params) ([]Resource, error) {
	var out []Resource
	err := s.inTx(ctx, "list practitioner patients", func(ctx context.Context) error {
		if _, err := s.practitioner(ctx, id); err != nil {
			return err
		}
		links, err := s.repos.Links.PatientIDs(ctx, []int64{id})
		if err != nil {
			return err
		}
		patients, err := s.repos.Patients.GetByIDs(ctx, pagination.Slice(links[id], page))
		if err != nil {
			return err
		}
		out, err = s.ser.Patients(ctx, patients, Short)
		return err
	})
	return out, err
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, in PatientInput) (Resource, error) {
	p := &Patient{Person: Person{FirstName: in.FirstName, LastName: in.LastName, Email: in.Email}}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	practitionerIDs := uniqueIDs(in.PractitionerIDs)

	var out Resource
	err := s.inTx(ctx, "create patient", func(ctx context.Context) error {
		if err := s.checkEmail(ctx, p.Email, 0); err != nil {
			return err
		}
		if err := s.requirePractitioners(ctx, practitionerIDs); err != nil {
			return err
		}
		if err := s.repos.Patients.Create(ctx, p); err != nil {
			return err
		}
		for _, id := range practitionerIDs {
			if err := s.repos.Links.Link(ctx, id, p.ID); err != nil {
				return err
			}
		}
		var err error
		out, err = s.ser.Patient(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("patient_id", p.ID).Int("practitioners", len(practitionerIDs)).Msg("patient created")
	return out, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "get patient", func(ctx context.Context) error {
		p, err := s.patient(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.ser.Patient(ctx, p, Long)
		return err
	})
	return out, err
}

func (s *Service) ListPatients(ctx context.Context, page pagination.Params) ([]Resource, error) {
	var out []Resource
	err := s.inTx(ctx, "list patients", func(ctx context.Context) error {
		ps, err := s.repos.Patients.List(ctx, page.Limit, page.Offset)
		if err != nil {
			return err
		}
		out, err = s.ser.Patients(ctx, ps, Long)
		return err
	})
	return out, err
}

func (s *Service) UpdatePatient(ctx context.Context, id int64, body map[string]interface{}) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "update patient", func(ctx context.Context) error {
		p, err := s.patient(ctx, id)
		if err != nil {
			return err
		}
		patch, err := ParsePatch(body, relationPractitioners)
		if err != nil {
			return err
		}
		if err := s.applyPerson(ctx, &p.Person, patch); err != nil {
			return err
		}
		if patch.Related != nil {
			if err := s.requirePractitioners(ctx, *patch.Related); err != nil {
				return err
			}
		}
		if err := s.repos.Patients.Update(ctx, p); err != nil {
			return err
		}
		if patch.Related != nil {
			current, err := s.repos.Links.PractitionerIDs(ctx, []int64{id})
			if err != nil {
				return err
			}
			if err := s.replaceLinks(ctx, current[id], *patch.Related, func(other int64) [2]int64 {
				return [2]int64{other, id}
			}); err != nil {
				return err
			}
		}
		out, err = s.ser.Patient(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("patient_id", id).Msg("patient updated")
	return out, nil
}

// DeletePatient severs every link of the patient, deletes its records and
// then the patient itself.
func (s *Service) DeletePatient(ctx context.Context, id int64) (int64, error) {
	err := s.inTx(ctx, "delete patient", func(ctx context.Context) error {
		if _, err := s.patient(ctx, id); err != nil {
			return err
		}
		if err := s.repos.Links.UnlinkPatient(ctx, id); err != nil {
			return err
		}
		if err := s.repos.Records.DeleteByPatient(ctx, id); err != nil {
			return err
		}
		return s.repos.Patients.Delete(ctx, id)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("patient_id", id).Msg("patient deleted")
	return id, nil
}

// LinkPractitioner is LinkPatient seen from the patient side.
func (s *Service) LinkPractitioner(ctx context.Context, patientID, practitionerID int64) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "link practitioner", func(ctx context.Context) error {
		p, err := s.patient(ctx, patientID)
		if err != nil {
			return err
		}
		if _, err := s.practitioner(ctx, practitionerID); err != nil {
			return err
		}
		if err := s.repos.Links.Link(ctx, practitionerID, patientID); err != nil {
			return err
		}
		out, err = s.ser.Patient(ctx, p, Long)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("patient_id", patientID).Int64("practitioner_id", practitionerID).Msg("practitioner linked")
	return out, nil
}

func (s *Service) ListPatientPractitioners(ctx context.Context, id int64, page pagination.Params) ([]Resource, error) {
	var out []Resource
	err := s.inTx(ctx, "list patient practitioners", func(ctx context.Context) error {
		if _, err := s.patient(ctx, id); err != nil {
			return err
		}
		links, err := s.repos.Links.PractitionerIDs(ctx, []int64{id})
		if err != nil {
			return err
		}
		practitioners, err := s.repos.Practitioners.GetByIDs(ctx, pagination.Slice(links[id], page))
		if err != nil {
			return err
		}
		out, err = s.ser.Practitioners(ctx, practitioners, Short)
		return err
	})
	return out, err
}

// -- Records --

// AddRecord attaches a new record to an existing patient.
func (s *Service) AddRecord(ctx context.Context, patientID int64, in RecordInput) (Resource, error) {
	var rec *Record
	err := s.inTx(ctx, "add record", func(ctx context.Context) error {
		if _, err := s.patient(ctx, patientID); err != nil {
			return err
		}
		var err error
		rec, err = in.Record(patientID)
		if err != nil {
			return err
		}
		return s.repos.Records.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("patient_id", patientID).Int64("record_id", rec.ID).Msg("record added")
	return RecordResource(rec), nil
}

func (s *Service) GetRecord(ctx context.Context, patientID, recordID int64) (Resource, error) {
	var out Resource
	err := s.inTx(ctx, "get record", func(ctx context.Context) error {
		rec, err := s.record(ctx, patientID, recordID)
		if err != nil {
			return err
		}
		out = RecordResource(rec)
		return nil
	})
	return out, err
}

// RemoveRecord deletes one record of the patient and returns its id.
func (s *Service) RemoveRecord(ctx context.Context, patientID, recordID int64) (int64, error) {
	err := s.inTx(ctx, "remove record", func(ctx context.Context) error {
		if _, err := s.record(ctx, patientID, recordID); err != nil {
			return err
		}
		return s.repos.Records.Delete(ctx, recordID)
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("patient_id", patientID).Int64("record_id", recordID).Msg("record removed")
	return recordID, nil
}

func (s *Service) ListRecords(ctx context.Context, patientID int64, page pagination.Params) ([]Resource, error) {
	var out []Resource
	err := s.inTx(ctx, "list records", func(ctx context.Context) error {
		if _, err := s.patient(ctx, patientID); err != nil {
			return err
		}
		records, err := s.repos.Records.ByPatients(ctx, []int64{patientID})
		if err != nil {
			return err
		}
		out = RecordResources(pagination.Slice(records[patientID], page))
		return nil
	})
	return out, err
}

// CheckPractitioner reports NotFound for an unknown practitioner. Handlers
// use it to rank a missing target above a malformed body.
func (s *Service) CheckPractitioner(ctx context.Context, id int64) error {
	return s.inTx(ctx, "check practitioner", func(ctx context.Context) error {
		_, err := s.practitioner(ctx, id)
		return err
	})
}

func (s *Service) CheckPatient(ctx context.Context, id int64) error {
	return s.inTx(ctx, "check patient", func(ctx context.Context) error {
		_, err := s.patient(ctx, id)
		return err
	})
}

// -- helpers --

func (s *Service) practitioner(ctx context.Context, id int64) (*Practitioner, error) {
	p, err := s.repos.Practitioners.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("practitioner %d not found", id)
	}
	return p, err
}

func (s *Service) patient(ctx context.Context, id int64) (*Patient, error) {
	p, err := s.repos.Patients.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("patient %d not found", id)
	}
	return p, err
}

// record resolves recordID under patientID. Several matches mean the
// storage invariant is broken and are reported as such.
func (s *Service) record(ctx context.Context, patientID, recordID int64) (*Record, error) {
	if _, err := s.patient(ctx, patientID); err != nil {
		return nil, err
	}
	matches, err := s.repos.Records.Find(ctx, patientID, recordID)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperr.NotFound("record %d not found for patient %d", recordID, patientID)
	case 1:
		return matches[0], nil
	default:
		s.logger.Error().Int64("patient_id", patientID).Int64("record_id", recordID).
			Int("matches", len(matches)).Msg("duplicate record id")
		return nil, apperr.Ambiguity("record %d is ambiguous for patient %d", recordID, patientID)
	}
}

func (s *Service) checkEmail(ctx context.Context, email string, exceptID int64) error {
	taken, err := s.repos.Persons.EmailTaken(ctx, email, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("email %s is already registered", email)
	}
	return nil
}

// applyPerson applies the scalar part of patch to person and validates the
// result.
func (s *Service) applyPerson(ctx context.Context, person *Person, patch *Patch) error {
	previous := person.Email
	patch.Apply(person)
	if err := person.Validate(); err != nil {
		return err
	}
	if person.Email != previous {
		return s.checkEmail(ctx, person.Email, person.ID)
	}
	return nil
}

func (s *Service) requirePatients(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.repos.Patients.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	existing := make([]int64, len(found))
	for i, p := range found {
		existing[i] = p.ID
	}
	return missing("patient", ids, existing)
}

func (s *Service) requirePractitioners(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := s.repos.Practitioners.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	existing := make([]int64, len(found))
	for i, p := range found {
		existing[i] = p.ID
	}
	return missing("practitioner", ids, existing)
}

// missing reports the first id of want absent from have. A reference to a
// missing entity inside a body is a validation failure, not a 404.
func missing(entity string, want, have []int64) error {
	present := make(map[int64]bool, len(have))
	for _, id := range have {
		present[id] = true
	}
	for _, id := range want {
		if !present[id] {
			return apperr.Validation("%s %d does not exist", entity, id)
		}
	}
	return nil
}

// replaceLinks makes the linked set equal to next. pair maps the other
// side's id to a (practitioner, patient) pair.
func (s *Service) replaceLinks(ctx context.Context, current, next []int64, pair func(int64) [2]int64) error {
	keep := make(map[int64]bool, len(next))
	for _, id := range next {
		keep[id] = true
	}
	had := make(map[int64]bool, len(current))
	for _, id := range current {
		had[id] = true
		if !keep[id] {
			p := pair(id)
			if err := s.repos.Links.Unlink(ctx, p[0], p[1]); err != nil {
				return err
			}
		}
	}
	for _, id := range next {
		if !had[id] {
			p := pair(id)
			if err := s.repos.Links.Link(ctx, p[0], p[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
