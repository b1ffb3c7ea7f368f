package care

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medapp/medapp/internal/platform/apperr"
	"github.com/medapp/medapp/internal/platform/db"
)

const emailConstraint = "person_email_key"

// NewPGRepositories returns Postgres-backed repositories. Every method runs
// on the transaction carried by ctx when there is one.
func NewPGRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Persons:       &personRepoPG{pool: pool},
		Practitioners: &practitionerRepoPG{t: personTable{pool: pool, kind: KindPractitioner}},
		Patients:      &patientRepoPG{t: personTable{pool: pool, kind: KindPatient}},
		Links:         &linkRepoPG{pool: pool},
		Records:       &recordRepoPG{pool: pool},
	}
}

func emailConflict(err error, email string) error {
	if db.IsUniqueViolation(err, emailConstraint) {
		return apperr.Conflict("email %s is already registered", email)
	}
	return nil
}

// -- Persons --

type personRepoPG struct {
	pool db.Querier
}

func (r *personRepoPG) EmailTaken(ctx context.Context, email string, exceptID int64) (bool, error) {
	var taken bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM person WHERE email = $1 AND id <> $2)`, email, exceptID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return taken, nil
}

// personTable reads and writes one variant: the shared person row joined
// with the practitioner or patient row of the same id.
type personTable struct {
	pool db.Querier
	kind Kind
}

const personCols = `p.id, p.first_name, p.last_name, p.email, p.created_at, p.updated_at`

func (t personTable) from() string {
	return ` FROM person p JOIN ` + string(t.kind) + ` v ON v.id = p.id`
}

func (t personTable) create(ctx context.Context, p *Person) error {
	q := db.Conn(ctx, t.pool)
	err := q.QueryRow(ctx, `
		INSERT INTO person (kind, first_name, last_name, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		t.kind, p.FirstName, p.LastName, p.Email,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if conflict := emailConflict(err, p.Email); conflict != nil {
		return conflict
	}
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	if _, err := q.Exec(ctx, `INSERT INTO `+string(t.kind)+` (id) VALUES ($1)`, p.ID); err != nil {
		return fmt.Errorf("insert %s: %w", t.kind, err)
	}
	return nil
}

func (t personTable) collect(rows pgx.Rows, err error) ([]*Person, error) {
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.kind, err)
	}
	people, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Person])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.kind, err)
	}
	return people, nil
}

func (t personTable) get(ctx context.Context, id int64) (*Person, error) {
	people, err := t.collect(db.Conn(ctx, t.pool).Query(ctx,
		`SELECT `+personCols+t.from()+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, ErrNotFound
	}
	return people[0], nil
}

func (t personTable) getMany(ctx context.Context, ids []int64) ([]*Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return t.collect(db.Conn(ctx, t.pool).Query(ctx,
		`SELECT `+personCols+t.from()+` WHERE p.id = ANY($1) ORDER BY p.id`, ids))
}

func (t personTable) list(ctx context.Context, limit, offset int) ([]*Person, error) {
	return t.collect(db.Conn(ctx, t.pool).Query(ctx,
		`SELECT `+personCols+t.from()+` ORDER BY p.id LIMIT $1 OFFSET $2`, limit, offset))
}

func (t personTable) update(ctx context.Context, p *Person) error {
	err := db.Conn(ctx, t.pool).QueryRow(ctx, `
		UPDATE person SET first_name = $2, last_name = $3, email = $4, updated_at = NOW()
		WHERE id = $1 AND kind = $5
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.Email, t.kind,
	).Scan(&p.UpdatedAt)
	if conflict := emailConflict(err, p.Email); conflict != nil {
		return conflict
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", t.kind, err)
	}
	return nil
}

// delete removes the person row; the variant row goes with it by cascade.
func (t personTable) delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, t.pool).Exec(ctx,
		`DELETE FROM person WHERE id = $1 AND kind = $2`, id, t.kind)
	if err != nil {
		return fmt.Errorf("delete %s: %w", t.kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Practitioners --

type practitionerRepoPG struct {
	t personTable
}

func (r *practitionerRepoPG) Create(ctx context.Context, p *Practitioner) error {
	return r.t.create(ctx, &p.Person)
}

func (r *practitionerRepoPG) GetByID(ctx context.Context, id int64) (*Practitioner, error) {
	p, err := r.t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Practitioner{Person: *p}, nil
}

func (r *practitionerRepoPG) GetByIDs(ctx context.Context, ids []int64) ([]*Practitioner, error) {
	people, err := r.t.getMany(ctx, ids)
	return asPractitioners(people), err
}

func (r *practitionerRepoPG) List(ctx context.Context, limit, offset int) ([]*Practitioner, error) {
	people, err := r.t.list(ctx, limit, offset)
	return asPractitioners(people), err
}

func (r *practitionerRepoPG) Update(ctx context.Context, p *Practitioner) error {
	return r.t.update(ctx, &p.Person)
}

func (r *practitionerRepoPG) Delete(ctx context.Context, id int64) error {
	return r.t.delete(ctx, id)
}

func asPractitioners(people []*Person) []*Practitioner {
	out := make([]*Practitioner, len(people))
	for i, p := range people {
		out[i] = &Practitioner{Person: *p}
	}
	return out
}

// -- Patients --

type patientRepoPG struct {
	t personTable
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	return r.t.create(ctx, &p.Person)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := r.t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Patient{Person: *p}, nil
}

func (r *patientRepoPG) GetByIDs(ctx context.Context, ids []int64) ([]*Patient, error) {
	people, err := r.t.getMany(ctx, ids)
	return asPatients(people), err
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, error) {
	people, err := r.t.list(ctx, limit, offset)
	return asPatients(people), err
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return r.t.update(ctx, &p.Person)
}

func (r *patientRepoPG) Delete(ctx context.Context, id int64) error {
	return r.t.delete(ctx, id)
}

func asPatients(people []*Person) []*Patient {
	out := make([]*Patient, len(people))
	for i, p := range people {
		out[i] = &Patient{Person: *p}
	}
	return out
}

// -- Links --

type linkRepoPG struct {
	pool db.Querier
}

func (r *linkRepoPG) Link(ctx context.Context, practitionerID, patientID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO care_link (practitioner_id, patient_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, practitionerID, patientID)
	if db.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("link practitioner %d to patient %d: %w", practitionerID, patientID, err)
	}
	return nil
}

func (r *linkRepoPG) Unlink(ctx context.Context, practitionerID, patientID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM care_link WHERE practitioner_id = $1 AND patient_id = $2`, practitionerID, patientID)
	if err != nil {
		return fmt.Errorf("unlink practitioner %d from patient %d: %w", practitionerID, patientID, err)
	}
	return nil
}

func (r *linkRepoPG) UnlinkPractitioner(ctx context.Context, practitionerID int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM care_link WHERE practitioner_id = $1`, practitionerID); err != nil {
		return fmt.Errorf("unlink practitioner %d: %w", practitionerID, err)
	}
	return nil
}

func (r *linkRepoPG) UnlinkPatient(ctx context.Context, patientID int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM care_link WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("unlink patient %d: %w", patientID, err)
	}
	return nil
}

func (r *linkRepoPG) PatientIDs(ctx context.Context, practitionerIDs []int64) (map[int64][]int64, error) {
	return r.pairs(ctx, `
		SELECT practitioner_id, patient_id FROM care_link
		WHERE practitioner_id = ANY($1) ORDER BY practitioner_id, patient_id`, practitionerIDs)
}

func (r *linkRepoPG) PractitionerIDs(ctx context.Context, patientIDs []int64) (map[int64][]int64, error) {
	return r.pairs(ctx, `
		SELECT patient_id, practitioner_id FROM care_link
		WHERE patient_id = ANY($1) ORDER BY patient_id, practitioner_id`, patientIDs)
}

// pairs runs a query yielding (key, value) id pairs. Every requested key is
// present in the result, with an empty slice when it has no links.
func (r *linkRepoPG) pairs(ctx context.Context, sql string, keys []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(keys))
	for _, k := range keys {
		out[k] = []int64{}
	}
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, keys)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out[key] = append(out[key], value)
	}
	return out, rows.Err()
}

// -- Records --

type recordRepoPG struct {
	pool db.Querier
}

const recordCols = `id, patient_id, title, description, date_diagnosis, date_symptom_onset, date_symptom_offset, created_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO record (patient_id, title, description, date_diagnosis, date_symptom_onset, date_symptom_offset)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		rec.PatientID, rec.Title, rec.Description, rec.DateDiagnosis, rec.DateSymptomOnset, rec.DateSymptomOffset,
	).Scan(&rec.ID, &rec.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (r *recordRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Record, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Record])
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return records, nil
}

func (r *recordRepoPG) Find(ctx context.Context, patientID, recordID int64) ([]*Record, error) {
	return r.query(ctx, `SELECT `+recordCols+` FROM record WHERE patient_id = $1 AND id = $2`, patientID, recordID)
}

func (r *recordRepoPG) ByPatients(ctx context.Context, patientIDs []int64) (map[int64][]*Record, error) {
	out := make(map[int64][]*Record, len(patientIDs))
	for _, id := range patientIDs {
		out[id] = []*Record{}
	}
	if len(patientIDs) == 0 {
		return out, nil
	}

	records, err := r.query(ctx, `SELECT `+recordCols+` FROM record WHERE patient_id = ANY($1) ORDER BY id`, patientIDs)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		out[rec.PatientID] = append(out[rec.PatientID], rec)
	}
	return out, nil
}

func (r *recordRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM record WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) DeleteByPatient(ctx context.Context, patientID int64) error {
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM record WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("delete records of patient %d: %w", patientID, err)
	}
	return nil
}
