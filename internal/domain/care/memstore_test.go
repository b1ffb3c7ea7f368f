package care

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/medapp/medapp/internal/platform/apperr"
)

// memState is the full contents of the in-memory store. InTx snapshots it
// on begin and restores the snapshot on rollback.
type memState struct {
	nextPersonID int64
	nextRecordID int64
	kinds        map[int64]Kind
	persons      map[int64]Person
	links        map[[2]int64]bool
	records      map[int64]Record
}

func newMemState() *memState {
	return &memState{
		kinds:   make(map[int64]Kind),
		persons: make(map[int64]Person),
		links:   make(map[[2]int64]bool),
		records: make(map[int64]Record),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextPersonID, c.nextRecordID = s.nextPersonID, s.nextRecordID
	for k, v := range s.kinds {
		c.kinds[k] = v
	}
	for k, v := range s.persons {
		c.persons[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	return c
}

type memTxKey struct{}

// memStore implements Transactor and every repository on one state.
type memStore struct {
	state *memState
	// failOn makes the named repository method fail with a storage error.
	failOn map[string]error
	// duplicateFind makes Records.Find report every match twice.
	duplicateFind bool
	commits       int
	rollbacks     int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState(), failOn: make(map[string]error)}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	snapshot := m.state.clone()
	defer func() {
		if p := recover(); p != nil {
			m.state = snapshot
			m.rollbacks++
			panic(p)
		}
		if err != nil {
			m.state = snapshot
			m.rollbacks++
			return
		}
		m.commits++
	}()
	return fn(context.WithValue(ctx, memTxKey{}, true))
}

func (m *memStore) fail(method string) error {
	if err, ok := m.failOn[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (m *memStore) repos() Repositories {
	return Repositories{
		Persons:       memPersons{m},
		Practitioners: memPractitioners{m},
		Patients:      memPatients{m},
		Links:         memLinks{m},
		Records:       memRecords{m},
	}
}

func (m *memStore) count(kind Kind) int {
	n := 0
	for _, k := range m.state.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// -- persons --

type memPersons struct{ m *memStore }

func (r memPersons) EmailTaken(_ context.Context, email string, exceptID int64) (bool, error) {
	if err := r.m.fail("EmailTaken"); err != nil {
		return false, err
	}
	for id, p := range r.m.state.persons {
		if id != exceptID && p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) createPerson(kind Kind, p *Person) error {
	if err := m.fail("Create" + string(kind)); err != nil {
		return err
	}
	for _, other := range m.state.persons {
		if other.Email == p.Email {
			return apperr.Conflict("email %s is already registered", p.Email)
		}
	}
	m.state.nextPersonID++
	p.ID = m.state.nextPersonID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.state.persons[p.ID] = *p
	m.state.kinds[p.ID] = kind
	return nil
}

func (m *memStore) getPerson(kind Kind, id int64) (*Person, error) {
	if m.state.kinds[id] != kind {
		return nil, ErrNotFound
	}
	p := m.state.persons[id]
	return &p, nil
}

func (m *memStore) getPersons(kind Kind, ids []int64) []*Person {
	var out []*Person
	for _, id := range ids {
		if p, err := m.getPerson(kind, id); err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) listPersons(kind Kind, limit, offset int) []*Person {
	var ids []int64
	for id, k := range m.state.kinds {
		if k == kind {
			ids = append(ids, id)
		}
	}
	people := m.getPersons(kind, ids)
	if offset >= len(people) {
		return nil
	}
	end := offset + limit
	if end > len(people) {
		end = len(people)
	}
	return people[offset:end]
}

func (m *memStore) updatePerson(kind Kind, p *Person) error {
	if err := m.fail("Update" + string(kind)); err != nil {
		return err
	}
	if m.state.kinds[p.ID] != kind {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.state.persons[p.ID] = *p
	return nil
}

// deletePerson also drops dependent rows, as the schema's cascades do.
func (m *memStore) deletePerson(kind Kind, id int64) error {
	if err := m.fail("Delete" + string(kind)); err != nil {
		return err
	}
	if m.state.kinds[id] != kind {
		return ErrNotFound
	}
	delete(m.state.kinds, id)
	delete(m.state.persons, id)
	for pair := range m.state.links {
		if pair[0] == id || pair[1] == id {
			delete(m.state.links, pair)
		}
	}
	for rid, rec := range m.state.records {
		if rec.PatientID == id {
			delete(m.state.records, rid)
		}
	}
	return nil
}

type memPractitioners struct{ m *memStore }

func (r memPractitioners) Create(_ context.Context, p *Practitioner) error {
	return r.m.createPerson(KindPractitioner, &p.Person)
}

func (r memPractitioners) GetByID(_ context.Context, id int64) (*Practitioner, error) {
	p, err := r.m.getPerson(KindPractitioner, id)
	if err != nil {
		return nil, err
	}
	return &Practitioner{Person: *p}, nil
}

func (r memPractitioners) GetByIDs(_ context.Context, ids []int64) ([]*Practitioner, error) {
	return asPractitioners(r.m.getPersons(KindPractitioner, ids)), nil
}

func (r memPractitioners) List(_ context.Context, limit, offset int) ([]*Practitioner, error) {
	if err := r.m.fail("ListPractitioners"); err != nil {
		return nil, err
	}
	return asPractitioners(r.m.listPersons(KindPractitioner, limit, offset)), nil
}

func (r memPractitioners) Update(_ context.Context, p *Practitioner) error {
	return r.m.updatePerson(KindPractitioner, &p.Person)
}

func (r memPractitioners) Delete(_ context.Context, id int64) error {
	return r.m.deletePerson(KindPractitioner, id)
}

type memPatients struct{ m *memStore }

func (r memPatients) Create(_ context.Context, p *Patient) error {
	return r.m.createPerson(KindPatient, &p.Person)
}

func (r memPatients) GetByID(_ context.Context, id int64) (*Patient, error) {
	p, err := r.m.getPerson(KindPatient, id)
	if err != nil {
		return nil, err
	}
	return &Patient{Person: *p}, nil
}

func (r memPatients) GetByIDs(_ context.Context, ids []int64) ([]*Patient, error) {
	return asPatients(r.m.getPersons(KindPatient, ids)), nil
}

func (r memPatients) List(_ context.Context, limit, offset int) ([]*Patient, error) {
	return asPatients(r.m.listPersons(KindPatient, limit, offset)), nil
}

func (r memPatients) Update(_ context.Context, p *Patient) error {
	return r.m.updatePerson(KindPatient, &p.Person)
}

func (r memPatients) Delete(_ context.Context, id int64) error {
	return r.m.deletePerson(KindPatient, id)
}

// -- links --

type memLinks struct{ m *memStore }

func (r memLinks) Link(_ context.Context, practitionerID, patientID int64) error {
	if err := r.m.fail("Link"); err != nil {
		return err
	}
	if r.m.state.kinds[practitionerID] != KindPractitioner || r.m.state.kinds[patientID] != KindPatient {
		return ErrNotFound
	}
	r.m.state.links[[2]int64{practitionerID, patientID}] = true
	return nil
}

func (r memLinks) Unlink(_ context.Context, practitionerID, patientID int64) error {
	if err := r.m.fail("Unlink"); err != nil {
		return err
	}
	delete(r.m.state.links, [2]int64{practitionerID, patientID})
	return nil
}

func (r memLinks) UnlinkPractitioner(_ context.Context, practitionerID int64) error {
	for pair := range r.m.state.links {
		if pair[0] == practitionerID {
			delete(r.m.state.links, pair)
		}
	}
	return nil
}

func (r memLinks) UnlinkPatient(_ context.Context, patientID int64) error {
	if err := r.m.fail("UnlinkPatient"); err != nil {
		return err
	}
	for pair := range r.m.state.links {
		if pair[1] == patientID {
			delete(r.m.state.links, pair)
		}
	}
	return nil
}

func (r memLinks) PatientIDs(_ context.Context, practitionerIDs []int64) (map[int64][]int64, error) {
	return r.m.pairs(practitionerIDs, 0), nil
}

func (r memLinks) PractitionerIDs(_ context.Context, patientIDs []int64) (map[int64][]int64, error) {
	return r.m.pairs(patientIDs, 1), nil
}

// pairs maps each key to the other side of its links; side is the index of
// the key within the pair.
func (m *memStore) pairs(keys []int64, side int) map[int64][]int64 {
	out := make(map[int64][]int64, len(keys))
	for _, k := range keys {
		out[k] = []int64{}
	}
	for pair := range m.state.links {
		if _, ok := out[pair[side]]; ok {
			out[pair[side]] = append(out[pair[side]], pair[1-side])
		}
	}
	for k := range out {
		ids := out[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return out
}

// -- records --

type memRecords struct{ m *memStore }

func (r memRecords) Create(_ context.Context, rec *Record) error {
	if err := r.m.fail("CreateRecord"); err != nil {
		return err
	}
	if r.m.state.kinds[rec.PatientID] != KindPatient {
		return ErrNotFound
	}
	r.m.state.nextRecordID++
	rec.ID = r.m.state.nextRecordID
	rec.CreatedAt = time.Now()
	r.m.state.records[rec.ID] = *rec
	return nil
}

func (r memRecords) Find(_ context.Context, patientID, recordID int64) ([]*Record, error) {
	rec, ok := r.m.state.records[recordID]
	if !ok || rec.PatientID != patientID {
		return nil, nil
	}
	if r.m.duplicateFind {
		dup := rec
		return []*Record{&rec, &dup}, nil
	}
	return []*Record{&rec}, nil
}

func (r memRecords) ByPatients(_ context.Context, patientIDs []int64) (map[int64][]*Record, error) {
	out := make(map[int64][]*Record, len(patientIDs))
	for _, id := range patientIDs {
		out[id] = []*Record{}
	}
	var ids []int64
	for id := range r.m.state.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec := r.m.state.records[id]
		if _, ok := out[rec.PatientID]; ok {
			out[rec.PatientID] = append(out[rec.PatientID], &rec)
		}
	}
	return out, nil
}

func (r memRecords) Delete(_ context.Context, id int64) error {
	if err := r.m.fail("DeleteRecord"); err != nil {
		return err
	}
	if _, ok := r.m.state.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.state.records, id)
	return nil
}

func (r memRecords) DeleteByPatient(_ context.Context, patientID int64) error {
	for id, rec := range r.m.state.records {
		if rec.PatientID == patientID {
			delete(r.m.state.records, id)
		}
	}
	return nil
}
