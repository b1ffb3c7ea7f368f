package care

import (
	"context"
	"sort"
)

// Resource is the JSON-safe rendering of an entity.
type Resource map[string]interface{}

// GraphReader loads the parts of the entity graph the serializer expands.
// Every method works on a batch so one level of expansion costs one query
// per relationship kind.
type GraphReader interface {
	PatientIDs(ctx context.Context, practitionerIDs []int64) (map[int64][]int64, error)
	PractitionerIDs(ctx context.Context, patientIDs []int64) (map[int64][]int64, error)
	Patients(ctx context.Context, ids []int64) ([]*Patient, error)
	Practitioners(ctx context.Context, ids []int64) ([]*Practitioner, error)
	Records(ctx context.Context, patientIDs []int64) (map[int64][]*Record, error)
}

// RepoGraph adapts Repositories to GraphReader.
type RepoGraph struct {
	Repos Repositories
}

func (g RepoGraph) PatientIDs(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	return g.Repos.Links.PatientIDs(ctx, ids)
}

func (g RepoGraph) PractitionerIDs(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	return g.Repos.Links.PractitionerIDs(ctx, ids)
}

func (g RepoGraph) Patients(ctx context.Context, ids []int64) ([]*Patient, error) {
	return g.Repos.Patients.GetByIDs(ctx, ids)
}

func (g RepoGraph) Practitioners(ctx context.Context, ids []int64) ([]*Practitioner, error) {
	return g.Repos.Practitioners.GetByIDs(ctx, ids)
}

func (g RepoGraph) Records(ctx context.Context, patientIDs []int64) (map[int64][]*Record, error) {
	return g.Repos.Records.ByPatients(ctx, patientIDs)
}

// Serializer renders practitioners and patients with their relationships
// expanded to the requested Depth. At Long depth related persons are
// embedded rendered at Short depth, where relationships are plain id lists,
// so the output is always finite.
type Serializer struct {
	graph GraphReader
}

func NewSerializer(graph GraphReader) *Serializer {
	return &Serializer{graph: graph}
}

func (s *Serializer) Practitioner(ctx context.Context, p *Practitioner, depth Depth) (Resource, error) {
	out, err := s.Practitioners(ctx, []*Practitioner{p}, depth)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *Serializer) Patient(ctx context.Context, p *Patient, depth Depth) (Resource, error) {
	out, err := s.Patients(ctx, []*Patient{p}, depth)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Practitioners renders ps in order. The result is never nil.
func (s *Serializer) Practitioners(ctx context.Context, ps []*Practitioner, depth Depth) ([]Resource, error) {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	links, err := s.graph.PatientIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Resource, len(ps))
	for i, p := range ps {
		out[i] = personResource(p.Person)
	}
	if depth == Short {
		for i, p := range ps {
			out[i]["patients"] = idList(links[p.ID])
		}
		return out, nil
	}

	patients, err := s.graph.Patients(ctx, union(links))
	if err != nil {
		return nil, err
	}
	nested, err := s.Patients(ctx, patients, Short)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Resource, len(patients))
	for i, p := range patients {
		byID[p.ID] = nested[i]
	}
	for i, p := range ps {
		out[i]["patients"] = embed(links[p.ID], byID)
	}
	return out, nil
}

// Patients renders ps in order. Records are always rendered in full.
func (s *Serializer) Patients(ctx context.Context, ps []*Patient, depth Depth) ([]Resource, error) {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	links, err := s.graph.PractitionerIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	records, err := s.graph.Records(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Resource, len(ps))
	for i, p := range ps {
		out[i] = personResource(p.Person)
		out[i]["records"] = RecordResources(records[p.ID])
	}
	if depth == Short {
		for i, p := range ps {
			out[i]["practitioners"] = idList(links[p.ID])
		}
		return out, nil
	}

	practitioners, err := s.graph.Practitioners(ctx, union(links))
	if err != nil {
		return nil, err
	}
	nested, err := s.Practitioners(ctx, practitioners, Short)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Resource, len(practitioners))
	for i, p := range practitioners {
		byID[p.ID] = nested[i]
	}
	for i, p := range ps {
		out[i]["practitioners"] = embed(links[p.ID], byID)
	}
	return out, nil
}

// RecordResource renders a record. An ongoing record has no
// dateSymptomOffset key.
func RecordResource(r *Record) Resource {
	res := Resource{
		"id":                r.ID,
		"patientId":         r.PatientID,
		"title":             r.Title,
		"description":       r.Description,
		"dateDiagnosis":     r.DateDiagnosis.Format(DateLayout),
		"dateSymptomOnset":  r.DateSymptomOnset.Format(DateLayout),
		"dateSymptomOffset": nil,
	}
	if r.DateSymptomOffset != nil {
		res["dateSymptomOffset"] = r.DateSymptomOffset.Format(DateLayout)
	}
	return prune(res)
}

func RecordResources(records []*Record) []Resource {
	out := make([]Resource, len(records))
	for i, r := range records {
		out[i] = RecordResource(r)
	}
	return out
}

func personResource(p Person) Resource {
	return prune(Resource{
		"id":        p.ID,
		"firstName": p.FirstName,
		"lastName":  p.LastName,
		"email":     p.Email,
	})
}

// prune drops keys holding nil.
func prune(r Resource) Resource {
	for k, v := range r {
		if v == nil {
			delete(r, k)
		}
	}
	return r
}

func idList(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// embed returns the rendered persons for ids, skipping any that vanished
// between the link and entity queries.
func embed(ids []int64, byID map[int64]Resource) []Resource {
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

// union returns the distinct ids of all link lists, ascending.
func union(links map[int64][]int64) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, list := range links {
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
