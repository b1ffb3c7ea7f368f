package care

import (
	"context"
)

// SeedResult lists the ids created by Seed.
type SeedResult struct {
	Practitioners []int64
	Patients      []int64
	Records       []int64
}

// Seed loads the demo data set in one transaction: two practitioners, four
// patients with three of them linked, and one record.
func (s *Service) Seed(ctx context.Context) (*SeedResult, error) {
	res := &SeedResult{}
	err := s.inTx(ctx, "seed", func(ctx context.Context) error {
		for _, in := range []PractitionerInput{
			{FirstName: "John", LastName: "Doc", Email: "john.doc@mail.com"},
			{FirstName: "Carla", LastName: "Health", Email: "carla.health@mail.com"},
		} {
			out, err := s.CreatePractitioner(ctx, in)
			if err != nil {
				return err
			}
			res.Practitioners = append(res.Practitioners, out["id"].(int64))
		}

		john, carla := res.Practitioners[0], res.Practitioners[1]
		for _, in := range []PatientInput{
			{FirstName: "Mister", LastName: "Patient", Email: "patient@mail.com", PractitionerIDs: []int64{john, carla}},
			{FirstName: "Anthony", LastName: "Smith", Email: "Anthony.Smith@gmx.com", PractitionerIDs: []int64{john}},
			{FirstName: "Laura", LastName: "Oneal", Email: "laura.oneal@mail.com", PractitionerIDs: []int64{carla}},
			{FirstName: "Lena", LastName: "Pitt", Email: "Lena.pitt@mail.com"},
		} {
			out, err := s.CreatePatient(ctx, in)
			if err != nil {
				return err
			}
			res.Patients = append(res.Patients, out["id"].(int64))
		}

		rec, err := s.AddRecord(ctx, res.Patients[0], RecordInput{
			Title:            "Flu",
			Description:      "influenza season",
			DateDiagnosis:    "2022-12-01",
			DateSymptomOnset: "2022-11-21",
		})
		if err != nil {
			return err
		}
		res.Records = append(res.Records, rec["id"].(int64))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int("practitioners", len(res.Practitioners)).
		Int("patients", len(res.Patients)).
		Int("records", len(res.Records)).
		Msg("demo data seeded")
	return res, nil
}
