//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/medapp/medapp/internal/domain/care"
	"github.com/medapp/medapp/internal/platform/apperr"
	"github.com/medapp/medapp/internal/platform/db"
	"github.com/medapp/medapp/pkg/pagination"
)

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := globalPool.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func mustCreatePractitioner(t *testing.T, svc *care.Service, first, email string, patients ...int64) int64 {
	t.Helper()
	out, err := svc.CreatePractitioner(context.Background(), care.PractitionerInput{
		FirstName: first, LastName: "Doc", Email: email, PatientIDs: patients,
	})
	if err != nil {
		t.Fatalf("create practitioner %s: %v", email, err)
	}
	return out["id"].(int64)
}

func mustCreatePatient(t *testing.T, svc *care.Service, first, email string, practitioners ...int64) int64 {
	t.Helper()
	out, err := svc.CreatePatient(context.Background(), care.PatientInput{
		FirstName: first, LastName: "Patient", Email: email, PractitionerIDs: practitioners,
	})
	if err != nil {
		t.Fatalf("create patient %s: %v", email, err)
	}
	return out["id"].(int64)
}

func TestCare_ExampleScenario(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	john := mustCreatePractitioner(t, svc, "John", "john.doc@mail.com")
	mustCreatePractitioner(t, svc, "Carla", "carla.health@mail.com")
	mustCreatePatient(t, svc, "Anthony", "anthony@mail.com")
	mustCreatePatient(t, svc, "Laura", "laura@mail.com")
	mister := mustCreatePatient(t, svc, "Mister", "patient@mail.com")
	if john != 1 || mister != 5 {
		t.Fatalf("expected ids 1 and 5 from the shared sequence, got %d and %d", john, mister)
	}

	if _, err := svc.LinkPatient(ctx, john, mister); err != nil {
		t.Fatalf("link: %v", err)
	}
	// linking twice is a no-op
	if _, err := svc.LinkPractitioner(ctx, mister, john); err != nil {
		t.Fatalf("relink: %v", err)
	}
	if n := countRows(t, "care_link"); n != 1 {
		t.Fatalf("expected 1 link row, got %d", n)
	}

	patient, err := svc.GetPatient(ctx, mister)
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	docs := patient["practitioners"].([]care.Resource)
	if len(docs) != 1 || docs[0]["id"] != john {
		t.Fatalf("expected practitioner %d embedded, got %v", john, docs)
	}

	deleted, err := svc.DeletePractitioner(ctx, john)
	if err != nil || deleted != john {
		t.Fatalf("delete: %d, %v", deleted, err)
	}

	patient, err = svc.GetPatient(ctx, mister)
	if err != nil {
		t.Fatalf("get patient after delete: %v", err)
	}
	if docs := patient["practitioners"].([]care.Resource); len(docs) != 0 {
		t.Errorf("expected no practitioners, got %v", docs)
	}
}

func TestCare_UniqueEmailConstraintIsConflict(t *testing.T) {
	resetDB(t)
	repos := care.NewPGRepositories(globalPool)
	ctx := context.Background()

	first := &care.Practitioner{Person: care.Person{FirstName: "John", LastName: "Doc", Email: "same@mail.com"}}
	if err := repos.Practitioners.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := &care.Patient{Person: care.Person{FirstName: "Mister", LastName: "Patient", Email: "same@mail.com"}}
	err := db.NewTxManager(globalPool).InTx(ctx, func(ctx context.Context) error {
		return repos.Patients.Create(ctx, second)
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if n := countRows(t, "person"); n != 1 {
		t.Errorf("expected 1 person, got %d", n)
	}
}

func TestCare_TxManagerRollsBack(t *testing.T) {
	resetDB(t)
	repos := care.NewPGRepositories(globalPool)
	boom := errors.New("boom")

	err := db.NewTxManager(globalPool).InTx(context.Background(), func(ctx context.Context) error {
		p := &care.Practitioner{Person: care.Person{FirstName: "John", LastName: "Doc", Email: "john@mail.com"}}
		if err := repos.Practitioners.Create(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countRows(t, "person"); n != 0 {
		t.Errorf("expected rollback to leave no person rows, got %d", n)
	}
	if n := countRows(t, "practitioner"); n != 0 {
		t.Errorf("expected rollback to leave no practitioner rows, got %d", n)
	}
}

func TestCare_InvalidReferenceLeavesNoRows(t *testing.T) {
	svc := newService(t)

	_, err := svc.CreatePatient(context.Background(), care.PatientInput{
		FirstName: "Mister", LastName: "Patient", Email: "patient@mail.com", PractitionerIDs: []int64{42},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := countRows(t, "person"); n != 0 {
		t.Errorf("expected no person rows, got %d", n)
	}
}

func TestCare_PatchReplacesLinks(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	a := mustCreatePatient(t, svc, "A", "a@mail.com")
	b := mustCreatePatient(t, svc, "B", "b@mail.com")
	doc := mustCreatePractitioner(t, svc, "John", "john@mail.com", a)

	out, err := svc.UpdatePractitioner(ctx, doc, map[string]interface{}{
		"firstName":  "Johnny",
		"patientIds": []interface{}{float64(b)},
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if out["firstName"] != "Johnny" {
		t.Errorf("expected firstName Johnny, got %v", out["firstName"])
	}
	patients := out["patients"].([]care.Resource)
	if len(patients) != 1 || patients[0]["id"] != b {
		t.Errorf("expected only patient %d, got %v", b, patients)
	}
	if n := countRows(t, "care_link"); n != 1 {
		t.Errorf("expected 1 link row, got %d", n)
	}
}

func TestCare_RecordsCascadeWithPatient(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	patient := mustCreatePatient(t, svc, "Mister", "patient@mail.com")

	rec, err := svc.AddRecord(ctx, patient, care.RecordInput{
		Title: "Flu", Description: "influenza season",
		DateDiagnosis: "2022-12-01", DateSymptomOnset: "2022-11-21", DateSymptomOffset: "2022-12-10",
	})
	if err != nil {
		t.Fatalf("add record: %v", err)
	}

	got, err := svc.GetRecord(ctx, patient, rec["id"].(int64))
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	for key, want := range map[string]string{
		"dateDiagnosis":     "2022-12-01",
		"dateSymptomOnset":  "2022-11-21",
		"dateSymptomOffset": "2022-12-10",
	} {
		if got[key] != want {
			t.Errorf("%s: expected %s, got %v", key, want, got[key])
		}
	}

	if _, err := svc.DeletePatient(ctx, patient); err != nil {
		t.Fatalf("delete patient: %v", err)
	}
	if n := countRows(t, "record"); n != 0 {
		t.Errorf("expected records to be deleted, got %d", n)
	}
}

func TestCare_Pagination(t *testing.T) {
	svc := newService(t)
	var ids []int64
	for _, email := range []string{"a@mail.com", "b@mail.com", "c@mail.com", "d@mail.com"} {
		ids = append(ids, mustCreatePractitioner(t, svc, "Doc", email))
	}

	page, err := svc.ListPractitioners(context.Background(), pagination.New(1, 2))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0]["id"] != ids[1] || page[1]["id"] != ids[2] {
		t.Errorf("expected ids %v, got %v", ids[1:3], page)
	}
}

func TestCare_Seed(t *testing.T) {
	svc := newService(t)

	res, err := svc.Seed(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(res.Practitioners) != 2 || len(res.Patients) != 4 || len(res.Records) != 1 {
		t.Errorf("unexpected seed result %+v", res)
	}
	if n := countRows(t, "care_link"); n != 4 {
		t.Errorf("expected 4 links, got %d", n)
	}
}

func TestMigrations_AllApplied(t *testing.T) {
	statuses, err := db.NewMigrator(globalPool, os.DirFS(findMigrationsDir())).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.Name)
		}
	}
}
