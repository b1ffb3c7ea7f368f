package care

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/medapp/medapp/internal/platform/apperr"
	"github.com/medapp/medapp/internal/platform/auth"
	"github.com/medapp/medapp/internal/platform/envelope"
	"github.com/medapp/medapp/pkg/pagination"
)

type Handler struct {
	svc  *Service
	gate *auth.Gate
}

func NewHandler(svc *Service, gate *auth.Gate) *Handler {
	return &Handler{svc: svc, gate: gate}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	guard := func(op auth.Operation) echo.MiddlewareFunc {
		return auth.Require(h.gate, op)
	}

	g.GET("/practitioners", h.ListPractitioners, guard(auth.OpListPractitioners))
	g.POST("/practitioners", h.CreatePractitioner, guard(auth.OpCreatePractitioner))
	g.GET("/practitioners/:id", h.GetPractitioner, guard(auth.OpGetPractitioner))
	g.PATCH("/practitioners/:id", h.UpdatePractitioner, guard(auth.OpUpdatePractitioner))
	g.DELETE("/practitioners/:id", h.DeletePractitioner, guard(auth.OpDeletePractitioner))
	g.GET("/practitioners/:id/patients", h.ListPractitionerPatients, guard(auth.OpListPractitionerPatients))
	g.PUT("/practitioners/:id/patients/:patientId", h.LinkPatient, guard(auth.OpLinkPatient))

	g.GET("/patients", h.ListPatients, guard(auth.OpListPatients))
	g.POST("/patients", h.CreatePatient, guard(auth.OpCreatePatient))
	g.GET("/patients/:id", h.GetPatient, guard(auth.OpGetPatient))
	g.PATCH("/patients/:id", h.UpdatePatient, guard(auth.OpUpdatePatient))
	g.DELETE("/patients/:id", h.DeletePatient, guard(auth.OpDeletePatient))
	g.GET("/patients/:id/practitioners", h.ListPatientPractitioners, guard(auth.OpListPatientPractitioners))
	g.PUT("/patients/:id/practitioners/:practitionerId", h.LinkPractitioner, guard(auth.OpLinkPractitioner))

	g.GET("/patients/:id/records", h.ListRecords, guard(auth.OpListRecords))
	g.POST("/patients/:id/records", h.AddRecord, guard(auth.OpAddRecord))
	g.GET("/patients/:id/records/:recordId", h.GetRecord, guard(auth.OpGetRecord))
	g.DELETE("/patients/:id/records/:recordId", h.RemoveRecord, guard(auth.OpRemoveRecord))
}

// -- Practitioner handlers --

func (h *Handler) ListPractitioners(c echo.Context) error {
	items, err := h.svc.ListPractitioners(c.Request().Context(), pagination.FromContext(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, items)
}

func (h *Handler) CreatePractitioner(c echo.Context) error {
	var in PractitionerInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	out, err := h.svc.CreatePractitioner(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusCreated, out)
}

func (h *Handler) GetPractitioner(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.GetPractitioner(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

func (h *Handler) UpdatePractitioner(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	body, err := decodePatch(c)
	if err != nil {
		return targetFirst(err, h.svc.CheckPractitioner(c.Request().Context(), id))
	}
	out, err := h.svc.UpdatePractitioner(c.Request().Context(), id, body)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

func (h *Handler) DeletePractitioner(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	deleted, err := h.svc.DeletePractitioner(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, deleted)
}

func (h *Handler) ListPractitionerPatients(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPractitionerPatients(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, items)
}

func (h *Handler) LinkPatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	out, err := h.svc.LinkPatient(c.Request().Context(), id, patientID)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

// -- Patient handlers --

func (h *Handler) ListPatients(c echo.Context) error {
	items, err := h.svc.ListPatients(c.Request().Context(), pagination.FromContext(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, items)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in PatientInput
	if err := decodeBody(c, &in); err != nil {
		return err
	}
	out, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusCreated, out)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	out, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	body, err := decodePatch(c)
	if err != nil {
		return targetFirst(err, h.svc.CheckPatient(c.Request().Context(), id))
	}
	out, err := h.svc.UpdatePatient(c.Request().Context(), id, body)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	deleted, err := h.svc.DeletePatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, deleted)
}

func (h *Handler) ListPatientPractitioners(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListPatientPractitioners(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, items)
}

func (h *Handler) LinkPractitioner(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	practitionerID, err := pathID(c, "practitionerId")
	if err != nil {
		return err
	}
	out, err := h.svc.LinkPractitioner(c.Request().Context(), id, practitionerID)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

// -- Record handlers --

func (h *Handler) ListRecords(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListRecords(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, items)
}

func (h *Handler) AddRecord(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in RecordInput
	if err := decodeBody(c, &in); err != nil {
		return targetFirst(err, h.svc.CheckPatient(c.Request().Context(), id))
	}
	out, err := h.svc.AddRecord(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusCreated, out)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "recordId")
	if err != nil {
		return err
	}
	out, err := h.svc.GetRecord(c.Request().Context(), id, recordID)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, out)
}

func (h *Handler) RemoveRecord(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "recordId")
	if err != nil {
		return err
	}
	removed, err := h.svc.RemoveRecord(c.Request().Context(), id, recordID)
	if err != nil {
		return err
	}
	return envelope.OK(c, http.StatusOK, removed)
}

// -- helpers --

// pathID parses an integer path parameter. Anything else names no resource
// and is reported as 404.
func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NotFound("resource not found")
	}
	return id, nil
}

// decodeBody reads a JSON body into v. An oversized body keeps its 413;
// every other decoding failure is a validation error.
func decodeBody(c echo.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("malformed JSON body")
	}
	return nil
}

// targetFirst returns lookupErr over a body validation error so that an
// unknown path id reads as 404 whatever the body holds. Transport errors
// such as 413 are returned as they are.
func targetFirst(decodeErr, lookupErr error) error {
	if apperr.Is(lookupErr, apperr.KindNotFound) && apperr.Is(decodeErr, apperr.KindValidation) {
		return lookupErr
	}
	return decodeErr
}

func decodePatch(c echo.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := decodeBody(c, &body); err != nil {
		return nil, err
	}
	return body, nil
}
