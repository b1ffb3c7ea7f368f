package auth

import (
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/medapp/medapp/internal/platform/apperr"
)

// Operation names a guarded API operation.
type Operation string

const (
	OpListPractitioners        Operation = "list_practitioners"
	OpGetPractitioner          Operation = "get_practitioner"
	OpCreatePractitioner       Operation = "create_practitioner"
	OpUpdatePractitioner       Operation = "update_practitioner"
	OpDeletePractitioner       Operation = "delete_practitioner"
	OpListPractitionerPatients Operation = "list_practitioner_patients"
	OpLinkPatient              Operation = "link_patient"

	OpListPatients             Operation = "list_patients"
	OpGetPatient               Operation = "get_patient"
	OpCreatePatient            Operation = "create_patient"
	OpUpdatePatient            Operation = "update_patient"
	OpDeletePatient            Operation = "delete_patient"
	OpListPatientPractitioners Operation = "list_patient_practitioners"
	OpLinkPractitioner         Operation = "link_practitioner"

	OpListRecords  Operation = "list_records"
	OpGetRecord    Operation = "get_record"
	OpAddRecord    Operation = "add_record"
	OpRemoveRecord Operation = "remove_record"
)

type rule struct {
	scope string
	read  bool
}

var rules = map[Operation]rule{
	OpListPractitioners:        {"get:practitioners", true},
	OpGetPractitioner:          {"get:practitioners", true},
	OpCreatePractitioner:       {"write:practitioners", false},
	OpUpdatePractitioner:       {"write:practitioners", false},
	OpDeletePractitioner:       {"delete:practitioners", false},
	OpListPractitionerPatients: {"get:patients", true},
	OpLinkPatient:              {"write:practitioners", false},

	OpListPatients:             {"get:patients", true},
	OpGetPatient:               {"get:patients", true},
	OpCreatePatient:            {"write:patients", false},
	OpUpdatePatient:            {"write:patients", false},
	OpDeletePatient:            {"delete:patients", false},
	OpListPatientPractitioners: {"get:practitioners", true},
	OpLinkPractitioner:         {"write:patients", false},

	OpListRecords:  {"get:records", true},
	OpGetRecord:    {"get:records", true},
	OpAddRecord:    {"write:records", false},
	OpRemoveRecord: {"delete:records", false},
}

// RequiredScope returns the scope guarding op.
func RequiredScope(op Operation) (string, bool) {
	r, ok := rules[op]
	return r.scope, ok
}

// AllScopes lists every scope any operation can require.
func AllScopes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rules {
		if !seen[r.scope] {
			seen[r.scope] = true
			out = append(out, r.scope)
		}
	}
	sort.Strings(out)
	return out
}

// Gate decides whether a principal may perform an operation. Read
// operations are open to anonymous callers unless read scopes are required.
type Gate struct {
	requireReadScopes bool
}

func NewGate(requireReadScopes bool) *Gate {
	return &Gate{requireReadScopes: requireReadScopes}
}

// Guarded reports whether op needs an authenticated principal at all.
func (g *Gate) Guarded(op Operation) bool {
	r, ok := rules[op]
	if !ok {
		return true
	}
	return !r.read || g.requireReadScopes
}

// Allow reports whether p may perform op. Unknown operations are denied.
func (g *Gate) Allow(p *Principal, op Operation) bool {
	r, ok := rules[op]
	if !ok {
		return false
	}
	if !g.Guarded(op) {
		return true
	}
	return p.HasScope(r.scope)
}

// Require guards a route: 401 when the operation is guarded and no principal
// is present, 403 when the principal lacks the scope.
func Require(g *Gate, op Operation) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !g.Guarded(op) {
				return next(c)
			}
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return apperr.Unauthorized("authorization required")
			}
			if !g.Allow(p, op) {
				scope, _ := RequiredScope(op)
				return apperr.Forbidden("required scope: %s", scope)
			}
			return next(c)
		}
	}
}
