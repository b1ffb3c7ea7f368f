package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_Status(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusUnprocessableEntity},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindPersistence, http.StatusInternalServerError},
		{KindAmbiguity, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Status(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("create practitioner: %w", NotFound("patient %d not found", 7))
	if KindOf(err) != KindNotFound {
		t.Errorf("expected not_found, got %s", KindOf(err))
	}
	if !Is(err, KindNotFound) {
		t.Error("expected Is to match wrapped kind")
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("expected plain errors to be internal")
	}
	if Is(nil, KindInternal) {
		t.Error("nil must not match any kind")
	}
}

func TestPersistence_UnwrapAndPublicMessage(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence(cause, "delete patient %d", 5)

	if !errors.Is(err, cause) {
		t.Error("expected persistence error to unwrap to its cause")
	}
	if err.PublicMessage() != "Internal Server Error" {
		t.Errorf("expected generic message, got %q", err.PublicMessage())
	}
	if err.Error() != "delete patient 5: connection reset" {
		t.Errorf("unexpected error text: %s", err.Error())
	}
}

func TestValidation_PublicMessage(t *testing.T) {
	err := Validation("field %s is unknown", "hobbies")
	if err.PublicMessage() != "field hobbies is unknown" {
		t.Errorf("unexpected message: %s", err.PublicMessage())
	}
}

func TestIsDomain(t *testing.T) {
	if !IsDomain(Validation("x")) {
		t.Error("validation should be a domain error")
	}
	if !IsDomain(Ambiguity("x")) {
		t.Error("ambiguity should pass through unchanged")
	}
	if IsDomain(Persistence(errors.New("x"), "y")) {
		t.Error("persistence is not a domain error")
	}
	if IsDomain(errors.New("raw")) {
		t.Error("raw errors are not domain errors")
	}
}
