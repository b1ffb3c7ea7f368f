package pagination

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=50&offset=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_Malformed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=abc&offset=-4", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults, got %+v", p)
	}
}

func TestSlice(t *testing.T) {
	items := []string{"a", "b", "c", "d"}

	tests := []struct {
		name string
		p    Params
		want []string
	}{
		{"middle window", Params{Offset: 1, Limit: 2}, []string{"b", "c"}},
		{"first page", Params{Offset: 0, Limit: 3}, []string{"a", "b", "c"}},
		{"truncated at end", Params{Offset: 3, Limit: 10}, []string{"d"}},
		{"past the end", Params{Offset: 4, Limit: 2}, []string{}},
		{"far past the end", Params{Offset: 40, Limit: 2}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slice(items, tt.p)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSlice_NeverExceedsLimit(t *testing.T) {
	items := make([]int, 57)
	for offset := 0; offset < 60; offset += 7 {
		for limit := 1; limit <= 12; limit++ {
			got := Slice(items, Params{Offset: offset, Limit: limit})
			if len(got) > limit {
				t.Fatalf("offset=%d limit=%d returned %d items", offset, limit, len(got))
			}
			remaining := len(items) - offset
			if remaining > 0 && remaining >= limit && len(got) != limit {
				t.Fatalf("offset=%d limit=%d returned short page of %d", offset, limit, len(got))
			}
		}
	}
}
