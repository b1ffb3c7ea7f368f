package care

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/medapp/medapp/internal/platform/apperr"
)

// immutableFields may appear on a rendered resource but never in a patch.
var immutableFields = map[string]bool{"id": true}

// Patch is a parsed partial update. Nil fields are left unchanged; a non-nil
// Related replaces the whole relationship set.
type Patch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Related   *[]int64
}

// ParsePatch validates a decoded JSON body. Keys are camelCase on the wire
// and normalized to snake_case; relation names the id-list attribute of the
// patched entity ("patient_ids" or "practitioner_ids").
func ParsePatch(body map[string]interface{}, relation string) (*Patch, error) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &Patch{}
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		field := snakeCase(key)
		value := body[key]
		if seen[field] {
			return nil, apperr.Validation("field %s given twice", field)
		}
		seen[field] = true

		switch {
		case immutableFields[field]:
			return nil, apperr.Validation("field %s is immutable", field)
		case field == "first_name":
			s, err := stringField(field, value)
			if err != nil {
				return nil, err
			}
			p.FirstName = &s
		case field == "last_name":
			s, err := stringField(field, value)
			if err != nil {
				return nil, err
			}
			p.LastName = &s
		case field == "email":
			s, err := stringField(field, value)
			if err != nil {
				return nil, err
			}
			p.Email = &s
		case field == relation:
			ids, err := idListField(field, value)
			if err != nil {
				return nil, err
			}
			p.Related = &ids
		default:
			return nil, apperr.Validation("unknown field %s", field)
		}
	}
	return p, nil
}

// Apply copies the scalar changes onto person.
func (p *Patch) Apply(person *Person) {
	if p.FirstName != nil {
		person.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		person.LastName = *p.LastName
	}
	if p.Email != nil {
		person.Email = *p.Email
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stringField(field string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", apperr.Validation("%s must be a string", field)
	}
	return s, nil
}

func idListField(field string, v interface{}) ([]int64, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, apperr.Validation("%s must be a list of ids", field)
	}
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		id, ok := toID(item)
		if !ok {
			return nil, apperr.Validation("%s must contain positive integer ids", field)
		}
		ids = append(ids, id)
	}
	return uniqueIDs(ids), nil
}

func toID(v interface{}) (int64, bool) {
	var id int64
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		id = i
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 {
			return 0, false
		}
		id = int64(n)
	case int:
		id = int64(n)
	case int64:
		id = n
	default:
		return 0, false
	}
	return id, id > 0
}

// uniqueIDs returns ids sorted with duplicates removed.
func uniqueIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
