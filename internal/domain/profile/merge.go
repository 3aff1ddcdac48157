package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Request keys accepted by a merge-update.
const (
	RequestImage      = "image"
	RequestAboutData  = "aboutData"
	RequestExperience = "experienceData"
	RequestEducation  = "educationInfo"
)

var ErrNotAnArray = errors.New("field is not an array")

// FieldSet replaces the value of one top-level field.
type FieldSet struct {
	Field string
	Value any
}

// Prepend inserts one element at position 0 of an array field.
type Prepend struct {
	Field   string
	Element any
}

// Mutation is the set of operations a merge-update stages against one
// profile. Sets and Prepends are kept in staging order.
type Mutation struct {
	Sets     []FieldSet
	Prepends []Prepend
}

// PlanMerge decides which operations a partial update body stages. Each
// recognised key is considered independently and a falsy value counts as
// not provided, so a merge can never clear a field.
func PlanMerge(body map[string]any) Mutation {
	var m Mutation

	if v := body[RequestImage]; IsTruthy(v) {
		m.Sets = append(m.Sets, FieldSet{Field: FieldProfilePic, Value: v})
	}
	if v := body[RequestAboutData]; IsTruthy(v) {
		m.Sets = append(m.Sets, FieldSet{Field: FieldAboutInfo, Value: v})
	}
	if v := body[RequestExperience]; IsTruthy(v) {
		m.Prepends = append(m.Prepends, Prepend{Field: FieldExperience, Element: v})
	}
	if v := body[RequestEducation]; IsTruthy(v) {
		m.Prepends = append(m.Prepends, Prepend{Field: FieldEducation, Element: v})
	}

	return m
}

func (m Mutation) IsEmpty() bool {
	return len(m.Sets) == 0 && len(m.Prepends) == 0
}

// UpdatedFields lists the stored field names touched by m: field-sets
// first, then prepends.
func (m Mutation) UpdatedFields() []string {
	fields := make([]string, 0, len(m.Sets)+len(m.Prepends))
	for _, s := range m.Sets {
		fields = append(fields, s.Field)
	}
	for _, p := range m.Prepends {
		fields = append(fields, p.Field)
	}
	return fields
}

// SetMap returns the field-sets as a field -> value map.
func (m Mutation) SetMap() map[string]any {
	sets := make(map[string]any, len(m.Sets))
	for _, s := range m.Sets {
		sets[s.Field] = s.Value
	}
	return sets
}

// ApplyTo applies m to doc in place. Stores without native update operators
// run it inside their own atomic section.
func (m Mutation) ApplyTo(doc Document) error {
	for _, p := range m.Prepends {
		if existing, ok := doc[p.Field]; ok && existing != nil {
			if _, isArray := existing.([]any); !isArray {
				return fmt.Errorf("prepend to %s: %w", p.Field, ErrNotAnArray)
			}
		}
	}

	for _, s := range m.Sets {
		doc[s.Field] = CloneValue(s.Value)
	}
	for _, p := range m.Prepends {
		current := doc.Entries(p.Field)
		next := make([]any, 0, len(current)+1)
		next = append(next, CloneValue(p.Element))
		next = append(next, current...)
		doc[p.Field] = next
	}
	return nil
}

// IndexInRange reports whether index addresses an existing element of an
// array of the given length.
func IndexInRange(index, length int) bool {
	return index >= 0 && index < length
}

// RemoveIndex returns a new slice without entries[index]. The caller checks
// the bounds.
func RemoveIndex(entries []any, index int) []any {
	out := make([]any, 0, len(entries)-1)
	out = append(out, entries[:index]...)
	return append(out, entries[index+1:]...)
}

// IsTruthy reports whether a decoded JSON value counts as provided. Null,
// false, zero, NaN, the empty string, the empty array and the empty object
// are all falsy.
func IsTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Document:
		return len(t) > 0
	default:
		return true
	}
}
