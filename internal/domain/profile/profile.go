package profile

import (
	"context"
)

// Document field names as stored.
const (
	FieldID         = "_id"
	FieldEmail      = "email"
	FieldProfilePic = "profilePic"
	FieldAboutInfo  = "aboutInfo"
	FieldExperience = "experienceData"
	FieldEducation  = "educationInfo"
)

// Document is a schemaless user profile. Create stores whatever the caller
// sends; the merge engine only ever touches the fields named above.
type Document map[string]any

func (d Document) Email() string {
	email, _ := d[FieldEmail].(string)
	return email
}

func (d Document) RecordID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Entries returns the array stored under field, or nil when the field is
// missing or not an array.
func (d Document) Entries(field string) []any {
	entries, _ := d[field].([]any)
	return entries
}

// Clone returns a deep copy, so stores can hand documents out without
// sharing nested maps or slices.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return CloneValue(map[string]any(d)).(map[string]any)
}

// CloneValue deep-copies decoded JSON values (maps and slices); scalars are
// returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case Document:
		return Document(CloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	default:
		return v
	}
}

// InsertResult mirrors the acknowledgment a document store returns on insert.
type InsertResult struct {
	Acknowledged bool   `json:"acknowledged"`
	InsertedID   string `json:"insertedId"`
}

// UpdateResult mirrors the acknowledgment a document store returns on update.
type UpdateResult struct {
	Acknowledged  bool    `json:"acknowledged"`
	MatchedCount  int64   `json:"matchedCount"`
	ModifiedCount int64   `json:"modifiedCount"`
	UpsertedCount int64   `json:"upsertedCount"`
	UpsertedID    *string `json:"upsertedId"`
}

// Repository is the storage port the merge engine drives. Every mutating
// method must be atomic with respect to a single document.
type Repository interface {
	// Insert stores doc as-is and assigns a record id.
	Insert(ctx context.Context, doc Document) (*InsertResult, error)

	// FindByEmail returns (nil, nil) when no profile has the email.
	FindByEmail(ctx context.Context, email string) (Document, error)

	// FindByID returns (nil, nil) when no profile has the record id.
	FindByID(ctx context.Context, id string) (Document, error)

	// Apply performs every field-set and prepend of m in one atomic update
	// of the profile matching email, creating it when absent.
	Apply(ctx context.Context, email string, m Mutation) (*UpdateResult, error)

	// SetAt replaces field[index] of the profile matching email. It fails
	// with NotFound when no profile matches and OutOfRange when index is
	// outside the current array.
	SetAt(ctx context.Context, email, field string, index int, value any) (*UpdateResult, error)

	// RemoveAt removes field[index] of the profile with the given record id,
	// shifting later elements left. Same failure modes as SetAt.
	RemoveAt(ctx context.Context, id, field string, index int) (*UpdateResult, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
