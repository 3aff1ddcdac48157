package persistence

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
)

// memoryProfileRepo keeps profiles in process. One mutex serialises every
// operation, which gives each mutation the same single-document atomicity
// the real stores provide.
type memoryProfileRepo struct {
	mu      sync.Mutex
	byEmail map[string]string
	docs    map[string]profile.Document
}

func NewMemoryProfileRepo() profile.Repository {
	return &memoryProfileRepo{
		byEmail: make(map[string]string),
		docs:    make(map[string]profile.Document),
	}
}

func (r *memoryProfileRepo) Insert(_ context.Context, doc profile.Document) (*profile.InsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := doc.Email()
	if email != "" {
		if _, exists := r.byEmail[email]; exists {
			return nil, apperror.NewWriteFailed("failed to insert profile", errDuplicateEmail(email))
		}
	}

	stored := doc.Clone()
	if stored == nil {
		stored = profile.Document{}
	}
	id := uuid.NewString()
	stored[profile.FieldID] = id

	r.docs[id] = stored
	if email != "" {
		r.byEmail[email] = id
	}
	return &profile.InsertResult{Acknowledged: true, InsertedID: id}, nil
}

func (r *memoryProfileRepo) FindByEmail(_ context.Context, email string) (profile.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return r.docs[id].Clone(), nil
}

func (r *memoryProfileRepo) FindByID(_ context.Context, id string) (profile.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.docs[id].Clone(), nil
}

func (r *memoryProfileRepo) Apply(_ context.Context, email string, m profile.Mutation) (*profile.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.byEmail[email]
	if !exists {
		doc := profile.Document{profile.FieldEmail: email}
		if err := m.ApplyTo(doc); err != nil {
			return nil, apperror.NewWriteFailed("failed to upsert profile", err)
		}
		id = uuid.NewString()
		doc[profile.FieldID] = id
		r.docs[id] = doc
		r.byEmail[email] = id
		return &profile.UpdateResult{Acknowledged: true, UpsertedCount: 1, UpsertedID: &id}, nil
	}

	// Work on a copy so a rejected mutation leaves nothing half applied.
	doc := r.docs[id].Clone()
	if err := m.ApplyTo(doc); err != nil {
		return nil, apperror.NewWriteFailed("failed to update profile", err)
	}
	r.docs[id] = doc

	modified := int64(0)
	if !m.IsEmpty() {
		modified = 1
	}
	return &profile.UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: modified}, nil
}

func (r *memoryProfileRepo) SetAt(_ context.Context, email, field string, index int, value any) (*profile.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, apperror.NewNotFound("user", email)
	}
	doc := r.docs[id]
	entries := doc.Entries(field)
	if !profile.IndexInRange(index, len(entries)) {
		return nil, apperror.NewOutOfRange(field, index, len(entries))
	}

	next := make([]any, len(entries))
	copy(next, entries)
	next[index] = profile.CloneValue(value)
	doc[field] = next

	return &profile.UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

func (r *memoryProfileRepo) RemoveAt(_ context.Context, id, field string, index int) (*profile.UpdateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, apperror.NewNotFound("user", id)
	}
	entries := doc.Entries(field)
	if !profile.IndexInRange(index, len(entries)) {
		return nil, apperror.NewOutOfRange(field, index, len(entries))
	}
	doc[field] = profile.RemoveIndex(entries, index)

	return &profile.UpdateResult{Acknowledged: true, MatchedCount: 1, ModifiedCount: 1}, nil
}

func (r *memoryProfileRepo) Ping(context.Context) error { return nil }

func (r *memoryProfileRepo) Close(context.Context) error { return nil }
