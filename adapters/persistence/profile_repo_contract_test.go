package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
)

// runProfileRepoContract exercises the behaviour every profile store must
// share. newRepo returns a repository with no profiles whose emails collide
// with the ones used here.
func runProfileRepoContract(t *testing.T, newRepo func(t *testing.T) profile.Repository) {
	ctx := context.Background()

	t.Run("insert and find by both keys", func(t *testing.T) {
		repo := newRepo(t)
		res, err := repo.Insert(ctx, profile.Document{"email": "insert@x.com", "name": "Ann"})
		require.NoError(t, err)
		assert.True(t, res.Acknowledged)
		require.NotEmpty(t, res.InsertedID)

		byEmail, err := repo.FindByEmail(ctx, "insert@x.com")
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, "Ann", byEmail["name"])
		assert.Equal(t, res.InsertedID, byEmail.RecordID())

		byID, err := repo.FindByID(ctx, res.InsertedID)
		require.NoError(t, err)
		assert.Equal(t, byEmail, byID)
	})

	t.Run("duplicate email insert fails as write failure", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Insert(ctx, profile.Document{"email": "dup@x.com"})
		require.NoError(t, err)

		_, err = repo.Insert(ctx, profile.Document{"email": "dup@x.com"})
		assert.ErrorIs(t, err, apperror.ErrWriteFailed)
	})

	t.Run("documents without email can be inserted repeatedly", func(t *testing.T) {
		repo := newRepo(t)
		first, err := repo.Insert(ctx, profile.Document{"name": "a"})
		require.NoError(t, err)
		second, err := repo.Insert(ctx, profile.Document{"name": "b"})
		require.NoError(t, err)
		assert.NotEqual(t, first.InsertedID, second.InsertedID)

		doc, err := repo.FindByID(ctx, second.InsertedID)
		require.NoError(t, err)
		assert.Equal(t, "b", doc["name"])
	})

	t.Run("unknown keys find nothing without error", func(t *testing.T) {
		repo := newRepo(t)
		doc, err := repo.FindByEmail(ctx, "nobody@x.com")
		assert.NoError(t, err)
		assert.Nil(t, doc)

		doc, err = repo.FindByID(ctx, "not-a-record-id")
		assert.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("apply upserts exactly the staged fields plus the key", func(t *testing.T) {
		repo := newRepo(t)
		m := profile.PlanMerge(map[string]any{"aboutData": "hi", "experienceData": map[string]any{"title": "Dev"}})

		res, err := repo.Apply(ctx, "upsert@x.com", m)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.UpsertedCount)
		require.NotNil(t, res.UpsertedID)

		doc, err := repo.FindByEmail(ctx, "upsert@x.com")
		require.NoError(t, err)
		delete(doc, profile.FieldID)
		assert.Equal(t, profile.Document{
			"email":          "upsert@x.com",
			"aboutInfo":      "hi",
			"experienceData": []any{map[string]any{"title": "Dev"}},
		}, doc)
	})

	t.Run("apply leaves absent fields untouched", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Insert(ctx, profile.Document{
			"email":          "subset@x.com",
			"profilePic":     "old.png",
			"aboutInfo":      "old",
			"educationInfo":  []any{"MIT"},
			"experienceData": []any{"A"},
		})
		require.NoError(t, err)

		res, err := repo.Apply(ctx, "subset@x.com", profile.PlanMerge(map[string]any{"image": "new.png"}))
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.MatchedCount)

		doc, err := repo.FindByEmail(ctx, "subset@x.com")
		require.NoError(t, err)
		assert.Equal(t, "new.png", doc["profilePic"])
		assert.Equal(t, "old", doc["aboutInfo"])
		assert.Equal(t, []any{"MIT"}, doc["educationInfo"])
		assert.Equal(t, []any{"A"}, doc["experienceData"])
	})

	t.Run("prepends are most recent first", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Apply(ctx, "order@x.com", profile.PlanMerge(map[string]any{"experienceData": "E1"}))
		require.NoError(t, err)
		_, err = repo.Apply(ctx, "order@x.com", profile.PlanMerge(map[string]any{"experienceData": "E2", "educationInfo": "S1"}))
		require.NoError(t, err)

		doc, err := repo.FindByEmail(ctx, "order@x.com")
		require.NoError(t, err)
		assert.Equal(t, []any{"E2", "E1"}, doc.Entries(profile.FieldExperience))
		assert.Equal(t, []any{"S1"}, doc.Entries(profile.FieldEducation))
	})

	t.Run("prepend onto a non-array value fails as write failure", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Insert(ctx, profile.Document{"email": "scalar@x.com", "experienceData": "oops"})
		require.NoError(t, err)

		_, err = repo.Apply(ctx, "scalar@x.com", profile.PlanMerge(map[string]any{"experienceData": "E", "aboutData": "new"}))
		assert.ErrorIs(t, err, apperror.ErrWriteFailed)

		doc, err := repo.FindByEmail(ctx, "scalar@x.com")
		require.NoError(t, err)
		assert.Equal(t, "oops", doc["experienceData"])
		assert.NotContains(t, doc, "aboutInfo", "a rejected merge writes nothing")
	})

	t.Run("set at index replaces one element", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Insert(ctx, profile.Document{
			"email":          "set@x.com",
			"experienceData": []any{"A", "B", "C"},
			"educationInfo":  []any{"S"},
		})
		require.NoError(t, err)

		_, err = repo.SetAt(ctx, "set@x.com", profile.FieldExperience, 1, "X")
		require.NoError(t, err)

		doc, err := repo.FindByEmail(ctx, "set@x.com")
		require.NoError(t, err)
		assert.Equal(t, []any{"A", "X", "C"}, doc.Entries(profile.FieldExperience))
		assert.Equal(t, []any{"S"}, doc.Entries(profile.FieldEducation))

		_, err = repo.SetAt(ctx, "set@x.com", profile.FieldExperience, 3, "Y")
		assert.ErrorIs(t, err, apperror.ErrOutOfRange)
		_, err = repo.SetAt(ctx, "set@x.com", profile.FieldExperience, -1, "Y")
		assert.ErrorIs(t, err, apperror.ErrOutOfRange)
		_, err = repo.SetAt(ctx, "missing@x.com", profile.FieldExperience, 0, "Y")
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		doc, err = repo.FindByEmail(ctx, "set@x.com")
		require.NoError(t, err)
		assert.Equal(t, []any{"A", "X", "C"}, doc.Entries(profile.FieldExperience))
	})

	t.Run("remove at index shifts later elements left", func(t *testing.T) {
		repo := newRepo(t)
		ins, err := repo.Insert(ctx, profile.Document{
			"email":          "remove@x.com",
			"experienceData": []any{"A", "B", "C"},
		})
		require.NoError(t, err)

		_, err = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 1)
		require.NoError(t, err)

		doc, err := repo.FindByID(ctx, ins.InsertedID)
		require.NoError(t, err)
		assert.Equal(t, []any{"A", "C"}, doc.Entries(profile.FieldExperience))

		_, err = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 2)
		assert.ErrorIs(t, err, apperror.ErrOutOfRange)

		_, err = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 0)
		require.NoError(t, err)
		_, err = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 0)
		require.NoError(t, err)
		_, err = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 0)
		assert.ErrorIs(t, err, apperror.ErrOutOfRange, "empty array has no index 0")

		_, err = repo.RemoveAt(ctx, "not-a-record-id", profile.FieldExperience, 0)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("concurrent disjoint updates all land", func(t *testing.T) {
		repo := newRepo(t)
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n+2)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Apply(ctx, "race@x.com", profile.PlanMerge(map[string]any{"experienceData": fmt.Sprintf("E%d", i)}))
				errs <- err
			}(i)
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := repo.Apply(ctx, "race@x.com", profile.PlanMerge(map[string]any{"image": "p.png"}))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := repo.Apply(ctx, "race@x.com", profile.PlanMerge(map[string]any{"aboutData": "about"}))
			errs <- err
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := repo.FindByEmail(ctx, "race@x.com")
		require.NoError(t, err)
		assert.Equal(t, "p.png", doc["profilePic"])
		assert.Equal(t, "about", doc["aboutInfo"])

		entries := doc.Entries(profile.FieldExperience)
		assert.Len(t, entries, n)
		for i := 0; i < n; i++ {
			assert.Contains(t, entries, fmt.Sprintf("E%d", i))
		}
	})

	t.Run("concurrent prepend and remove both take effect", func(t *testing.T) {
		repo := newRepo(t)
		ins, err := repo.Insert(ctx, profile.Document{
			"email":          "prepend-remove@x.com",
			"experienceData": []any{"A", "B", "C"},
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		var applyErr, removeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, applyErr = repo.Apply(ctx, "prepend-remove@x.com", profile.PlanMerge(map[string]any{"experienceData": "X"}))
		}()
		go func() {
			defer wg.Done()
			_, removeErr = repo.RemoveAt(ctx, ins.InsertedID, profile.FieldExperience, 0)
		}()
		wg.Wait()
		require.NoError(t, applyErr)
		require.NoError(t, removeErr)

		doc, err := repo.FindByID(ctx, ins.InsertedID)
		require.NoError(t, err)

		// Whichever ran first, one element was added and one removed.
		entries := doc.Entries(profile.FieldExperience)
		require.Len(t, entries, 3)
		assert.Contains(t, [][]any{{"X", "B", "C"}, {"A", "B", "C"}}, entries)
	})
}

func TestMemoryProfileRepo(t *testing.T) {
	runProfileRepoContract(t, func(*testing.T) profile.Repository {
		return NewMemoryProfileRepo()
	})
}

func TestMemoryProfileRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProfileRepo()
	_, err := repo.Insert(ctx, profile.Document{"email": "copy@x.com", "experienceData": []any{"A"}})
	require.NoError(t, err)

	doc, err := repo.FindByEmail(ctx, "copy@x.com")
	require.NoError(t, err)
	doc.Entries(profile.FieldExperience)[0] = "mutated"
	doc["aboutInfo"] = "mutated"

	again, err := repo.FindByEmail(ctx, "copy@x.com")
	require.NoError(t, err)
	assert.Equal(t, []any{"A"}, again.Entries(profile.FieldExperience))
	assert.NotContains(t, again, "aboutInfo")
}

func TestMemoryProfileRepo_PrependOntoNullStartsArray(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProfileRepo()
	_, err := repo.Insert(ctx, profile.Document{"email": "null@x.com", "experienceData": nil})
	require.NoError(t, err)

	_, err = repo.Apply(ctx, "null@x.com", profile.PlanMerge(map[string]any{"experienceData": "E"}))
	require.NoError(t, err)

	doc, err := repo.FindByEmail(ctx, "null@x.com")
	require.NoError(t, err)
	assert.Equal(t, []any{"E"}, doc.Entries(profile.FieldExperience))
}
