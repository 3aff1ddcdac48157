package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
	"github.com/khoahotran/profile-service/pkg/logger"
)

const profilesTable = "user_profiles"

// postgresProfileRepo stores each profile as one JSONB document. Every
// mutation is a single statement, so row locking gives the same per-document
// atomicity a document store does.
type postgresProfileRepo struct {
	db     *pgxpool.Pool
	logger logger.Logger
}

func NewPostgresProfileRepo(db *pgxpool.Pool, logger logger.Logger) profile.Repository {
	return &postgresProfileRepo{db: db, logger: logger}
}

var psqlProfile = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (r *postgresProfileRepo) Insert(ctx context.Context, doc profile.Document) (*profile.InsertResult, error) {
	id := uuid.New()

	stored := doc.Clone()
	if stored == nil {
		stored = profile.Document{}
	}
	delete(stored, profile.FieldID)

	docBytes, err := json.Marshal(stored)
	if err != nil {
		return nil, apperror.NewInternal("failed to marshal profile document", err)
	}

	var email *string
	if e := doc.Email(); e != "" {
		email = &e
	}

	sql, args, err := psqlProfile.Insert(profilesTable).
		Columns("id", "email", "doc").
		Values(id, email, sq.Expr("?::jsonb", docBytes)).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build insert profile query", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return nil, apperror.NewWriteFailed("failed to insert profile", err)
	}
	return &profile.InsertResult{Acknowledged: true, InsertedID: id.String()}, nil
}

func (r *postgresProfileRepo) FindByEmail(ctx context.Context, email string) (profile.Document, error) {
	return r.findOne(ctx, sq.Eq{"email": email})
}

func (r *postgresProfileRepo) FindByID(ctx context.Context, id string) (profile.Document, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, sq.Eq{"id": uid})
}

func (r *postgresProfileRepo) findOne(ctx context.Context, where sq.Sqlizer) (profile.Document, error) {
	sql, args, err := psqlProfile.Select("id", "doc").From(profilesTable).Where(where).ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build find profile query", err)
	}

	var (
		id       uuid.UUID
		docBytes []byte
	)
	err = r.db.QueryRow(ctx, sql, args...).Scan(&id, &docBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.NewReadFailed("failed to query profile", err)
	}

	doc := profile.Document{}
	if err := json.Unmarshal(docBytes, &doc); err != nil {
		r.logger.Warn("Failed to unmarshal profile document", zap.String("id", id.String()), zap.Error(err))
		return nil, apperror.NewReadFailed("failed to decode profile document", err)
	}
	doc[profile.FieldID] = id.String()
	return doc, nil
}

// Apply upserts in one INSERT .. ON CONFLICT statement. The insert branch
// carries the document a first update creates; the conflict branch merges
// field-sets with || and prepends with jsonb_build_array(..) || existing.
// A stored null counts as an empty array. Any other non-array value fails
// the conflict WHERE, so the statement returns no row and writes nothing.
func (r *postgresProfileRepo) Apply(ctx context.Context, email string, m profile.Mutation) (*profile.UpdateResult, error) {
	fresh := profile.Document{profile.FieldEmail: email}
	if err := m.ApplyTo(fresh); err != nil {
		return nil, apperror.NewWriteFailed("failed to build profile document", err)
	}
	freshBytes, err := json.Marshal(fresh)
	if err != nil {
		return nil, apperror.NewInternal("failed to marshal profile document", err)
	}
	setBytes, err := json.Marshal(m.SetMap())
	if err != nil {
		return nil, apperror.NewInternal("failed to marshal profile fields", err)
	}

	const existing = profilesTable + ".doc -> ?::text"
	expr := profilesTable + ".doc || ?::jsonb"
	args := []any{setBytes}
	var (
		guards      []string
		guardArgs   []any
		arrayFields []string
	)
	for _, p := range m.Prepends {
		elem, err := json.Marshal(p.Element)
		if err != nil {
			return nil, apperror.NewInternal("failed to marshal profile entry", err)
		}
		expr = "jsonb_set(" + expr + ", ARRAY[?::text], jsonb_build_array(?::jsonb) || " +
			"CASE WHEN jsonb_typeof(" + existing + ") = 'array' THEN " + existing + " ELSE '[]'::jsonb END)"
		args = append(args, p.Field, elem, p.Field, p.Field)

		guards = append(guards, "COALESCE(jsonb_typeof("+existing+"), 'null') IN ('array', 'null')")
		guardArgs = append(guardArgs, p.Field)
		arrayFields = append(arrayFields, p.Field)
	}

	suffix := "ON CONFLICT (email) DO UPDATE SET doc = " + expr + ", updated_at = NOW()"
	if len(guards) > 0 {
		suffix += " WHERE " + strings.Join(guards, " AND ")
		args = append(args, guardArgs...)
	}
	suffix += " RETURNING id, (xmax = 0) AS inserted"

	sql, sqlArgs, err := psqlProfile.Insert(profilesTable).
		Columns("id", "email", "doc").
		Values(uuid.New(), email, sq.Expr("?::jsonb", freshBytes)).
		Suffix(suffix, args...).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("failed to build upsert profile query", err)
	}

	var (
		id       uuid.UUID
		inserted bool
	)
	if err := r.db.QueryRow(ctx, sql, sqlArgs...).Scan(&id, &inserted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewWriteFailed("failed to upsert profile",
				fmt.Errorf("prepend to %s: %w", strings.Join(arrayFields, ", "), profile.ErrNotAnArray))
		}
		r.logger.Warn("Postgres merge update failed", zap.String("email", email), zap.Error(err))
		return nil, apperror.NewWriteFailed("failed to upsert profile", err)
	}

	if inserted {
		upserted := id.String()
		return &profile.UpdateResult{Acknowledged: true, UpsertedCount: 1, UpsertedID: &upserted}, nil
	}
	res := &profile.UpdateResult{Acknowledged: true, MatchedCount: 1}
	if !m.IsEmpty() {
		res.ModifiedCount = 1
	}
	return res, nil
}

func (r *postgresProfileRepo) SetAt(ctx context.Context, email, field string, index int, value any) (*profile.UpdateResult, error) {
	if index >= 0 {
		valueBytes, err := json.Marshal(value)
		if err != nil {
			return nil, apperror.NewInternal("failed to marshal profile entry", err)
		}

		builder := psqlProfile.Update(profilesTable).
			Set("doc", sq.Expr("jsonb_set(doc, ARRAY[?::text, ?::text], ?::jsonb, false)", field, strconv.Itoa(index), valueBytes)).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"email": email}).
			Where(inBounds(field, index))

		affected, err := r.exec(ctx, builder)
		if err != nil {
			return nil, apperror.NewWriteFailed("failed to replace profile entry", err)
		}
		if affected > 0 {
			return &profile.UpdateResult{Acknowledged: true, MatchedCount: affected, ModifiedCount: affected}, nil
		}
	}

	doc, err := r.FindByEmail(ctx, email)
	return nil, missOrOutOfRange(doc, err, email, field, index)
}

func (r *postgresProfileRepo) RemoveAt(ctx context.Context, id, field string, index int) (*profile.UpdateResult, error) {
	uid, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return nil, apperror.NewNotFound("user", id)
	}

	if index >= 0 {
		// jsonb - int removes one array element and shifts the rest left.
		builder := psqlProfile.Update(profilesTable).
			Set("doc", sq.Expr("jsonb_set(doc, ARRAY[?::text], (doc -> ?::text) - ?::int)", field, field, index)).
			Set("updated_at", sq.Expr("NOW()")).
			Where(sq.Eq{"id": uid}).
			Where(inBounds(field, index))

		affected, err := r.exec(ctx, builder)
		if err != nil {
			return nil, apperror.NewWriteFailed("failed to remove profile entry", err)
		}
		if affected > 0 {
			return &profile.UpdateResult{Acknowledged: true, MatchedCount: affected, ModifiedCount: affected}, nil
		}
	}

	doc, err := r.FindByID(ctx, id)
	return nil, missOrOutOfRange(doc, err, id, field, index)
}

func (r *postgresProfileRepo) exec(ctx context.Context, builder sq.UpdateBuilder) (int64, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *postgresProfileRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *postgresProfileRepo) Close(context.Context) error {
	r.db.Close()
	return nil
}

func inBounds(field string, index int) sq.Sqlizer {
	return sq.Expr(
		"CASE WHEN jsonb_typeof(doc -> ?::text) = 'array' THEN jsonb_array_length(doc -> ?::text) ELSE 0 END > ?::int",
		field, field, index,
	)
}
