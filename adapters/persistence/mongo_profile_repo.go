package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/apperror"
	"github.com/khoahotran/profile-service/pkg/logger"
)

type mongoProfileRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger logger.Logger
}

func NewMongoProfileRepo(client *mongo.Client, database, collection string, logger logger.Logger) profile.Repository {
	return &mongoProfileRepo{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logger,
	}
}

// EnsureIndexes creates the unique email index, which stops two concurrent
// first merges from inserting two profiles for one email.
func EnsureIndexes(ctx context.Context, repo profile.Repository) error {
	r, ok := repo.(*mongoProfileRepo)
	if !ok {
		return nil
	}
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: profile.FieldEmail, Value: 1}},
		// Only string emails are indexed, so any number of email-less
		// documents can coexist.
		Options: options.Index().
			SetUnique(true).
			SetName("email_unique").
			SetPartialFilterExpression(bson.M{profile.FieldEmail: bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func (r *mongoProfileRepo) Insert(ctx context.Context, doc profile.Document) (*profile.InsertResult, error) {
	if doc == nil {
		doc = profile.Document{}
	}
	res, err := r.coll.InsertOne(ctx, bson.M(doc))
	if err != nil {
		return nil, apperror.NewWriteFailed("failed to insert profile", err)
	}
	return &profile.InsertResult{Acknowledged: true, InsertedID: idString(res.InsertedID)}, nil
}

func (r *mongoProfileRepo) FindByEmail(ctx context.Context, email string) (profile.Document, error) {
	return r.findOne(ctx, bson.M{profile.FieldEmail: email})
}

func (r *mongoProfileRepo) FindByID(ctx context.Context, id string) (profile.Document, error) {
	return r.findOne(ctx, idFilter(id))
}

func (r *mongoProfileRepo) findOne(ctx context.Context, filter bson.M) (profile.Document, error) {
	var raw bson.M
	err := r.coll.FindOne(ctx, filter).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperror.NewReadFailed("failed to query profile", err)
	}
	return profile.Document(normalizeBSON(raw).(map[string]any)), nil
}

func (r *mongoProfileRepo) Apply(ctx context.Context, email string, m profile.Mutation) (*profile.UpdateResult, error) {
	update := bson.M{}

	if len(m.Sets) > 0 {
		update["$set"] = bson.M(m.SetMap())
	}
	if len(m.Prepends) > 0 {
		push := bson.M{}
		for _, p := range m.Prepends {
			push[p.Field] = bson.M{"$each": bson.A{p.Element}, "$position": 0}
		}
		update["$push"] = push
	}
	if len(update) == 0 {
		// Nothing staged still materialises the profile on first use.
		update["$set"] = bson.M{profile.FieldEmail: email}
	}

	filter := bson.M{profile.FieldEmail: email}
	res, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert created the profile first; this one now matches it.
		res, err = r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	}
	if err != nil {
		r.logger.Warn("Mongo merge update failed", zap.String("email", email), zap.Error(err))
		return nil, apperror.NewWriteFailed("failed to upsert profile", err)
	}
	return toUpdateResult(res), nil
}

func (r *mongoProfileRepo) SetAt(ctx context.Context, email, field string, index int, value any) (*profile.UpdateResult, error) {
	if index >= 0 {
		path := fmt.Sprintf("%s.%d", field, index)
		filter := bson.M{profile.FieldEmail: email, path: bson.M{"$exists": true}}
		res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{path: value}})
		if err != nil {
			return nil, apperror.NewWriteFailed("failed to replace profile entry", err)
		}
		if res.MatchedCount > 0 {
			return toUpdateResult(res), nil
		}
	}
	doc, err := r.findOne(ctx, bson.M{profile.FieldEmail: email})
	return nil, missOrOutOfRange(doc, err, email, field, index)
}

func (r *mongoProfileRepo) RemoveAt(ctx context.Context, id, field string, index int) (*profile.UpdateResult, error) {
	if index >= 0 {
		filter := idFilter(id)
		filter[fmt.Sprintf("%s.%d", field, index)] = bson.M{"$exists": true}

		// Rebuild the array from every position except index inside a single
		// update pipeline, so the read and the write cannot interleave with
		// another request.
		arrayRef := "$" + field
		pipeline := mongo.Pipeline{
			{{Key: "$set", Value: bson.M{field: bson.M{
				"$map": bson.M{
					"input": bson.M{"$filter": bson.M{
						"input": bson.M{"$range": bson.A{0, bson.M{"$size": arrayRef}}},
						"as":    "i",
						"cond":  bson.M{"$ne": bson.A{"$$i", index}},
					}},
					"as": "i",
					"in": bson.M{"$arrayElemAt": bson.A{arrayRef, "$$i"}},
				},
			}}}},
		}

		res, err := r.coll.UpdateOne(ctx, filter, pipeline)
		if err != nil {
			return nil, apperror.NewWriteFailed("failed to remove profile entry", err)
		}
		if res.MatchedCount > 0 {
			return toUpdateResult(res), nil
		}
	}
	doc, err := r.findOne(ctx, idFilter(id))
	return nil, missOrOutOfRange(doc, err, id, field, index)
}

func (r *mongoProfileRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

func (r *mongoProfileRepo) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// idFilter matches ObjectID record ids, and falls back to the raw string for
// documents created with a caller-supplied _id.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{profile.FieldID: oid}
	}
	return bson.M{profile.FieldID: id}
}

func idString(v any) string {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func toUpdateResult(res *mongo.UpdateResult) *profile.UpdateResult {
	out := &profile.UpdateResult{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
	}
	if res.UpsertedID != nil {
		id := idString(res.UpsertedID)
		out.UpsertedID = &id
	}
	return out
}

// normalizeBSON turns driver types into plain JSON-shaped values.
func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeBSON(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeBSON(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
