package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/khoahotran/profile-service/internal/application/service"
	"github.com/khoahotran/profile-service/internal/domain/profile"
	"github.com/khoahotran/profile-service/pkg/logger"
)

var tracer = otel.Tracer("profile_usecase")

type ProfileUseCase struct {
	profileRepo profile.Repository
	publisher   service.EventPublisher
	logger      logger.Logger

	pending sync.WaitGroup
}

func NewProfileUseCase(repo profile.Repository, publisher service.EventPublisher, log logger.Logger) *ProfileUseCase {
	return &ProfileUseCase{
		profileRepo: repo,
		publisher:   publisher,
		logger:      log,
	}
}

type CreateProfileInput struct {
	Document profile.Document
}

type CreateProfileOutput struct {
	Result *profile.InsertResult
}

func (uc *ProfileUseCase) ExecuteCreate(ctx context.Context, input CreateProfileInput) (*CreateProfileOutput, error) {
	ctx, span := tracer.Start(ctx, "ExecuteCreate")
	defer span.End()

	res, err := uc.profileRepo.Insert(ctx, input.Document)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create profile failed: %w", err)
	}
	span.SetAttributes(attribute.String("record_id", res.InsertedID))

	uc.publish(service.ProfileEvent{
		EventType: service.ProfileEventCreated,
		Email:     input.Document.Email(),
		RecordID:  res.InsertedID,
	})

	return &CreateProfileOutput{Result: res}, nil
}

type MergeUpdateInput struct {
	Email string
	Body  map[string]any
}

type MergeUpdateOutput struct {
	UpdatedFields []string
	Result        *profile.UpdateResult
}

// ExecuteMergeUpdate stages every truthy recognised field of the body and
// applies them to the profile keyed by email as one upsert.
func (uc *ProfileUseCase) ExecuteMergeUpdate(ctx context.Context, input MergeUpdateInput) (*MergeUpdateOutput, error) {
	ctx, span := tracer.Start(ctx, "ExecuteMergeUpdate")
	defer span.End()

	m := profile.PlanMerge(input.Body)
	fields := m.UpdatedFields()
	span.SetAttributes(
		attribute.String("email", input.Email),
		attribute.StringSlice("updated_fields", fields),
	)

	res, err := uc.profileRepo.Apply(ctx, input.Email, m)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("merge update profile failed: %w", err)
	}

	evt := service.ProfileEvent{
		EventType: service.ProfileEventMerged,
		Email:     input.Email,
		Fields:    fields,
	}
	if res.UpsertedID != nil {
		evt.EventType = service.ProfileEventCreated
		evt.RecordID = *res.UpsertedID
	}
	uc.publish(evt)

	return &MergeUpdateOutput{UpdatedFields: fields, Result: res}, nil
}

type ReplaceExperienceInput struct {
	Email string
	Index int
	Value any
}

type ReplaceExperienceOutput struct {
	Result *profile.UpdateResult
}

func (uc *ProfileUseCase) ExecuteReplaceExperience(ctx context.Context, input ReplaceExperienceInput) (*ReplaceExperienceOutput, error) {
	ctx, span := tracer.Start(ctx, "ExecuteReplaceExperience")
	defer span.End()
	span.SetAttributes(attribute.String("email", input.Email), attribute.Int("index", input.Index))

	res, err := uc.profileRepo.SetAt(ctx, input.Email, profile.FieldExperience, input.Index, input.Value)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("replace experience failed: %w", err)
	}

	index := input.Index
	uc.publish(service.ProfileEvent{
		EventType: service.ProfileEventExperienceReplaced,
		Email:     input.Email,
		Fields:    []string{profile.FieldExperience},
		Index:     &index,
	})

	return &ReplaceExperienceOutput{Result: res}, nil
}

type RemoveExperienceInput struct {
	ID    string
	Index int
}

type RemoveExperienceOutput struct {
	Result *profile.UpdateResult
}

func (uc *ProfileUseCase) ExecuteRemoveExperience(ctx context.Context, input RemoveExperienceInput) (*RemoveExperienceOutput, error) {
	ctx, span := tracer.Start(ctx, "ExecuteRemoveExperience")
	defer span.End()
	span.SetAttributes(attribute.String("record_id", input.ID), attribute.Int("index", input.Index))

	res, err := uc.profileRepo.RemoveAt(ctx, input.ID, profile.FieldExperience, input.Index)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("remove experience failed: %w", err)
	}

	index := input.Index
	uc.publish(service.ProfileEvent{
		EventType: service.ProfileEventExperienceRemoved,
		RecordID:  input.ID,
		Fields:    []string{profile.FieldExperience},
		Index:     &index,
	})

	return &RemoveExperienceOutput{Result: res}, nil
}

type GetProfileInput struct {
	Email string
}

type GetProfileOutput struct {
	// Profile is nil when no profile has the email.
	Profile profile.Document
}

func (uc *ProfileUseCase) ExecuteGetProfile(ctx context.Context, input GetProfileInput) (*GetProfileOutput, error) {
	ctx, span := tracer.Start(ctx, "ExecuteGetProfile")
	defer span.End()

	p, err := uc.profileRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get profile failed: %w", err)
	}
	span.SetAttributes(attribute.Bool("found", p != nil))
	return &GetProfileOutput{Profile: p}, nil
}

// Wait blocks until every event published so far has been handed to the
// publisher. Call it before closing the publisher or the repository.
func (uc *ProfileUseCase) Wait() {
	uc.pending.Wait()
}

// Ping reports whether the profile store is reachable.
func (uc *ProfileUseCase) Ping(ctx context.Context) error {
	return uc.profileRepo.Ping(ctx)
}

// publish sends evt in the background. The request has already succeeded,
// so a failed publish is only logged.
func (uc *ProfileUseCase) publish(evt service.ProfileEvent) {
	evt.OccurredAt = time.Now().UTC()
	uc.pending.Add(1)
	go func() {
		defer uc.pending.Done()
		ctx := context.Background()
		if evt.Email == "" && evt.RecordID != "" {
			if doc, err := uc.profileRepo.FindByID(ctx, evt.RecordID); err == nil && doc != nil {
				evt.Email = doc.Email()
			}
		}
		if err := uc.publisher.PublishProfileEvent(ctx, evt); err != nil {
			uc.logger.Error("Failed to publish profile event", err,
				zap.String("event_type", evt.EventType),
				zap.String("email", evt.Email),
				zap.String("record_id", evt.RecordID),
			)
		}
	}()
}
